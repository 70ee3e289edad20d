package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"studybuddy/internal/models"
)

// ErrReportConflict means the aggregate changed between read and write.
var ErrReportConflict = errors.New("report was modified concurrently")

// ReportRepository defines the moderation report data operations.
type ReportRepository interface {
	// Get returns nil, nil when the user has never been reported.
	Get(ctx context.Context, reportedUserID string) (*models.Report, error)
	Create(ctx context.Context, report *models.Report) error
	// Save writes the arrays and amt only if the stored amt still equals prevAmt.
	Save(ctx context.Context, report *models.Report, prevAmt int) error
	// List returns aggregates with the most reports first.
	List(ctx context.Context, limit, offset int) ([]*models.Report, error)
}

type gormReportRepository struct {
	db *gorm.DB
}

// NewGormReportRepository creates a GORM-based ReportRepository.
func NewGormReportRepository(db *gorm.DB) ReportRepository {
	return &gormReportRepository{db: db}
}

func (r *gormReportRepository) Get(ctx context.Context, reportedUserID string) (*models.Report, error) {
	var report models.Report
	err := r.db.WithContext(ctx).Where("reported_user_id = ?", reportedUserID).First(&report).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &report, nil
}

// Create maps a primary key collision to ErrReportConflict so callers re-read.
func (r *gormReportRepository) Create(ctx context.Context, report *models.Report) error {
	err := r.db.WithContext(ctx).Create(report).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %s", ErrReportConflict, report.ReportedUserID)
	}
	return err
}

func (r *gormReportRepository) Save(ctx context.Context, report *models.Report, prevAmt int) error {
	res := r.db.WithContext(ctx).
		Model(&models.Report{}).
		Where("reported_user_id = ? AND amt = ?", report.ReportedUserID, prevAmt).
		Updates(map[string]interface{}{
			"reported_username": report.ReportedUsername,
			"reporter_username": report.ReporterUsername,
			"reason":            report.Reason,
			"created_at":        report.ReportedAt,
			"amt":               report.Amt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrReportConflict, report.ReportedUserID)
	}
	return nil
}

func (r *gormReportRepository) List(ctx context.Context, limit, offset int) ([]*models.Report, error) {
	var reports []*models.Report
	query := r.db.WithContext(ctx).Order("amt DESC").Order("updated_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	err := query.Find(&reports).Error
	return reports, err
}
