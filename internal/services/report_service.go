package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"studybuddy/internal/metrics"
	"studybuddy/internal/models"
	"studybuddy/internal/storage"
)

var (
	ErrDuplicateReport = errors.New("you have already reported this user")
	ErrSelfReport      = errors.New("cannot report yourself")
	ErrEmptyReason     = errors.New("a reason is required")
	ErrInvalidReport   = errors.New("invalid report")
	ErrReportNotFound  = errors.New("user has no reports")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ReportInput describes one report being filed.
type ReportInput struct {
	ReporterID       string
	ReporterUsername string
	ReportedUserID   string `validate:"required"`
	ReportedUsername string
	Reason           string `validate:"required,max=1000"`
	At               time.Time
}

// ReportService aggregates moderation reports, one record per reported user.
type ReportService interface {
	FileReport(ctx context.Context, input ReportInput) (*models.Report, error)
	ListReports(ctx context.Context, limit, offset int) ([]*models.Report, error)
	GetReport(ctx context.Context, reportedUserID string) (*models.Report, error)
}

type reportService struct {
	reports  storage.ReportRepository
	profiles storage.ProfileStore
	logger   *zap.Logger
}

// NewReportService creates a ReportService. profiles is used to fill in a
// missing reported username and may be nil.
func NewReportService(reports storage.ReportRepository, profiles storage.ProfileStore, logger *zap.Logger) ReportService {
	return &reportService{reports: reports, profiles: profiles, logger: logger.Named("report")}
}

func (s *reportService) FileReport(ctx context.Context, input ReportInput) (*models.Report, error) {
	report, err := s.fileReport(ctx, input)
	switch {
	case err == nil:
		metrics.ReportsFiled.WithLabelValues("created").Inc()
	case errors.Is(err, ErrDuplicateReport):
		metrics.ReportsFiled.WithLabelValues("duplicate").Inc()
	default:
		metrics.ReportsFiled.WithLabelValues("error").Inc()
	}
	return report, err
}

func (s *reportService) fileReport(ctx context.Context, input ReportInput) (*models.Report, error) {
	input.Reason = strings.TrimSpace(input.Reason)
	if input.Reason == "" {
		return nil, ErrEmptyReason
	}
	if err := validate.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}
	if input.ReportedUserID == input.ReporterID {
		return nil, ErrSelfReport
	}
	if input.At.IsZero() {
		input.At = time.Now()
	}
	if input.ReportedUsername == "" && s.profiles != nil {
		if p, err := s.profiles.Get(ctx, input.ReportedUserID); err == nil {
			input.ReportedUsername = p.Username
		}
	}
	if input.ReporterUsername == "" && s.profiles != nil {
		if p, err := s.profiles.Get(ctx, input.ReporterID); err == nil {
			input.ReporterUsername = p.Username
		}
	}
	// Reporters are deduplicated by username; fall back to the ID so an
	// unnamed reporter still counts once.
	if input.ReporterUsername == "" {
		input.ReporterUsername = input.ReporterID
	}

	// One retry covers losing a race against another reporter of the same user.
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var report *models.Report
		report, err = s.tryFile(ctx, input)
		if !errors.Is(err, storage.ErrReportConflict) {
			return report, err
		}
		s.logger.Debug("report aggregate changed concurrently, retrying",
			zap.String("reported", input.ReportedUserID))
	}
	return nil, fmt.Errorf("file report: %w", err)
}

func (s *reportService) tryFile(ctx context.Context, input ReportInput) (*models.Report, error) {
	existing, err := s.reports.Get(ctx, input.ReportedUserID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		report := models.NewReport(input.ReportedUserID, input.ReportedUsername, input.ReporterUsername, input.Reason, input.At)
		if err := s.reports.Create(ctx, report); err != nil {
			return nil, err
		}
		return report, nil
	}

	if existing.HasReporter(input.ReporterUsername) {
		return nil, ErrDuplicateReport
	}
	prevAmt := existing.Amt
	existing.Append(input.ReporterUsername, input.Reason, input.At)
	if input.ReportedUsername != "" {
		existing.ReportedUsername = input.ReportedUsername
	}
	if err := s.reports.Save(ctx, existing, prevAmt); err != nil {
		return nil, err
	}
	return existing, nil
}

func (s *reportService) ListReports(ctx context.Context, limit, offset int) ([]*models.Report, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.reports.List(ctx, limit, offset)
}

func (s *reportService) GetReport(ctx context.Context, reportedUserID string) (*models.Report, error) {
	report, err := s.reports.Get(ctx, reportedUserID)
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, ErrReportNotFound
	}
	return report, nil
}
