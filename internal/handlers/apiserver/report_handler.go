package apiserver

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"studybuddy/internal/middleware"
	"studybuddy/internal/services"
)

// ReportHandler handles filing reports and the admin moderation endpoints.
type ReportHandler struct {
	reportService     services.ReportService
	moderationService services.ModerationService
	repairService     services.RepairService
	logger            *zap.Logger
}

// NewReportHandler creates a ReportHandler.
func NewReportHandler(reports services.ReportService, moderation services.ModerationService, repair services.RepairService, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{
		reportService:     reports,
		moderationService: moderation,
		repairService:     repair,
		logger:            logger.Named("reports"),
	}
}

// FileReportPayload is the body of POST /reports.
type FileReportPayload struct {
	ReportedUserID   string `json:"reportedUserId" validate:"required"`
	ReportedUsername string `json:"reportedUsername" validate:"max=100"`
	Reason           string `json:"reason" validate:"required,max=1000"`
}

// FileReportHandler handles POST /reports.
func (h *ReportHandler) FileReportHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var payload FileReportPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	username, _ := middleware.GetUsernameFromContext(r.Context())

	report, err := h.reportService.FileReport(r.Context(), services.ReportInput{
		ReporterID:       userID,
		ReporterUsername: username,
		ReportedUserID:   payload.ReportedUserID,
		ReportedUsername: payload.ReportedUsername,
		Reason:           payload.Reason,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, map[string]interface{}{
		"message": "report filed",
		"amt":     report.Amt,
	})
}

// ListReportsHandler handles GET /admin/reports?limit=&offset=.
func (h *ReportHandler) ListReportsHandler(w http.ResponseWriter, r *http.Request) {
	reports, err := h.reportService.ListReports(r.Context(), queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, reports)
}

// BanUserHandler handles POST /admin/users/{userID}/ban.
func (h *ReportHandler) BanUserHandler(w http.ResponseWriter, r *http.Request) {
	adminID, ok := requireUser(w, r)
	if !ok {
		return
	}
	result, err := h.moderationService.BanUser(r.Context(), adminID, mux.Vars(r)["userID"])
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, result)
}

// UnbanUserHandler handles POST /admin/users/{userID}/unban.
func (h *ReportHandler) UnbanUserHandler(w http.ResponseWriter, r *http.Request) {
	adminID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.moderationService.UnbanUser(r.Context(), adminID, mux.Vars(r)["userID"]); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "user unbanned"})
}

// RepairUserHandler handles POST /admin/users/{userID}/repair.
func (h *ReportHandler) RepairUserHandler(w http.ResponseWriter, r *http.Request) {
	result, err := h.repairService.RepairUserReferences(r.Context(), mux.Vars(r)["userID"])
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, result)
}
