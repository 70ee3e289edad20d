package apiserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/getsentry/sentry-go"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"studybuddy/internal/apptypes"
	"studybuddy/internal/middleware"
	"studybuddy/internal/services"
	"studybuddy/internal/storage"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Partial bool   `json:"partial,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSONResponse(w, statusCode, ErrorResponse{Error: message})
}

// decodeJSON reads the body into dst and runs struct validation.
func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("field %s failed %q validation", verrs[0].Field(), verrs[0].Tag())
		}
		return err
	}
	return nil
}

// requireUser returns the authenticated user ID or writes 401.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "unauthorized", http.StatusUnauthorized)
	}
	return userID, ok
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}

var (
	badRequestErrors = []error{
		services.ErrSelfRequest, services.ErrSelfReport, services.ErrSelfConversation,
		services.ErrEmptyMessage, services.ErrEmptyTask, services.ErrEmptyReason, services.ErrInvalidReport,
		services.ErrEmptyUsername, services.ErrNothingToApply, services.ErrInvalidImageType,
		storage.ErrInvalidPageToken, storage.ErrInvalidBlobPath,
	}
	forbiddenErrors = []error{
		services.ErrNotAdmin, services.ErrNotConversationMember, services.ErrNotTaskApprover,
		services.ErrNotTaskReceiver, services.ErrProfileBanned,
	}
	notFoundErrors = []error{
		services.ErrProfileNotFound, services.ErrConversationNotFound, services.ErrTaskNotFound,
		services.ErrReportNotFound, apptypes.ErrBlobNotFound,
	}
	conflictErrors = []error{
		services.ErrAlreadyBuddied, services.ErrDuplicateRequest, services.ErrNoPendingRequest,
		services.ErrDuplicateReport, services.ErrProfileExists, services.ErrTaskExists,
		services.ErrNoBuddy, services.ErrNoProof,
	}
)

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// writeServiceError maps a service error to a status code. Unexpected errors
// are logged and sent to Sentry; the client only sees a generic message.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, services.ErrPartialWrite):
		writeJSONResponse(w, http.StatusConflict, ErrorResponse{
			Error:   "the action may be incomplete; please refresh and try again",
			Partial: true,
		})
	case isAny(err, badRequestErrors):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	case isAny(err, forbiddenErrors):
		writeJSONError(w, err.Error(), http.StatusForbidden)
	case isAny(err, notFoundErrors):
		writeJSONError(w, rootMessage(err, notFoundErrors), http.StatusNotFound)
	case isAny(err, conflictErrors):
		writeJSONError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrImageTooLarge):
		writeJSONError(w, err.Error(), http.StatusRequestEntityTooLarge)
	case errors.Is(err, services.ErrNoBlobStore):
		writeJSONError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
			hub.CaptureException(err)
		} else {
			sentry.CaptureException(err)
		}
		writeJSONError(w, "internal server error", http.StatusInternalServerError)
	}
}

// rootMessage hides wrapped context such as IDs from not-found replies.
func rootMessage(err error, targets []error) string {
	for _, t := range targets {
		if errors.Is(err, t) {
			return t.Error()
		}
	}
	return err.Error()
}
