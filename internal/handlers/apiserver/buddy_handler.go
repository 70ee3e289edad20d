package apiserver

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"studybuddy/internal/services"
)

// BuddyHandler handles buddy requests and the buddy pairing.
type BuddyHandler struct {
	buddyService services.BuddyService
	logger       *zap.Logger
}

// NewBuddyHandler creates a BuddyHandler.
func NewBuddyHandler(bs services.BuddyService, logger *zap.Logger) *BuddyHandler {
	return &BuddyHandler{buddyService: bs, logger: logger.Named("buddy")}
}

// SendBuddyRequestPayload is the body of POST /buddy/requests.
type SendBuddyRequestPayload struct {
	TargetID string `json:"targetId" validate:"required"`
}

// SendRequestHandler handles POST /buddy/requests.
func (h *BuddyHandler) SendRequestHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var payload SendBuddyRequestPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.buddyService.SendRequest(r.Context(), actorID, payload.TargetID); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, map[string]string{"message": "buddy request sent"})
}

// AcceptRequestHandler handles POST /buddy/requests/{userID}/accept.
func (h *BuddyHandler) AcceptRequestHandler(w http.ResponseWriter, r *http.Request) {
	h.pairAction(w, r, h.buddyService.AcceptRequest, "buddy request accepted")
}

// RejectRequestHandler handles POST /buddy/requests/{userID}/reject.
func (h *BuddyHandler) RejectRequestHandler(w http.ResponseWriter, r *http.Request) {
	h.pairAction(w, r, h.buddyService.RejectRequest, "buddy request rejected")
}

// CancelRequestHandler handles DELETE /buddy/requests/{userID}.
func (h *BuddyHandler) CancelRequestHandler(w http.ResponseWriter, r *http.Request) {
	h.pairAction(w, r, h.buddyService.CancelRequest, "buddy request cancelled")
}

func (h *BuddyHandler) pairAction(w http.ResponseWriter, r *http.Request,
	action func(ctx context.Context, actorID, otherID string) error, message string) {
	actorID, ok := requireUser(w, r)
	if !ok {
		return
	}
	otherID := mux.Vars(r)["userID"]
	if otherID == "" {
		writeJSONError(w, "missing user id", http.StatusBadRequest)
		return
	}
	if err := action(r.Context(), actorID, otherID); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": message})
}

// LeaveHandler handles POST /buddy/leave.
func (h *BuddyHandler) LeaveHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.buddyService.LeaveBuddy(r.Context(), actorID); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "left buddy"})
}

// PendingRequestsHandler handles GET /buddy/requests.
func (h *BuddyHandler) PendingRequestsHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireUser(w, r)
	if !ok {
		return
	}
	pending, err := h.buddyService.PendingRequests(r.Context(), actorID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, pending)
}

// CurrentBuddyHandler handles GET /buddy. The body is {"buddy": null} when unpaired.
func (h *BuddyHandler) CurrentBuddyHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireUser(w, r)
	if !ok {
		return
	}
	buddy, err := h.buddyService.CurrentBuddy(r.Context(), actorID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{"buddy": buddy})
}
