package apiserver

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"studybuddy/internal/services"
)

// ProfileHandler exposes profile management and the buddy finder.
type ProfileHandler struct {
	profileService services.ProfileService
	maxUpload      int64
	logger         *zap.Logger
}

// NewProfileHandler creates a ProfileHandler. maxUpload caps picture uploads in bytes.
func NewProfileHandler(profileService services.ProfileService, maxUpload int64, logger *zap.Logger) *ProfileHandler {
	return &ProfileHandler{profileService: profileService, maxUpload: maxUpload, logger: logger.Named("profiles")}
}

// CreateMyProfileHandler handles POST /profiles/me.
func (h *ProfileHandler) CreateMyProfileHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var input services.ProfileInput
	if err := decodeJSON(r, &input); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	view, err := h.profileService.CreateProfile(r.Context(), userID, input)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, view)
}

// GetMyProfileHandler handles GET /profiles/me.
func (h *ProfileHandler) GetMyProfileHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	h.writeProfile(w, r, userID)
}

// GetProfileHandler handles GET /profiles/{userID}.
func (h *ProfileHandler) GetProfileHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	h.writeProfile(w, r, mux.Vars(r)["userID"])
}

func (h *ProfileHandler) writeProfile(w http.ResponseWriter, r *http.Request, userID string) {
	view, err := h.profileService.GetProfile(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, view)
}

// UpdateMyProfileHandler handles PUT /profiles/me. Absent fields are left unchanged.
func (h *ProfileHandler) UpdateMyProfileHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var input services.ProfileInput
	if err := decodeJSON(r, &input); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	view, err := h.profileService.UpdateProfile(r.Context(), userID, input)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, view)
}

// ListProfilesHandler handles GET /profiles?limit=&pageToken=.
func (h *ProfileHandler) ListProfilesHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	listing, err := h.profileService.ListProfiles(r.Context(), userID,
		queryInt(r, "limit", 0), r.URL.Query().Get("pageToken"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, listing)
}

// UploadPictureHandler handles POST /profiles/me/picture with a multipart "file".
func (h *ProfileHandler) UploadPictureHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	upload, closeFile, ok := readUpload(w, r, h.maxUpload)
	if !ok {
		return
	}
	defer closeFile()

	view, err := h.profileService.SetProfilePicture(r.Context(), userID, upload)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, view)
}
