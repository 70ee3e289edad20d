package apiserver

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"studybuddy/internal/apptypes"
	"studybuddy/internal/services"
)

const defaultMaxMemory = 32 << 20

// BlobResolver turns a signed download token into a local file path.
type BlobResolver interface {
	Resolve(token string) (string, error)
}

// BlobHandler serves downloads for the local blob store. GCS serves its own
// signed URLs, so the route is only mounted for local storage.
type BlobHandler struct {
	resolver BlobResolver
	logger   *zap.Logger
}

// NewBlobHandler creates a BlobHandler.
func NewBlobHandler(resolver BlobResolver, logger *zap.Logger) *BlobHandler {
	return &BlobHandler{resolver: resolver, logger: logger.Named("blobs")}
}

// ServeBlob handles GET /blobs/{token}.
func (h *BlobHandler) ServeBlob(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	path, err := h.resolver.Resolve(token)
	if err != nil {
		if errors.Is(err, apptypes.ErrBlobNotFound) {
			writeJSONError(w, "blob not found", http.StatusNotFound)
			return
		}
		h.logger.Debug("rejected blob token", zap.Error(err))
		writeJSONError(w, "invalid or expired link", http.StatusForbidden)
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=300")
	http.ServeFile(w, r, path)
}

// readUpload parses the multipart "file" field. The caller closes the
// returned closer. On failure the response has already been written.
func readUpload(w http.ResponseWriter, r *http.Request, maxBytes int64) (services.Upload, func(), bool) {
	if maxBytes <= 0 {
		maxBytes = services.MaxImageSize
	}
	// Leave room for the multipart envelope around the file.
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)

	if err := r.ParseMultipartForm(defaultMaxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, fmt.Sprintf("file is too large, the limit is %d MB", maxBytes>>20), http.StatusRequestEntityTooLarge)
		} else {
			writeJSONError(w, "invalid multipart form", http.StatusBadRequest)
		}
		return services.Upload{}, nil, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			writeJSONError(w, "missing 'file' field", http.StatusBadRequest)
		} else {
			writeJSONError(w, "could not read file", http.StatusBadRequest)
		}
		return services.Upload{}, nil, false
	}
	if header.Size > maxBytes {
		file.Close()
		writeJSONError(w, fmt.Sprintf("file is too large, the limit is %d MB", maxBytes>>20), http.StatusRequestEntityTooLarge)
		return services.Upload{}, nil, false
	}

	upload := services.Upload{
		Reader:      file,
		Size:        header.Size,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
	}
	return upload, func() { file.Close() }, true
}
