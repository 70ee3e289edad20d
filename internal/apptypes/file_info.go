package apptypes

// FileInfo describes a stored blob.
type FileInfo struct {
	URL      string `json:"url,omitempty"` // short-lived signed URL, when requested
	Path     string `json:"path"`          // key inside the blob store
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}
