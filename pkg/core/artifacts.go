package core

// Attachment represents an artifact persisted during a task
type Attachment struct {
	Name        string `json:"name"`        // Descriptive name: annotated_frame, hierarchy, log
	ContentType string `json:"contentType"` // MIME type: image/png, application/json, text/plain
	Path        string `json:"path"`        // File path relative to output directory
	Body        []byte `json:"-"`           // In-memory content (not serialized to JSON)
}

// Common attachment names
const (
	AttachmentAnnotatedFrame = "annotated_frame"
	AttachmentHierarchy      = "hierarchy"
)

// Common content types
const (
	ContentTypePNG  = "image/png"
	ContentTypeJSON = "application/json"
	ContentTypeXML  = "application/xml"
	ContentTypeText = "text/plain"
)

// NewFrameAttachment creates an annotated frame attachment
func NewFrameAttachment(path string, data []byte) Attachment {
	return Attachment{
		Name:        AttachmentAnnotatedFrame,
		ContentType: ContentTypePNG,
		Path:        path,
		Body:        data,
	}
}

// ArtifactStore persists round artifacts and returns a handle to them.
// The storage medium is up to the implementation.
type ArtifactStore interface {
	// SaveFrame stores an annotated PNG for the given round and returns its path.
	SaveFrame(round int, png []byte) (string, error)
}

// NullArtifactStore discards artifacts.
type NullArtifactStore struct{}

// SaveFrame returns an empty handle (no-op)
func (NullArtifactStore) SaveFrame(int, []byte) (string, error) { return "", nil }
