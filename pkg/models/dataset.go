package models

import "time"

// DatasetHandle tracks an uploaded dataset. Contents live in blob storage;
// the core only ever sees the handle. Handles are session-scoped: OwnerHint
// records the uploading user but does not restrict lookups within the
// session.
type DatasetHandle struct {
	ID          string    `json:"dataset_id"`
	SessionID   string    `json:"session_id"`
	Filename    string    `json:"filename"`
	OwnerHint   string    `json:"owner_hint,omitempty"`
	ByteSize    int64     `json:"byte_size"`
	ContentType string    `json:"content_type,omitempty"`
	Location    string    `json:"location"`
	UploadedAt  time.Time `json:"uploaded_at"`
}
