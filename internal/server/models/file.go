package models

import "time"

// File kinds.
const (
	FileKindLogo  = "logo"
	FileKindMedia = "media"
)

// DesignFile is metadata for a blob attached to a design. The content itself
// lives in object storage under StorageKey.
type DesignFile struct {
	ID          string    `json:"id"`
	DesignID    string    `json:"design_id"`
	Kind        string    `json:"kind"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	StorageKey  string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsValidFileKind reports whether k is logo or media.
func IsValidFileKind(k string) bool {
	return k == FileKindLogo || k == FileKindMedia
}
