package entities

import "time"

// Attachment is a file uploaded alongside a consultation. Exactly one of
// StoragePath or Data carries the content.
type Attachment struct {
	ID             string    `json:"id" db:"id"`
	ConsultationID string    `json:"consultation_id" db:"consultation_id"`
	Name           string    `json:"name" db:"name"`
	MimeType       string    `json:"mime_type" db:"mime_type"`
	SizeBytes      int64     `json:"size_bytes" db:"size_bytes"`
	StoragePath    string    `json:"storage_path,omitempty" db:"storage_path"`
	Data           []byte    `json:"data,omitempty" db:"data"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// IsInline reports whether the payload is stored in the database row.
func (a *Attachment) IsInline() bool {
	return a.StoragePath == ""
}
