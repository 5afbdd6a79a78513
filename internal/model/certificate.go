package model

import "time"

// Certificate is one registered certificate artifact. RawHash, ContentHash,
// ArtifactURL and ExtractedText are written once at creation; Status (with
// RevokedAt) is the only field that changes afterwards.
type Certificate struct {
	ID            string     `json:"id" db:"id"`
	OwnerID       *string    `json:"owner_id,omitempty" db:"owner_id"`
	ArtifactURL   string     `json:"artifact_url" db:"artifact_url"`
	ArtifactKind  string     `json:"artifact_kind" db:"artifact_kind"`
	RawHash       string     `json:"raw_hash" db:"raw_hash"`
	ContentHash   string     `json:"content_hash" db:"content_hash"`
	ExtractedText string     `json:"extracted_text" db:"extracted_text"`
	SizeBytes     int64      `json:"size_bytes" db:"size_bytes"`
	MimeType      string     `json:"mime_type" db:"mime_type"`
	Status        string     `json:"status" db:"status"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// Artifact kinds describe the uploaded source before normalization.
const (
	ArtifactKindImage = "image"
	ArtifactKindPDF   = "pdf"
)

// IsActive reports whether the certificate currently verifies.
func (c *Certificate) IsActive() bool {
	return c.Status == StatusActive
}

// HashIndexEntry maps a fingerprint pair to its certificate for callers that
// cannot query the certificates table directly.
type HashIndexEntry struct {
	RawHash       string    `json:"raw_hash" db:"raw_hash"`
	ContentHash   string    `json:"content_hash" db:"content_hash"`
	CertificateID string    `json:"certificate_id" db:"certificate_id"`
	OwnerID       *string   `json:"owner_id,omitempty" db:"owner_id"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
