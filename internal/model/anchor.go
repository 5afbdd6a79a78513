package model

import "time"

// AnchorTask is an outbox row written in the same transaction as its
// certificate. The worker drains pending rows into the external ledger.
//
// TextDigest is the digest of the extracted text that goes to the ledger in
// place of the text. It is always equal to ContentHash; the proof carries
// both so ledger consumers need not know how the content hash is derived.
type AnchorTask struct {
	CertificateID string     `json:"certificate_id" db:"certificate_id"`
	RawHash       string     `json:"raw_hash" db:"raw_hash"`
	ContentHash   string     `json:"content_hash" db:"content_hash"`
	ArtifactURL   string     `json:"artifact_url" db:"artifact_url"`
	TextDigest    string     `json:"text_digest" db:"text_digest"`
	Status        string     `json:"status" db:"status"`
	Attempts      int        `json:"attempts" db:"attempts"`
	LastError     *string    `json:"last_error,omitempty" db:"last_error"`
	Receipt       *string    `json:"receipt,omitempty" db:"receipt"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
	AnchoredAt    *time.Time `json:"anchored_at,omitempty" db:"anchored_at"`
}

// NewAnchorTask builds the pending outbox row for a freshly created certificate.
func NewAnchorTask(c *Certificate) *AnchorTask {
	return &AnchorTask{
		CertificateID: c.ID,
		RawHash:       c.RawHash,
		ContentHash:   c.ContentHash,
		ArtifactURL:   c.ArtifactURL,
		TextDigest:    c.ContentHash,
		Status:        AnchorStatusPending,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.CreatedAt,
	}
}

// AnchorWorkflowID is the deterministic Temporal workflow id for anchoring a
// certificate, so a certificate is never anchored by two runs at once.
func AnchorWorkflowID(certificateID string) string {
	return "anchor-" + certificateID
}
