// Package registry is the system of record for certificates, their
// fingerprint index and the anchor outbox.
package registry

import (
	"context"
	"time"

	"github.com/edvin/certverify/internal/domainerr"
	"github.com/edvin/certverify/internal/model"
)

var (
	ErrNotFound         = domainerr.New(domainerr.CodeNotFound, "certificate not found")
	ErrDuplicateRawHash = domainerr.New(domainerr.CodeConflict, "an active certificate with identical content already exists")
	ErrAlreadyRevoked   = domainerr.New(domainerr.CodeConflict, "certificate is already revoked")
	ErrNotRevoked       = domainerr.New(domainerr.CodeConflict, "certificate is not revoked")
)

// Registry stores certificates. Records are never deleted and the only
// mutation after Create is a status transition.
type Registry interface {
	// Create inserts the record, its hash index entry and a pending anchor
	// task atomically. ID, RawHash, ContentHash, ArtifactURL and
	// ExtractedText must be set; timestamps and Status are assigned.
	Create(ctx context.Context, c *model.Certificate) error
	// CreateBatch is Create for several certificates in one transaction:
	// either all of them are inserted or none is.
	CreateBatch(ctx context.Context, certs []*model.Certificate) error
	GetByID(ctx context.Context, id string) (*model.Certificate, error)
	// FindByRawHash returns the active record for hash, or ErrNotFound.
	FindByRawHash(ctx context.Context, rawHash string) (*model.Certificate, error)
	// FindAnyByRawHash returns the most recent record for hash whatever its status.
	FindAnyByRawHash(ctx context.Context, rawHash string) (*model.Certificate, error)
	FindIndexEntry(ctx context.Context, rawHash, contentHash string) (*model.HashIndexEntry, error)
	Revoke(ctx context.Context, id string) (*model.Certificate, error)
	Unrevoke(ctx context.Context, id string) (*model.Certificate, error)
	List(ctx context.Context, p ListParams) ([]model.Certificate, int, error)
	Stats(ctx context.Context) (*Stats, error)

	GetAnchorTask(ctx context.Context, certificateID string) (*model.AnchorTask, error)
	// ListPendingAnchors returns pending or failed tasks last touched before
	// the cutoff, oldest first. Anchored and rejected tasks are never listed.
	ListPendingAnchors(ctx context.Context, before time.Time, limit int) ([]model.AnchorTask, error)
	MarkAnchored(ctx context.Context, certificateID, receipt string) error
	// MarkAnchorFailed records a transient failure; the task stays drainable.
	MarkAnchorFailed(ctx context.Context, certificateID, message string) error
	// MarkAnchorRejected records a permanent ledger rejection.
	MarkAnchorRejected(ctx context.Context, certificateID, message string) error

	Ping(ctx context.Context) error
}

// Stats aggregates the registry contents.
type Stats struct {
	Total      int64         `json:"total"`
	Active     int64         `json:"active"`
	Revoked    int64         `json:"revoked"`
	Images     int64         `json:"images"`
	PDFs       int64         `json:"pdfs"`
	TotalBytes int64         `json:"totalBytes"`
	ByType     []TypeCount   `json:"byType"`
	ByStatus   []StatusCount `json:"byStatus"`
}

type TypeCount struct {
	MimeType string `json:"mimeType"`
	Count    int64  `json:"count"`
	Bytes    int64  `json:"bytes"`
}

type StatusCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}
