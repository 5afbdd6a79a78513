package activity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/temporal"

	"github.com/edvin/certverify/internal/domainerr"
	"github.com/edvin/certverify/internal/ledger"
	"github.com/edvin/certverify/internal/metrics"
	"github.com/edvin/certverify/internal/model"
	"github.com/edvin/certverify/internal/registry"
)

// Outbox is the part of the registry the anchor activities need.
type Outbox interface {
	GetAnchorTask(ctx context.Context, certificateID string) (*model.AnchorTask, error)
	ListPendingAnchors(ctx context.Context, before time.Time, limit int) ([]model.AnchorTask, error)
	MarkAnchored(ctx context.Context, certificateID, receipt string) error
	MarkAnchorFailed(ctx context.Context, certificateID, message string) error
	MarkAnchorRejected(ctx context.Context, certificateID, message string) error
}

// ErrTypeLedgerRejected is the application error type AnchorProof returns
// when the ledger refuses a proof.
const ErrTypeLedgerRejected = "LEDGER_REJECTED"

// Anchor contains the activities that move outbox rows into the ledger.
type Anchor struct {
	logger   zerolog.Logger
	outbox   Outbox
	anchorer ledger.Anchorer
	ledgerID string
	now      func() time.Time
}

func NewAnchor(logger zerolog.Logger, outbox Outbox, anchorer ledger.Anchorer, ledgerID string) *Anchor {
	return &Anchor{
		logger:   logger.With().Str("component", "anchor-activity").Logger(),
		outbox:   outbox,
		anchorer: anchorer,
		ledgerID: ledgerID,
		now:      time.Now,
	}
}

// MarkAnchoredParams holds parameters for the MarkAnchored activity.
type MarkAnchoredParams struct {
	CertificateID string `json:"certificate_id"`
	Receipt       string `json:"receipt"`
}

// MarkAnchorFailedParams holds parameters for the MarkAnchorFailed activity.
// Rejected marks the failure as permanent.
type MarkAnchorFailedParams struct {
	CertificateID string `json:"certificate_id"`
	Message       string `json:"message"`
	Rejected      bool   `json:"rejected,omitempty"`
}

// ListPendingAnchorsParams selects outbox rows untouched for at least
// OlderThan.
type ListPendingAnchorsParams struct {
	OlderThan time.Duration `json:"older_than"`
	Limit     int           `json:"limit"`
}

// GetAnchorTask loads the outbox row for a certificate. A missing row is
// not retried.
func (a *Anchor) GetAnchorTask(ctx context.Context, certificateID string) (*model.AnchorTask, error) {
	task, err := a.outbox.GetAnchorTask(ctx, certificateID)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("no anchor task for certificate %s", certificateID), "NOT_FOUND", err)
	}
	if err != nil {
		return nil, fmt.Errorf("get anchor task %s: %w", certificateID, err)
	}
	return task, nil
}

// AnchorProof submits the proof for task to the configured ledger. Rejected
// submissions are not retried; unavailability is.
func (a *Anchor) AnchorProof(ctx context.Context, task model.AnchorTask) (*ledger.Receipt, error) {
	receipt, err := a.anchorer.Anchor(ctx, ledger.ProofFor(&task, a.ledgerID))
	metrics.AnchorOutcome(a.anchorer.Backend(), err)
	if err != nil {
		a.logger.Warn().Err(err).
			Str("certificate_id", task.CertificateID).
			Str("backend", a.anchorer.Backend()).
			Msg("ledger anchor failed")
		if errors.Is(err, domainerr.ErrUpstreamRejected) {
			return nil, temporal.NewNonRetryableApplicationError(
				fmt.Sprintf("ledger rejected certificate %s", task.CertificateID), ErrTypeLedgerRejected, err)
		}
		return nil, fmt.Errorf("anchor certificate %s: %w", task.CertificateID, err)
	}
	a.logger.Info().
		Str("certificate_id", task.CertificateID).
		Str("receipt", receipt.String()).
		Msg("certificate anchored")
	return &receipt, nil
}

func (a *Anchor) MarkAnchored(ctx context.Context, params MarkAnchoredParams) error {
	if err := a.outbox.MarkAnchored(ctx, params.CertificateID, params.Receipt); err != nil {
		return fmt.Errorf("mark anchored %s: %w", params.CertificateID, err)
	}
	return nil
}

func (a *Anchor) MarkAnchorFailed(ctx context.Context, params MarkAnchorFailedParams) error {
	mark := a.outbox.MarkAnchorFailed
	if params.Rejected {
		mark = a.outbox.MarkAnchorRejected
	}
	if err := mark(ctx, params.CertificateID, params.Message); err != nil {
		return fmt.Errorf("mark anchor failed %s: %w", params.CertificateID, err)
	}
	return nil
}

// ListPendingAnchors returns the ids of pending or failed rows that have not
// been touched for params.OlderThan, oldest first.
func (a *Anchor) ListPendingAnchors(ctx context.Context, params ListPendingAnchorsParams) ([]string, error) {
	tasks, err := a.outbox.ListPendingAnchors(ctx, a.now().Add(-params.OlderThan), params.Limit)
	if err != nil {
		return nil, fmt.Errorf("list pending anchors: %w", err)
	}
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.CertificateID
	}
	return ids, nil
}
