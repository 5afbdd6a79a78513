package ledger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Noop logs proofs instead of anchoring them. For development only.
type Noop struct {
	logger zerolog.Logger
	now    func() time.Time
}

func NewNoop(logger zerolog.Logger) *Noop {
	return &Noop{logger: logger.With().Str("component", "ledger-noop").Logger(), now: time.Now}
}

func (n *Noop) Backend() string { return "noop" }

func (n *Noop) Anchor(_ context.Context, proof Proof) (Receipt, error) {
	n.logger.Info().
		Str("certificate_id", proof.CertificateID).
		Str("raw_hash", proof.RawHash).
		Str("text_digest", proof.TextDigest).
		Msg("anchor skipped (noop ledger)")
	return Receipt{Backend: "noop", Reference: proof.CertificateID, AnchoredAt: n.now().UTC()}, nil
}
