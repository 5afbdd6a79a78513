// Package ledger anchors certificate fingerprints in an external append-only
// store. The ledger corroborates the registry; it is never consulted during
// verification.
package ledger

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/certverify/internal/model"
)

// Proof is what gets anchored for one certificate. The extracted text is
// represented only by its digest.
type Proof struct {
	LedgerID      string `json:"ledgerId,omitempty"`
	CertificateID string `json:"certificateId"`
	RawHash       string `json:"rawHash"`
	ContentHash   string `json:"contentHash"`
	TextDigest    string `json:"textDigest"`
	ArtifactURL   string `json:"artifactUrl"`
}

// ProofFor builds the proof for an outbox row.
func ProofFor(task *model.AnchorTask, ledgerID string) Proof {
	return Proof{
		LedgerID:      ledgerID,
		CertificateID: task.CertificateID,
		RawHash:       task.RawHash,
		ContentHash:   task.ContentHash,
		TextDigest:    task.TextDigest,
		ArtifactURL:   task.ArtifactURL,
	}
}

// Receipt identifies an accepted anchor in the backend's own terms.
type Receipt struct {
	Backend    string    `json:"backend"`
	Reference  string    `json:"reference"`
	AnchoredAt time.Time `json:"anchored_at"`
}

func (r Receipt) String() string { return r.Backend + ":" + r.Reference }

type Anchorer interface {
	Anchor(ctx context.Context, proof Proof) (Receipt, error)
	// Backend names the implementation for logs and metrics.
	Backend() string
}

// Options selects and configures a backend.
type Options struct {
	Backend      string
	Endpoint     string
	Token        string
	KafkaBrokers []string
	KafkaTopic   string
	KafkaTLS     *tls.Config
	Timeout      time.Duration
}

// New constructs the anchorer named by opts.Backend. The returned close
// function releases backend resources and is never nil.
func New(logger zerolog.Logger, opts Options) (Anchorer, func(), error) {
	switch opts.Backend {
	case "", "noop":
		return NewNoop(logger), func() {}, nil
	case "http":
		return NewHTTP(opts.Endpoint, opts.Token, opts.Timeout), func() {}, nil
	case "kafka":
		k, err := NewKafka(logger, opts.KafkaBrokers, opts.KafkaTopic, opts.Timeout, opts.KafkaTLS)
		if err != nil {
			return nil, nil, err
		}
		return k, k.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown ledger backend %q", opts.Backend)
}
