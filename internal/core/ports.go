package core

import (
	"context"

	"go.opentelemetry.io/otel"

	"github.com/edvin/certverify/internal/storage"
)

var tracer = otel.Tracer("github.com/edvin/certverify/internal/core")

// ObjectStore persists uploaded artifacts. Store must derive the object
// key from certificateID so compensation only ever touches this request's
// object.
type ObjectStore interface {
	Store(ctx context.Context, certificateID string, data []byte, mimeType string) (*storage.Stored, error)
	Delete(ctx context.Context, key string) error
}

// TextExtractor turns a stored artifact into plain text.
type TextExtractor interface {
	ExtractText(ctx context.Context, artifactURL, kind string) (string, error)
}

// AnchorDispatcher hands a freshly created certificate to the ledger
// pipeline. Enqueue must not block the caller.
type AnchorDispatcher interface {
	Enqueue(certificateID string)
}

// NoopDispatcher drops anchor requests; the outbox drain still picks the
// rows up later.
type NoopDispatcher struct{}

func (NoopDispatcher) Enqueue(string) {}
