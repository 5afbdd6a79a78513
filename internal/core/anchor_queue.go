package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/certverify/internal/metrics"
	"github.com/edvin/certverify/internal/model"
)

const (
	// TaskQueue is the Temporal task queue served by the anchor worker.
	TaskQueue = "certverify-anchors"

	AnchorWorkflowName = "AnchorCertificateWorkflow"

	startTimeout = 10 * time.Second
)

// AnchorStarter starts the anchoring of one certificate.
type AnchorStarter interface {
	StartAnchor(ctx context.Context, certificateID string) error
}

// TemporalStarter starts AnchorCertificateWorkflow on the anchor task queue.
type TemporalStarter struct {
	tc temporalclient.Client
}

func NewTemporalStarter(tc temporalclient.Client) *TemporalStarter {
	return &TemporalStarter{tc: tc}
}

func (s *TemporalStarter) StartAnchor(ctx context.Context, certificateID string) error {
	_, err := s.tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        model.AnchorWorkflowID(certificateID),
		TaskQueue: TaskQueue,
	}, AnchorWorkflowName, certificateID)
	if err != nil {
		return fmt.Errorf("start anchor workflow for %s: %w", certificateID, err)
	}
	return nil
}

// AnchorQueue hands certificate ids from request handlers to a background
// goroutine that starts the anchor workflow. A full queue drops the id; the
// outbox drain re-drives it later.
type AnchorQueue struct {
	logger  zerolog.Logger
	starter AnchorStarter
	ch      chan string

	closeOnce sync.Once
	done      chan struct{}
}

func NewAnchorQueue(logger zerolog.Logger, starter AnchorStarter, size int) *AnchorQueue {
	if size <= 0 {
		size = 256
	}
	return &AnchorQueue{
		logger:  logger.With().Str("component", "anchor-queue").Logger(),
		starter: starter,
		ch:      make(chan string, size),
		done:    make(chan struct{}),
	}
}

// Enqueue never blocks.
func (q *AnchorQueue) Enqueue(certificateID string) {
	select {
	case <-q.done:
		q.logger.Warn().Str("certificate_id", certificateID).Msg("anchor queue closed, leaving certificate to outbox drain")
		return
	default:
	}

	select {
	case q.ch <- certificateID:
	default:
		metrics.AnchorQueueDropped()
		q.logger.Warn().Str("certificate_id", certificateID).Msg("anchor queue full, leaving certificate to outbox drain")
	}
}

// Run starts workflows until ctx is cancelled or Close is called. Ids still
// buffered at that point are drained before returning.
func (q *AnchorQueue) Run(ctx context.Context) {
	for {
		select {
		case id := <-q.ch:
			q.start(ctx, id)
		case <-ctx.Done():
			q.drain(context.WithoutCancel(ctx))
			return
		case <-q.done:
			q.drain(ctx)
			return
		}
	}
}

// Close stops accepting new ids.
func (q *AnchorQueue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

func (q *AnchorQueue) drain(ctx context.Context) {
	for {
		select {
		case id := <-q.ch:
			q.start(ctx, id)
		default:
			return
		}
	}
}

func (q *AnchorQueue) start(ctx context.Context, id string) {
	sctx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	if err := q.starter.StartAnchor(sctx, id); err != nil {
		q.logger.Error().Err(err).Str("certificate_id", id).Msg("failed to start anchor workflow")
		return
	}
	q.logger.Debug().Str("certificate_id", id).Msg("anchor workflow started")
}
