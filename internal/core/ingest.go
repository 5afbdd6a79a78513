package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/certverify/internal/artifact"
	"github.com/edvin/certverify/internal/domainerr"
	"github.com/edvin/certverify/internal/fingerprint"
	"github.com/edvin/certverify/internal/metrics"
	"github.com/edvin/certverify/internal/model"
	"github.com/edvin/certverify/internal/platform"
	"github.com/edvin/certverify/internal/registry"
	"github.com/edvin/certverify/internal/storage"
)

const compensationTimeout = 30 * time.Second

var (
	ErrEmptyBatch    = domainerr.New(domainerr.CodeValidation, "batch contains no files")
	ErrBatchTooLarge = domainerr.New(domainerr.CodeValidation, "batch contains too many files")
)

type IngestInput struct {
	FileData string
	OwnerID  *string
}

type BatchInput struct {
	Files   []string
	OwnerID *string
}

type IngestOptions struct {
	MaxUploadBytes   int64
	BatchConcurrency int
	MaxBatchFiles    int
}

// IngestService registers new certificates. A record is only created once
// the artifact is stored, its text extracted and both fingerprints known.
type IngestService struct {
	logger  zerolog.Logger
	reg     registry.Registry
	store   ObjectStore
	ocr     TextExtractor
	anchors AnchorDispatcher
	opts    IngestOptions
	newID   func() string
}

func NewIngestService(logger zerolog.Logger, reg registry.Registry, store ObjectStore, ocr TextExtractor, anchors AnchorDispatcher, opts IngestOptions) *IngestService {
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = 4
	}
	if opts.MaxBatchFiles <= 0 {
		opts.MaxBatchFiles = 10
	}
	if anchors == nil {
		anchors = NoopDispatcher{}
	}
	return &IngestService{
		logger:  logger.With().Str("component", "ingest").Logger(),
		reg:     reg,
		store:   store,
		ocr:     ocr,
		anchors: anchors,
		opts:    opts,
		newID:   platform.NewID,
	}
}

// MaxBatchFiles is the largest batch IngestBatch accepts.
func (s *IngestService) MaxBatchFiles() int {
	return s.opts.MaxBatchFiles
}

// Ingest decodes, fingerprints, stores and registers one certificate.
func (s *IngestService) Ingest(ctx context.Context, in IngestInput) (cert *model.Certificate, err error) {
	ctx, span := tracer.Start(ctx, "IngestService.Ingest")
	defer func() { endSpan(span, err) }()

	art, err := artifact.Parse(in.FileData, s.opts.MaxUploadBytes)
	if err != nil {
		metrics.IngestionOutcome("invalid")
		return nil, err
	}
	span.SetAttributes(attribute.String("artifact.mime_type", art.MimeType), attribute.Int64("artifact.size", art.Size()))

	rawHash := fingerprint.Bytes(art.Data)
	if err := s.ensureUnregistered(ctx, rawHash); err != nil {
		return nil, s.recordFailure(err)
	}

	p, err := s.prepare(ctx, art, rawHash)
	if err != nil {
		return nil, s.recordFailure(err)
	}

	cert = p.certificate(in.OwnerID)
	if err := s.reg.Create(ctx, cert); err != nil {
		s.compensate(ctx, p.stored.Key)
		return nil, s.recordFailure(err)
	}

	s.anchors.Enqueue(cert.ID)
	metrics.IngestionOutcome("created")
	zerolog.Ctx(ctx).Info().
		Str("certificate_id", cert.ID).
		Str("raw_hash", cert.RawHash).
		Str("kind", cert.ArtifactKind).
		Msg("certificate registered")
	return cert, nil
}

// IngestBatch registers several certificates as one unit. Either every file
// becomes an active record or none does. The records are written in a single
// registry transaction; on any failure the stored artifacts are deleted.
func (s *IngestService) IngestBatch(ctx context.Context, in BatchInput) (certs []*model.Certificate, err error) {
	ctx, span := tracer.Start(ctx, "IngestService.IngestBatch")
	defer func() { endSpan(span, err) }()

	if len(in.Files) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(in.Files) > s.opts.MaxBatchFiles {
		return nil, ErrBatchTooLarge.Withf("batch contains %d files, the limit is %d", len(in.Files), s.opts.MaxBatchFiles)
	}
	span.SetAttributes(attribute.Int("batch.size", len(in.Files)))

	arts := make([]*artifact.Artifact, len(in.Files))
	hashes := make([]string, len(in.Files))
	seen := map[string]int{}
	for i, data := range in.Files {
		art, err := artifact.Parse(data, s.opts.MaxUploadBytes)
		if err != nil {
			metrics.IngestionOutcome("invalid")
			return nil, fmt.Errorf("file %d: %w", i, err)
		}
		h := fingerprint.Bytes(art.Data)
		if j, dup := seen[h]; dup {
			metrics.IngestionOutcome("duplicate")
			return nil, registry.ErrDuplicateRawHash.Withf("file %d has the same content as file %d", i, j)
		}
		if err := s.ensureUnregistered(ctx, h); err != nil {
			return nil, s.recordFailure(fmt.Errorf("file %d: %w", i, err))
		}
		seen[h] = i
		arts[i], hashes[i] = art, h
	}

	items := make([]*prepared, len(arts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.BatchConcurrency)
	for i := range arts {
		g.Go(func() error {
			p, err := s.prepare(gctx, arts[i], hashes[i])
			if err != nil {
				return fmt.Errorf("file %d: %w", i, err)
			}
			items[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.rollbackBatch(ctx, items)
		return nil, s.recordFailure(err)
	}

	certs = make([]*model.Certificate, len(items))
	for i, p := range items {
		certs[i] = p.certificate(in.OwnerID)
	}
	if err := s.reg.CreateBatch(ctx, certs); err != nil {
		s.rollbackBatch(ctx, items)
		return nil, s.recordFailure(fmt.Errorf("register batch: %w", err))
	}

	for _, cert := range certs {
		s.anchors.Enqueue(cert.ID)
		metrics.IngestionOutcome("created")
	}
	zerolog.Ctx(ctx).Info().Int("count", len(certs)).Msg("certificate batch registered")
	return certs, nil
}

// prepared is an artifact that has been stored and read but not yet
// registered.
type prepared struct {
	art         *artifact.Artifact
	id          string
	rawHash     string
	stored      *storage.Stored
	text        string
	contentHash string
}

func (p *prepared) certificate(ownerID *string) *model.Certificate {
	return &model.Certificate{
		ID:            p.id,
		OwnerID:       ownerID,
		ArtifactURL:   p.stored.URL,
		ArtifactKind:  p.art.Kind,
		RawHash:       p.rawHash,
		ContentHash:   p.contentHash,
		ExtractedText: p.text,
		SizeBytes:     p.art.Size(),
		MimeType:      p.art.MimeType,
	}
}

// prepare stores the artifact and extracts its text. If extraction fails
// the stored object is removed before returning.
func (s *IngestService) prepare(ctx context.Context, art *artifact.Artifact, rawHash string) (*prepared, error) {
	id := s.newID()
	stored, err := s.store.Store(ctx, id, art.Data, art.MimeType)
	if err != nil {
		return nil, fmt.Errorf("store artifact: %w", err)
	}

	text, err := s.ocr.ExtractText(ctx, stored.URL, art.Kind)
	if err != nil {
		s.compensate(ctx, stored.Key)
		return nil, fmt.Errorf("extract text: %w", err)
	}

	return &prepared{
		art:         art,
		id:          id,
		rawHash:     rawHash,
		stored:      stored,
		text:        text,
		contentHash: fingerprint.Text(text),
	}, nil
}

// ensureUnregistered fails fast when an active record already holds these
// bytes, before any upstream is touched. The database constraint remains
// the authority for concurrent requests.
func (s *IngestService) ensureUnregistered(ctx context.Context, rawHash string) error {
	existing, err := s.reg.FindByRawHash(ctx, rawHash)
	switch {
	case err == nil:
		return registry.ErrDuplicateRawHash.Withf("certificate %s already registers this file", existing.ID)
	case errors.Is(err, registry.ErrNotFound):
		return nil
	}
	return fmt.Errorf("check existing certificate: %w", err)
}

func (s *IngestService) rollbackBatch(ctx context.Context, items []*prepared) {
	for _, p := range items {
		if p != nil {
			s.compensate(ctx, p.stored.Key)
		}
	}
}

// compensate deletes a stored artifact whose registration did not happen.
// It runs detached from ctx so a cancelled request still cleans up.
func (s *IngestService) compensate(ctx context.Context, key string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	if err := s.store.Delete(cctx, key); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("failed to delete orphaned artifact")
		return
	}
	s.logger.Debug().Str("key", key).Msg("orphaned artifact deleted")
}

func (s *IngestService) recordFailure(err error) error {
	switch domainerr.CodeOf(err) {
	case domainerr.CodeConflict:
		metrics.IngestionOutcome("duplicate")
	case domainerr.CodeValidation:
		metrics.IngestionOutcome("invalid")
	default:
		metrics.IngestionOutcome("failed")
	}
	return err
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(domainerr.CodeOf(err)))
	}
	span.End()
}
