package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/edvin/certverify/internal/artifact"
	"github.com/edvin/certverify/internal/fingerprint"
	"github.com/edvin/certverify/internal/metrics"
	"github.com/edvin/certverify/internal/model"
	"github.com/edvin/certverify/internal/registry"
)

// VerifiedRecord is the public view of a matching certificate. It omits the
// owner and the extracted text.
type VerifiedRecord struct {
	ID           string    `json:"id"`
	RawHash      string    `json:"rawHash"`
	ContentHash  string    `json:"contentHash"`
	ArtifactURL  string    `json:"artifactUrl"`
	ArtifactKind string    `json:"fileType"`
	MimeType     string    `json:"mimeType"`
	SizeBytes    int64     `json:"fileSize"`
	Status       string    `json:"status"`
	IssuedAt     time.Time `json:"issuedAt"`
}

type UploadedFile struct {
	Size int64  `json:"size"`
	Type string `json:"type"`
	Hash string `json:"hash"`
}

type VerifyResult struct {
	Verified     bool            `json:"verified"`
	Record       *VerifiedRecord `json:"record,omitempty"`
	ComputedHash string          `json:"computedHash"`
	UploadedFile UploadedFile    `json:"uploadedFile"`
}

// VerifyService answers whether presented bytes match an active record.
// Revoked and unknown files produce the same negative answer.
type VerifyService struct {
	reg      registry.Registry
	maxBytes int64
}

func NewVerifyService(reg registry.Registry, maxBytes int64) *VerifyService {
	return &VerifyService{reg: reg, maxBytes: maxBytes}
}

func (s *VerifyService) Verify(ctx context.Context, fileData string) (result *VerifyResult, err error) {
	ctx, span := tracer.Start(ctx, "VerifyService.Verify")
	defer func() { endSpan(span, err) }()

	art, err := artifact.Parse(fileData, s.maxBytes)
	if err != nil {
		metrics.VerificationResult("invalid")
		return nil, err
	}

	hash := fingerprint.Bytes(art.Data)
	result = &VerifyResult{
		ComputedHash: hash,
		UploadedFile: UploadedFile{Size: art.Size(), Type: art.MimeType, Hash: hash},
	}

	rec, err := s.reg.FindByRawHash(ctx, hash)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		metrics.VerificationResult("unverified")
		span.SetAttributes(attribute.Bool("verified", false))
		zerolog.Ctx(ctx).Debug().Str("raw_hash", hash).Msg("no active certificate matches")
		return result, nil
	case err != nil:
		return nil, fmt.Errorf("look up raw hash: %w", err)
	}

	metrics.VerificationResult("verified")
	span.SetAttributes(attribute.Bool("verified", true))
	result.Verified = true
	result.Record = publicRecord(rec)
	return result, nil
}

func publicRecord(c *model.Certificate) *VerifiedRecord {
	return &VerifiedRecord{
		ID:           c.ID,
		RawHash:      c.RawHash,
		ContentHash:  c.ContentHash,
		ArtifactURL:  c.ArtifactURL,
		ArtifactKind: c.ArtifactKind,
		MimeType:     c.MimeType,
		SizeBytes:    c.SizeBytes,
		Status:       c.Status,
		IssuedAt:     c.CreatedAt,
	}
}
