package core

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/edvin/certverify/internal/domainerr"
	"github.com/edvin/certverify/internal/fingerprint"
	"github.com/edvin/certverify/internal/model"
	"github.com/edvin/certverify/internal/registry"
)

var ErrInvalidHash = domainerr.New(domainerr.CodeValidation, "hash must be 64 lowercase hexadecimal characters")

// CertificateService exposes the issuer-side operations on registered
// certificates.
type CertificateService struct {
	reg registry.Registry
}

func NewCertificateService(reg registry.Registry) *CertificateService {
	return &CertificateService{reg: reg}
}

func (s *CertificateService) GetByID(ctx context.Context, id string) (*model.Certificate, error) {
	return s.reg.GetByID(ctx, id)
}

// FindAnyByRawHash returns the most recent record for the hash including
// revoked ones, so an issuer can tell "revoked" apart from "unknown".
func (s *CertificateService) FindAnyByRawHash(ctx context.Context, rawHash string) (*model.Certificate, error) {
	if !fingerprint.Valid(rawHash) {
		return nil, ErrInvalidHash.Withf("rawHash must be 64 lowercase hexadecimal characters")
	}
	return s.reg.FindAnyByRawHash(ctx, rawHash)
}

func (s *CertificateService) LookupIndex(ctx context.Context, rawHash, contentHash string) (*model.HashIndexEntry, error) {
	if !fingerprint.Valid(rawHash) {
		return nil, ErrInvalidHash.Withf("rawHash must be 64 lowercase hexadecimal characters")
	}
	if !fingerprint.Valid(contentHash) {
		return nil, ErrInvalidHash.Withf("contentHash must be 64 lowercase hexadecimal characters")
	}
	return s.reg.FindIndexEntry(ctx, rawHash, contentHash)
}

func (s *CertificateService) Revoke(ctx context.Context, id string) (*model.Certificate, error) {
	c, err := s.reg.Revoke(ctx, id)
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("certificate_id", id).Msg("certificate revoked")
	return c, nil
}

func (s *CertificateService) Unrevoke(ctx context.Context, id string) (*model.Certificate, error) {
	c, err := s.reg.Unrevoke(ctx, id)
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("certificate_id", id).Msg("certificate reinstated")
	return c, nil
}

func (s *CertificateService) List(ctx context.Context, params registry.ListParams) ([]model.Certificate, int, error) {
	if params.Status != "" && !model.ValidCertificateStatus(params.Status) {
		return nil, 0, domainerr.New(domainerr.CodeValidation, "status must be active or revoked")
	}
	return s.reg.List(ctx, params)
}

func (s *CertificateService) ListByOwner(ctx context.Context, ownerID string, params registry.ListParams) ([]model.Certificate, int, error) {
	params.OwnerID = ownerID
	return s.List(ctx, params)
}

func (s *CertificateService) Stats(ctx context.Context) (*registry.Stats, error) {
	return s.reg.Stats(ctx)
}
