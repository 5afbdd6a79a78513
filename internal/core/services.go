package core

import (
	"github.com/rs/zerolog"

	"github.com/edvin/certverify/internal/registry"
)

type Services struct {
	Ingest      *IngestService
	Verify      *VerifyService
	Certificate *CertificateService
	APIKey      APIKeyStore
}

func NewServices(logger zerolog.Logger, reg registry.Registry, store ObjectStore, ocr TextExtractor, anchors AnchorDispatcher, keys APIKeyStore, opts IngestOptions) *Services {
	return &Services{
		Ingest:      NewIngestService(logger, reg, store, ocr, anchors, opts),
		Verify:      NewVerifyService(reg, opts.MaxUploadBytes),
		Certificate: NewCertificateService(reg),
		APIKey:      keys,
	}
}
