package handler

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/edvin/certverify/internal/artifact"
	"github.com/edvin/certverify/internal/core"
	"github.com/edvin/certverify/internal/registry"
	"github.com/edvin/certverify/internal/storage"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (s *memStore) Store(_ context.Context, certificateID string, data []byte, mimeType string) (*storage.Stored, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storage.KeyPrefix + certificateID
	s.objects[key] = data
	return &storage.Stored{Key: key, URL: "https://cdn.test/" + key, MimeType: mimeType, Size: int64(len(data))}, nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

type stubOCR struct {
	err error
}

func (o stubOCR) ExtractText(_ context.Context, url, _ string) (string, error) {
	if o.err != nil {
		return "", o.err
	}
	return "CERTIFICATE\n" + url, nil
}

const testMaxUpload = 64 << 10

func newTestServices(ocr core.TextExtractor) (*core.Services, *registry.Memory) {
	reg := registry.NewMemory()
	store := &memStore{objects: map[string][]byte{}}
	svcs := core.NewServices(zerolog.Nop(), reg, store, ocr, nil, core.NewMemoryAPIKeys(), core.IngestOptions{
		MaxUploadBytes:   testMaxUpload,
		BatchConcurrency: 2,
		MaxBatchFiles:    3,
	})
	return svcs, reg
}

func newCertificateHandler() (*Certificate, *registry.Memory) {
	svcs, reg := newTestServices(stubOCR{})
	return NewCertificate(svcs, testMaxUpload), reg
}

func pngURI(t *testing.T, seed int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 3, 3))
	img.Set(seed%3, (seed/3)%3, color.RGBA{R: uint8(seed), G: 40, B: 90, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return artifact.EncodeDataURI("image/png", buf.Bytes())
}
