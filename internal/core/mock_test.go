package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/certverify/internal/artifact"
	"github.com/edvin/certverify/internal/model"
	"github.com/edvin/certverify/internal/registry"
	"github.com/edvin/certverify/internal/storage"
)

// ---------- Mock DB ----------

type mockDB struct {
	mock.Mock
}

func (m *mockDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDB) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(pgx.Rows), args.Error(1)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

type mockRow struct {
	scanFunc func(dest ...any) error
}

func (m *mockRow) Scan(dest ...any) error {
	return m.scanFunc(dest...)
}

// ---------- Fake object store ----------

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	stores  int
	deletes int
	failErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (f *fakeStore) Store(_ context.Context, certificateID string, data []byte, mimeType string) (*storage.Stored, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stores++
	if f.failErr != nil {
		return nil, f.failErr
	}
	key := storage.KeyPrefix + certificateID
	f.objects[key] = data
	return &storage.Stored{
		Key:      key,
		URL:      "https://cdn.test/" + key,
		MimeType: mimeType,
		Size:     int64(len(data)),
	}, nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	delete(f.objects, key)
	return nil
}

func (f *fakeStore) counts() (stores, deletes, live int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stores, f.deletes, len(f.objects)
}

// ---------- Fake OCR ----------

// fakeOCR returns a deterministic text per artifact URL. When err is set,
// calls fail with it, restricted to URLs matching failOn if that is set.
type fakeOCR struct {
	mu     sync.Mutex
	calls  int
	err    error
	failOn func(url string) bool
}

func (f *fakeOCR) ExtractText(_ context.Context, url, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil && (f.failOn == nil || f.failOn(url)) {
		return "", f.err
	}
	return "CERTIFICATE OF COMPLETION\nissued for " + url, nil
}

func (f *fakeOCR) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// ---------- Fake dispatcher ----------

type fakeDispatcher struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeDispatcher) Enqueue(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
}

func (f *fakeDispatcher) enqueued() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

// ---------- Registry wrapper ----------

// failingRegistry fails the failAt-th certificate (1-based) handed to Create
// or CreateBatch with err. A failing batch writes nothing.
type failingRegistry struct {
	registry.Registry
	mu      sync.Mutex
	creates int
	failAt  int
	err     error
}

func (r *failingRegistry) Create(ctx context.Context, c *model.Certificate) error {
	r.mu.Lock()
	r.creates++
	n := r.creates
	r.mu.Unlock()
	if n == r.failAt {
		return r.err
	}
	return r.Registry.Create(ctx, c)
}

func (r *failingRegistry) CreateBatch(ctx context.Context, certs []*model.Certificate) error {
	r.mu.Lock()
	first := r.creates + 1
	r.creates += len(certs)
	r.mu.Unlock()
	if r.failAt >= first && r.failAt <= first+len(certs)-1 {
		return r.err
	}
	return r.Registry.CreateBatch(ctx, certs)
}

// racingRegistry registers a copy of the last certificate of each batch
// under another id just before the batch is written, as a concurrent upload
// of the same file would.
type racingRegistry struct {
	registry.Registry
}

func (r *racingRegistry) CreateBatch(ctx context.Context, certs []*model.Certificate) error {
	if len(certs) > 0 {
		rival := *certs[len(certs)-1]
		rival.ID = "rival-" + rival.ID
		if err := r.Registry.Create(ctx, &rival); err != nil {
			return err
		}
	}
	return r.Registry.CreateBatch(ctx, certs)
}

var errBoom = errors.New("boom")

// ---------- Fixtures ----------

// pngURI returns a distinct PNG data URI for each seed.
func pngURI(t *testing.T, seed int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(seed%4, (seed/4)%4, color.RGBA{R: uint8(seed), G: 10, B: 200, A: 255})
	img.Set(3, 3, color.RGBA{R: uint8(seed >> 8), A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return artifact.EncodeDataURI("image/png", buf.Bytes())
}

func pdfURI(seed int) string {
	body := fmt.Sprintf("%%PDF-1.4\n1 0 obj << /Type /Catalog /Seed %d >> endobj\ntrailer << /Root 1 0 R >>\n%%%%EOF\n", seed)
	return artifact.EncodeDataURI("application/pdf", []byte(body))
}

type harness struct {
	reg      *registry.Memory
	store    *fakeStore
	ocr      *fakeOCR
	anchors  *fakeDispatcher
	ingest   *IngestService
	verify   *VerifyService
	certs    *CertificateService
	maxBytes int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, nil)
}

// newHarnessWith builds the services over an in-memory registry. wrap, when
// set, decorates the registry handed to the ingest service.
func newHarnessWith(t *testing.T, wrap func(registry.Registry) registry.Registry) *harness {
	t.Helper()
	h := &harness{
		reg:      registry.NewMemory(),
		store:    newFakeStore(),
		ocr:      &fakeOCR{},
		anchors:  &fakeDispatcher{},
		maxBytes: 64 << 10,
	}
	var reg registry.Registry = h.reg
	if wrap != nil {
		reg = wrap(reg)
	}
	h.ingest = NewIngestService(zerolog.Nop(), reg, h.store, h.ocr, h.anchors, IngestOptions{
		MaxUploadBytes:   h.maxBytes,
		BatchConcurrency: 3,
		MaxBatchFiles:    5,
	})
	h.verify = NewVerifyService(h.reg, h.maxBytes)
	h.certs = NewCertificateService(h.reg)
	return h
}
