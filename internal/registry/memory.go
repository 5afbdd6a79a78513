package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/edvin/certverify/internal/model"
)

// Memory is an in-process Registry with the same uniqueness and transition
// rules as Postgres. It backs tests and STORE=memory development runs.
type Memory struct {
	mu      sync.RWMutex
	certs   map[string]*model.Certificate
	order   []string
	active  map[string]string // raw hash -> id of the active record
	index   []model.HashIndexEntry
	anchors map[string]*model.AnchorTask
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		certs:   map[string]*model.Certificate{},
		active:  map[string]string{},
		anchors: map[string]*model.AnchorTask{},
		now:     time.Now,
	}
}

func (m *Memory) Create(ctx context.Context, c *model.Certificate) error {
	return m.CreateBatch(ctx, []*model.Certificate{c})
}

// CreateBatch checks every certificate before inserting any, so a rejected
// batch leaves the registry untouched.
func (m *Memory) CreateBatch(_ context.Context, certs []*model.Certificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	hashes := make(map[string]bool, len(certs))
	ids := make(map[string]bool, len(certs))
	for _, c := range certs {
		if _, ok := m.active[c.RawHash]; ok || hashes[c.RawHash] {
			return ErrDuplicateRawHash.Withf("certificate with raw hash %s is already registered", c.RawHash)
		}
		if _, ok := m.certs[c.ID]; ok || ids[c.ID] {
			return fmt.Errorf("create certificate %s: id already exists", c.ID)
		}
		hashes[c.RawHash] = true
		ids[c.ID] = true
	}

	now := m.now().UTC()
	for _, c := range certs {
		c.Status = model.StatusActive
		c.RevokedAt = nil
		c.CreatedAt = now
		c.UpdatedAt = now

		m.certs[c.ID] = cloneCertificate(c)
		m.order = append(m.order, c.ID)
		m.active[c.RawHash] = c.ID
		m.index = append(m.index, model.HashIndexEntry{
			RawHash:       c.RawHash,
			ContentHash:   c.ContentHash,
			CertificateID: c.ID,
			OwnerID:       c.OwnerID,
			CreatedAt:     now,
		})
		m.anchors[c.ID] = model.NewAnchorTask(c)
	}
	return nil
}

func (m *Memory) GetByID(_ context.Context, id string) (*model.Certificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.certs[id]
	if !ok {
		return nil, ErrNotFound.Withf("certificate %s not found", id)
	}
	return cloneCertificate(c), nil
}

func (m *Memory) FindByRawHash(_ context.Context, rawHash string) (*model.Certificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.active[rawHash]
	if !ok {
		return nil, ErrNotFound.Withf("no active certificate for raw hash")
	}
	return cloneCertificate(m.certs[id]), nil
}

func (m *Memory) FindAnyByRawHash(_ context.Context, rawHash string) (*model.Certificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.active[rawHash]; ok {
		return cloneCertificate(m.certs[id]), nil
	}
	for i := len(m.order) - 1; i >= 0; i-- {
		if c := m.certs[m.order[i]]; c.RawHash == rawHash {
			return cloneCertificate(c), nil
		}
	}
	return nil, ErrNotFound.Withf("no certificate for raw hash")
}

func (m *Memory) FindIndexEntry(_ context.Context, rawHash, contentHash string) (*model.HashIndexEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.index) - 1; i >= 0; i-- {
		if e := m.index[i]; e.RawHash == rawHash && e.ContentHash == contentHash {
			return &e, nil
		}
	}
	return nil, ErrNotFound.Withf("no index entry for hash pair")
}

func (m *Memory) Revoke(_ context.Context, id string) (*model.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.certs[id]
	if !ok {
		return nil, ErrNotFound.Withf("certificate %s not found", id)
	}
	if c.Status != model.StatusActive {
		return nil, ErrAlreadyRevoked.Withf("certificate %s is already revoked", id)
	}
	now := m.now().UTC()
	c.Status = model.StatusRevoked
	c.RevokedAt = &now
	c.UpdatedAt = now
	delete(m.active, c.RawHash)
	return cloneCertificate(c), nil
}

func (m *Memory) Unrevoke(_ context.Context, id string) (*model.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.certs[id]
	if !ok {
		return nil, ErrNotFound.Withf("certificate %s not found", id)
	}
	if c.Status != model.StatusRevoked {
		return nil, ErrNotRevoked.Withf("certificate %s is not revoked", id)
	}
	if _, taken := m.active[c.RawHash]; taken {
		return nil, ErrDuplicateRawHash.Withf("another active certificate has the same content as %s", id)
	}
	c.Status = model.StatusActive
	c.RevokedAt = nil
	c.UpdatedAt = m.now().UTC()
	m.active[c.RawHash] = id
	return cloneCertificate(c), nil
}

func (m *Memory) List(_ context.Context, params ListParams) ([]model.Certificate, int, error) {
	params = params.Normalize()
	m.mu.RLock()
	var matched []model.Certificate
	for _, id := range m.order {
		c := m.certs[id]
		if matches(c, params) {
			matched = append(matched, *cloneCertificate(c))
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		less := compare(&matched[i], &matched[j], params.SortBy)
		if less == 0 {
			less = strings.Compare(matched[i].ID, matched[j].ID)
		}
		if params.SortOrder == "asc" {
			return less < 0
		}
		return less > 0
	})

	total := len(matched)
	start := min(params.Offset, total)
	end := min(start+params.Limit, total)
	return append([]model.Certificate{}, matched[start:end]...), total, nil
}

func (m *Memory) Stats(_ context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc := newStatsAccumulator()
	for _, c := range m.certs {
		acc.add(c.MimeType, c.ArtifactKind, c.Status, 1, c.SizeBytes)
	}
	return acc.result(), nil
}

func (m *Memory) GetAnchorTask(_ context.Context, certificateID string) (*model.AnchorTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.anchors[certificateID]
	if !ok {
		return nil, ErrNotFound.Withf("anchor task %s not found", certificateID)
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) ListPendingAnchors(_ context.Context, before time.Time, limit int) ([]model.AnchorTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var tasks []model.AnchorTask
	for _, id := range m.order {
		t, ok := m.anchors[id]
		if !ok || !model.AnchorStatusDrainable(t.Status) || !t.UpdatedAt.Before(before) {
			continue
		}
		tasks = append(tasks, *t)
		if limit > 0 && len(tasks) == limit {
			break
		}
	}
	return tasks, nil
}

func (m *Memory) MarkAnchored(_ context.Context, certificateID, receipt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.anchors[certificateID]
	if !ok || t.Status == model.AnchorStatusAnchored {
		return nil
	}
	now := m.now().UTC()
	t.Status = model.AnchorStatusAnchored
	t.Receipt = &receipt
	t.LastError = nil
	t.Attempts++
	t.AnchoredAt = &now
	t.UpdatedAt = now
	return nil
}

func (m *Memory) MarkAnchorFailed(_ context.Context, certificateID, message string) error {
	m.markUnanchored(certificateID, model.AnchorStatusFailed, message)
	return nil
}

func (m *Memory) MarkAnchorRejected(_ context.Context, certificateID, message string) error {
	m.markUnanchored(certificateID, model.AnchorStatusRejected, message)
	return nil
}

// markUnanchored only touches drainable tasks.
func (m *Memory) markUnanchored(certificateID, status, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.anchors[certificateID]
	if !ok || !model.AnchorStatusDrainable(t.Status) {
		return
	}
	t.Status = status
	t.LastError = &message
	t.Attempts++
	t.UpdatedAt = m.now().UTC()
}

func (m *Memory) Ping(context.Context) error { return nil }

func matches(c *model.Certificate, p ListParams) bool {
	if p.OwnerID != "" && (c.OwnerID == nil || *c.OwnerID != p.OwnerID) {
		return false
	}
	if p.Status != "" && c.Status != p.Status {
		return false
	}
	if p.FileType != "" {
		if strings.Contains(p.FileType, "/") {
			if c.MimeType != p.FileType {
				return false
			}
		} else if c.ArtifactKind != p.FileType {
			return false
		}
	}
	if p.Search != "" && !strings.Contains(strings.ToLower(c.ExtractedText), strings.ToLower(p.Search)) {
		return false
	}
	return true
}

func compare(a, b *model.Certificate, column string) int {
	switch column {
	case "size_bytes":
		return cmpInt64(a.SizeBytes, b.SizeBytes)
	case "mime_type":
		return strings.Compare(a.MimeType, b.MimeType)
	case "status":
		return strings.Compare(a.Status, b.Status)
	}
	return a.CreatedAt.Compare(b.CreatedAt)
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cloneCertificate(c *model.Certificate) *model.Certificate {
	cp := *c
	if c.OwnerID != nil {
		owner := *c.OwnerID
		cp.OwnerID = &owner
	}
	if c.RevokedAt != nil {
		at := *c.RevokedAt
		cp.RevokedAt = &at
	}
	return &cp
}
