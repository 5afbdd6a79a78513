package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/edvin/certverify/internal/model"
)

// DB is the subset of pgxpool.Pool the registry uses.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

const (
	uniqueViolation        = "23505"
	activeRawHashIndexName = "certificates_active_raw_hash_key"
)

const certificateColumns = `id, owner_id, artifact_url, artifact_kind, raw_hash, content_hash, extracted_text,
	size_bytes, mime_type, status, revoked_at, created_at, updated_at`

const anchorColumns = `certificate_id, raw_hash, content_hash, artifact_url, text_digest, status, attempts,
	last_error, receipt, created_at, updated_at, anchored_at`

// Postgres is the production Registry.
type Postgres struct {
	db  DB
	now func() time.Time
}

func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db, now: time.Now}
}

func (p *Postgres) Create(ctx context.Context, c *model.Certificate) error {
	return p.createAll(ctx, []*model.Certificate{c})
}

// CreateBatch inserts every certificate in one transaction.
func (p *Postgres) CreateBatch(ctx context.Context, certs []*model.Certificate) error {
	if len(certs) == 0 {
		return nil
	}
	return p.createAll(ctx, certs)
}

func (p *Postgres) createAll(ctx context.Context, certs []*model.Certificate) error {
	now := p.now().UTC()
	for _, c := range certs {
		c.Status = model.StatusActive
		c.RevokedAt = nil
		c.CreatedAt = now
		c.UpdatedAt = now
	}

	var current *model.Certificate
	err := pgx.BeginFunc(ctx, p.db, func(tx pgx.Tx) error {
		for _, c := range certs {
			current = c
			if err := insertCertificate(ctx, tx, c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isActiveRawHashViolation(err) {
			return ErrDuplicateRawHash.Withf("certificate with raw hash %s is already registered", current.RawHash)
		}
		return fmt.Errorf("create certificate %s: %w", current.ID, err)
	}
	return nil
}

func insertCertificate(ctx context.Context, tx pgx.Tx, c *model.Certificate) error {
	task := model.NewAnchorTask(c)
	if _, err := tx.Exec(ctx,
		`INSERT INTO certificates (`+certificateColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		c.ID, c.OwnerID, c.ArtifactURL, c.ArtifactKind, c.RawHash, c.ContentHash, c.ExtractedText,
		c.SizeBytes, c.MimeType, c.Status, c.RevokedAt, c.CreatedAt, c.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert certificate: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO certificate_hash_index (raw_hash, content_hash, certificate_id, owner_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		c.RawHash, c.ContentHash, c.ID, c.OwnerID, c.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert hash index entry: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO anchor_outbox (certificate_id, raw_hash, content_hash, artifact_url, text_digest, status, attempts, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8)`,
		task.CertificateID, task.RawHash, task.ContentHash, task.ArtifactURL, task.TextDigest,
		task.Status, task.CreatedAt, task.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert anchor task: %w", err)
	}
	return nil
}

func (p *Postgres) GetByID(ctx context.Context, id string) (*model.Certificate, error) {
	c, err := scanCertificate(p.db.QueryRow(ctx,
		`SELECT `+certificateColumns+` FROM certificates WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "get certificate "+id)
	}
	return c, nil
}

func (p *Postgres) FindByRawHash(ctx context.Context, rawHash string) (*model.Certificate, error) {
	c, err := scanCertificate(p.db.QueryRow(ctx,
		`SELECT `+certificateColumns+` FROM certificates WHERE raw_hash = $1 AND status = $2`,
		rawHash, model.StatusActive))
	if err != nil {
		return nil, notFound(err, "find certificate by raw hash")
	}
	return c, nil
}

func (p *Postgres) FindAnyByRawHash(ctx context.Context, rawHash string) (*model.Certificate, error) {
	c, err := scanCertificate(p.db.QueryRow(ctx,
		`SELECT `+certificateColumns+` FROM certificates WHERE raw_hash = $1
		 ORDER BY (status = 'active') DESC, created_at DESC LIMIT 1`, rawHash))
	if err != nil {
		return nil, notFound(err, "find any certificate by raw hash")
	}
	return c, nil
}

func (p *Postgres) FindIndexEntry(ctx context.Context, rawHash, contentHash string) (*model.HashIndexEntry, error) {
	var e model.HashIndexEntry
	err := p.db.QueryRow(ctx,
		`SELECT raw_hash, content_hash, certificate_id, owner_id, created_at
		 FROM certificate_hash_index WHERE raw_hash = $1 AND content_hash = $2
		 ORDER BY created_at DESC LIMIT 1`, rawHash, contentHash,
	).Scan(&e.RawHash, &e.ContentHash, &e.CertificateID, &e.OwnerID, &e.CreatedAt)
	if err != nil {
		return nil, notFound(err, "find hash index entry")
	}
	return &e, nil
}

// Revoke moves an active certificate to revoked.
func (p *Postgres) Revoke(ctx context.Context, id string) (*model.Certificate, error) {
	c, err := scanCertificate(p.db.QueryRow(ctx,
		`UPDATE certificates SET status = $2, revoked_at = now(), updated_at = now()
		 WHERE id = $1 AND status = $3 RETURNING `+certificateColumns,
		id, model.StatusRevoked, model.StatusActive))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("revoke certificate %s: %w", id, err)
	}
	if _, err := p.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrAlreadyRevoked.Withf("certificate %s is already revoked", id)
}

// Unrevoke moves a revoked certificate back to active. It fails with
// ErrDuplicateRawHash when another active record now holds the same bytes.
func (p *Postgres) Unrevoke(ctx context.Context, id string) (*model.Certificate, error) {
	c, err := scanCertificate(p.db.QueryRow(ctx,
		`UPDATE certificates SET status = $2, revoked_at = NULL, updated_at = now()
		 WHERE id = $1 AND status = $3 RETURNING `+certificateColumns,
		id, model.StatusActive, model.StatusRevoked))
	if err == nil {
		return c, nil
	}
	if isActiveRawHashViolation(err) {
		return nil, ErrDuplicateRawHash.Withf("another active certificate has the same content as %s", id)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("unrevoke certificate %s: %w", id, err)
	}
	if _, err := p.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrNotRevoked.Withf("certificate %s is not revoked", id)
}

func (p *Postgres) List(ctx context.Context, params ListParams) ([]model.Certificate, int, error) {
	params = params.Normalize()

	var where []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if params.OwnerID != "" {
		add("owner_id = $%d", params.OwnerID)
	}
	if params.Status != "" {
		add("status = $%d", params.Status)
	}
	switch {
	case params.FileType == "":
	case strings.Contains(params.FileType, "/"):
		add("mime_type = $%d", params.FileType)
	default:
		add("artifact_kind = $%d", params.FileType)
	}
	if params.Search != "" {
		add("extracted_text ILIKE $%d", "%"+escapeLike(params.Search)+"%")
	}

	filter := ""
	if len(where) > 0 {
		filter = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := p.db.QueryRow(ctx, `SELECT count(*) FROM certificates`+filter, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count certificates: %w", err)
	}

	// SortBy and SortOrder are whitelisted by Normalize.
	query := `SELECT ` + certificateColumns + ` FROM certificates` + filter +
		fmt.Sprintf(` ORDER BY %s %s, id %s LIMIT $%d OFFSET $%d`,
			params.SortBy, params.SortOrder, params.SortOrder, len(args)+1, len(args)+2)
	args = append(args, params.Limit, params.Offset)

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list certificates: %w", err)
	}
	defer rows.Close()

	certs := []model.Certificate{}
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan certificate: %w", err)
		}
		certs = append(certs, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate certificates: %w", err)
	}
	return certs, total, nil
}

func (p *Postgres) Stats(ctx context.Context) (*Stats, error) {
	rows, err := p.db.Query(ctx,
		`SELECT mime_type, artifact_kind, status, count(*), COALESCE(sum(size_bytes), 0)
		 FROM certificates GROUP BY mime_type, artifact_kind, status`)
	if err != nil {
		return nil, fmt.Errorf("certificate stats: %w", err)
	}
	defer rows.Close()

	acc := newStatsAccumulator()
	for rows.Next() {
		var mime, kind, status string
		var count, bytes int64
		if err := rows.Scan(&mime, &kind, &status, &count, &bytes); err != nil {
			return nil, fmt.Errorf("scan certificate stats: %w", err)
		}
		acc.add(mime, kind, status, count, bytes)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate certificate stats: %w", err)
	}
	return acc.result(), nil
}

func (p *Postgres) GetAnchorTask(ctx context.Context, certificateID string) (*model.AnchorTask, error) {
	t, err := scanAnchorTask(p.db.QueryRow(ctx,
		`SELECT `+anchorColumns+` FROM anchor_outbox WHERE certificate_id = $1`, certificateID))
	if err != nil {
		return nil, notFound(err, "get anchor task "+certificateID)
	}
	return t, nil
}

func (p *Postgres) ListPendingAnchors(ctx context.Context, before time.Time, limit int) ([]model.AnchorTask, error) {
	rows, err := p.db.Query(ctx,
		`SELECT `+anchorColumns+` FROM anchor_outbox
		 WHERE status IN ($1, $2) AND updated_at < $3
		 ORDER BY created_at LIMIT $4`,
		model.AnchorStatusPending, model.AnchorStatusFailed, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending anchors: %w", err)
	}
	defer rows.Close()

	var tasks []model.AnchorTask
	for rows.Next() {
		t, err := scanAnchorTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan anchor task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate anchor tasks: %w", err)
	}
	return tasks, nil
}

// MarkAnchored is a no-op for tasks that are already anchored.
func (p *Postgres) MarkAnchored(ctx context.Context, certificateID, receipt string) error {
	_, err := p.db.Exec(ctx,
		`UPDATE anchor_outbox SET status = $2, receipt = $3, last_error = NULL, attempts = attempts + 1,
		 anchored_at = now(), updated_at = now()
		 WHERE certificate_id = $1 AND status <> $2`,
		certificateID, model.AnchorStatusAnchored, receipt)
	if err != nil {
		return fmt.Errorf("mark anchor %s anchored: %w", certificateID, err)
	}
	return nil
}

func (p *Postgres) MarkAnchorFailed(ctx context.Context, certificateID, message string) error {
	return p.markUnanchored(ctx, certificateID, model.AnchorStatusFailed, message)
}

func (p *Postgres) MarkAnchorRejected(ctx context.Context, certificateID, message string) error {
	return p.markUnanchored(ctx, certificateID, model.AnchorStatusRejected, message)
}

// markUnanchored only touches pending or failed rows.
func (p *Postgres) markUnanchored(ctx context.Context, certificateID, status, message string) error {
	_, err := p.db.Exec(ctx,
		`UPDATE anchor_outbox SET status = $2, last_error = $3, attempts = attempts + 1, updated_at = now()
		 WHERE certificate_id = $1 AND status IN ($4, $5)`,
		certificateID, status, message, model.AnchorStatusPending, model.AnchorStatusFailed)
	if err != nil {
		return fmt.Errorf("mark anchor %s %s: %w", certificateID, status, err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	var one int
	if err := p.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("ping registry: %w", err)
	}
	return nil
}

func scanCertificate(row pgx.Row) (*model.Certificate, error) {
	var c model.Certificate
	err := row.Scan(&c.ID, &c.OwnerID, &c.ArtifactURL, &c.ArtifactKind, &c.RawHash, &c.ContentHash,
		&c.ExtractedText, &c.SizeBytes, &c.MimeType, &c.Status, &c.RevokedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanAnchorTask(row pgx.Row) (*model.AnchorTask, error) {
	var t model.AnchorTask
	err := row.Scan(&t.CertificateID, &t.RawHash, &t.ContentHash, &t.ArtifactURL, &t.TextDigest, &t.Status,
		&t.Attempts, &t.LastError, &t.Receipt, &t.CreatedAt, &t.UpdatedAt, &t.AnchoredAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func notFound(err error, action string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound.Because(err, "%s: not found", action)
	}
	return fmt.Errorf("%s: %w", action, err)
}

func isActiveRawHashViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	return pgErr.ConstraintName == "" || pgErr.ConstraintName == activeRawHashIndexName
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
