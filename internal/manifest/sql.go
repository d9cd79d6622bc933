package manifest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/darkace1998/PostureLens/internal/model"

	_ "modernc.org/sqlite"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// SQL is a Store backed by a relational database. The same schema serves
// SQLite for single-node deployments and PostgreSQL for shared ones.
// Rows are only ever inserted.
type SQL struct {
	db      *sql.DB
	dialect dialect
}

const createManifests = `CREATE TABLE IF NOT EXISTS manifests (
	assessment_id TEXT PRIMARY KEY,
	tenant_id     TEXT NOT NULL,
	version       INTEGER NOT NULL,
	captured_at   BIGINT NOT NULL,
	grade         TEXT NOT NULL,
	score         DOUBLE PRECISION,
	body          TEXT NOT NULL,
	UNIQUE (tenant_id, version)
)`

// NewSQLite opens (or creates) a manifest database at path and enables WAL
// mode.
func NewSQLite(path string) (*SQL, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	// SQLite uses file-level locking; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	return newSQL(db, dialectSQLite)
}

// NewPostgres connects to the PostgreSQL database named by dsn.
func NewPostgres(dsn string) (*SQL, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return newSQL(db, dialectPostgres)
}

func newSQL(db *sql.DB, d dialect) (*SQL, error) {
	if _, err := db.Exec(createManifests); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating manifests table: %w", err)
	}
	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_manifests_captured ON manifests(tenant_id, captured_at)"); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating captured_at index: %w", err)
	}
	return &SQL{db: db, dialect: d}, nil
}

// Append implements Store.
func (s *SQL) Append(ctx context.Context, m *model.Manifest) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	var score sql.NullFloat64
	if m.Scores.OverallScore != nil {
		score = sql.NullFloat64{Float64: *m.Scores.OverallScore, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO manifests (assessment_id, tenant_id, version, captured_at, grade, score, body)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		m.AssessmentID, m.TenantID, m.Version, m.CapturedAt.UnixNano(), m.Scores.OverallGrade, score, string(body))
	if err != nil {
		if s.isDuplicateVersion(err) {
			return fmt.Errorf("%w: tenant %s version %d", ErrDuplicateVersion, m.TenantID, m.Version)
		}
		return fmt.Errorf("inserting manifest: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *SQL) Get(ctx context.Context, tenantID, assessmentID string) (*model.Manifest, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		"SELECT body FROM manifests WHERE tenant_id = ? AND assessment_id = ?"), tenantID, assessmentID)
	m, err := scanManifest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, tenantID, assessmentID)
	}
	return m, err
}

// Latest implements Store.
func (s *SQL) Latest(ctx context.Context, tenantID string) (*model.Manifest, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		"SELECT body FROM manifests WHERE tenant_id = ? ORDER BY version DESC LIMIT 1"), tenantID)
	m, err := scanManifest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no manifests for tenant %s", ErrNotFound, tenantID)
	}
	return m, err
}

// List implements Store.
func (s *SQL) List(ctx context.Context, tenantID string) ([]model.ManifestRef, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT assessment_id, version, captured_at, grade, score FROM manifests
		 WHERE tenant_id = ? ORDER BY captured_at, version`), tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing manifests: %w", err)
	}
	defer rows.Close()

	refs := []model.ManifestRef{}
	for rows.Next() {
		var (
			ref   model.ManifestRef
			at    int64
			score sql.NullFloat64
		)
		if err := rows.Scan(&ref.AssessmentID, &ref.Version, &at, &ref.Grade, &score); err != nil {
			return nil, fmt.Errorf("scanning manifest ref: %w", err)
		}
		ref.CapturedAt = time.Unix(0, at).UTC()
		if score.Valid {
			ref.Score = model.Float(score.Float64)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// Close closes the underlying database.
func (s *SQL) Close() error {
	return s.db.Close()
}

func scanManifest(row *sql.Row) (*model.Manifest, error) {
	var body string
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m model.Manifest
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	return &m, nil
}

// rebind rewrites ? placeholders to $1, $2, ... for PostgreSQL.
func (s *SQL) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	return rebindDollar(query)
}

func rebindDollar(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQL) isDuplicateVersion(err error) bool {
	if s.dialect == dialectPostgres {
		return isPQDuplicate(err)
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, "manifests.version")
}

func isPQDuplicate(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "23505" && pqErr.Constraint == "manifests_tenant_id_version_key"
}
