package core

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/3cpo-dev/bootnode/pkg/api"
)

// ErrRunNotFound is returned by FindRun for an unknown node name.
var ErrRunNotFound = errors.New("run not found")

// Run is the ledger entry for one provisioned node.
type Run struct {
	NodeName    string
	Provider    string
	Region      string
	Image       string
	InstanceID  string
	Address     string
	KeyPath     string
	Stage       api.Stage
	Status      api.RunStatus
	Diagnostics []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Store is a SQLite-backed run ledger.
type Store struct{ db *sql.DB }

//go:embed migrations/*.sql
var migrationFS embed.FS

func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("mkdir state dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema, err := migrationFS.ReadFile("migrations/0001_init.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("db not initialized")
	}
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error { return s.db.Close() }

// SaveRun inserts or updates the run keyed by node name.
func (s *Store) SaveRun(ctx context.Context, r Run) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs (node_name, provider, region, image, instance_id, address, key_path, stage, status, diagnostics, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(node_name) DO UPDATE SET
    provider = excluded.provider,
    region = excluded.region,
    image = excluded.image,
    instance_id = excluded.instance_id,
    address = excluded.address,
    key_path = excluded.key_path,
    stage = excluded.stage,
    status = excluded.status,
    diagnostics = excluded.diagnostics,
    updated_at = excluded.updated_at`,
		r.NodeName, r.Provider, r.Region, r.Image, r.InstanceID, r.Address, r.KeyPath,
		string(r.Stage), string(r.Status), strings.Join(r.Diagnostics, "\n"),
		r.CreatedAt.UnixNano(), now.UnixNano())
	if err != nil {
		return fmt.Errorf("save run %s: %w", r.NodeName, err)
	}
	return nil
}

const runColumns = `node_name, provider, region, image, instance_id, address, key_path, stage, status, diagnostics, created_at, updated_at`

// ListRuns returns all runs, most recently updated first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY updated_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) FindRun(ctx context.Context, nodeName string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE node_name = ?`, nodeName)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%s: %w", nodeName, ErrRunNotFound)
	}
	return r, err
}

type scanner interface{ Scan(dest ...any) error }

func scanRun(sc scanner) (Run, error) {
	var (
		r                  Run
		stage, status, dgs string
		created, updated   int64
	)
	err := sc.Scan(&r.NodeName, &r.Provider, &r.Region, &r.Image, &r.InstanceID, &r.Address, &r.KeyPath,
		&stage, &status, &dgs, &created, &updated)
	if err != nil {
		return Run{}, err
	}
	r.Stage = api.Stage(stage)
	r.Status = api.RunStatus(status)
	if dgs != "" {
		r.Diagnostics = strings.Split(dgs, "\n")
	}
	r.CreatedAt = time.Unix(0, created).UTC()
	r.UpdatedAt = time.Unix(0, updated).UTC()
	return r, nil
}
