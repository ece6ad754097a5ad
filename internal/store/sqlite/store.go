package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"stochroc/internal/indicator"
)

// defaultKeepSnapshots is how many checkpoints survive pruning.
const defaultKeepSnapshots = 10

// Config configures the SQLite snapshot store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/indengine.db"
	Keep   int    // snapshots retained after each save; 0 means 10
}

// Store is the durable fallback for engine checkpoints. Redis holds the hot
// copy; this one survives a Redis flush.
type Store struct {
	db   *sql.DB
	keep int
	log  *slog.Logger
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Open opens the database with WAL mode and creates the schema.
func Open(cfg Config) (*Store, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create %s", dir)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrapf(err, "sqlite open %s", cfg.DBPath)
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "sqlite schema")
	}

	keep := cfg.Keep
	if keep <= 0 {
		keep = defaultKeepSnapshots
	}

	log := slog.Default().With("component", "sqlite")
	log.Info("opened database", "path", cfg.DBPath)
	return &Store{db: db, keep: keep, log: log}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS indicator_snapshots (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			version    INTEGER NOT NULL,
			stream_id  TEXT    NOT NULL,
			tokens     INTEGER NOT NULL,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL
		);
	`)
	return err
}

// SaveSnapshot stores a checkpoint and prunes all but the newest Keep rows.
func (s *Store) SaveSnapshot(ctx context.Context, snap *indicator.EngineSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO indicator_snapshots (version, stream_id, tokens, data, created_at) VALUES (?, ?, ?, ?, ?)`,
		snap.Version, snap.StreamID, len(snap.Tokens), string(data), time.Now().UnixMilli(),
	)
	if err != nil {
		return errors.Wrap(err, "sqlite insert snapshot")
	}

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM indicator_snapshots WHERE id NOT IN (SELECT id FROM indicator_snapshots ORDER BY id DESC LIMIT ?)`,
		s.keep,
	)
	if err != nil {
		s.log.Warn("prune snapshots failed", "err", err)
	}

	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
