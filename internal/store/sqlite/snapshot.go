package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"

	"stochroc/internal/indicator"
)

// ReadLatestSnapshot loads the most recent engine snapshot. Returns nil, nil
// when the table is empty.
func (s *Store) ReadLatestSnapshot(ctx context.Context) (*indicator.EngineSnapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM indicator_snapshots
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "sqlite read snapshot")
	}

	var snap indicator.EngineSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, errors.Wrap(err, "unmarshal snapshot")
	}
	return &snap, nil
}

// CountSnapshots returns how many checkpoints are stored.
func (s *Store) CountSnapshots(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM indicator_snapshots`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "sqlite count snapshots")
	}
	return n, nil
}
