// Package storage persists wager projections so reconciliation can reattach
// to exchange wagers after a restart. Two implementations share the port:
// SQLite (default, pure Go) and Postgres (selected by DSN scheme).
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/mirrormaker/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS wagers (
    external_id     TEXT PRIMARY KEY,
    wager_id        TEXT NOT NULL DEFAULT '',
    event_id        TEXT NOT NULL,
    market          TEXT NOT NULL,
    selection       TEXT NOT NULL,
    point           REAL NOT NULL DEFAULT 0,
    odds            INTEGER NOT NULL,
    stake           REAL NOT NULL,
    matched_stake   REAL NOT NULL DEFAULT 0,
    status          TEXT NOT NULL,
    matching_status TEXT NOT NULL,
    placed_at       DATETIME NOT NULL,
    updated_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_wagers_status ON wagers(status);
CREATE INDEX IF NOT EXISTS idx_wagers_event  ON wagers(event_id);
`

// Settled wagers older than this are pruned at startup.
const retentionSettled = 7 * 24 * time.Hour

// SQLiteStorage implements ports.Storage on SQLite (pure Go, no CGo).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (or creates) the database at the given path,
// applies the schema and prunes settled wagers.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	s := &SQLiteStorage{db: db}
	if err := s.ApplySchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	s.pruneSettled(context.Background())
	return s, nil
}

// ApplySchema creates the wagers table if missing.
func (s *SQLiteStorage) ApplySchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("storage.ApplySchema: %w", err)
	}
	return nil
}

// SaveWager upserts a wager projection keyed by external id.
func (s *SQLiteStorage) SaveWager(ctx context.Context, w domain.Wager) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wagers
			(external_id, wager_id, event_id, market, selection, point,
			 odds, stake, matched_stake, status, matching_status, placed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			wager_id        = excluded.wager_id,
			odds            = excluded.odds,
			stake           = excluded.stake,
			matched_stake   = excluded.matched_stake,
			status          = excluded.status,
			matching_status = excluded.matching_status,
			updated_at      = excluded.updated_at
	`,
		w.ExternalID, w.WagerID, w.Line.EventID, string(w.Line.Market),
		w.Line.Selection, w.Line.Point, w.Odds, w.Stake, w.MatchedStake,
		string(w.Status), string(w.MatchingStatus),
		w.PlacedAt.UTC(), w.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveWager: upsert %s: %w", w.ExternalID, err)
	}
	return nil
}

// UpdateWagerFill records a new cumulative matched total and status.
func (s *SQLiteStorage) UpdateWagerFill(ctx context.Context, externalID string, matchedStake float64, status domain.WagerStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE wagers
		SET matched_stake = ?,
		    status = ?,
		    matching_status = CASE
		        WHEN ? >= stake THEN 'fully_matched'
		        WHEN ? > 0 THEN 'partially_matched'
		        ELSE 'unmatched'
		    END,
		    updated_at = ?
		WHERE external_id = ?
	`, matchedStake, string(status), matchedStake, matchedStake, time.Now().UTC(), externalID)
	if err != nil {
		return fmt.Errorf("storage.UpdateWagerFill: %s: %w", externalID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage.UpdateWagerFill: %w: %s", domain.ErrUnknownWager, externalID)
	}
	return nil
}

// DeleteWager removes a wager projection.
func (s *SQLiteStorage) DeleteWager(ctx context.Context, externalID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM wagers WHERE external_id = ?`, externalID); err != nil {
		return fmt.Errorf("storage.DeleteWager: %s: %w", externalID, err)
	}
	return nil
}

// OpenWagers returns every wager still open on the exchange, for restart
// recovery.
func (s *SQLiteStorage) OpenWagers(ctx context.Context) ([]domain.Wager, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT external_id, wager_id, event_id, market, selection, point,
		       odds, stake, matched_stake, status, matching_status, placed_at, updated_at
		FROM wagers
		WHERE status = 'open'
		ORDER BY placed_at
	`)
	if err != nil {
		return nil, fmt.Errorf("storage.OpenWagers: query: %w", err)
	}
	defer rows.Close()
	return scanWagers(rows)
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// pruneSettled keeps the database light by dropping long-settled wagers.
func (s *SQLiteStorage) pruneSettled(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-retentionSettled)
	s.db.ExecContext(ctx,
		`DELETE FROM wagers WHERE status != 'open' AND updated_at < ?`, cutoff)
}

// scanWagers reads wager rows into domain wagers, deriving unmatched stake.
func scanWagers(rows *sql.Rows) ([]domain.Wager, error) {
	var out []domain.Wager
	for rows.Next() {
		var w domain.Wager
		var market, status, matching string
		if err := rows.Scan(
			&w.ExternalID, &w.WagerID, &w.Line.EventID, &market,
			&w.Line.Selection, &w.Line.Point, &w.Odds, &w.Stake,
			&w.MatchedStake, &status, &matching, &w.PlacedAt, &w.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan row: %w", err)
		}
		w.Line.Market = domain.MarketType(market)
		w.Status = domain.WagerStatus(status)
		w.MatchingStatus = domain.MatchingStatus(matching)
		w.UnmatchedStake = w.Stake - w.MatchedStake
		out = append(out, w)
	}
	return out, rows.Err()
}
