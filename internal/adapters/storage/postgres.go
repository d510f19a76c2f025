package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alejandrodnm/mirrormaker/internal/domain"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS wagers (
    external_id     TEXT PRIMARY KEY,
    wager_id        TEXT NOT NULL DEFAULT '',
    event_id        TEXT NOT NULL,
    market          TEXT NOT NULL,
    selection       TEXT NOT NULL,
    point           DOUBLE PRECISION NOT NULL DEFAULT 0,
    odds            INTEGER NOT NULL,
    stake           DOUBLE PRECISION NOT NULL,
    matched_stake   DOUBLE PRECISION NOT NULL DEFAULT 0,
    status          TEXT NOT NULL,
    matching_status TEXT NOT NULL,
    placed_at       TIMESTAMPTZ NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_wagers_status ON wagers(status);
CREATE INDEX IF NOT EXISTS idx_wagers_event  ON wagers(event_id);
`

// PostgresStorage implements ports.Storage on Postgres via pgx.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage connects to the given DSN and applies the schema.
func NewPostgresStorage(ctx context.Context, dsn string) (*PostgresStorage, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage.NewPostgresStorage: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage.NewPostgresStorage: ping: %w", err)
	}

	s := &PostgresStorage{pool: pool}
	if err := s.ApplySchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// IsPostgresDSN reports whether a DSN selects the Postgres backend.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// ApplySchema creates the wagers table if missing.
func (s *PostgresStorage) ApplySchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("storage.ApplySchema: %w", err)
	}
	return nil
}

// SaveWager upserts a wager projection keyed by external id.
func (s *PostgresStorage) SaveWager(ctx context.Context, w domain.Wager) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wagers
			(external_id, wager_id, event_id, market, selection, point,
			 odds, stake, matched_stake, status, matching_status, placed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (external_id) DO UPDATE SET
			wager_id        = EXCLUDED.wager_id,
			odds            = EXCLUDED.odds,
			stake           = EXCLUDED.stake,
			matched_stake   = EXCLUDED.matched_stake,
			status          = EXCLUDED.status,
			matching_status = EXCLUDED.matching_status,
			updated_at      = EXCLUDED.updated_at
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
func (s *PostgresStorage) UpdateWagerFill(ctx context.Context, externalID string, matchedStake float64, status domain.WagerStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE wagers
		SET matched_stake = $1,
		    status = $2,
		    matching_status = CASE
		        WHEN $1 >= stake THEN 'fully_matched'
		        WHEN $1 > 0 THEN 'partially_matched'
		        ELSE 'unmatched'
		    END,
		    updated_at = $3
		WHERE external_id = $4
	`, matchedStake, string(status), time.Now().UTC(), externalID)
	if err != nil {
		return fmt.Errorf("storage.UpdateWagerFill: %s: %w", externalID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage.UpdateWagerFill: %w: %s", domain.ErrUnknownWager, externalID)
	}
	return nil
}

// DeleteWager removes a wager projection.
func (s *PostgresStorage) DeleteWager(ctx context.Context, externalID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM wagers WHERE external_id = $1`, externalID); err != nil {
		return fmt.Errorf("storage.DeleteWager: %s: %w", externalID, err)
	}
	return nil
}

// OpenWagers returns every wager still open on the exchange.
func (s *PostgresStorage) OpenWagers(ctx context.Context) ([]domain.Wager, error) {
	rows, err := s.pool.Query(ctx, `
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

	var out []domain.Wager
	for rows.Next() {
		w, err := scanPgWager(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// Close releases the connection pool.
func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

func scanPgWager(row pgx.Row) (domain.Wager, error) {
	var w domain.Wager
	var market, status, matching string
	if err := row.Scan(
		&w.ExternalID, &w.WagerID, &w.Line.EventID, &market,
		&w.Line.Selection, &w.Line.Point, &w.Odds, &w.Stake,
		&w.MatchedStake, &status, &matching, &w.PlacedAt, &w.UpdatedAt,
	); err != nil {
		return domain.Wager{}, fmt.Errorf("storage: scan row: %w", err)
	}
	w.Line.Market = domain.MarketType(market)
	w.Status = domain.WagerStatus(status)
	w.MatchingStatus = domain.MatchingStatus(matching)
	w.UnmatchedStake = w.Stake - w.MatchedStake
	return w, nil
}
