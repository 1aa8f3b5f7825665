package statstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/wattsync/wattsync/pkg/log"
	"github.com/wattsync/wattsync/pkg/types"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements the Store interface backed by PostgreSQL.
type PostgresStore struct {
	dsn string
	db  *sql.DB
}

// configuredPostgres sets up the Postgres store.
// It registers flags for configuration.
func configuredPostgres() *PostgresStore {
	dsn := lflag.String("postgres-dsn", "", "PostgreSQL connection string")

	p := &PostgresStore{}

	lflag.Do(func() {
		p.dsn = *dsn
	})

	return p
}

// Validate checks if the store is properly configured.
func (p *PostgresStore) Validate() error {
	if p.dsn == "" {
		return fmt.Errorf("postgres-dsn is required")
	}
	return nil
}

// Init connects to the database and creates the schema if needed.
func (p *PostgresStore) Init(ctx context.Context) error {
	db, err := sql.Open("pgx", p.dsn)
	if err != nil {
		return fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping postgres: %w", err)
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS series (
			statistic_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			unit TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS points (
			statistic_id TEXT NOT NULL REFERENCES series (statistic_id) ON DELETE CASCADE,
			start TIMESTAMPTZ NOT NULL,
			state DOUBLE PRECISION NOT NULL,
			sum DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (statistic_id, start)
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	p.db = db
	return nil
}

// Close implements Store.
func (p *PostgresStore) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

// UpsertSeries writes the series metadata and points; points sharing a
// start time are overwritten.
func (p *PostgresStore) UpsertSeries(ctx context.Context, meta types.SeriesMeta, points []types.StatPoint) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
INSERT INTO series (statistic_id, name, unit)
VALUES ($1, $2, $3)
ON CONFLICT (statistic_id) DO UPDATE SET name = EXCLUDED.name, unit = EXCLUDED.unit`,
		meta.StatisticID, meta.Name, meta.Unit)
	if err != nil {
		return fmt.Errorf("failed to upsert series %s: %w", meta.StatisticID, err)
	}

	for _, point := range points {
		_, err = tx.ExecContext(ctx, `
INSERT INTO points (statistic_id, start, state, sum)
VALUES ($1, $2, $3, $4)
ON CONFLICT (statistic_id, start) DO UPDATE SET state = EXCLUDED.state, sum = EXCLUDED.sum`,
			meta.StatisticID, point.Start.UTC(), point.State, point.Sum)
		if err != nil {
			return fmt.Errorf("failed to upsert point %s@%s: %w",
				meta.StatisticID, point.Start.Format(time.RFC3339), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	log.Ctx(ctx).DebugContext(ctx, "upserted series",
		slog.String("statisticID", meta.StatisticID), slog.Int("points", len(points)))
	return nil
}

// LastPoint returns the most recent point for the series.
func (p *PostgresStore) LastPoint(ctx context.Context, statisticID string) (types.StatPoint, bool, error) {
	row := p.db.QueryRowContext(ctx, `
SELECT start, state, sum FROM points
WHERE statistic_id = $1
ORDER BY start DESC
LIMIT 1`, statisticID)

	var point types.StatPoint
	if err := row.Scan(&point.Start, &point.State, &point.Sum); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.StatPoint{}, false, nil
		}
		return types.StatPoint{}, false, fmt.Errorf("failed to query last point for %s: %w", statisticID, err)
	}
	point.Start = point.Start.UTC()
	return point, true, nil
}

// Points returns the series' points in chronological order.
func (p *PostgresStore) Points(ctx context.Context, statisticID string) ([]types.StatPoint, error) {
	rows, err := p.db.QueryContext(ctx, `
SELECT start, state, sum FROM points
WHERE statistic_id = $1
ORDER BY start ASC`, statisticID)
	if err != nil {
		return nil, fmt.Errorf("failed to query points for %s: %w", statisticID, err)
	}
	defer rows.Close()

	var points []types.StatPoint
	for rows.Next() {
		var point types.StatPoint
		if err := rows.Scan(&point.Start, &point.State, &point.Sum); err != nil {
			return nil, err
		}
		point.Start = point.Start.UTC()
		points = append(points, point)
	}
	return points, rows.Err()
}

// Clear deletes the series and its points. Only series under this
// service's namespace can be cleared.
func (p *PostgresStore) Clear(ctx context.Context, statisticID string) error {
	if err := CheckNamespace(statisticID); err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, `DELETE FROM series WHERE statistic_id = $1`, statisticID); err != nil {
		return fmt.Errorf("failed to clear series %s: %w", statisticID, err)
	}
	log.Ctx(ctx).InfoContext(ctx, "cleared series", slog.String("statisticID", statisticID))
	return nil
}
