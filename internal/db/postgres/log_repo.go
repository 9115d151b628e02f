package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/irgordon/slipway/internal/core/domain"
)

type LogRepo struct {
	pool *pgxpool.Pool
}

func NewLogRepo(pool *pgxpool.Pool) *LogRepo {
	return &LogRepo{pool: pool}
}

// InsertBatch appends the entries in one transaction in slice order, so the
// serial ids preserve the ring's append order.
func (r *LogRepo) InsertBatch(ctx context.Context, deploymentID int64, entries []domain.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		_, err := tx.Exec(ctx, `
			INSERT INTO deployment_logs (deployment_id, level, content, created_at)
			VALUES ($1, $2, $3, $4)
		`, deploymentID, e.Level, e.Content, e.Timestamp)
		if err != nil {
			return fmt.Errorf("insert log entry: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// ListSince returns entries with id > sinceID in ascending order, capped at
// limit.
func (r *LogRepo) ListSince(ctx context.Context, deploymentID, sinceID int64, limit int) ([]domain.LogEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, deployment_id, level, content, created_at
		FROM deployment_logs
		WHERE deployment_id = $1 AND id > $2
		ORDER BY id
		LIMIT $3
	`, deploymentID, sinceID, limit)
	if err != nil {
		return nil, err
	}
	return collectLogs(rows)
}

// ListRecent returns the most recent limit entries, reordered ascending so
// callers can replay them.
func (r *LogRepo) ListRecent(ctx context.Context, deploymentID int64, limit int) ([]domain.LogEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, deployment_id, level, content, created_at FROM (
			SELECT id, deployment_id, level, content, created_at
			FROM deployment_logs
			WHERE deployment_id = $1
			ORDER BY id DESC
			LIMIT $2
		) tail ORDER BY id
	`, deploymentID, limit)
	if err != nil {
		return nil, err
	}
	return collectLogs(rows)
}

func collectLogs(rows pgx.Rows) ([]domain.LogEntry, error) {
	defer rows.Close()
	var out []domain.LogEntry
	for rows.Next() {
		var e domain.LogEntry
		if err := rows.Scan(&e.ID, &e.DeploymentID, &e.Level, &e.Content, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
