package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/snapshot-refresher/internal/errors"
	"github.com/snapshot-refresher/internal/models"
	"github.com/snapshot-refresher/internal/types"
)

// SourceRunRepository records per-source progress within a snapshot
type SourceRunRepository struct {
	pool *pgxpool.Pool
}

// NewSourceRunRepository creates a new source run repository
func NewSourceRunRepository(pool *pgxpool.Pool) *SourceRunRepository {
	return &SourceRunRepository{pool: pool}
}

// MarkSkipped stamps a disabled source as SUCCESS with meta {skipped: true}
func (r *SourceRunRepository) MarkSkipped(ctx context.Context, snapshotID string, key types.SourceKey, at time.Time) error {
	return r.update(ctx, "mark source skipped", `
		UPDATE source_runs
		SET status = $3, started_at = $4, finished_at = $4, meta_json = $5
		WHERE snapshot_id = $1 AND source_key = $2
	`, snapshotID, string(key), string(types.SourceRunSuccess), at, types.Meta{"skipped": true})
}

// MarkRunning stamps the start of a source run
func (r *SourceRunRepository) MarkRunning(ctx context.Context, snapshotID string, key types.SourceKey, at time.Time) error {
	return r.update(ctx, "mark source running", `
		UPDATE source_runs
		SET status = $3, started_at = $4
		WHERE snapshot_id = $1 AND source_key = $2
	`, snapshotID, string(key), string(types.SourceRunRunning), at)
}

// MarkSucceeded stamps a source run as SUCCESS
func (r *SourceRunRepository) MarkSucceeded(ctx context.Context, snapshotID string, key types.SourceKey, at time.Time, meta types.Meta) error {
	return r.update(ctx, "mark source succeeded", `
		UPDATE source_runs
		SET status = $3, finished_at = $4, error_code = NULL, error_message = NULL, meta_json = $5
		WHERE snapshot_id = $1 AND source_key = $2
	`, snapshotID, string(key), string(types.SourceRunSuccess), at, nonNilMeta(meta))
}

// MarkFailed stamps a source run as FAILED with an error code and message
func (r *SourceRunRepository) MarkFailed(ctx context.Context, snapshotID string, key types.SourceKey, at time.Time, code, message string, meta types.Meta) error {
	return r.update(ctx, "mark source failed", `
		UPDATE source_runs
		SET status = $3, finished_at = $4, error_code = $5, error_message = $6, meta_json = $7
		WHERE snapshot_id = $1 AND source_key = $2
	`, snapshotID, string(key), string(types.SourceRunFailed), at, code, message, nonNilMeta(meta))
}

func (r *SourceRunRepository) update(ctx context.Context, op, query string, args ...interface{}) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return apperrors.NewDatabaseError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("source run", args[0].(string)+"/"+args[1].(string))
	}
	return nil
}

// ListBySnapshot returns every source run of a snapshot ordered by source key
func (r *SourceRunRepository) ListBySnapshot(ctx context.Context, snapshotID string) ([]*models.SourceRun, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT snapshot_id, source_key, status, started_at, finished_at, error_code, error_message, meta_json
		FROM source_runs
		WHERE snapshot_id = $1
		ORDER BY source_key ASC
	`, snapshotID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list source runs", err)
	}
	defer rows.Close()

	var runs []*models.SourceRun
	for rows.Next() {
		var run models.SourceRun
		var key, status string
		if err := rows.Scan(
			&run.SnapshotID,
			&key,
			&status,
			&run.StartedAt,
			&run.FinishedAt,
			&run.ErrorCode,
			&run.ErrorMessage,
			&run.Meta,
		); err != nil {
			return nil, apperrors.NewDatabaseError("scan source run", err)
		}
		run.SourceKey = types.SourceKey(key)
		run.Status = types.SourceRunStatus(status)
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate source runs", err)
	}
	return runs, nil
}
