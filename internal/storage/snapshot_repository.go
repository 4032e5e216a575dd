package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/snapshot-refresher/internal/errors"
	"github.com/snapshot-refresher/internal/models"
	"github.com/snapshot-refresher/internal/types"
)

// SnapshotRepository handles snapshot storage operations
type SnapshotRepository struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(pool *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{pool: pool}
}

const snapshotColumns = `id, quote_currency, status, started_at, finished_at, notes`

func scanSnapshot(row pgx.Row) (*models.Snapshot, error) {
	var s models.Snapshot
	var status string
	if err := row.Scan(&s.ID, &s.QuoteCurrency, &status, &s.StartedAt, &s.FinishedAt, &s.Notes); err != nil {
		return nil, err
	}
	s.Status = types.SnapshotStatus(status)
	return &s, nil
}

// CreateWithSourceRuns inserts a RUNNING snapshot and one PENDING run per
// source key in a single transaction
func (r *SnapshotRepository) CreateWithSourceRuns(ctx context.Context, snapshot *models.Snapshot, sourceKeys []types.SourceKey) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return apperrors.NewDatabaseError("begin create snapshot", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // no-op after commit
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO snapshots (id, quote_currency, status, started_at)
		VALUES ($1, $2, $3, $4)
	`, snapshot.ID, snapshot.QuoteCurrency, string(snapshot.Status), snapshot.StartedAt)
	if err != nil {
		return apperrors.NewDatabaseError("insert snapshot", err)
	}

	batch := &pgx.Batch{}
	for _, key := range sourceKeys {
		batch.Queue(`
			INSERT INTO source_runs (snapshot_id, source_key, status, meta_json)
			VALUES ($1, $2, $3, '{}'::jsonb)
		`, snapshot.ID, string(key), string(types.SourceRunPending))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return apperrors.NewDatabaseError("insert source runs", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.NewDatabaseError("commit create snapshot", err)
	}
	return nil
}

// GetByID retrieves a snapshot; SNAPSHOT_NOT_FOUND if it does not exist
func (r *SnapshotRepository) GetByID(ctx context.Context, snapshotID string) (*models.Snapshot, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE id = $1`, snapshotID)
	snapshot, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewSnapshotNotFoundError(snapshotID)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get snapshot", err)
	}
	return snapshot, nil
}

// GetLatest returns the most recently started snapshot, or nil when none exist
func (r *SnapshotRepository) GetLatest(ctx context.Context) (*models.Snapshot, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM snapshots ORDER BY started_at DESC LIMIT 1`)
	snapshot, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get latest snapshot", err)
	}
	return snapshot, nil
}

// Finalize moves a RUNNING snapshot to its terminal status. A snapshot that
// is no longer RUNNING is left untouched and SNAPSHOT_ALREADY_FINALIZED is returned.
func (r *SnapshotRepository) Finalize(ctx context.Context, snapshotID string, status types.SnapshotStatus, finishedAt time.Time, notes *string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE snapshots
		SET status = $2, finished_at = $3, notes = COALESCE($4, notes)
		WHERE id = $1 AND status = $5
	`, snapshotID, string(status), finishedAt, notes, string(types.SnapshotRunning))
	if err != nil {
		return apperrors.NewDatabaseError("finalize snapshot", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, snapshotID); err != nil {
			return err
		}
		return apperrors.NewSnapshotFinalizedError(snapshotID)
	}
	return nil
}
