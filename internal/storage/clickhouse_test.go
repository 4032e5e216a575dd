package storage

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapshot-refresher/internal/config"
	"github.com/snapshot-refresher/internal/models"
	"github.com/snapshot-refresher/internal/types"
)

func setupClickHouse(t *testing.T) *ClickHouseDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db, err := NewClickHouseDB(&config.ClickHouseConfig{
		Host:     "localhost",
		Port:     "9000",
		Database: "snapshots",
		User:     "default",
		Password: "clickhouse_dev_password",
	})
	if err != nil {
		t.Skipf("Skipping test - ClickHouse not available: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, RunClickHouseMigrations(testContext(t), db, "../../migrations/clickhouse"))
	return db
}

func TestSummaryArchive_Append(t *testing.T) {
	db := setupClickHouse(t)
	ctx := testContext(t)
	archive := NewSummaryArchive(db)

	finished := time.Now().UTC()
	snapshot := &models.Snapshot{
		ID:            uuid.New().String(),
		QuoteCurrency: "USD",
		Status:        types.SnapshotPartial,
		StartedAt:     finished.Add(-time.Minute),
		FinishedAt:    &finished,
	}
	summary := &models.SnapshotSummary{
		SnapshotID:             snapshot.ID,
		TotalAssetsQuote:       "2100.00",
		TotalLiabilitiesQuote:  "40.00",
		NetWorthQuote:          "2060.00",
		PricedCoveragePct:      75,
		PricedAssetsCount:      2,
		TotalAssetsCount:       3,
		PricedLiabilitiesCount: 1,
		TotalLiabilitiesCount:  1,
	}
	require.NoError(t, archive.Append(ctx, snapshot, summary))

	var count uint64
	row := db.QueryRow(ctx, "SELECT count() FROM snapshot_summary_history WHERE snapshot_id = ?", snapshot.ID)
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, uint64(1), count)
}

func TestSummaryArchive_RejectsInvalidTotals(t *testing.T) {
	db := setupClickHouse(t)
	archive := NewSummaryArchive(db)

	err := archive.Append(testContext(t),
		&models.Snapshot{ID: uuid.New().String(), StartedAt: time.Now().UTC()},
		&models.SnapshotSummary{TotalAssetsQuote: "n/a", TotalLiabilitiesQuote: "0", NetWorthQuote: "0"})
	assert.Error(t, err)
}

func TestSummaryArchive_NilSummaryIsNoop(t *testing.T) {
	archive := NewSummaryArchive(nil)
	assert.NoError(t, archive.Append(testContext(t), &models.Snapshot{ID: "s"}, nil))
}
