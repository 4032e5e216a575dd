package service

import (
	"github.com/snapshot-refresher/internal/models"
	"github.com/snapshot-refresher/internal/types"
)

// DeriveSnapshotStatus computes the terminal status of a snapshot from its
// enabled source runs, the number of positions and the priced coverage.
//
// FAILED when no enabled source succeeded or nothing was collected, SUCCESS
// when every enabled source succeeded and everything is priced, PARTIAL otherwise.
func DeriveSnapshotStatus(enabledRuns []*models.SourceRun, totalPositions int, coveragePct float64) types.SnapshotStatus {
	anySuccess := false
	allSuccess := true
	anyFailed := false
	for _, run := range enabledRuns {
		switch run.Status {
		case types.SourceRunSuccess:
			anySuccess = true
		case types.SourceRunFailed:
			anyFailed = true
			allSuccess = false
		default:
			allSuccess = false
		}
	}

	if !anySuccess || totalPositions == 0 {
		return types.SnapshotFailed
	}
	if allSuccess && !anyFailed && coveragePct >= 100 {
		return types.SnapshotSuccess
	}
	return types.SnapshotPartial
}
