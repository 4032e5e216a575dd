// Package service orchestrates snapshot refreshes: it creates snapshots, runs
// every enabled source, prices and values the result and finalizes the status.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/snapshot-refresher/internal/errors"
	"github.com/snapshot-refresher/internal/logging"
	"github.com/snapshot-refresher/internal/metrics"
	"github.com/snapshot-refresher/internal/models"
	"github.com/snapshot-refresher/internal/pricing"
	"github.com/snapshot-refresher/internal/source"
	"github.com/snapshot-refresher/internal/types"
	"github.com/snapshot-refresher/internal/valuation"
	"github.com/snapshot-refresher/internal/worker"
)

// SnapshotRepository interface for snapshot lifecycle operations
type SnapshotRepository interface {
	CreateWithSourceRuns(ctx context.Context, snapshot *models.Snapshot, sourceKeys []types.SourceKey) error
	GetByID(ctx context.Context, snapshotID string) (*models.Snapshot, error)
	GetLatest(ctx context.Context) (*models.Snapshot, error)
	Finalize(ctx context.Context, snapshotID string, status types.SnapshotStatus, finishedAt time.Time, notes *string) error
}

// SourceRunRepository interface for per-source run stamps
type SourceRunRepository interface {
	MarkSkipped(ctx context.Context, snapshotID string, key types.SourceKey, at time.Time) error
	MarkRunning(ctx context.Context, snapshotID string, key types.SourceKey, at time.Time) error
	MarkSucceeded(ctx context.Context, snapshotID string, key types.SourceKey, at time.Time, meta types.Meta) error
	MarkFailed(ctx context.Context, snapshotID string, key types.SourceKey, at time.Time, code, message string, meta types.Meta) error
	ListBySnapshot(ctx context.Context, snapshotID string) ([]*models.SourceRun, error)
}

// WalletRepository interface for the tracked wallets
type WalletRepository interface {
	ListActive(ctx context.Context) ([]*models.Wallet, error)
}

// SummaryRepository interface for reading summaries back
type SummaryRepository interface {
	GetBySnapshot(ctx context.Context, snapshotID string) (*models.SnapshotSummary, error)
}

// PriceResolver resolves prices for a snapshot
type PriceResolver interface {
	Resolve(ctx context.Context, snapshotID, quoteCurrency string) (*pricing.Result, error)
}

// Valuator writes valuations and summaries
type Valuator interface {
	Apply(ctx context.Context, snapshotID string, prices map[string]string) (*valuation.ApplyResult, error)
	Summarize(ctx context.Context, snapshotID string) (*models.SnapshotSummary, error)
}

// SummaryArchive receives finalized summaries for analytics
type SummaryArchive interface {
	Append(ctx context.Context, snapshot *models.Snapshot, summary *models.SnapshotSummary) error
}

// RefreshOptions are the caller's choices for one refresh
type RefreshOptions struct {
	QuoteCurrency string
	// EnabledSources selects the sources to run; nil enables every source
	EnabledSources []string
}

// RefreshDeps are the collaborators of a RefreshService
type RefreshDeps struct {
	Snapshots  SnapshotRepository
	SourceRuns SourceRunRepository
	Wallets    WalletRepository
	Summaries  SummaryRepository
	Runners    source.Runners
	Prices     PriceResolver
	Valuator   Valuator
	// Archive may be nil
	Archive     SummaryArchive
	Metrics     *metrics.Recorder
	Concurrency int
	// DefaultQuoteCurrency applies when a request names none; USD when empty
	DefaultQuoteCurrency string
	// Mocked is reported in run diagnostics
	Mocked bool
}

// RefreshService creates and runs snapshots
type RefreshService struct {
	snapshots   SnapshotRepository
	sourceRuns  SourceRunRepository
	wallets     WalletRepository
	summaries   SummaryRepository
	runners     source.Runners
	prices      PriceResolver
	valuator    Valuator
	archive     SummaryArchive
	metrics     *metrics.Recorder
	concurrency int
	quote       string
	mocked      bool
	now         func() time.Time
	newID       func() string
	inflight    sync.WaitGroup
}

// NewRefreshService creates a new refresh service
func NewRefreshService(deps RefreshDeps) *RefreshService {
	concurrency := deps.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	runners := deps.Runners
	if runners == nil {
		runners = source.Runners{}
	}
	return &RefreshService{
		snapshots:   deps.Snapshots,
		sourceRuns:  deps.SourceRuns,
		wallets:     deps.Wallets,
		summaries:   deps.Summaries,
		runners:     runners,
		prices:      deps.Prices,
		valuator:    deps.Valuator,
		archive:     deps.Archive,
		metrics:     deps.Metrics,
		concurrency: concurrency,
		quote:       types.NormalizeQuoteCurrency(deps.DefaultQuoteCurrency),
		mocked:      deps.Mocked,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       func() string { return uuid.New().String() },
	}
}

// normalizedOptions is RefreshOptions after validation
type normalizedOptions struct {
	quoteCurrency string
	enabled       map[types.SourceKey]bool
}

// ValidateOptions upper-cases the quote currency and checks source keys
func ValidateOptions(opts RefreshOptions) (RefreshOptions, error) {
	n, err := normalize(opts)
	if err != nil {
		return RefreshOptions{}, err
	}
	out := RefreshOptions{QuoteCurrency: n.quoteCurrency, EnabledSources: []string{}}
	for _, key := range types.AllSourceKeys() {
		if n.enabled[key] {
			out.EnabledSources = append(out.EnabledSources, string(key))
		}
	}
	return out, nil
}

func normalize(opts RefreshOptions) (*normalizedOptions, error) {
	n := &normalizedOptions{
		quoteCurrency: types.NormalizeQuoteCurrency(opts.QuoteCurrency),
		enabled:       make(map[types.SourceKey]bool),
	}
	if opts.EnabledSources == nil {
		for _, key := range types.AllSourceKeys() {
			n.enabled[key] = true
		}
		return n, nil
	}

	var unknown []string
	for _, raw := range opts.EnabledSources {
		key := strings.TrimSpace(raw)
		if !types.IsSourceKey(key) {
			unknown = append(unknown, raw)
			continue
		}
		n.enabled[types.SourceKey(key)] = true
	}
	if len(unknown) > 0 {
		return nil, apperrors.NewInvalidSourcesError(unknown)
	}
	return n, nil
}

// CreateSnapshot inserts a RUNNING snapshot with a PENDING run for every known source
func (s *RefreshService) CreateSnapshot(ctx context.Context, opts RefreshOptions) (*models.Snapshot, error) {
	n, err := normalize(s.withDefaults(opts))
	if err != nil {
		return nil, err
	}
	snapshot := &models.Snapshot{
		ID:            s.newID(),
		QuoteCurrency: n.quoteCurrency,
		Status:        types.SnapshotRunning,
		StartedAt:     s.now(),
	}
	if err := s.snapshots.CreateWithSourceRuns(ctx, snapshot, types.AllSourceKeys()); err != nil {
		return nil, err
	}
	logging.FromContext(ctx).WithSnapshot(snapshot.ID).WithField("quoteCurrency", snapshot.QuoteCurrency).Info("Snapshot created")
	return snapshot, nil
}

// StartRefresh creates a snapshot and runs it in the background. The run is
// detached from ctx cancellation; a run that errors leaves the snapshot FAILED.
func (s *RefreshService) StartRefresh(ctx context.Context, opts RefreshOptions) (*models.Snapshot, error) {
	opts = s.withDefaults(opts)
	snapshot, err := s.CreateSnapshot(ctx, opts)
	if err != nil {
		return nil, err
	}

	runCtx := context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if err := s.RunSnapshot(runCtx, snapshot.ID, opts); err != nil {
			s.failSnapshot(runCtx, snapshot, err)
		}
	}()
	return snapshot, nil
}

// Refresh creates a snapshot and runs it to completion on the caller's goroutine
func (s *RefreshService) Refresh(ctx context.Context, opts RefreshOptions) (*models.Snapshot, error) {
	opts = s.withDefaults(opts)
	snapshot, err := s.CreateSnapshot(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := s.RunSnapshot(ctx, snapshot.ID, opts); err != nil {
		s.failSnapshot(ctx, snapshot, err)
		return snapshot, err
	}
	return snapshot, nil
}

func (s *RefreshService) withDefaults(opts RefreshOptions) RefreshOptions {
	if strings.TrimSpace(opts.QuoteCurrency) == "" {
		opts.QuoteCurrency = s.quote
	}
	return opts
}

// Wait blocks until every background run started by StartRefresh returned
func (s *RefreshService) Wait() {
	s.inflight.Wait()
}

func (s *RefreshService) failSnapshot(ctx context.Context, snapshot *models.Snapshot, cause error) {
	logger := logging.FromContext(ctx).WithSnapshot(snapshot.ID)
	orchErr := apperrors.NewOrchestrationError(snapshot.ID, cause)
	logger.WithError(orchErr).WithField("cause", apperrors.CodeOf(cause, "UNCATEGORIZED")).Error("Snapshot run failed")

	notes := cause.Error()
	if err := s.snapshots.Finalize(ctx, snapshot.ID, types.SnapshotFailed, s.now(), &notes); err != nil {
		logger.WithError(err).Warn("Could not mark snapshot as failed")
		return
	}
	s.metrics.RecordSnapshot(string(types.SnapshotFailed), s.now().Sub(snapshot.StartedAt), 0)
}

// RunSnapshot executes every enabled source, prices and values the
// collected positions and finalizes the snapshot. Source failures are
// recorded on their runs; only repository failures are returned. A snapshot
// that is no longer RUNNING is left untouched.
func (s *RefreshService) RunSnapshot(ctx context.Context, snapshotID string, opts RefreshOptions) error {
	n, err := normalize(s.withDefaults(opts))
	if err != nil {
		return err
	}
	ctx = logging.WithLogger(ctx, logging.FromContext(ctx).WithSnapshot(snapshotID))
	logger := logging.FromContext(ctx)

	snapshot, err := s.snapshots.GetByID(ctx, snapshotID)
	if err != nil {
		return err
	}
	if snapshot.Status != types.SnapshotRunning {
		return apperrors.NewSnapshotFinalizedError(snapshotID)
	}

	for _, key := range types.AllSourceKeys() {
		if n.enabled[key] {
			continue
		}
		if err := s.sourceRuns.MarkSkipped(ctx, snapshotID, key, s.now()); err != nil {
			return err
		}
	}

	wallets, err := s.wallets.ListActive(ctx)
	if err != nil {
		return err
	}
	input := source.SourceInput{SnapshotID: snapshotID, Wallets: wallets}

	var tasks []worker.Task
	for _, key := range types.AllSourceKeys() {
		if key == types.SourcePrices || !n.enabled[key] {
			continue
		}
		key := key
		tasks = append(tasks, worker.Task{
			Key:  string(key),
			Work: func(ctx context.Context) error { return s.runSource(ctx, key, input) },
		})
	}
	report := worker.Run(ctx, tasks, s.concurrency)
	if failed := report.Failed(); len(failed) > 0 {
		logger.WithFields(map[string]interface{}{
			"failedSources": failed,
			"duration":      report.Duration.String(),
		}).Warn("Some sources failed")
		for _, key := range failed {
			var stampErr *runStatusError
			if errors.As(report.Errors[key], &stampErr) {
				return stampErr
			}
		}
	}

	var prices map[string]string
	if n.enabled[types.SourcePrices] {
		prices, err = s.runPrices(ctx, snapshotID, n.quoteCurrency)
		if err != nil {
			return err
		}
	}

	if _, err := s.valuator.Apply(ctx, snapshotID, prices); err != nil {
		return err
	}
	summary, err := s.valuator.Summarize(ctx, snapshotID)
	if err != nil {
		return err
	}

	return s.finalize(ctx, snapshot, n, summary)
}

// runStatusError is a failed write of a source run status. Unlike a source
// failure it ends the snapshot.
type runStatusError struct {
	key types.SourceKey
	err error
}

func (e *runStatusError) Error() string {
	return fmt.Sprintf("record %s run status: %v", e.key, e.err)
}

func (e *runStatusError) Unwrap() error {
	return e.err
}

// runSource is the per-source wrapper: RUNNING first, then exactly one terminal stamp
func (s *RefreshService) runSource(ctx context.Context, key types.SourceKey, input source.SourceInput) error {
	logger := logging.FromContext(ctx).WithSource(string(key))
	if err := s.sourceRuns.MarkRunning(ctx, input.SnapshotID, key, s.now()); err != nil {
		return &runStatusError{key: key, err: err}
	}

	var (
		result *source.SourceResult
		runErr error
		code   = apperrors.CodeSourceRun
	)
	runner, ok := s.runners[key]
	if !ok || runner == nil {
		notConfigured := apperrors.NewSourceNotConfiguredError(string(key))
		runErr, code = notConfigured, notConfigured.Code
	} else {
		result, runErr = safeRun(ctx, runner, input)
	}

	if runErr != nil {
		message := runErr.Error()
		if ce, ok := runErr.(*apperrors.CategorizedError); ok && ce.Cause == nil {
			message = ce.Message
		}
		logger.WithError(runErr).Warn("Source run failed")
		s.metrics.RecordSourceRun(string(key), string(types.SourceRunFailed))
		if err := s.sourceRuns.MarkFailed(ctx, input.SnapshotID, key, s.now(), code, message, types.Meta{"mocked": s.mocked}); err != nil {
			return &runStatusError{key: key, err: err}
		}
		return apperrors.NewSourceRunError(string(key), runErr)
	}

	if result == nil {
		result = &source.SourceResult{}
	}
	meta := types.Meta{}.Merge(result.Meta).Merge(types.Meta{
		"positionsAssetCount":     result.PositionsAssetCount,
		"positionsLiabilityCount": result.PositionsLiabilityCount,
	})
	s.metrics.RecordSourceRun(string(key), string(types.SourceRunSuccess))
	logger.WithFields(map[string]interface{}{
		"assets":      result.PositionsAssetCount,
		"liabilities": result.PositionsLiabilityCount,
	}).Info("Source run succeeded")
	if err := s.sourceRuns.MarkSucceeded(ctx, input.SnapshotID, key, s.now(), meta); err != nil {
		stampErr := &runStatusError{key: key, err: err}
		// Leave the row terminal when the store still accepts writes
		if markErr := s.sourceRuns.MarkFailed(ctx, input.SnapshotID, key, s.now(), apperrors.CodeSourceRun, stampErr.Error(), meta); markErr != nil {
			logger.WithError(markErr).Warn("Could not mark source run as failed")
		}
		return stampErr
	}
	return nil
}

// safeRun turns a runner panic into an error
func safeRun(ctx context.Context, runner source.SourceRunner, input source.SourceInput) (result *source.SourceResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("runner panicked: %v", r)
		}
	}()
	return runner.Run(ctx, input)
}

// runPrices records the prices run. Resolution problems fail the run but
// not the snapshot; the returned error is a repository failure.
func (s *RefreshService) runPrices(ctx context.Context, snapshotID, quoteCurrency string) (map[string]string, error) {
	key := types.SourcePrices
	logger := logging.FromContext(ctx).WithSource(string(key))
	if err := s.sourceRuns.MarkRunning(ctx, snapshotID, key, s.now()); err != nil {
		return nil, err
	}

	result, err := s.prices.Resolve(ctx, snapshotID, quoteCurrency)
	if err != nil {
		logger.WithError(err).Warn("Price resolution failed")
		s.metrics.RecordSourceRun(string(key), string(types.SourceRunFailed))
		if markErr := s.sourceRuns.MarkFailed(ctx, snapshotID, key, s.now(), apperrors.CodePrices, err.Error(), types.Meta{"mocked": s.mocked}); markErr != nil {
			return nil, markErr
		}
		return nil, nil
	}

	meta := result.Meta(s.mocked, quoteCurrency)
	if result.PricedCount == 0 {
		message := strings.Join(result.Warnings, "; ")
		if message == "" {
			message = "No prices fetched"
		}
		priceErr := apperrors.NewPriceResolutionError(message)
		logger.WithError(priceErr).Warn("No prices resolved")
		s.metrics.RecordSourceRun(string(key), string(types.SourceRunFailed))
		if err := s.sourceRuns.MarkFailed(ctx, snapshotID, key, s.now(), priceErr.Code, priceErr.Message, meta); err != nil {
			return nil, err
		}
		return nil, nil
	}

	s.metrics.RecordSourceRun(string(key), string(types.SourceRunSuccess))
	if err := s.sourceRuns.MarkSucceeded(ctx, snapshotID, key, s.now(), meta); err != nil {
		return nil, err
	}
	return result.PriceMap(), nil
}

func (s *RefreshService) finalize(ctx context.Context, snapshot *models.Snapshot, n *normalizedOptions, summary *models.SnapshotSummary) error {
	runs, err := s.sourceRuns.ListBySnapshot(ctx, snapshot.ID)
	if err != nil {
		return err
	}
	var enabled []*models.SourceRun
	for _, run := range runs {
		if n.enabled[run.SourceKey] {
			enabled = append(enabled, run)
		}
	}

	status := DeriveSnapshotStatus(enabled, summary.TotalPositions(), summary.PricedCoveragePct)
	finishedAt := s.now()
	if err := s.snapshots.Finalize(ctx, snapshot.ID, status, finishedAt, nil); err != nil {
		return err
	}
	snapshot.Status = status
	snapshot.FinishedAt = &finishedAt

	duration := finishedAt.Sub(snapshot.StartedAt)
	s.metrics.RecordSnapshot(string(status), duration, summary.PricedCoveragePct)
	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"status":         status,
		"coveragePct":    summary.PricedCoveragePct,
		"totalPositions": summary.TotalPositions(),
		"duration":       duration.String(),
	}).Info("Snapshot finalized")

	if s.archive != nil {
		if err := s.archive.Append(ctx, snapshot, summary); err != nil {
			logging.FromContext(ctx).WithError(err).Warn("Failed to archive snapshot summary")
		}
	}
	return nil
}

// SourceStatus is one source run as reported by GetStatus
type SourceStatus struct {
	SourceKey    types.SourceKey       `json:"sourceKey"`
	Status       types.SourceRunStatus `json:"status"`
	StartedAt    *time.Time            `json:"startedAt"`
	FinishedAt   *time.Time            `json:"finishedAt"`
	ErrorCode    *string               `json:"errorCode"`
	ErrorMessage *string               `json:"errorMessage"`
	Meta         types.Meta            `json:"meta"`
}

// StatusView is the status of a snapshot and all of its source runs
type StatusView struct {
	SnapshotID     string               `json:"snapshotId"`
	SnapshotStatus types.SnapshotStatus `json:"snapshotStatus"`
	QuoteCurrency  string               `json:"quoteCurrency"`
	StartedAt      time.Time            `json:"startedAt"`
	FinishedAt     *time.Time           `json:"finishedAt"`
	Notes          *string              `json:"notes"`
	Sources        []SourceStatus       `json:"sources"`
}

// GetStatus returns the snapshot status with its runs sorted by source key
func (s *RefreshService) GetStatus(ctx context.Context, snapshotID string) (*StatusView, error) {
	snapshot, err := s.snapshots.GetByID(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	runs, err := s.sourceRuns.ListBySnapshot(ctx, snapshotID)
	if err != nil {
		return nil, err
	}

	view := &StatusView{
		SnapshotID:     snapshot.ID,
		SnapshotStatus: snapshot.Status,
		QuoteCurrency:  snapshot.QuoteCurrency,
		StartedAt:      snapshot.StartedAt,
		FinishedAt:     snapshot.FinishedAt,
		Notes:          snapshot.Notes,
		Sources:        make([]SourceStatus, 0, len(runs)),
	}
	for _, run := range runs {
		meta := run.Meta
		if meta == nil {
			meta = types.Meta{}
		}
		view.Sources = append(view.Sources, SourceStatus{
			SourceKey:    run.SourceKey,
			Status:       run.Status,
			StartedAt:    run.StartedAt,
			FinishedAt:   run.FinishedAt,
			ErrorCode:    run.ErrorCode,
			ErrorMessage: run.ErrorMessage,
			Meta:         meta,
		})
	}
	sort.Slice(view.Sources, func(i, j int) bool {
		return view.Sources[i].SourceKey < view.Sources[j].SourceKey
	})
	return view, nil
}

// LatestSummary is the most recent snapshot together with its summary
type LatestSummary struct {
	Snapshot *models.Snapshot
	// Summary is nil while the snapshot has not been valued yet
	Summary *models.SnapshotSummary
}

// GetLatestSummary returns the most recently started snapshot, or nil when none exist
func (s *RefreshService) GetLatestSummary(ctx context.Context) (*LatestSummary, error) {
	snapshot, err := s.snapshots.GetLatest(ctx)
	if err != nil || snapshot == nil {
		return nil, err
	}
	summary, err := s.summaries.GetBySnapshot(ctx, snapshot.ID)
	if err != nil {
		return nil, err
	}
	return &LatestSummary{Snapshot: snapshot, Summary: summary}, nil
}
