// Package ingest runs the per-folder ingestion pipeline over a set of run folders.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	gosync "sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/flowcell-ingest/internal/adapters"
	"github.com/hochfrequenz/flowcell-ingest/internal/ctxlog"
	"github.com/hochfrequenz/flowcell-ingest/internal/domain"
	"github.com/hochfrequenz/flowcell-ingest/internal/layout"
	"github.com/hochfrequenz/flowcell-ingest/internal/ledger"
	"github.com/hochfrequenz/flowcell-ingest/internal/notify"
	"github.com/hochfrequenz/flowcell-ingest/internal/parser"
	"github.com/hochfrequenz/flowcell-ingest/internal/sync"
)

// ErrFoldersFailed is returned by Run when at least one folder failed
var ErrFoldersFailed = errors.New("one or more folders failed")

// Registry is the registry surface used by the driver
type Registry interface {
	sync.Registry
	PushHistogram(ctx context.Context, hist domain.LaneIndexHistogram) error
}

// Ledger records the outcome of each folder
type Ledger interface {
	Record(ctx context.Context, e *ledger.Entry) error
}

// Config controls a Driver
type Config struct {
	Project  string
	Operator string
	Policy   sync.Policy

	// Threads bounds the number of folders processed concurrently
	Threads int

	AnalyzeAdapters bool
	PostAdapters    bool

	Sampler  adapters.Sampler
	Ledger   Ledger
	Notifier notify.Notifier
	Host     string
}

// FolderResult is the outcome of one folder
type FolderResult struct {
	Path       string
	Layout     domain.Layout
	Info       *domain.RunInfo
	Params     *domain.RunParameters
	Outcome    sync.Outcome
	FlowCell   *domain.FlowCell
	Histograms int
	Err        error
}

// Driver processes run folders
type Driver struct {
	registry Registry
	syncer   *sync.Syncer
	cfg      Config
	now      func() time.Time

	// layouts already warned about as having no base call decoder
	undecodable gosync.Map
}

// New creates a Driver writing to registry
func New(registry Registry, cfg Config) *Driver {
	if cfg.Threads < 1 {
		cfg.Threads = 1
	}
	if cfg.Sampler == nil {
		cfg.Sampler = adapters.NewBCLSampler(adapters.DefaultSampleReadsPerTile, adapters.DefaultMinIndexFraction)
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.NoopNotifier{}
	}
	return &Driver{
		registry: registry,
		syncer:   sync.New(registry, cfg.Project, cfg.Operator, cfg.Policy),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Run processes every folder and returns ErrFoldersFailed if any of them failed
func (d *Driver) Run(ctx context.Context, paths []string) error {
	results := d.ProcessAll(ctx, paths)
	Summary(ctxlog.FromContext(ctx), results)

	var failures []notify.FolderFailure
	for _, r := range results {
		if r.Err != nil {
			failures = append(failures, notify.FolderFailure{Path: r.Path, Err: r.Err})
		}
	}
	if len(failures) == 0 {
		return nil
	}

	n := notify.FailureSummary(failures, len(paths))
	n.Host = d.cfg.Host
	if err := d.cfg.Notifier.Send(ctx, n); err != nil {
		ctxlog.FromContext(ctx).Warn("sending failure notification", "err", err)
	}
	return fmt.Errorf("%w: %d of %d", ErrFoldersFailed, len(failures), len(paths))
}

// ProcessAll processes folders on a bounded pool and returns one result per path, in input order
func (d *Driver) ProcessAll(ctx context.Context, paths []string) []FolderResult {
	results := make([]FolderResult, len(paths))

	var g errgroup.Group
	g.SetLimit(d.cfg.Threads)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = FolderResult{Path: path, Err: err}
				return nil
			}
			results[i] = d.ProcessFolder(ctx, path)
			return nil
		})
	}
	// folder errors live in results; the group itself never fails
	_ = g.Wait()
	return results
}

// ProcessFolder runs the full pipeline for a single folder. Errors are returned in the result.
func (d *Driver) ProcessFolder(ctx context.Context, path string) FolderResult {
	logger := ctxlog.FromContext(ctx).With("path", path)
	ctx = ctxlog.WithLogger(ctx, logger)

	started := d.now()
	logger.Info("starting to process folder")
	res := d.processFolder(ctx, path)
	if res.Err != nil {
		logger.Error("processing folder failed", "err", res.Err)
	} else {
		logger.Info("done processing folder", "outcome", res.Outcome)
	}
	d.record(ctx, res, started)
	return res
}

func (d *Driver) processFolder(ctx context.Context, path string) FolderResult {
	res := FolderResult{Path: path}
	logger := ctxlog.FromContext(ctx)

	if !layout.HasRunInfo(path) {
		res.Err = fmt.Errorf("%w: %s", domain.ErrMissingManifest, filepath.Join(path, layout.RunInfoFile))
		return res
	}

	l, err := layout.Detect(path)
	if err != nil {
		res.Err = err
		return res
	}
	res.Layout = l
	logger.Info("guessed folder layout", "layout", l)

	info, params, err := parser.ParseFolder(path, l)
	if err != nil {
		res.Err = err
		return res
	}
	res.Info, res.Params = info, params
	logger.Debug("parsed run metadata", "run_id", info.RunID, "flowcell", info.Flowcell,
		"current_reads", domain.StringDescription(info.Reads),
		"planned_reads", domain.StringDescription(params.PlannedReads))

	synced, err := d.syncer.Sync(ctx, sync.Record{
		Info:     info,
		Params:   params,
		Complete: layout.CompletionMarkerPresent(path),
	})
	if err != nil {
		res.Err = err
		return res
	}
	res.Outcome = synced.Outcome
	res.FlowCell = synced.FlowCell

	if !d.cfg.AnalyzeAdapters || !synced.Outcome.Proceed() {
		return res
	}
	if !d.cfg.Sampler.Supports(l) {
		if _, warned := d.undecodable.LoadOrStore(l, struct{}{}); !warned {
			logger.Warn("adapter analysis is not available for this layout, skipping it", "layout", l)
		}
		return res
	}
	res.Histograms, res.Err = d.analyzeAdapters(ctx, path, l, info, synced.FlowCell)
	return res
}

// analyzeAdapters samples every index read and optionally pushes one histogram per lane
func (d *Driver) analyzeAdapters(ctx context.Context, path string, l domain.Layout, info *domain.RunInfo, fc *domain.FlowCell) (int, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Info("analyzing adapters")

	pushed := 0
	for _, read := range info.IndexReads() {
		lanes, err := d.cfg.Sampler.Sample(ctx, path, l, info, read)
		if err != nil {
			return pushed, fmt.Errorf("sampling index read %d: %w", read.Ordinal, err)
		}
		if !d.cfg.PostAdapters {
			continue
		}
		logger.Info("updating adapter information", "uuid", fc.SodarUUID, "index_read_no", read.Ordinal)
		for i, lane := range lanes {
			hist := domain.LaneIndexHistogram{
				Flowcell:    fc.SodarUUID,
				Lane:        i + 1,
				IndexReadNo: read.Ordinal,
				SampleSize:  lane.SampleSize,
				Histogram:   lane.Histogram,
			}
			if err := d.registry.PushHistogram(ctx, hist); err != nil {
				return pushed, fmt.Errorf("pushing histogram for lane %d: %w", hist.Lane, err)
			}
			pushed++
		}
	}
	logger.Info("done analyzing adapters", "histograms", pushed)
	return pushed, nil
}

func (d *Driver) record(ctx context.Context, res FolderResult, started time.Time) {
	if d.cfg.Ledger == nil {
		return
	}
	e := &ledger.Entry{
		Path:       res.Path,
		Outcome:    res.Outcome.String(),
		StartedAt:  started,
		FinishedAt: d.now(),
	}
	if res.Layout != 0 {
		e.Layout = res.Layout.String()
	}
	if res.Info != nil {
		e.VendorID = res.Info.Flowcell
	}
	if res.FlowCell != nil {
		e.Status = res.FlowCell.StatusSequencing
	}
	if res.Err != nil {
		e.Outcome = ledger.OutcomeFailed
		e.Error = res.Err.Error()
	}
	if err := d.cfg.Ledger.Record(ctx, e); err != nil {
		ctxlog.FromContext(ctx).Warn("recording ingestion", "err", err)
	}
}

// Summary logs a one-line tally of results
func Summary(logger *slog.Logger, results []FolderResult) {
	counts := make(map[string]int)
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			continue
		}
		counts[r.Outcome.String()]++
	}
	args := []any{"folders", len(results), "failed", failed}
	for _, o := range []sync.Outcome{sync.OutcomeCreated, sync.OutcomeUpdated, sync.OutcomeUnchanged, sync.OutcomeNotRegistered, sync.OutcomeSkipped} {
		if n := counts[o.String()]; n > 0 {
			args = append(args, o.String(), n)
		}
	}
	logger.Info("ingestion pass finished", args...)
}
