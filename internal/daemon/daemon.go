// Package daemon re-runs ingestion on a cron schedule and when runs complete.
package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	gosync "sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hochfrequenz/flowcell-ingest/internal/ctxlog"
	"github.com/hochfrequenz/flowcell-ingest/internal/layout"
)

// IngestFunc ingests the given run folders
type IngestFunc func(ctx context.Context, paths []string) error

// ParseSchedule parses a standard five-field cron expression
func ParseSchedule(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return parser.Parse(expr)
}

// ExpandPaths resolves glob patterns to existing directories that contain a run manifest.
// Plain paths are kept as given so that missing manifests are reported by the ingest pass.
func ExpandPaths(patterns []string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	add := func(p string) {
		p = filepath.Clean(p)
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}

	for _, pattern := range patterns {
		if !hasMeta(pattern) {
			add(pattern)
			continue
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("expanding %q: %w", pattern, err)
		}
		sort.Strings(matches)
		for _, m := range matches {
			if layout.HasRunInfo(m) {
				add(m)
			}
		}
	}
	return out, nil
}

func hasMeta(path string) bool {
	for _, c := range path {
		switch c {
		case '*', '?', '[':
			return true
		}
	}
	return false
}

// Options configures a Daemon
type Options struct {
	Paths    []string
	Schedule string
	Watch    bool
	Debounce time.Duration
}

// Daemon sweeps the configured folders on a schedule and reacts to completed runs
type Daemon struct {
	opts     Options
	schedule cron.Schedule
	ingest   IngestFunc

	// serializes ingest passes so a folder is never processed twice at once
	mu      gosync.Mutex
	watcher *FolderWatcher
	passes  int
}

// New creates a Daemon
func New(opts Options, ingest IngestFunc) (*Daemon, error) {
	sched, err := ParseSchedule(opts.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", opts.Schedule, err)
	}
	return &Daemon{opts: opts, schedule: sched, ingest: ingest}, nil
}

// Run performs an initial sweep and then blocks until ctx is cancelled
func (d *Daemon) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	if d.opts.Watch {
		w, err := NewFolderWatcher(d.opts.Debounce, func(folders []string) {
			logger.Info("run completed", "folders", folders)
			d.runPass(ctx, folders)
		})
		if err != nil {
			return fmt.Errorf("creating folder watcher: %w", err)
		}
		w.SetLogger(logger)
		d.watcher = w
		w.Start(ctx)
		defer w.Stop()
	}

	d.Sweep(ctx)

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(d.schedule, cron.FuncJob(func() { d.Sweep(ctx) }))
	c.Start()
	logger.Info("daemon started", "schedule", d.opts.Schedule, "watch", d.opts.Watch,
		"next_sweep", d.schedule.Next(time.Now()))

	<-ctx.Done()
	<-c.Stop().Done()
	logger.Info("daemon stopped", "passes", d.Passes())
	return nil
}

// Sweep ingests every configured folder and refreshes the watch list
func (d *Daemon) Sweep(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)

	paths, err := ExpandPaths(d.opts.Paths)
	if err != nil {
		logger.Error("expanding paths", "err", err)
		return
	}
	if d.watcher != nil {
		for _, p := range paths {
			if err := d.watcher.AddFolder(p); err != nil {
				logger.Warn("cannot watch folder", "path", p, "err", err)
			}
		}
	}
	logger.Info("sweeping run folders", "folders", len(paths))
	d.runPass(ctx, paths)
}

func (d *Daemon) runPass(ctx context.Context, paths []string) {
	if len(paths) == 0 || ctx.Err() != nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.passes++
	if err := d.ingest(ctx, paths); err != nil {
		ctxlog.FromContext(ctx).Warn("ingest pass finished with errors", "err", err)
	}
}

// Passes returns the number of ingest passes started so far
func (d *Daemon) Passes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.passes
}
