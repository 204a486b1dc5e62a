package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/flowcell-ingest/internal/adapters"
	"github.com/hochfrequenz/flowcell-ingest/internal/config"
	"github.com/hochfrequenz/flowcell-ingest/internal/ctxlog"
	"github.com/hochfrequenz/flowcell-ingest/internal/daemon"
	"github.com/hochfrequenz/flowcell-ingest/internal/domain"
	"github.com/hochfrequenz/flowcell-ingest/internal/ingest"
	"github.com/hochfrequenz/flowcell-ingest/internal/layout"
	"github.com/hochfrequenz/flowcell-ingest/internal/ledger"
	"github.com/hochfrequenz/flowcell-ingest/internal/notify"
	"github.com/hochfrequenz/flowcell-ingest/internal/parser"
	"github.com/hochfrequenz/flowcell-ingest/internal/registry"
	"github.com/hochfrequenz/flowcell-ingest/internal/status"
	"github.com/hochfrequenz/flowcell-ingest/internal/sync"
)

var (
	dryRun       bool
	threads      int
	projectUUID  string
	historyLimit int
	historyFail  bool
	historyPath  string
)

func init() {
	// ingest command
	ingestCmd := &cobra.Command{
		Use:   "ingest [PATH...]",
		Short: "Ingest run folders (defaults to ingest.path from the config)",
		RunE:  runIngest,
	}
	ingestCmd.Flags().BoolVar(&dryRun, "dry-run", false, "use an in-memory registry instead of the web API")
	ingestCmd.Flags().IntVar(&threads, "threads", 0, "number of folders processed in parallel")
	ingestCmd.Flags().StringVar(&projectUUID, "project-uuid", "", "registry project UUID")
	ingestCmd.Flags().Bool("register", true, "register unknown flow cells")
	ingestCmd.Flags().Bool("update", true, "update known flow cells")
	ingestCmd.Flags().Bool("analyze-adapters", false, "sample index reads")
	ingestCmd.Flags().Bool("post-adapters", false, "push index histograms to the registry")
	ingestCmd.Flags().Bool("skip-if-status-final", false, "leave flow cells with a final sequencing status alone")
	rootCmd.AddCommand(ingestCmd)

	// inspect command
	inspectCmd := &cobra.Command{
		Use:   "inspect PATH",
		Short: "Print the parsed metadata of a run folder without contacting the registry",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspect,
	}
	rootCmd.AddCommand(inspectCmd)

	// history command
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent ingestions from the local ledger",
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of entries")
	historyCmd.Flags().BoolVar(&historyFail, "failed", false, "only show failed ingestions")
	historyCmd.Flags().StringVar(&historyPath, "path", "", "only show ingestions of this folder")
	rootCmd.AddCommand(historyCmd)

	// daemon command
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Sweep configured folders on a schedule and ingest runs as they complete",
		RunE:  runDaemon,
	}
	daemonCmd.Flags().BoolVar(&dryRun, "dry-run", false, "use an in-memory registry instead of the web API")
	rootCmd.AddCommand(daemonCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.General.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.General.LogFormat = logFormat
	}
	return cfg, nil
}

// applyIngestFlags copies explicitly set flags over the config
func applyIngestFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("threads") {
		cfg.General.Threads = threads
	}
	if flags.Changed("project-uuid") {
		cfg.Ingest.ProjectUUID = projectUUID
	}
	bools := map[string]*bool{
		"register":             &cfg.Ingest.Register,
		"update":               &cfg.Ingest.Update,
		"analyze-adapters":     &cfg.Ingest.AnalyzeAdapters,
		"post-adapters":        &cfg.Ingest.PostAdapters,
		"skip-if-status-final": &cfg.Ingest.SkipIfStatusFinal,
	}
	for name, dst := range bools {
		if flags.Changed(name) {
			*dst, _ = flags.GetBool(name)
		}
	}
}

func signalContext(cfg *config.Config) (context.Context, context.CancelFunc, error) {
	logger, err := ctxlog.New(os.Stderr, cfg.General.LogFormat, cfg.General.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctxlog.WithLogger(ctx, logger), cancel, nil
}

func openLedger(cfg *config.Config) (*ledger.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.General.DatabasePath), 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}
	store, err := ledger.New(cfg.General.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	return store, nil
}

// newDriver wires the registry, ledger and notifiers described by cfg
func newDriver(ctx context.Context, cfg *config.Config, store ingest.Ledger, dry bool) *ingest.Driver {
	logger := ctxlog.FromContext(ctx)

	var reg ingest.Registry
	if dry {
		logger.Info("dry run, writing to an in-memory registry")
		reg = registry.NewMemory(cfg.Ingest.ProjectUUID)
	} else {
		logger.Debug("using registry", "url", cfg.Web.URL, "token", cfg.RedactedToken())
		reg = registry.NewClient(cfg.Web.URL, cfg.Ingest.ProjectUUID, cfg.Web.Token)
	}

	host, _ := os.Hostname()
	return ingest.New(reg, ingest.Config{
		Project:  cfg.Ingest.ProjectUUID,
		Operator: cfg.Ingest.Operator,
		Policy: sync.Policy{
			Register:    cfg.Ingest.Register,
			Update:      cfg.Ingest.Update,
			SkipIfFinal: cfg.Ingest.SkipIfStatusFinal,
		},
		Threads:         cfg.General.Threads,
		AnalyzeAdapters: cfg.Ingest.AnalyzeAdapters,
		PostAdapters:    cfg.Ingest.PostAdapters,
		Sampler:         adapters.NewBCLSampler(cfg.Adapters.SampleReadsPerTile, cfg.Adapters.MinIndexFraction),
		Ledger:          store,
		Notifier:        notify.NewMultiNotifier(notify.NewSlackNotifier(cfg.Notifications.SlackWebhook)),
		Host:            host,
	})
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyIngestFlags(cmd, cfg)
	if err := cfg.Validate(dryRun); err != nil {
		return err
	}

	paths := args
	if len(paths) == 0 {
		if paths, err = daemon.ExpandPaths(cfg.Ingest.Path); err != nil {
			return err
		}
	}
	if len(paths) == 0 {
		return fmt.Errorf("no run folders given and ingest.path is empty")
	}

	ctx, cancel, err := signalContext(cfg)
	if err != nil {
		return err
	}
	defer cancel()

	store, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	return newDriver(ctx, cfg, store, dryRun).Run(ctx, paths)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(dryRun); err != nil {
		return err
	}
	if err := cfg.ValidateDaemon(); err != nil {
		return err
	}
	debounce, _ := cfg.Daemon.DebounceDuration()

	ctx, cancel, err := signalContext(cfg)
	if err != nil {
		return err
	}
	defer cancel()

	store, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	driver := newDriver(ctx, cfg, store, dryRun)
	d, err := daemon.New(daemon.Options{
		Paths:    cfg.Ingest.Path,
		Schedule: cfg.Daemon.Schedule,
		Watch:    cfg.Daemon.Watch,
		Debounce: debounce,
	}, driver.Run)
	if err != nil {
		return err
	}
	return d.Run(ctx)
}

// inspectReport is the YAML document printed by inspect
type inspectReport struct {
	Path          string                  `yaml:"path"`
	Layout        domain.Layout           `yaml:"layout"`
	Complete      bool                    `yaml:"complete"`
	PlannedReads  string                  `yaml:"planned_reads"`
	CurrentReads  string                  `yaml:"current_reads"`
	Status        domain.SequencingStatus `yaml:"status_sequencing"`
	RunInfo       *domain.RunInfo         `yaml:"run_info"`
	RunParameters *domain.RunParameters   `yaml:"run_parameters"`
}

func inspectFolder(w io.Writer, dir string) error {
	if !layout.HasRunInfo(dir) {
		return fmt.Errorf("%w: %s", domain.ErrMissingManifest, filepath.Join(dir, layout.RunInfoFile))
	}
	l, err := layout.Detect(dir)
	if err != nil {
		return err
	}
	info, params, err := parser.ParseFolder(dir, l)
	if err != nil {
		return err
	}
	complete := layout.CompletionMarkerPresent(dir)

	report := inspectReport{
		Path:          dir,
		Layout:        l,
		Complete:      complete,
		PlannedReads:  domain.StringDescription(params.PlannedReads),
		CurrentReads:  domain.StringDescription(info.Reads),
		Status:        status.Resolve(domain.StatusInitial, info, params, complete),
		RunInfo:       info,
		RunParameters: params,
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		return err
	}
	return enc.Close()
}

func runInspect(cmd *cobra.Command, args []string) error {
	return inspectFolder(cmd.OutOrStdout(), args[0])
}

var (
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	createdStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

func outcomeStyle(e *ledger.Entry) lipgloss.Style {
	switch {
	case e.Failed():
		return failedStyle
	case e.Outcome == sync.OutcomeCreated.String() || e.Outcome == sync.OutcomeUpdated.String():
		return createdStyle
	default:
		return mutedStyle
	}
}

func renderHistory(w io.Writer, entries []*ledger.Entry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tLAYOUT\tFLOWCELL\tSTATUS\tDURATION\tPATH\tOUTCOME")
	for _, e := range entries {
		outcome := e.Outcome
		if e.Error != "" {
			outcome += ": " + e.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.StartedAt.Local().Format(time.DateTime),
			dash(e.Layout),
			dash(e.VendorID),
			dash(string(e.Status)),
			e.Duration().Round(time.Millisecond),
			e.Path,
			outcomeStyle(e).Render(outcome))
	}
	tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := ledger.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List(cmd.Context(), ledger.ListOptions{
		Path:       historyPath,
		FailedOnly: historyFail,
		Limit:      historyLimit,
	})
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No ingestions recorded")
		return nil
	}
	renderHistory(cmd.OutOrStdout(), entries)
	return nil
}
