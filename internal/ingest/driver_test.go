package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/flowcell-ingest/internal/adapters"
	"github.com/hochfrequenz/flowcell-ingest/internal/ctxlog"
	"github.com/hochfrequenz/flowcell-ingest/internal/domain"
	"github.com/hochfrequenz/flowcell-ingest/internal/ledger"
	"github.com/hochfrequenz/flowcell-ingest/internal/notify"
	"github.com/hochfrequenz/flowcell-ingest/internal/registry"
	"github.com/hochfrequenz/flowcell-ingest/internal/sync"
)

const project = "3f1d9a52-6f4e-4b8e-9d0a-2f6e0c1b7a11"

const runInfoTemplate = `<?xml version="1.0"?>
<RunInfo Version="5">
  <Run Id="190103_MN00123_0%[1]d_A000H2KLMN" Number="%[1]d">
    <Flowcell>000H2KLM%[1]d</Flowcell>
    <Instrument>MN00123</Instrument>
    <Date>190103</Date>
    <Reads>
%[2]s
    </Reads>
    <FlowcellLayout LaneCount="1" SurfaceCount="2" SwathCount="3" TileCount="10" />
  </Run>
</RunInfo>`

const miniSeqParams = `<?xml version="1.0"?>
<RunParameters>
  <RunNumber>%d</RunNumber>
  <RTAVersion>2.4.6</RTAVersion>
  <Side>A</Side>
  <ExperimentName>MiniSeq run</ExperimentName>
  <PlannedRead1Cycles>151</PlannedRead1Cycles>
  <PlannedIndex1ReadCycles>8</PlannedIndex1ReadCycles>
  <PlannedIndex2ReadCycles>0</PlannedIndex2ReadCycles>
  <PlannedRead2Cycles>151</PlannedRead2Cycles>
</RunParameters>`

const plannedReadsXML = `      <Read Number="1" NumCycles="151" IsIndexedRead="N" />
      <Read Number="2" NumCycles="8" IsIndexedRead="Y" />
      <Read Number="3" NumCycles="151" IsIndexedRead="N" />`

const extraIndexReadsXML = `      <Read Number="1" NumCycles="151" IsIndexedRead="N" />
      <Read Number="2" NumCycles="8" IsIndexedRead="Y" />
      <Read Number="3" NumCycles="8" IsIndexedRead="Y" />
      <Read Number="4" NumCycles="151" IsIndexedRead="N" />`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// miniSeqFolder creates a MiniSeq run folder for run number n
func miniSeqFolder(t *testing.T, n int, reads string, complete bool) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), fmt.Sprintf("run%d", n))
	writeFile(t, filepath.Join(dir, "RunInfo.xml"), fmt.Sprintf(runInfoTemplate, n, reads))
	writeFile(t, filepath.Join(dir, "RunParameters.xml"), fmt.Sprintf(miniSeqParams, n))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "Data", "Intensities", "BaseCalls", "L001"), 0o755))
	if complete {
		writeFile(t, filepath.Join(dir, "RTAComplete.txt"), "")
	}
	return dir
}

type fakeSampler struct {
	calls       []domain.IndexRead
	err         error
	unsupported bool
}

func (f *fakeSampler) Supports(l domain.Layout) bool {
	return !f.unsupported
}

func (f *fakeSampler) Sample(ctx context.Context, dir string, l domain.Layout, info *domain.RunInfo, read domain.IndexRead) ([]adapters.LaneHistogram, error) {
	f.calls = append(f.calls, read)
	if f.err != nil {
		return nil, f.err
	}
	return []adapters.LaneHistogram{
		{Lane: 1, SampleSize: 100, Histogram: map[string]int{"ACGTACGT": 90}},
	}, nil
}

type recordingNotifier struct {
	sent []notify.Notification
}

func (r *recordingNotifier) Send(ctx context.Context, n notify.Notification) error {
	r.sent = append(r.sent, n)
	return nil
}

func baseConfig() Config {
	return Config{
		Project: project,
		Policy:  sync.Policy{Register: true, Update: true},
		Threads: 2,
	}
}

func TestDriver_RegistersCompleteMiniSeqRun(t *testing.T) {
	reg := registry.NewMemory(project)
	d := New(reg, baseConfig())

	res := d.ProcessFolder(context.Background(), miniSeqFolder(t, 7, plannedReadsXML, true))
	require.NoError(t, res.Err)
	assert.Equal(t, domain.LayoutMiniSeq, res.Layout)
	assert.Equal(t, sync.OutcomeCreated, res.Outcome)
	assert.Equal(t, domain.StatusComplete, res.FlowCell.StatusSequencing)
	assert.Equal(t, "151T8B151T", res.FlowCell.PlannedReads)
	assert.Equal(t, "151T8B151T", res.FlowCell.CurrentReads)
	assert.Equal(t, "2019-01-03", res.FlowCell.RunDate)
}

func TestDriver_ExtraIndexReadFails(t *testing.T) {
	for _, complete := range []bool{true, false} {
		reg := registry.NewMemory(project)
		d := New(reg, baseConfig())

		res := d.ProcessFolder(context.Background(), miniSeqFolder(t, 7, extraIndexReadsXML, complete))
		require.NoError(t, res.Err)
		assert.Equal(t, domain.StatusFailed, res.FlowCell.StatusSequencing, "complete=%v", complete)
	}
}

func TestDriver_MissingManifest(t *testing.T) {
	d := New(registry.NewMemory(project), baseConfig())

	res := d.ProcessFolder(context.Background(), t.TempDir())
	assert.True(t, errors.Is(res.Err, domain.ErrMissingManifest))
}

func TestDriver_UnknownLayout(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "RunInfo.xml"), fmt.Sprintf(runInfoTemplate, 1, plannedReadsXML))
	d := New(registry.NewMemory(project), baseConfig())

	res := d.ProcessFolder(context.Background(), dir)
	assert.True(t, errors.Is(res.Err, domain.ErrLayoutUnknown))
}

func TestDriver_RunIsolatesFailures(t *testing.T) {
	reg := registry.NewMemory(project)
	store, err := ledger.New(":memory:")
	require.NoError(t, err)
	defer store.Close()
	notifier := &recordingNotifier{}

	cfg := baseConfig()
	cfg.Ledger = store
	cfg.Notifier = notifier
	d := New(reg, cfg)

	broken := t.TempDir()
	paths := []string{
		miniSeqFolder(t, 1, plannedReadsXML, true),
		broken,
		miniSeqFolder(t, 2, plannedReadsXML, false),
	}
	err = d.Run(context.Background(), paths)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFoldersFailed))

	assert.Len(t, reg.FlowCells(), 2)

	entries, err := store.List(context.Background(), ledger.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	failed, err := store.List(context.Background(), ledger.ListOptions{FailedOnly: true})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, broken, failed[0].Path)
	assert.Contains(t, failed[0].Error, "RunInfo.xml")

	require.Len(t, notifier.sent, 1)
	assert.True(t, strings.Contains(notifier.sent[0].Message, broken))
}

func TestDriver_RunAllSucceed(t *testing.T) {
	notifier := &recordingNotifier{}
	cfg := baseConfig()
	cfg.Notifier = notifier
	d := New(registry.NewMemory(project), cfg)

	err := d.Run(context.Background(), []string{
		miniSeqFolder(t, 1, plannedReadsXML, true),
		miniSeqFolder(t, 2, plannedReadsXML, true),
	})
	require.NoError(t, err)
	assert.Empty(t, notifier.sent)
}

func TestDriver_ProcessAllKeepsOrder(t *testing.T) {
	d := New(registry.NewMemory(project), baseConfig())
	var paths []string
	for i := 1; i <= 5; i++ {
		paths = append(paths, miniSeqFolder(t, i, plannedReadsXML, true))
	}

	results := d.ProcessAll(context.Background(), paths)
	require.Len(t, results, 5)
	for i, r := range results {
		assert.Equal(t, paths[i], r.Path)
		require.NoError(t, r.Err)
		assert.Equal(t, i+1, r.Info.RunNumber)
	}
}

func TestDriver_AdaptersPushedPerLane(t *testing.T) {
	reg := registry.NewMemory(project)
	sampler := &fakeSampler{}
	cfg := baseConfig()
	cfg.Threads = 1
	cfg.AnalyzeAdapters = true
	cfg.PostAdapters = true
	cfg.Sampler = sampler
	d := New(reg, cfg)

	res := d.ProcessFolder(context.Background(), miniSeqFolder(t, 7, plannedReadsXML, true))
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Histograms)

	require.Len(t, sampler.calls, 1)
	assert.Equal(t, 1, sampler.calls[0].Ordinal)
	assert.Equal(t, 152, sampler.calls[0].StartCycle)

	hists := reg.Histograms()
	require.Len(t, hists, 1)
	assert.Equal(t, res.FlowCell.SodarUUID, hists[0].Flowcell)
	assert.Equal(t, 1, hists[0].Lane)
	assert.Equal(t, 1, hists[0].IndexReadNo)
	assert.Equal(t, 100, hists[0].SampleSize)
}

func TestDriver_AdaptersNotPosted(t *testing.T) {
	reg := registry.NewMemory(project)
	sampler := &fakeSampler{}
	cfg := baseConfig()
	cfg.AnalyzeAdapters = true
	cfg.Sampler = sampler
	d := New(reg, cfg)

	res := d.ProcessFolder(context.Background(), miniSeqFolder(t, 7, extraIndexReadsXML, true))
	require.NoError(t, res.Err)
	assert.Len(t, sampler.calls, 2)
	assert.Equal(t, 160, sampler.calls[1].StartCycle)
	assert.Empty(t, reg.Histograms())
}

func TestDriver_AdaptersSkippedWhenNotRegistered(t *testing.T) {
	sampler := &fakeSampler{}
	cfg := baseConfig()
	cfg.Policy = sync.Policy{}
	cfg.AnalyzeAdapters = true
	cfg.Sampler = sampler
	d := New(registry.NewMemory(project), cfg)

	res := d.ProcessFolder(context.Background(), miniSeqFolder(t, 7, plannedReadsXML, true))
	require.NoError(t, res.Err)
	assert.Equal(t, sync.OutcomeNotRegistered, res.Outcome)
	assert.Empty(t, sampler.calls)
}

func TestDriver_SamplerErrorFailsFolder(t *testing.T) {
	reg := registry.NewMemory(project)
	cfg := baseConfig()
	cfg.AnalyzeAdapters = true
	cfg.Sampler = &fakeSampler{err: fmt.Errorf("%w: no base calls", domain.ErrCollaborator)}
	d := New(reg, cfg)

	res := d.ProcessFolder(context.Background(), miniSeqFolder(t, 7, plannedReadsXML, true))
	assert.True(t, errors.Is(res.Err, domain.ErrCollaborator))
	// the registry write that preceded the adapter step is kept
	assert.Len(t, reg.FlowCells(), 1)
}

func TestDriver_AdaptersSkippedForUndecodableLayout(t *testing.T) {
	var buf bytes.Buffer
	logger, err := ctxlog.New(&buf, "text", "info")
	require.NoError(t, err)
	ctx := ctxlog.WithLogger(context.Background(), logger)

	reg := registry.NewMemory(project)
	sampler := &fakeSampler{unsupported: true}
	cfg := baseConfig()
	cfg.AnalyzeAdapters = true
	cfg.PostAdapters = true
	cfg.Sampler = sampler
	d := New(reg, cfg)

	for _, run := range []int{7, 8} {
		res := d.ProcessFolder(ctx, miniSeqFolder(t, run, plannedReadsXML, true))
		require.NoError(t, res.Err)
		assert.Equal(t, sync.OutcomeCreated, res.Outcome)
	}
	assert.Empty(t, sampler.calls)
	assert.Empty(t, reg.Histograms())
	assert.Len(t, reg.FlowCells(), 2)
	assert.Equal(t, 1, strings.Count(buf.String(), "adapter analysis is not available"))
}
