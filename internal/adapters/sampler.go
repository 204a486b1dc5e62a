// Package adapters samples index read sequences from base call files and
// builds per-lane index histograms.
package adapters

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hochfrequenz/flowcell-ingest/internal/ctxlog"
	"github.com/hochfrequenz/flowcell-ingest/internal/domain"
	"github.com/hochfrequenz/flowcell-ingest/internal/layout"
)

const (
	DefaultSampleReadsPerTile = 5000
	DefaultMinIndexFraction   = 0.001
)

// LaneHistogram is the index histogram of one lane
type LaneHistogram struct {
	Lane       int
	SampleSize int
	Histogram  map[string]int
}

// Sampler computes one histogram per lane for an index read of a run folder
type Sampler interface {
	// Supports reports whether base calls of layout l can be decoded
	Supports(l domain.Layout) bool
	Sample(ctx context.Context, dir string, l domain.Layout, info *domain.RunInfo, read domain.IndexRead) ([]LaneHistogram, error)
}

// BCLSampler reads plain BCL files. CBCL based layouts are not supported.
type BCLSampler struct {
	SampleReadsPerTile int
	MinIndexFraction   float64
}

// NewBCLSampler creates a sampler, falling back to defaults for non-positive settings
func NewBCLSampler(sampleReadsPerTile int, minIndexFraction float64) *BCLSampler {
	if sampleReadsPerTile <= 0 {
		sampleReadsPerTile = DefaultSampleReadsPerTile
	}
	if minIndexFraction < 0 {
		minIndexFraction = DefaultMinIndexFraction
	}
	return &BCLSampler{
		SampleReadsPerTile: sampleReadsPerTile,
		MinIndexFraction:   minIndexFraction,
	}
}

type laneSampler func(ctx context.Context, laneDir string, read domain.IndexRead) ([]string, error)

func (s *BCLSampler) decoder(l domain.Layout) laneSampler {
	switch l {
	case domain.LayoutMiSeq, domain.LayoutMiSeqLegacy, domain.LayoutHiSeqX:
		return s.sampleTiles
	case domain.LayoutMiniSeq:
		return s.sampleLaneFiles
	}
	return nil
}

// Supports implements Sampler
func (s *BCLSampler) Supports(l domain.Layout) bool {
	return s.decoder(l) != nil
}

// Sample implements Sampler
func (s *BCLSampler) Sample(ctx context.Context, dir string, l domain.Layout, info *domain.RunInfo, read domain.IndexRead) ([]LaneHistogram, error) {
	sampleLane := s.decoder(l)
	if sampleLane == nil {
		return nil, fmt.Errorf("%w: no base call decoder for %s", domain.ErrCollaborator, l)
	}

	logger := ctxlog.FromContext(ctx)
	baseCalls := layout.BaseCallsDir(dir)
	out := make([]LaneHistogram, 0, info.LaneCount)
	for lane := 1; lane <= info.LaneCount; lane++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		laneDir := filepath.Join(baseCalls, fmt.Sprintf("L%03d", lane))
		seqs, err := sampleLane(ctx, laneDir, read)
		if err != nil {
			return nil, fmt.Errorf("%w: lane %d: %w", domain.ErrCollaborator, lane, err)
		}
		hist := Histogram(seqs, s.MinIndexFraction)
		logger.Debug("sampled index read", "lane", lane, "index_read_no", read.Ordinal,
			"sample_size", len(seqs), "distinct", len(hist))
		out = append(out, LaneHistogram{Lane: lane, SampleSize: len(seqs), Histogram: hist})
	}
	return out, nil
}

// sampleTiles reads per-cycle directories C<cycle>.1 holding one BCL file per tile
func (s *BCLSampler) sampleTiles(ctx context.Context, laneDir string, read domain.IndexRead) ([]string, error) {
	firstCycle := filepath.Join(laneDir, fmt.Sprintf("C%d.1", read.StartCycle))
	tiles, err := tileFiles(firstCycle)
	if err != nil {
		return nil, err
	}

	var seqs []string
	for _, tile := range tiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		columns := make([][]byte, 0, read.Read.NumCycles)
		for c := 0; c < read.Read.NumCycles; c++ {
			path := filepath.Join(laneDir, fmt.Sprintf("C%d.1", read.StartCycle+c), tile)
			calls, err := readBCLFile(path, s.SampleReadsPerTile)
			if err != nil {
				return nil, err
			}
			columns = append(columns, calls)
		}
		seqs = append(seqs, transpose(columns)...)
	}
	return seqs, nil
}

// sampleLaneFiles reads one NNNN.bcl.bgzf file per cycle covering the whole lane
func (s *BCLSampler) sampleLaneFiles(ctx context.Context, laneDir string, read domain.IndexRead) ([]string, error) {
	columns := make([][]byte, 0, read.Read.NumCycles)
	for c := 0; c < read.Read.NumCycles; c++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(laneDir, fmt.Sprintf("%04d.bcl.bgzf", read.StartCycle+c))
		calls, err := readBCLFile(path, s.SampleReadsPerTile)
		if err != nil {
			return nil, err
		}
		columns = append(columns, calls)
	}
	return transpose(columns), nil
}

func tileFiles(cycleDir string) ([]string, error) {
	entries, err := os.ReadDir(cycleDir)
	if err != nil {
		return nil, err
	}
	var tiles []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, ".bcl") || strings.HasSuffix(name, ".bcl.gz")) {
			continue
		}
		tiles = append(tiles, name)
	}
	if len(tiles) == 0 {
		return nil, fmt.Errorf("no BCL files in %s", cycleDir)
	}
	sort.Strings(tiles)
	return tiles, nil
}

// transpose turns per-cycle base call columns into per-cluster sequences.
// Clusters missing from any cycle are dropped.
func transpose(columns [][]byte) []string {
	if len(columns) == 0 {
		return nil
	}
	n := len(columns[0])
	for _, col := range columns[1:] {
		n = min(n, len(col))
	}
	seqs := make([]string, n)
	buf := make([]byte, len(columns))
	for i := 0; i < n; i++ {
		for c, col := range columns {
			buf[c] = col[i]
		}
		seqs[i] = string(buf)
	}
	return seqs
}

// Histogram counts seqs, dropping sequences seen in less than minFraction of the sample
func Histogram(seqs []string, minFraction float64) map[string]int {
	counts := make(map[string]int)
	for _, s := range seqs {
		counts[s]++
	}
	threshold := minFraction * float64(len(seqs))
	for seq, n := range counts {
		if float64(n) < threshold {
			delete(counts, seq)
		}
	}
	return counts
}
