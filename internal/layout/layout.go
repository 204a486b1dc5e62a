// Package layout classifies sequencer run folders by their on-disk markers.
package layout

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hochfrequenz/flowcell-ingest/internal/domain"
)

const (
	// RunInfoFile is the primary manifest present in every layout
	RunInfoFile = "RunInfo.xml"
	// CompletionMarker is written by the instrument software once a run has finished
	CompletionMarker = "RTAComplete.txt"
)

// marker is a set of paths relative to the run folder
type marker []string

func (m marker) all(dir string) bool {
	for _, p := range m {
		if !exists(filepath.Join(dir, p)) {
			return false
		}
	}
	return true
}

func (m marker) any(dir string) bool {
	for _, p := range m {
		if exists(filepath.Join(dir, p)) {
			return true
		}
	}
	return false
}

var (
	baseCalls = filepath.Join("Data", "Intensities", "BaseCalls")
	lane1     = filepath.Join(baseCalls, "L001")
	cycle1    = filepath.Join(lane1, "C1.1")

	novaSeqAll      = marker{"RunParameters.xml"}
	novaSeqAny      = marker{filepath.Join(cycle1, "L001_1.cbcl"), filepath.Join(cycle1, "L001_2.cbcl")}
	linuxHostMarker = marker{"InstrumentAnalyticsLogs"}
	rtaExitedMarker = marker{"RTAExited.txt"}
	miSeqLegacy     = marker{cycle1, "runParameters.xml"}
	miSeq           = marker{cycle1, "RunParameters.xml"}
	miniSeq         = marker{lane1, "RunParameters.xml"}
	hiSeqX          = marker{filepath.Join("Data", "Intensities", "s.locs"), "RunParameters.xml"}
)

// Detect returns the layout of the run folder at dir.
// Checks run most-specific first since several layouts share marker subsets.
func Detect(dir string) (domain.Layout, error) {
	switch {
	case novaSeqAll.all(dir) && novaSeqAny.any(dir):
		if linuxHostMarker.any(dir) {
			if rtaExitedMarker.any(dir) {
				return domain.LayoutNovaSeqXplus, nil
			}
			return domain.LayoutNextSeq2000, nil
		}
		return domain.LayoutNovaSeq, nil
	case miSeqLegacy.all(dir):
		return domain.LayoutMiSeqLegacy, nil
	case miSeq.all(dir):
		return domain.LayoutMiSeq, nil
	case miniSeq.all(dir):
		return domain.LayoutMiniSeq, nil
	case hiSeqX.all(dir):
		return domain.LayoutHiSeqX, nil
	}
	return 0, fmt.Errorf("%w: %s", domain.ErrLayoutUnknown, dir)
}

// ParametersFile returns the file name of the run parameters document for l
func ParametersFile(l domain.Layout) string {
	if l == domain.LayoutMiSeqLegacy {
		return "runParameters.xml"
	}
	return "RunParameters.xml"
}

// HasRunInfo reports whether the primary manifest exists in dir
func HasRunInfo(dir string) bool {
	return exists(filepath.Join(dir, RunInfoFile))
}

// CompletionMarkerPresent reports whether the instrument marked the run as finished
func CompletionMarkerPresent(dir string) bool {
	return exists(filepath.Join(dir, CompletionMarker))
}

// BaseCallsDir returns the base call directory of a run folder
func BaseCallsDir(dir string) string {
	return filepath.Join(dir, baseCalls)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
