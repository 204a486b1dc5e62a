package domain

import (
	"strconv"
	"strings"
)

// ReadDescription describes one planned or observed read of a run
type ReadDescription struct {
	Number    int  `yaml:"number" json:"number"`
	NumCycles int  `yaml:"num_cycles" json:"num_cycles"`
	IsIndex   bool `yaml:"is_index" json:"is_index"`
}

// Code returns the per-read token used in read description strings, e.g. "151T" or "8B"
func (r ReadDescription) Code() string {
	if r.IsIndex {
		return strconv.Itoa(r.NumCycles) + "B"
	}
	return strconv.Itoa(r.NumCycles) + "T"
}

// StringDescription renders reads in order, e.g. "151T8B8B151T"
func StringDescription(reads []ReadDescription) string {
	var b strings.Builder
	for _, r := range reads {
		b.WriteString(r.Code())
	}
	return b.String()
}

// ReadsEqual compares two read sequences by order, cycle count and index flag.
// Read numbers are ignored: planned reads are renumbered after dropping empty ones.
func ReadsEqual(a, b []ReadDescription) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].NumCycles != b[i].NumCycles || a[i].IsIndex != b[i].IsIndex {
			return false
		}
	}
	return true
}

// RunInfo holds what the instrument reports about a run in RunInfo.xml
type RunInfo struct {
	RunID      string            `yaml:"run_id"`
	RunNumber  int               `yaml:"run_number"`
	Flowcell   string            `yaml:"flowcell"`
	Instrument string            `yaml:"instrument"`
	Date       string            `yaml:"date"`
	LaneCount  int               `yaml:"lane_count"`
	Reads      []ReadDescription `yaml:"reads"`
}

// IndexReads returns the index reads along with the 1-based first cycle of each
func (ri *RunInfo) IndexReads() []IndexRead {
	var out []IndexRead
	cycle := 1
	ordinal := 0
	for _, r := range ri.Reads {
		if r.IsIndex {
			ordinal++
			out = append(out, IndexRead{Read: r, Ordinal: ordinal, StartCycle: cycle})
		}
		cycle += r.NumCycles
	}
	return out
}

// IndexRead is an index read located within the cycle sequence of a run
type IndexRead struct {
	Read       ReadDescription
	Ordinal    int
	StartCycle int
}

// RunParameters holds the planned configuration of a run
type RunParameters struct {
	PlannedReads   []ReadDescription `yaml:"planned_reads"`
	RTAVersion     string            `yaml:"rta_version"`
	RunNumber      int               `yaml:"run_number"`
	FlowcellSlot   string            `yaml:"flowcell_slot"`
	ExperimentName string            `yaml:"experiment_name"`
}

// RTAMajor returns the leading major version number, or 1 when none can be read
func (rp *RunParameters) RTAMajor() int {
	digits := rp.RTAVersion
	for i, c := range digits {
		if c < '0' || c > '9' {
			digits = digits[:i]
			break
		}
	}
	major, err := strconv.Atoi(digits)
	if err != nil || major == 0 {
		return 1
	}
	return major
}
