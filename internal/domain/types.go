package domain

import "fmt"

// SequencingStatus represents the lifecycle state of a sequencing run
type SequencingStatus string

const (
	StatusInitial    SequencingStatus = "initial"
	StatusInProgress SequencingStatus = "in_progress"
	StatusComplete   SequencingStatus = "complete"
	StatusFailed     SequencingStatus = "failed"
	StatusClosed     SequencingStatus = "closed"
)

// IsTerminal returns true for statuses that are never recomputed
func (s SequencingStatus) IsTerminal() bool {
	return s == StatusComplete || s == StatusClosed
}

// IsFinal returns true once the registry no longer expects sequencing progress.
// Failed runs count as final here, unlike IsTerminal.
func (s SequencingStatus) IsFinal() bool {
	return s != "" && s != StatusInitial && s != StatusInProgress
}

// Layout identifies the vendor output-directory convention of a run folder
type Layout int

const (
	LayoutMiSeqLegacy Layout = iota + 1
	LayoutMiniSeq
	LayoutHiSeqX
	LayoutNovaSeq
	LayoutMiSeq
	LayoutNovaSeqXplus
	LayoutNextSeq2000
)

var layoutNames = map[Layout]string{
	LayoutMiSeqLegacy:  "MiSeqLegacy",
	LayoutMiniSeq:      "MiniSeq",
	LayoutHiSeqX:       "HiSeqX",
	LayoutNovaSeq:      "NovaSeq",
	LayoutMiSeq:        "MiSeq",
	LayoutNovaSeqXplus: "NovaSeqXplus",
	LayoutNextSeq2000:  "NextSeq2000",
}

// AllLayouts lists every known layout in declaration order
func AllLayouts() []Layout {
	return []Layout{
		LayoutMiSeqLegacy,
		LayoutMiniSeq,
		LayoutHiSeqX,
		LayoutNovaSeq,
		LayoutMiSeq,
		LayoutNovaSeqXplus,
		LayoutNextSeq2000,
	}
}

func (l Layout) String() string {
	if name, ok := layoutNames[l]; ok {
		return name
	}
	return fmt.Sprintf("Layout(%d)", int(l))
}

// MarshalText lets layouts appear by name in YAML and JSON output
func (l Layout) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}
