package parser

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/hochfrequenz/flowcell-ingest/internal/domain"
)

// plannedField is a fixed element holding the cycle count of one planned read
type plannedField struct {
	expr    string
	isIndex bool
}

// paramsStrategy maps a layout's RunParameters document onto domain.RunParameters
type paramsStrategy struct {
	reads     func(doc *Document) ([]domain.ReadDescription, error)
	runNumber string
	slot      string
	version   func(doc *Document) (string, error)
}

var (
	miniSeqPlanned = []plannedField{
		{"//PlannedRead1Cycles", false},
		{"//PlannedIndex1ReadCycles", true},
		{"//PlannedIndex2ReadCycles", true},
		{"//PlannedRead2Cycles", false},
	}
	nextSeqPlanned = []plannedField{
		{"//Read1", false},
		{"//Index1", true},
		{"//Index2", true},
		{"//Read2", false},
	}

	miSeqStrategy = paramsStrategy{
		reads:     numberedReads,
		runNumber: "//ScanNumber",
		slot:      "//FCPosition",
		version:   sharedVersion,
	}
	miniSeqStrategy = paramsStrategy{
		reads:     fixedReads(miniSeqPlanned, false),
		runNumber: "//RunNumber",
		slot:      "//Side",
		version:   sharedVersion,
	}

	// strategies has one entry per layout that can be parsed; HiSeq X has none
	strategies = map[domain.Layout]paramsStrategy{
		domain.LayoutMiSeqLegacy: miSeqStrategy,
		domain.LayoutMiSeq:       miSeqStrategy,
		domain.LayoutMiniSeq:     miniSeqStrategy,
		domain.LayoutNovaSeq:     miniSeqStrategy,
		domain.LayoutNovaSeqXplus: {
			reads:     namedReads,
			runNumber: "//RunNumber",
			slot:      "//Side",
			version:   suiteVersion,
		},
		domain.LayoutNextSeq2000: {
			reads:     fixedReads(nextSeqPlanned, true),
			runNumber: "//RunCounter",
			slot:      "//Side",
			version:   nextSeqVersion,
		},
	}
)

// ParseRunParameters extracts the planned run configuration using the strategy for l
func ParseRunParameters(l domain.Layout, doc *Document) (*domain.RunParameters, error) {
	strategy, ok := strategies[l]
	if !ok {
		return nil, &unsupportedError{layout: l}
	}

	reads, err := strategy.reads(doc)
	if err != nil {
		return nil, err
	}
	version, err := strategy.version(doc)
	if err != nil {
		return nil, err
	}
	runNumber, err := doc.requireInt(strategy.runNumber)
	if err != nil {
		return nil, err
	}

	slot, _ := doc.text(strategy.slot)
	if slot == "" {
		slot = "A"
	}
	experiment, _ := doc.text("//ExperimentName")

	return &domain.RunParameters{
		PlannedReads:   reads,
		RTAVersion:     version,
		RunNumber:      runNumber,
		FlowcellSlot:   slot,
		ExperimentName: experiment,
	}, nil
}

type unsupportedError struct {
	layout domain.Layout
}

func (e *unsupportedError) Error() string {
	return domain.ErrUnsupportedLayout.Error() + ": " + e.layout.String()
}

func (e *unsupportedError) Unwrap() error {
	return domain.ErrUnsupportedLayout
}

// fixedReads builds reads from fixed cycle-count fields, numbering only non-zero ones.
// With required set, every field must be present, although it may hold zero.
func fixedReads(fields []plannedField, required bool) func(doc *Document) ([]domain.ReadDescription, error) {
	return func(doc *Document) ([]domain.ReadDescription, error) {
		var reads []domain.ReadDescription
		number := 1
		for _, f := range fields {
			s, ok := doc.text(f.expr)
			if !ok {
				if required {
					return nil, doc.missing(f.expr)
				}
				continue
			}
			if s == "" {
				continue
			}
			cycles, err := strconv.Atoi(s)
			if err != nil {
				return nil, doc.invalid(f.expr, s)
			}
			if cycles <= 0 {
				continue
			}
			reads = append(reads, domain.ReadDescription{Number: number, NumCycles: cycles, IsIndex: f.isIndex})
			number++
		}
		return reads, nil
	}
}

// namedReads handles NovaSeq X style <Read ReadName="Index1" Cycles="10"/> elements
func namedReads(doc *Document) ([]domain.ReadDescription, error) {
	var reads []domain.ReadDescription
	number := 1
	for _, n := range doc.all("//Read") {
		cycles, err := doc.attrInt(n, "//Read", "Cycles")
		if err != nil {
			return nil, err
		}
		name, ok := attr(n, "ReadName")
		if !ok {
			return nil, doc.missing("//Read/@ReadName")
		}
		if cycles <= 0 {
			continue
		}
		reads = append(reads, domain.ReadDescription{
			Number:    number,
			NumCycles: cycles,
			IsIndex:   strings.HasPrefix(name, "Index"),
		})
		number++
	}
	return reads, nil
}

// NormalizeVersion picks the RTA version from the two field spellings.
// The RtaVersion spelling carries a one-character prefix ("v3.4.5").
func NormalizeVersion(rtaVersion, rtaVersion3 string) string {
	if rtaVersion3 != "" {
		_, size := utf8.DecodeRuneInString(rtaVersion3)
		return rtaVersion3[size:]
	}
	return rtaVersion
}

// NormalizeNextSeqVersion applies the NextSeq 1000/2000 aliasing of RTA 4.x to "3".
// These instruments write RtaVersion without a prefix, so it is kept as is otherwise.
func NormalizeNextSeqVersion(rtaVersion, rtaVersion3 string) string {
	if rtaVersion3 != "" {
		if strings.HasPrefix(rtaVersion3, "4") {
			return "3"
		}
		return rtaVersion3
	}
	return rtaVersion
}

func sharedVersion(doc *Document) (string, error) {
	v, _ := doc.text("//RTAVersion")
	v3, _ := doc.text("//RtaVersion")
	return NormalizeVersion(v, v3), nil
}

func nextSeqVersion(doc *Document) (string, error) {
	v, _ := doc.text("//RTAVersion")
	v3, _ := doc.text("//RtaVersion")
	return NormalizeNextSeqVersion(v, v3), nil
}

func suiteVersion(doc *Document) (string, error) {
	v, err := doc.requireText("//SystemSuiteVersion")
	if err != nil {
		return "", err
	}
	return "3." + v, nil
}
