package parser

import (
	"fmt"
	"time"

	"github.com/hochfrequenz/flowcell-ingest/internal/domain"
)

// readElements matches both the current and the pre-2013 read element names
const readElements = "//*[local-name()='Read' or local-name()='RunInfoRead']"

// dateLayouts are tried in order; the first successful parse wins
var dateLayouts = []string{
	"060102",
	"1/2/2006 3:04:05 PM",
	"2006-01-02T15:04:05Z",
}

// ParseDate converts any of the instrument date formats to YYYY-MM-DD
func ParseDate(s string) (string, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(time.DateOnly), nil
		}
	}
	return "", fmt.Errorf("%w: could not parse date from %q", domain.ErrMalformedMetadata, s)
}

// ParseRunInfo extracts the observed run facts from a RunInfo.xml document
func ParseRunInfo(doc *Document) (*domain.RunInfo, error) {
	reads, err := numberedReads(doc)
	if err != nil {
		return nil, err
	}

	runID, err := doc.requireAttr("//Run", "Id")
	if err != nil {
		return nil, err
	}
	runNumber, err := doc.requireAttrInt("//Run", "Number")
	if err != nil {
		return nil, err
	}
	flowcell, err := doc.requireText("//Flowcell")
	if err != nil {
		return nil, err
	}
	instrument, err := doc.requireText("//Instrument")
	if err != nil {
		return nil, err
	}
	laneCount, err := doc.requireAttrInt("//FlowcellLayout", "LaneCount")
	if err != nil {
		return nil, err
	}
	rawDate, err := doc.requireText("//Date")
	if err != nil {
		return nil, err
	}
	date, err := ParseDate(rawDate)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", doc.Name(), err)
	}

	return &domain.RunInfo{
		RunID:      runID,
		RunNumber:  runNumber,
		Flowcell:   flowcell,
		Instrument: instrument,
		Date:       date,
		LaneCount:  laneCount,
		Reads:      reads,
	}, nil
}

// numberedReads reads Read/RunInfoRead elements carrying their own Number attribute.
// Reads with zero cycles are dropped.
func numberedReads(doc *Document) ([]domain.ReadDescription, error) {
	var reads []domain.ReadDescription
	for _, n := range doc.all(readElements) {
		path := "//" + n.Data
		numCycles, err := doc.attrInt(n, path, "NumCycles")
		if err != nil {
			return nil, err
		}
		number, err := doc.attrInt(n, path, "Number")
		if err != nil {
			return nil, err
		}
		indexed, ok := attr(n, "IsIndexedRead")
		if !ok {
			return nil, doc.missing(path + "/@IsIndexedRead")
		}
		if numCycles <= 0 {
			continue
		}
		reads = append(reads, domain.ReadDescription{
			Number:    number,
			NumCycles: numCycles,
			IsIndex:   indexed == "Y",
		})
	}
	return reads, nil
}
