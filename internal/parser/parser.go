// Package parser turns the XML metadata of a run folder into normalized run records.
package parser

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hochfrequenz/flowcell-ingest/internal/domain"
	"github.com/hochfrequenz/flowcell-ingest/internal/layout"
)

// Parse extracts RunInfo from info and RunParameters from params using the strategy for l
func Parse(l domain.Layout, info, params *Document) (*domain.RunInfo, *domain.RunParameters, error) {
	runInfo, err := ParseRunInfo(info)
	if err != nil {
		return nil, nil, err
	}
	runParams, err := ParseRunParameters(l, params)
	if err != nil {
		return nil, nil, err
	}
	return runInfo, runParams, nil
}

// ParseFolder reads RunInfo.xml and the layout's parameters file from dir and parses both
func ParseFolder(dir string, l domain.Layout) (*domain.RunInfo, *domain.RunParameters, error) {
	if _, ok := strategies[l]; !ok {
		return nil, nil, &unsupportedError{layout: l}
	}

	infoPath := filepath.Join(dir, layout.RunInfoFile)
	info, err := ReadDocumentFile(infoPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%w: %s", domain.ErrMissingManifest, infoPath)
		}
		return nil, nil, fmt.Errorf("reading %s: %w", infoPath, err)
	}

	paramsPath := filepath.Join(dir, layout.ParametersFile(l))
	params, err := ReadDocumentFile(paramsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%w: %s missing", domain.ErrMalformedMetadata, paramsPath)
		}
		return nil, nil, fmt.Errorf("reading %s: %w", paramsPath, err)
	}

	return Parse(l, info, params)
}
