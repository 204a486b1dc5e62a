package domain

import (
	"errors"
	"fmt"
)

// Error kinds shared across the ingestion pipeline. Wrap them with fmt.Errorf
// and test with errors.Is.
var (
	ErrMissingManifest   = errors.New("run manifest missing")
	ErrLayoutUnknown     = errors.New("unknown folder layout")
	ErrMalformedMetadata = errors.New("malformed run metadata")
	ErrUnsupportedLayout = fmt.Errorf("%w: layout not supported", ErrMalformedMetadata)
	ErrRegistryNotFound  = errors.New("flow cell not found in registry")
	ErrRegistryTransport = errors.New("registry request failed")
	ErrCollaborator      = errors.New("adapter analysis failed")
)
