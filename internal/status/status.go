// Package status derives the sequencing status of a run from local evidence.
package status

import "github.com/hochfrequenz/flowcell-ingest/internal/domain"

// Resolve computes the sequencing status of a run.
//
// prior is the status currently known to the registry (empty means initial);
// complete reports whether the completion marker exists in the run folder.
// Complete and closed are sticky. A run whose observed reads deviate from a
// non-empty plan is failed, even when the instrument marked it complete.
func Resolve(prior domain.SequencingStatus, info *domain.RunInfo, params *domain.RunParameters, complete bool) domain.SequencingStatus {
	if prior == "" {
		prior = domain.StatusInitial
	}
	switch {
	case prior.IsTerminal():
		return prior
	case len(params.PlannedReads) > 0 && !domain.ReadsEqual(info.Reads, params.PlannedReads):
		return domain.StatusFailed
	case complete:
		return domain.StatusComplete
	default:
		return domain.StatusInProgress
	}
}
