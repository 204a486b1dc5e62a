// Package sync reconciles normalized run metadata with the flow cell registry.
package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/hochfrequenz/flowcell-ingest/internal/ctxlog"
	"github.com/hochfrequenz/flowcell-ingest/internal/domain"
	"github.com/hochfrequenz/flowcell-ingest/internal/status"
)

// Registry is the subset of the registry API needed for reconciliation
type Registry interface {
	Resolve(ctx context.Context, key domain.FlowCellKey) (*domain.FlowCell, error)
	Create(ctx context.Context, fc *domain.FlowCell) (*domain.FlowCell, error)
	Update(ctx context.Context, uuid string, patch domain.FlowCellPatch) (*domain.FlowCell, error)
}

// Policy controls which registry writes are permitted
type Policy struct {
	Register bool
	Update   bool
	// SkipIfFinal leaves records alone once their sequencing status is
	// complete, closed or failed. Failed counts as final here.
	SkipIfFinal bool
}

// Outcome describes what Sync did with a flow cell
type Outcome int

const (
	OutcomeCreated Outcome = iota + 1
	OutcomeUpdated
	OutcomeUnchanged
	OutcomeNotRegistered
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeNotRegistered:
		return "not_registered"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Proceed reports whether processing of the folder continues after this outcome
func (o Outcome) Proceed() bool {
	return o == OutcomeCreated || o == OutcomeUpdated || o == OutcomeUnchanged
}

// Record is the normalized view of one run folder
type Record struct {
	Info     *domain.RunInfo
	Params   *domain.RunParameters
	Complete bool
}

// Result is returned by Sync. FlowCell is nil for OutcomeNotRegistered.
type Result struct {
	Outcome  Outcome
	FlowCell *domain.FlowCell
}

// Syncer creates or updates flow cells in the registry
type Syncer struct {
	registry Registry
	project  string
	operator string
	policy   Policy
}

// New creates a Syncer for the given project
func New(registry Registry, project, operator string, policy Policy) *Syncer {
	return &Syncer{
		registry: registry,
		project:  project,
		operator: operator,
		policy:   policy,
	}
}

// Key returns the natural key of rec in the Syncer's project
func (s *Syncer) Key(rec Record) domain.FlowCellKey {
	return domain.FlowCellKey{
		Project:    s.project,
		Instrument: rec.Info.Instrument,
		RunNumber:  rec.Info.RunNumber,
		Flowcell:   rec.Info.Flowcell,
	}
}

// Sync looks up rec in the registry and registers or updates it according to the policy
func (s *Syncer) Sync(ctx context.Context, rec Record) (Result, error) {
	logger := ctxlog.FromContext(ctx)
	key := s.Key(rec)

	remote, err := s.registry.Resolve(ctx, key)
	if errors.Is(err, domain.ErrRegistryNotFound) {
		logger.Debug("flow cell not found in registry", "key", key.String())
		if !s.policy.Register {
			logger.Info("flow cell not found and registration disabled, stopping here for this folder", "key", key.String())
			return Result{Outcome: OutcomeNotRegistered}, nil
		}
		return s.register(ctx, rec)
	}
	if err != nil {
		return Result{}, fmt.Errorf("resolving flow cell %s: %w", key, err)
	}

	logger.Debug("flow cell found", "uuid", remote.SodarUUID, "status", remote.StatusSequencing)
	if s.policy.SkipIfFinal && remote.StatusSequencing.IsFinal() {
		logger.Info("flow cell has a final sequencing status, skipping", "status", remote.StatusSequencing)
		return Result{Outcome: OutcomeSkipped, FlowCell: remote}, nil
	}
	if !s.policy.Update {
		return Result{Outcome: OutcomeUnchanged, FlowCell: remote}, nil
	}
	return s.update(ctx, remote, rec)
}

func (s *Syncer) register(ctx context.Context, rec Record) (Result, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Info("registering flow cell", "flowcell", rec.Info.Flowcell)

	draft := BuildFlowCell(rec, domain.StatusInitial, s.operator)
	logger.Debug("registering flow cell with API", "flowcell", fmt.Sprintf("%+v", draft))

	created, err := s.registry.Create(ctx, &draft)
	if err != nil {
		return Result{}, fmt.Errorf("registering flow cell %s: %w", rec.Info.Flowcell, err)
	}
	logger.Info("registered flow cell", "uuid", created.SodarUUID, "status", created.StatusSequencing)
	return Result{Outcome: OutcomeCreated, FlowCell: created}, nil
}

func (s *Syncer) update(ctx context.Context, remote *domain.FlowCell, rec Record) (Result, error) {
	logger := ctxlog.FromContext(ctx)

	patch := BuildPatch(rec, remote.StatusSequencing)
	logger.Info("updating flow cell", "uuid", remote.SodarUUID,
		"from", remote.StatusSequencing, "to", patch.StatusSequencing)

	updated, err := s.registry.Update(ctx, remote.SodarUUID, patch)
	if err != nil {
		return Result{}, fmt.Errorf("updating flow cell %s: %w", remote.SodarUUID, err)
	}
	return Result{Outcome: OutcomeUpdated, FlowCell: updated}, nil
}

// BuildPatch derives the ingestion-owned fields of a flow cell from rec
func BuildPatch(rec Record, prior domain.SequencingStatus) domain.FlowCellPatch {
	return domain.FlowCellPatch{
		PlannedReads:     domain.StringDescription(rec.Params.PlannedReads),
		CurrentReads:     domain.StringDescription(rec.Info.Reads),
		StatusSequencing: status.Resolve(prior, rec.Info, rec.Params, rec.Complete),
	}
}

// BuildFlowCell builds a complete registry record for a run seen for the first time
func BuildFlowCell(rec Record, prior domain.SequencingStatus, operator string) domain.FlowCell {
	fc := domain.FlowCell{
		RunDate:           rec.Info.Date,
		RunNumber:         rec.Info.RunNumber,
		Slot:              rec.Params.FlowcellSlot,
		VendorID:          rec.Info.Flowcell,
		Label:             rec.Params.ExperimentName,
		NumLanes:          rec.Info.LaneCount,
		RTAVersion:        rec.Params.RTAMajor(),
		SequencingMachine: rec.Info.Instrument,
		Operator:          operator,
		StatusConversion:  "initial",
		StatusDelivery:    "initial",
		DeliveryType:      "seq",
	}
	return fc.Apply(BuildPatch(rec, prior))
}
