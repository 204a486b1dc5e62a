package registry

import (
	"context"
	"fmt"
	gosync "sync"

	"github.com/google/uuid"

	"github.com/hochfrequenz/flowcell-ingest/internal/domain"
)

// Memory is an in-process registry used for dry runs and tests
type Memory struct {
	project    string
	mu         gosync.Mutex
	flowcells  map[string]domain.FlowCell
	histograms []domain.LaneIndexHistogram
}

// NewMemory creates an empty in-memory registry for project
func NewMemory(project string) *Memory {
	return &Memory{
		project:   project,
		flowcells: make(map[string]domain.FlowCell),
	}
}

// Put stores fc as-is, assigning a UUID if it has none
func (m *Memory) Put(fc domain.FlowCell) domain.FlowCell {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fc.SodarUUID == "" {
		fc.SodarUUID = uuid.NewString()
	}
	m.flowcells[fc.SodarUUID] = fc
	return fc
}

// Resolve implements the registry lookup
func (m *Memory) Resolve(ctx context.Context, key domain.FlowCellKey) (*domain.FlowCell, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, fc := range m.flowcells {
		if fc.Key(m.project) == key {
			found := fc
			return &found, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrRegistryNotFound, key)
}

// Create implements the registry create operation
func (m *Memory) Create(ctx context.Context, fc *domain.FlowCell) (*domain.FlowCell, error) {
	created := m.Put(*fc)
	return &created, nil
}

// Update applies patch to the stored flow cell
func (m *Memory) Update(ctx context.Context, id string, patch domain.FlowCellPatch) (*domain.FlowCell, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fc, ok := m.flowcells[id]
	if !ok {
		return nil, fmt.Errorf("%w: flow cell %s", domain.ErrRegistryNotFound, id)
	}
	updated := fc.Apply(patch)
	m.flowcells[id] = updated
	return &updated, nil
}

// PushHistogram records hist
func (m *Memory) PushHistogram(ctx context.Context, hist domain.LaneIndexHistogram) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.flowcells[hist.Flowcell]; !ok {
		return fmt.Errorf("%w: flow cell %s", domain.ErrRegistryNotFound, hist.Flowcell)
	}
	m.histograms = append(m.histograms, hist)
	return nil
}

// FlowCells returns a snapshot of all stored flow cells
func (m *Memory) FlowCells() []domain.FlowCell {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.FlowCell, 0, len(m.flowcells))
	for _, fc := range m.flowcells {
		out = append(out, fc)
	}
	return out
}

// Histograms returns all pushed histograms in push order
func (m *Memory) Histograms() []domain.LaneIndexHistogram {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.LaneIndexHistogram(nil), m.histograms...)
}
