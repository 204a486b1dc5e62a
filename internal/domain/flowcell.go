package domain

import "fmt"

// FlowCellKey is the natural key of a flow cell in the registry
type FlowCellKey struct {
	Project    string
	Instrument string
	RunNumber  int
	Flowcell   string
}

func (k FlowCellKey) String() string {
	return fmt.Sprintf("%s/%s/%d/%s", k.Project, k.Instrument, k.RunNumber, k.Flowcell)
}

// FlowCell is the registry's record of a flow cell.
// Only PlannedReads, CurrentReads and StatusSequencing are owned by ingestion.
// An empty ManualLabel or Description is left out so the registry stores null.
type FlowCell struct {
	SodarUUID         string           `json:"sodar_uuid,omitempty" yaml:"sodar_uuid,omitempty"`
	RunDate           string           `json:"run_date" yaml:"run_date"`
	RunNumber         int              `json:"run_number" yaml:"run_number"`
	Slot              string           `json:"slot" yaml:"slot"`
	VendorID          string           `json:"vendor_id" yaml:"vendor_id"`
	Label             string           `json:"label" yaml:"label"`
	NumLanes          int              `json:"num_lanes" yaml:"num_lanes"`
	RTAVersion        int              `json:"rta_version" yaml:"rta_version"`
	PlannedReads      string           `json:"planned_reads" yaml:"planned_reads"`
	CurrentReads      string           `json:"current_reads" yaml:"current_reads"`
	ManualLabel       string           `json:"manual_label,omitempty" yaml:"manual_label"`
	Description       string           `json:"description,omitempty" yaml:"description"`
	SequencingMachine string           `json:"sequencing_machine" yaml:"sequencing_machine"`
	Operator          string           `json:"operator" yaml:"operator"`
	StatusSequencing  SequencingStatus `json:"status_sequencing" yaml:"status_sequencing"`
	StatusConversion  string           `json:"status_conversion" yaml:"status_conversion"`
	StatusDelivery    string           `json:"status_delivery" yaml:"status_delivery"`
	DeliveryType      string           `json:"delivery_type" yaml:"delivery_type"`
}

// FlowCellPatch carries the fields ingestion is allowed to change on an existing record
type FlowCellPatch struct {
	PlannedReads     string           `json:"planned_reads"`
	CurrentReads     string           `json:"current_reads"`
	StatusSequencing SequencingStatus `json:"status_sequencing"`
}

// Apply returns a copy of fc with the patch fields replaced; fc itself is left untouched
func (fc FlowCell) Apply(p FlowCellPatch) FlowCell {
	fc.PlannedReads = p.PlannedReads
	fc.CurrentReads = p.CurrentReads
	fc.StatusSequencing = p.StatusSequencing
	return fc
}

// Patch extracts the ingestion-owned fields of fc
func (fc FlowCell) Patch() FlowCellPatch {
	return FlowCellPatch{
		PlannedReads:     fc.PlannedReads,
		CurrentReads:     fc.CurrentReads,
		StatusSequencing: fc.StatusSequencing,
	}
}

// Key returns the natural key of fc within project
func (fc FlowCell) Key(project string) FlowCellKey {
	return FlowCellKey{
		Project:    project,
		Instrument: fc.SequencingMachine,
		RunNumber:  fc.RunNumber,
		Flowcell:   fc.VendorID,
	}
}

// LaneIndexHistogram is the sampled index-sequence distribution of one lane and index read
type LaneIndexHistogram struct {
	SodarUUID   string         `json:"sodar_uuid,omitempty"`
	Flowcell    string         `json:"flowcell"`
	Lane        int            `json:"lane"`
	IndexReadNo int            `json:"index_read_no"`
	SampleSize  int            `json:"sample_size"`
	Histogram   map[string]int `json:"histogram"`
}
