package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFlowCell_ApplyPreservesForeignFields(t *testing.T) {
	remote := FlowCell{
		SodarUUID:         "0d8c5b8e-6f7a-4c3e-9a55-1c2a3b4c5d6e",
		RunDate:           "2023-06-15",
		RunNumber:         42,
		Slot:              "B",
		VendorID:          "HXXXXXXXX",
		Label:             "my experiment",
		NumLanes:          4,
		RTAVersion:        3,
		PlannedReads:      "151T8B151T",
		CurrentReads:      "151T",
		ManualLabel:       "rerun",
		Description:       "keep me",
		SequencingMachine: "A01077",
		Operator:          "jdoe",
		StatusSequencing:  StatusInProgress,
		StatusConversion:  "ready",
		StatusDelivery:    "in_progress",
		DeliveryType:      "seq_bcl",
	}
	patch := FlowCellPatch{
		PlannedReads:     "151T8B151T",
		CurrentReads:     "151T8B151T",
		StatusSequencing: StatusComplete,
	}

	got := remote.Apply(patch)

	want := remote
	want.CurrentReads = "151T8B151T"
	want.StatusSequencing = StatusComplete
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Apply() mismatch (-want +got):\n%s", diff)
	}
	if remote.StatusSequencing != StatusInProgress {
		t.Error("Apply() must not mutate the receiver")
	}
	if diff := cmp.Diff(patch, got.Patch()); diff != "" {
		t.Errorf("Patch() mismatch (-want +got):\n%s", diff)
	}
}

func TestFlowCell_Key(t *testing.T) {
	fc := FlowCell{SequencingMachine: "M01234", RunNumber: 7, VendorID: "000000000-ABCDE"}
	key := fc.Key("proj")
	if key.String() != "proj/M01234/7/000000000-ABCDE" {
		t.Errorf("Key().String() = %q", key.String())
	}
}

func TestFlowCell_JSONLeavesEmptyLabelsOut(t *testing.T) {
	b, err := json.Marshal(FlowCell{VendorID: "FC1", Operator: "jdoe"})
	if err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{`"manual_label"`, `"description"`} {
		if strings.Contains(string(b), field) {
			t.Errorf("Marshal() = %s, want no %s", b, field)
		}
	}
	if !strings.Contains(string(b), `"operator":"jdoe"`) {
		t.Errorf("Marshal() = %s, want operator", b)
	}

	b, err = json.Marshal(FlowCell{ManualLabel: "rerun", Description: "keep me"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"manual_label":"rerun"`) || !strings.Contains(string(b), `"description":"keep me"`) {
		t.Errorf("Marshal() = %s, want manual_label and description", b)
	}
}
