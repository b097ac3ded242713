package flowcsv

import (
	"testing"
	"time"

	"FlowSentry/internal/model"
)

func TestNormalize(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []model.FlowRecord{
		{RowID: 10, Ts: base.Add(2 * time.Second), SrcIP: "a"},
		{RowID: 0, SrcIP: "b"},
		{RowID: 11, Ts: base, SrcIP: "c"},
		{RowID: 12, Ts: base, SrcIP: "d"},
	}
	Normalize(records)

	var order []string
	for _, r := range records {
		order = append(order, r.SrcIP)
	}
	// b inherits a's ts; c and d keep their input order.
	want := []string{"c", "d", "a", "b"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if records[0].RowID != 3 || records[3].RowID != 2 {
		t.Errorf("row ids must be reassigned in input order, got %d and %d", records[0].RowID, records[3].RowID)
	}
}

func TestNormalize_KeepsCompleteRowIDs(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []model.FlowRecord{{RowID: 7, Ts: base}, {RowID: 9, Ts: base}}
	Normalize(records)
	if records[0].RowID != 7 || records[1].RowID != 9 {
		t.Errorf("row ids changed: %d, %d", records[0].RowID, records[1].RowID)
	}
}
