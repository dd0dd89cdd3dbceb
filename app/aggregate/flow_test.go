package aggregate

import (
	"testing"

	"floorsight/app/store"
)

func TestComputeTestFlowTotals(t *testing.T) {
	rows := []store.RawEntry{
		// SN A passes and fails at FCT: counted once in each set.
		testEntry("1810000000001", "F", "FCT", "675-24109-0010-TS1", 1000, false),
		testEntry("1810000000001", "F", "FCT", "675-24109-0010-TS1", 1500, false),
		testEntry("1810000000001", "P", "FCT", "675-24109-0010-TS1", 2000, false),
		// SN B passes at FLA and NVL.
		testEntry("1810000000002", "P", "FLA", "675-24109-0020-TS2", 3000, false),
		testEntry("1810000000002", "P", "NVL", "675-24109-0020-TS2", 4000, false),
		// Unknown station is ignored.
		testEntry("1810000000003", "P", "XYZ", "675-24109-0010-TS1", 5000, false),
	}
	f := ComputeTestFlow(rows)

	if len(f.Stations) != 7 || f.Stations[0] != "FLA" || f.Stations[6] != "NVL" {
		t.Errorf("station order = %v", f.Stations)
	}
	if got := f.Totals["FCT"]; got.Pass != 1 || got.Fail != 1 {
		t.Errorf("FCT totals = %+v", got)
	}
	if got := f.Totals["FLA"]; got.Pass != 1 || got.Fail != 0 {
		t.Errorf("FLA totals = %+v", got)
	}
	if got := f.Totals["NVL"]; got.Pass != 1 {
		t.Errorf("NVL totals = %+v", got)
	}
	if got := f.Totals["XYZ"]; got.Pass != 0 {
		t.Errorf("unknown station leaked into totals: %+v", got)
	}
}

func TestComputeTestFlowRows(t *testing.T) {
	rows := []store.RawEntry{
		testEntry("1810000000001", "P", "FCT", "675-24109-0010-TS1", 1000, false),
		testEntry("1810000000002", "F", "FCT", "675-24109-0020-TS2", 2000, false),
		testEntry("1810000000003", "P", "FLA", "675-24109-0000", 3000, false),
	}
	f := ComputeTestFlow(rows)
	if len(f.Rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(f.Rows))
	}
	// TS families sort numerically with TS? last.
	if f.Rows[0].TS != "TS1" || f.Rows[1].TS != "TS2" || f.Rows[2].TS != "TS?" {
		t.Errorf("row order = %s, %s, %s", f.Rows[0].TS, f.Rows[1].TS, f.Rows[2].TS)
	}
	if got := f.Rows[0].Stations["FCT"]; got.Pass != 1 || got.Fail != 0 {
		t.Errorf("TS1 FCT = %+v", got)
	}
	if got := f.Rows[1].Stations["FCT"]; got.Fail != 1 {
		t.Errorf("TS2 FCT = %+v", got)
	}
}

func TestComputeTestFlowSKUFromLatestPart(t *testing.T) {
	// The serial's rows are attributed to its latest part number, even for
	// earlier rows recorded under a different part.
	rows := []store.RawEntry{
		testEntry("1810000000001", "F", "FCT", "675-24109-0010-TS1", 1000, false),
		testEntry("1810000000001", "P", "FCT", "675-24109-0020-TS2", 2000, false),
	}
	f := ComputeTestFlow(rows)
	if len(f.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(f.Rows))
	}
	row := f.Rows[0]
	if row.SKU != "675-24109-0020-TS2" {
		t.Errorf("sku = %s", row.SKU)
	}
	if got := row.Stations["FCT"]; got.Pass != 1 || got.Fail != 1 {
		t.Errorf("FCT = %+v", got)
	}
}

func TestComputeTestFlowEmpty(t *testing.T) {
	f := ComputeTestFlow(nil)
	if len(f.Rows) != 0 {
		t.Errorf("rows = %d", len(f.Rows))
	}
	for _, st := range Stations {
		if pf := f.Totals[st]; pf.Pass != 0 || pf.Fail != 0 {
			t.Errorf("station %s totals = %+v", st, pf)
		}
	}
}
