package aggregate

import (
	"testing"

	"floorsight/app/store"
)

func bpFlag(v int64) *int64 { return &v }

func testEntry(sn, status, station, part string, caMS int64, bonepile bool) store.RawEntry {
	flag := int64(0)
	if bonepile {
		flag = 1
	}
	return store.RawEntry{
		UTCMS:      caMS,
		CAMS:       caMS,
		CADate:     "2026-01-10",
		CAWeek:     "2026-01-04~2026-01-10",
		CAMonth:    "2026-01",
		Filename:   sn + "_" + station + "_" + status + ".zip",
		SN:         sn,
		Status:     status,
		Station:    station,
		PartNumber: part,
		IsBonepile: bpFlag(flag),
	}
}

func TestComputeStatsSummary(t *testing.T) {
	rows := []store.RawEntry{
		// SN A: fresh, fails then passes at FCT.
		testEntry("1810000000001", "F", "FCT", "675-24109-0000", 1000, false),
		testEntry("1810000000001", "P", "FCT", "675-24109-0000", 2000, false),
		// SN B: bonepile, passes at NVL (TS2 SKU).
		testEntry("1810000000002", "P", "NVL", "675-24109-0020-TS2", 3000, true),
		// SN C: fresh, only fails.
		testEntry("1810000000003", "F", "FCT", "675-24109-0000", 4000, false),
		// SN D: bonepile, passes only at the wrong station.
		testEntry("1810000000004", "P", "RIN", "675-24109-0000", 5000, true),
	}
	s := ComputeStats(rows, "daily")

	if s.Summary.Total.Tested != 4 || s.Summary.Total.Pass != 2 || s.Summary.Total.Fail != 2 {
		t.Errorf("total = %+v", s.Summary.Total)
	}
	if s.Summary.BP.Tested != 2 || s.Summary.BP.Pass != 1 || s.Summary.BP.Fail != 1 {
		t.Errorf("bp = %+v", s.Summary.BP)
	}
	if s.Summary.Fresh.Tested != 2 || s.Summary.Fresh.Pass != 1 || s.Summary.Fresh.Fail != 1 {
		t.Errorf("fresh = %+v", s.Summary.Fresh)
	}
	// The matrix must stay internally consistent.
	if s.Summary.Fresh.Tested != s.Summary.Total.Tested-s.Summary.BP.Tested {
		t.Error("fresh tested inconsistent with total and bp")
	}
}

func TestComputeStatsSKURows(t *testing.T) {
	rows := []store.RawEntry{
		// SN A changes part mid-window; its latest part wins.
		testEntry("1810000000001", "F", "FCT", "675-24109-0000", 1000, false),
		testEntry("1810000000001", "P", "FCT", "675-24109-0099", 2000, false),
		testEntry("1810000000002", "P", "FCT", "675-24109-0000", 1500, false),
		testEntry("1810000000003", "F", "FCT", "675-24109-0000", 1600, false),
	}
	s := ComputeStats(rows, "daily")
	if len(s.SKURows) != 2 {
		t.Fatalf("sku rows = %d, want 2", len(s.SKURows))
	}
	// Sorted by tested desc, then SKU.
	if s.SKURows[0].SKU != "675-24109-0000" || s.SKURows[0].Tested != 2 {
		t.Errorf("row 0 = %+v", s.SKURows[0])
	}
	if s.SKURows[1].SKU != "675-24109-0099" || s.SKURows[1].Tested != 1 || s.SKURows[1].Pass != 1 {
		t.Errorf("row 1 = %+v", s.SKURows[1])
	}
}

func TestComputeStatsBreakdown(t *testing.T) {
	day1 := testEntry("1810000000001", "F", "FCT", "675-24109-0000", 1000, false)
	day1.CADate = "2026-01-10"
	day2Fail := testEntry("1810000000001", "F", "FCT", "675-24109-0000", 2000, false)
	day2Fail.CADate = "2026-01-11"
	day2Pass := testEntry("1810000000001", "P", "FCT", "675-24109-0000", 3000, false)
	day2Pass.CADate = "2026-01-11"
	day2BP := testEntry("1810000000002", "F", "FCT", "675-24109-0000", 3500, true)
	day2BP.CADate = "2026-01-11"

	s := ComputeStats([]store.RawEntry{day1, day2Fail, day2Pass, day2BP}, "daily")
	if len(s.BreakdownRows) != 2 {
		t.Fatalf("breakdown rows = %d, want 2", len(s.BreakdownRows))
	}
	// Pass is judged per bucket: the serial fails on day 1 and passes on day 2.
	b1, b2 := s.BreakdownRows[0], s.BreakdownRows[1]
	if b1.Period != "2026-01-10" || b1.Tested != 1 || b1.Passed != 0 || b1.PassRate != 0 {
		t.Errorf("day 1 = %+v", b1)
	}
	if b2.Period != "2026-01-11" || b2.Tested != 2 || b2.Passed != 1 || b2.Bonepile != 1 || b2.Fresh != 1 {
		t.Errorf("day 2 = %+v", b2)
	}
	if b2.PassRate != 0.5 {
		t.Errorf("day 2 pass rate = %v", b2.PassRate)
	}
}

func TestComputeStatsEmpty(t *testing.T) {
	s := ComputeStats(nil, "daily")
	if s.Summary.Total.Tested != 0 || len(s.SKURows) != 0 || len(s.BreakdownRows) != 0 {
		t.Errorf("empty stats = %+v", s)
	}
}
