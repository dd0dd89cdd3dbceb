package aggregate

import (
	"testing"
	"time"

	"floorsight/app/store"
	"floorsight/app/timestamps"
)

func bpWorkbookRow(sn, nvpn, status, pic, nvDispo, igsAction string, updatedMS int64) store.BonepileEntry {
	return store.BonepileEntry{
		Sheet:         "VR-TS1",
		SN:            sn,
		NVPN:          nvpn,
		Status:        status,
		PIC:           pic,
		NVDisposition: nvDispo,
		IGSAction:     igsAction,
		UpdatedAtCAMS: updatedMS,
	}
}

func windowMS(start, end time.Time) (*int64, *int64) {
	s := start.UnixMilli()
	e := end.UnixMilli()
	return &s, &e
}

func janWindow() (*int64, *int64) {
	return windowMS(
		time.Date(2026, 1, 1, 0, 0, 0, 0, timestamps.CA()),
		time.Date(2026, 1, 31, 23, 59, 59, 0, timestamps.CA()))
}

func TestComputeDispositionStats(t *testing.T) {
	updated := time.Date(2026, 1, 25, 12, 0, 0, 0, timestamps.CA()).UnixMilli()
	rows := []store.BonepileEntry{
		bpWorkbookRow("1810000000001", "675-A", "FAIL", "IGS", "01/10: bad DIMM", "01/20: retest", updated),
		bpWorkbookRow("1810000000002", "675-A", "ALL PASS", "NV", "01/12: reworked", "", updated),
		// NV date outside the window: excluded from the KPIs but still a tray.
		bpWorkbookRow("1810000000003", "675-B", "FAIL", "IGS", "03/05: pending", "", updated),
	}
	startMS, endMS := janWindow()
	s := ComputeDispositionStats(rows, "daily", startMS, endMS)

	if s.Summary.Total != 2 || s.Summary.WaitingIGS != 1 || s.Summary.Complete != 1 {
		t.Errorf("summary = %+v", s.Summary)
	}
	if s.Summary.UniqueTraysBP != 3 || s.Summary.AllPassTrays != 1 {
		t.Errorf("tray counters = %+v", s.Summary)
	}

	if len(s.BySKU) != 1 || s.BySKU[0].SKU != "675-A" {
		t.Fatalf("by_sku = %+v", s.BySKU)
	}
	if r := s.BySKU[0]; r.Total != 2 || r.WaitingIGS != 1 || r.Complete != 1 {
		t.Errorf("675-A row = %+v", r)
	}

	// Waiting is bucketed by the IGS action date, not the NV date.
	byPeriod := make(map[string]DispositionPeriodRow)
	for _, r := range s.ByPeriod {
		byPeriod[r.Period] = r
	}
	if r := byPeriod["2026-01-10"]; r.Total != 1 || r.WaitingIGS != 0 {
		t.Errorf("2026-01-10 = %+v", r)
	}
	if r := byPeriod["2026-01-20"]; r.WaitingIGS != 1 {
		t.Errorf("2026-01-20 = %+v", r)
	}
	if _, ok := byPeriod["2026-03-05"]; ok {
		t.Error("out-of-window period leaked into the breakdown")
	}

	if len(s.TrayBySKU) != 2 {
		t.Fatalf("tray_by_sku = %+v", s.TrayBySKU)
	}
	if r := s.TrayBySKU[0]; r.SKU != "675-A" || r.TotalTrays != 2 || r.AllPassTrays != 1 {
		t.Errorf("675-A trays = %+v", r)
	}
	if r := s.TrayBySKU[1]; r.SKU != "675-B" || r.TotalTrays != 1 || r.AllPassTrays != 0 {
		t.Errorf("675-B trays = %+v", r)
	}
}

func TestDispositionStatsYearBump(t *testing.T) {
	// Window spans the year boundary; an early-January mm/dd belongs to the
	// next year, not eleven months before the window.
	startMS, endMS := windowMS(
		time.Date(2026, 12, 15, 0, 0, 0, 0, timestamps.CA()),
		time.Date(2027, 1, 31, 23, 59, 59, 0, timestamps.CA()))
	updated := time.Date(2027, 1, 10, 0, 0, 0, 0, timestamps.CA()).UnixMilli()
	rows := []store.BonepileEntry{
		bpWorkbookRow("1810000000001", "675-A", "FAIL", "NV", "01/05: rework", "", updated),
	}
	s := ComputeDispositionStats(rows, "daily", startMS, endMS)
	if s.Summary.Total != 1 {
		t.Fatalf("summary = %+v", s.Summary)
	}
	if len(s.ByPeriod) != 1 || s.ByPeriod[0].Period != "2027-01-05" {
		t.Errorf("by_period = %+v", s.ByPeriod)
	}
}

func TestDispositionLatestRowWins(t *testing.T) {
	early := time.Date(2026, 1, 5, 0, 0, 0, 0, timestamps.CA()).UnixMilli()
	late := time.Date(2026, 1, 25, 0, 0, 0, 0, timestamps.CA()).UnixMilli()
	rows := []store.BonepileEntry{
		bpWorkbookRow("1810000000001", "675-A", "FAIL", "IGS", "01/10: bad", "", early),
		bpWorkbookRow("1810000000001", "675-A", "PASS", "NV", "01/10: fixed", "", late),
	}
	startMS, endMS := janWindow()
	s := ComputeDispositionStats(rows, "daily", startMS, endMS)
	if s.Summary.Total != 1 || s.Summary.WaitingIGS != 0 || s.Summary.UniqueTraysBP != 1 {
		t.Errorf("summary = %+v", s.Summary)
	}
}

func TestComputeDispositionSNList(t *testing.T) {
	updated := time.Date(2026, 1, 25, 12, 0, 0, 0, timestamps.CA()).UnixMilli()
	rows := []store.BonepileEntry{
		bpWorkbookRow("1810000000001", "675-A", "FAIL", "IGS", "01/10: bad DIMM", "01/20: retest", updated),
		bpWorkbookRow("1810000000002", "675-A", "ALL PASS", "NV", "01/12: reworked", "", updated),
		bpWorkbookRow("1810000000003", "675-B", "FAIL", "IGS", "03/05: pending", "", updated),
	}
	startMS, endMS := janWindow()

	total := ComputeDispositionSNList(rows, "total", "", "", "daily", startMS, endMS)
	if len(total) != 2 || total[0].SN != "1810000000001" || total[1].SN != "1810000000002" {
		t.Fatalf("total = %+v", total)
	}
	if total[0].LastNVDispo != "01/10: bad DIMM" || total[0].LastIGSAction != "01/20: retest" {
		t.Errorf("row fields = %+v", total[0])
	}

	waiting := ComputeDispositionSNList(rows, "waiting", "", "", "daily", startMS, endMS)
	if len(waiting) != 1 || waiting[0].SN != "1810000000001" {
		t.Errorf("waiting = %+v", waiting)
	}

	complete := ComputeDispositionSNList(rows, "complete", "", "", "daily", startMS, endMS)
	if len(complete) != 1 || complete[0].SN != "1810000000002" {
		t.Errorf("complete = %+v", complete)
	}

	// Waiting drills down by the IGS action bucket when one exists.
	if got := ComputeDispositionSNList(rows, "waiting", "", "2026-01-20", "daily", startMS, endMS); len(got) != 1 {
		t.Errorf("waiting at igs period = %+v", got)
	}
	if got := ComputeDispositionSNList(rows, "waiting", "", "2026-01-10", "daily", startMS, endMS); len(got) != 0 {
		t.Errorf("waiting at nv period = %+v", got)
	}

	// SKU filter, with the sentinel meaning no filter.
	if got := ComputeDispositionSNList(rows, "total", "675-B", "", "daily", startMS, endMS); len(got) != 0 {
		t.Errorf("sku filter = %+v", got)
	}
	if got := ComputeDispositionSNList(rows, "total", "__TOTAL__", "", "daily", startMS, endMS); len(got) != 2 {
		t.Errorf("sentinel sku = %+v", got)
	}
}

func TestDispositionSNListTrayMetrics(t *testing.T) {
	updated := time.Date(2026, 1, 25, 0, 0, 0, 0, timestamps.CA()).UnixMilli()
	rows := []store.BonepileEntry{
		bpWorkbookRow("1810000000001", "675-A", "FAIL", "IGS", "01/10: bad", "", updated),
		bpWorkbookRow("1810000000002", "675-A", "ALL PASS", "NV", "01/12: ok", "", updated),
		bpWorkbookRow("1810000000003", "675-B", "FAIL", "IGS", "03/05: pending", "", updated),
	}
	// Tray metrics ignore the window entirely.
	startMS, endMS := janWindow()
	if got := ComputeDispositionSNList(rows, "trays_bp", "", "", "daily", startMS, endMS); len(got) != 3 {
		t.Errorf("trays_bp = %d rows, want 3", len(got))
	}
	allPass := ComputeDispositionSNList(rows, "all_pass_trays", "", "", "daily", startMS, endMS)
	if len(allPass) != 1 || allPass[0].SN != "1810000000002" {
		t.Errorf("all_pass_trays = %+v", allPass)
	}
}

func TestDispositionSNListYearBumpWithoutWindow(t *testing.T) {
	// No window: the row's own update time anchors the year, and an mm/dd far
	// before it rolls into the next year.
	updated := time.Date(2026, 12, 20, 0, 0, 0, 0, timestamps.CA()).UnixMilli()
	rows := []store.BonepileEntry{
		bpWorkbookRow("1810000000001", "675-A", "FAIL", "IGS", "01/05: rework", "", updated),
	}
	got := ComputeDispositionSNList(rows, "total", "", "2027-01-05", "daily", nil, nil)
	if len(got) != 1 {
		t.Errorf("bumped period = %+v", got)
	}
	if got := ComputeDispositionSNList(rows, "total", "", "2026-01-05", "daily", nil, nil); len(got) != 0 {
		t.Errorf("unbumped period matched = %+v", got)
	}
}

func TestFilterPeriods(t *testing.T) {
	startD := time.Date(2026, 1, 1, 0, 0, 0, 0, timestamps.CA())
	endD := time.Date(2026, 1, 31, 0, 0, 0, 0, timestamps.CA())

	period := func(rows []DispositionPeriodRow) []string {
		out := make([]string, 0, len(rows))
		for _, r := range rows {
			out = append(out, r.Period)
		}
		return out
	}
	rowsFor := func(periods ...string) []DispositionPeriodRow {
		out := make([]DispositionPeriodRow, 0, len(periods))
		for _, p := range periods {
			out = append(out, DispositionPeriodRow{Period: p})
		}
		return out
	}
	equal := func(a, b []string) bool {
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	}

	tests := []struct {
		name        string
		aggregation string
		in          []string
		want        []string
	}{
		{
			name:        "daily drops out-of-window",
			aggregation: "daily",
			in:          []string{"2025-12-31", "2026-01-15", "2026-02-10"},
			want:        []string{"2026-01-15"},
		},
		{
			// A bucket key that isn't a date for this aggregation passes
			// through untouched.
			name:        "daily keeps unrecognized keys",
			aggregation: "daily",
			in:          []string{"2026-01", "garbage", "2026-02-10"},
			want:        []string{"2026-01", "garbage"},
		},
		{
			name:        "monthly window",
			aggregation: "monthly",
			in:          []string{"2025-12", "2026-01", "2026-02", "x"},
			want:        []string{"2026-01", "x"},
		},
		{
			name:        "weekly overlap",
			aggregation: "weekly",
			in: []string{
				"2025-12-28~2026-01-03", // straddles the window start
				"2026-02-01~2026-02-07",
				"2026-01-11~2026-01-17",
			},
			want: []string{"2025-12-28~2026-01-03", "2026-01-11~2026-01-17"},
		},
		{
			name:        "weekly keeps keys without a separator",
			aggregation: "weekly",
			in:          []string{"2026-01-15", "bad~2026-01-17"},
			want:        []string{"2026-01-15"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := period(filterPeriods(rowsFor(tt.in...), tt.aggregation, &startD, &endD))
			if !equal(got, tt.want) {
				t.Errorf("filtered = %v, want %v", got, tt.want)
			}
		})
	}
}
