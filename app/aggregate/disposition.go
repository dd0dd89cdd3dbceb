package aggregate

import (
	"sort"
	"strings"
	"time"

	"floorsight/app/bonepile"
	"floorsight/app/store"
	"floorsight/app/timestamps"
)

// The workbook carries no year anywhere: disposition cells hold bare mm/dd
// markers. Dates are rebuilt against the query window's start year and bumped
// one year forward when they land implausibly far before their reference
// date. See resolveNVDate.

// DispositionSummary is the KPI header of the disposition dashboard.
type DispositionSummary struct {
	Total         int `json:"total"`
	WaitingIGS    int `json:"waiting_igs"`
	Complete      int `json:"complete"`
	UniqueTraysBP int `json:"unique_trays_bp"`
	AllPassTrays  int `json:"all_pass_trays"`
}

// DispositionSKURow is one per-SKU line of the disposition table.
type DispositionSKURow struct {
	SKU        string `json:"sku"`
	Total      int    `json:"total"`
	WaitingIGS int    `json:"waiting_igs"`
	Complete   int    `json:"complete"`
}

// DispositionPeriodRow is one time bucket of the disposition breakdown.
type DispositionPeriodRow struct {
	Period     string `json:"period"`
	Total      int    `json:"total"`
	WaitingIGS int    `json:"waiting_igs"`
	Complete   int    `json:"complete"`
}

// TrayRow counts workbook trays per SKU, window-independent.
type TrayRow struct {
	SKU          string `json:"sku"`
	TotalTrays   int    `json:"total_trays"`
	AllPassTrays int    `json:"all_pass_trays"`
}

// DispositionStats bundles the disposition dashboard payload.
type DispositionStats struct {
	Summary   DispositionSummary     `json:"summary"`
	BySKU     []DispositionSKURow    `json:"by_sku"`
	ByPeriod  []DispositionPeriodRow `json:"by_period"`
	TrayBySKU []TrayRow              `json:"tray_by_sku"`
}

// DispositionRow is one drill-down line behind a disposition KPI.
type DispositionRow struct {
	SN            string `json:"sn"`
	LastNVDispo   string `json:"last_nv_dispo"`
	LastIGSAction string `json:"last_igs_action"`
	NVPN          string `json:"nvpn"`
	Status        string `json:"status"`
	PIC           string `json:"pic"`
}

func normUpper(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

// isPassStatus reports whether a free-text status cell means the tray fully
// passed. Operators type variants like "ALL PASS" or "Passed"; any PASS
// substring counts.
func isPassStatus(status string) bool {
	return strings.Contains(normUpper(status), "PASS")
}

// latestPerSN keeps the newest workbook row per serial by updated_at_ca_ms.
// Rows without a serial are dropped.
func latestPerSN(rows []store.BonepileEntry) map[string]store.BonepileEntry {
	m := make(map[string]store.BonepileEntry)
	for _, r := range rows {
		sn := strings.TrimSpace(r.SN)
		if sn == "" {
			continue
		}
		prev, ok := m[sn]
		if !ok || r.UpdatedAtCAMS > prev.UpdatedAtCAMS {
			m[sn] = r
		}
	}
	return m
}

// makeDate builds a CA-local date, rejecting combinations the calendar
// normalizes away (Feb 30 and friends).
func makeDate(year, month, day int) (time.Time, bool) {
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, timestamps.CA())
	if int(d.Month()) != month || d.Day() != day {
		return time.Time{}, false
	}
	return d, true
}

func caDate(ms int64) time.Time {
	t := time.UnixMilli(ms).In(timestamps.CA())
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, timestamps.CA())
}

// resolveNVDate builds a disposition date from an mm/dd cell against the
// window's start year, bumping to the next year when the result falls more
// than 60 days before the window start.
func resolveNVDate(text string, year int, startD *time.Time) (time.Time, bool) {
	month, day, ok := bonepile.LastMMDD(text)
	if !ok {
		return time.Time{}, false
	}
	d, ok := makeDate(year, month, day)
	if !ok {
		return time.Time{}, false
	}
	if startD != nil && d.Before(startD.AddDate(0, 0, -60)) {
		if next, ok := makeDate(year+1, month, day); ok {
			return next, true
		}
	}
	return d, true
}

func inWindow(d time.Time, startD, endD *time.Time) bool {
	if startD == nil || endD == nil {
		return true
	}
	return !d.Before(*startD) && !d.After(*endD)
}

// ComputeDispositionStats derives the NV-disposition KPIs from workbook rows.
// Total counts serials whose last NV disposition date falls in the window;
// waiting counts the subset still marked Status=FAIL with PIC=IGS, bucketed
// by their last IGS action date when one exists. Tray counters ignore the
// window entirely so they always reflect the whole workbook.
func ComputeDispositionStats(rows []store.BonepileEntry, aggregation string, startCAMS, endCAMS *int64) DispositionStats {
	var startD, endD *time.Time
	year := timestamps.NowCA().Year()
	if startCAMS != nil && endCAMS != nil {
		s := caDate(*startCAMS)
		e := caDate(*endCAMS)
		startD, endD = &s, &e
		year = s.Year()
	}

	snLatest := latestPerSN(rows)

	type totalInfo struct {
		sku    string
		period string
	}
	type waitingInfo struct {
		sku       string
		periodNV  string
		periodIGS string
	}

	totalSNs := make(map[string]totalInfo)
	for sn, r := range snLatest {
		nvDate, ok := resolveNVDate(r.NVDisposition, year, startD)
		if !ok || !inWindow(nvDate, startD, endD) {
			continue
		}
		sku := strings.TrimSpace(r.NVPN)
		if sku == "" {
			sku = "Unknown"
		}
		totalSNs[sn] = totalInfo{sku: sku, period: timestamps.PeriodKey(nvDate, aggregation)}
	}

	waitingSNs := make(map[string]waitingInfo)
	for sn, r := range snLatest {
		if normUpper(r.Status) != "FAIL" || normUpper(r.PIC) != "IGS" {
			continue
		}
		nvDate, ok := resolveNVDate(r.NVDisposition, year, startD)
		if !ok || !inWindow(nvDate, startD, endD) {
			continue
		}
		info := waitingInfo{periodNV: timestamps.PeriodKey(nvDate, aggregation)}
		if igsDate, ok := resolveNVDate(r.IGSAction, year, startD); ok {
			info.periodIGS = timestamps.PeriodKey(igsDate, aggregation)
		}
		info.sku = strings.TrimSpace(r.NVPN)
		if info.sku == "" {
			info.sku = "Unknown"
		}
		waitingSNs[sn] = info
	}

	byPeriod := make(map[string]*DispositionPeriodRow)
	bySKU := make(map[string]*DispositionSKURow)
	periodRow := func(p string) *DispositionPeriodRow {
		row, ok := byPeriod[p]
		if !ok {
			row = &DispositionPeriodRow{Period: p}
			byPeriod[p] = row
		}
		return row
	}
	skuRow := func(sku string) *DispositionSKURow {
		row, ok := bySKU[sku]
		if !ok {
			row = &DispositionSKURow{SKU: sku}
			bySKU[sku] = row
		}
		return row
	}

	for _, info := range totalSNs {
		periodRow(info.period).Total++
		skuRow(info.sku).Total++
	}
	for _, info := range waitingSNs {
		// Waiting buckets by the engineer's last IGS touch, not the NV date.
		p := info.periodIGS
		if p == "" {
			p = info.periodNV
		}
		periodRow(p).WaitingIGS++
		skuRow(info.sku).WaitingIGS++
	}
	for _, row := range bySKU {
		row.Complete = row.Total - row.WaitingIGS
	}
	for _, row := range byPeriod {
		row.Complete = row.Total - row.WaitingIGS
	}

	summary := DispositionSummary{
		Total:      len(totalSNs),
		WaitingIGS: len(waitingSNs),
		Complete:   len(totalSNs) - len(waitingSNs),
	}

	// Tray counters come from the whole workbook regardless of window.
	trayBySKU := make(map[string]*TrayRow)
	for _, r := range snLatest {
		summary.UniqueTraysBP++
		sku := strings.TrimSpace(r.NVPN)
		if sku == "" {
			sku = "Unknown"
		}
		tr, ok := trayBySKU[sku]
		if !ok {
			tr = &TrayRow{SKU: sku}
			trayBySKU[sku] = tr
		}
		tr.TotalTrays++
		if isPassStatus(r.Status) {
			summary.AllPassTrays++
			tr.AllPassTrays++
		}
	}

	skuRows := make([]DispositionSKURow, 0, len(bySKU))
	for _, row := range bySKU {
		skuRows = append(skuRows, *row)
	}
	sort.Slice(skuRows, func(i, j int) bool { return skuRows[i].SKU < skuRows[j].SKU })

	periodRows := make([]DispositionPeriodRow, 0, len(byPeriod))
	for _, row := range byPeriod {
		periodRows = append(periodRows, *row)
	}
	sort.Slice(periodRows, func(i, j int) bool { return periodRows[i].Period < periodRows[j].Period })
	periodRows = filterPeriods(periodRows, aggregation, startD, endD)

	trayRows := make([]TrayRow, 0, len(trayBySKU))
	for _, row := range trayBySKU {
		trayRows = append(trayRows, *row)
	}
	sort.Slice(trayRows, func(i, j int) bool { return trayRows[i].SKU < trayRows[j].SKU })

	return DispositionStats{Summary: summary, BySKU: skuRows, ByPeriod: periodRows, TrayBySKU: trayRows}
}

// filterPeriods drops breakdown buckets outside the window. Year-bumped
// dates can produce periods past the window end; they would confuse the
// chart axis. Periods that don't parse as the aggregation's bucket form
// pass through unfiltered.
func filterPeriods(rows []DispositionPeriodRow, aggregation string, startD, endD *time.Time) []DispositionPeriodRow {
	if startD == nil || endD == nil {
		return rows
	}
	out := rows[:0]
	for _, row := range rows {
		switch aggregation {
		case "monthly":
			pd, err := time.ParseInLocation("2006-01", row.Period, timestamps.CA())
			if err == nil && (pd.Before(*startD) || pd.After(*endD)) {
				continue
			}
		case "weekly":
			start, _, ok := strings.Cut(row.Period, "~")
			if ok {
				pd, err := time.ParseInLocation("2006-01-02", start, timestamps.CA())
				if err != nil {
					continue
				}
				if pd.After(*endD) || pd.AddDate(0, 0, 6).Before(*startD) {
					continue
				}
			}
		default:
			pd, err := time.ParseInLocation("2006-01-02", row.Period, timestamps.CA())
			if err == nil && (pd.Before(*startD) || pd.After(*endD)) {
				continue
			}
		}
		out = append(out, row)
	}
	return out
}

// ComputeDispositionSNList returns the drill-down rows behind one
// disposition KPI. metric is one of total, waiting, complete, trays_bp or
// all_pass_trays; sku and period optionally narrow the list ("__TOTAL__"
// means no filter). The tray metrics ignore the window, mirroring the
// summary counters they back.
func ComputeDispositionSNList(rows []store.BonepileEntry, metric, sku, period, aggregation string, startCAMS, endCAMS *int64) []DispositionRow {
	snLatest := latestPerSN(rows)

	makeRow := func(r store.BonepileEntry) DispositionRow {
		nvpn := strings.TrimSpace(r.NVPN)
		if nvpn == "" {
			nvpn = "Unknown"
		}
		return DispositionRow{
			SN:            strings.TrimSpace(r.SN),
			LastNVDispo:   bonepile.LastMMDDSegment(r.NVDisposition),
			LastIGSAction: bonepile.LastMMDDSegment(r.IGSAction),
			NVPN:          nvpn,
			Status:        strings.TrimSpace(r.Status),
			PIC:           strings.TrimSpace(r.PIC),
		}
	}
	skuMatches := func(rowSKU string) bool {
		return sku == "" || sku == "__TOTAL__" || rowSKU == sku
	}

	if metric == "trays_bp" || metric == "all_pass_trays" {
		out := make([]DispositionRow, 0)
		for _, r := range snLatest {
			row := makeRow(r)
			if !skuMatches(row.NVPN) {
				continue
			}
			if metric == "all_pass_trays" && !isPassStatus(r.Status) {
				continue
			}
			out = append(out, row)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].SN < out[j].SN })
		return out
	}

	var startD, endD *time.Time
	if startCAMS != nil && endCAMS != nil {
		s := caDate(*startCAMS)
		e := caDate(*endCAMS)
		startD, endD = &s, &e
	}

	out := make([]DispositionRow, 0)
	for _, r := range snLatest {
		isWaiting := normUpper(r.Status) == "FAIL" && normUpper(r.PIC) == "IGS"
		if metric == "waiting" && !isWaiting {
			continue
		}
		if metric == "complete" && isWaiting {
			continue
		}

		month, day, ok := bonepile.LastMMDD(r.NVDisposition)
		if !ok {
			continue
		}

		// Without a window the serial's own update time anchors the year.
		var year int
		if startD != nil {
			year = startD.Year()
		} else if r.UpdatedAtCAMS > 0 {
			year = caDate(r.UpdatedAtCAMS).Year()
		} else {
			continue
		}

		nvDate, ok := makeDate(year, month, day)
		if !ok {
			continue
		}
		if r.UpdatedAtCAMS > 0 {
			updated := caDate(r.UpdatedAtCAMS)
			if nvDate.Before(updated.AddDate(0, 0, -30)) {
				if next, ok := makeDate(year+1, month, day); ok {
					if startD == nil || inWindow(next, startD, endD) {
						nvDate = next
						year++
					}
				}
			}
		}
		if !inWindow(nvDate, startD, endD) {
			continue
		}

		periodNV := timestamps.PeriodKey(nvDate, aggregation)
		periodIGS := ""
		if m2, d2, ok := bonepile.LastMMDD(r.IGSAction); ok {
			if igsDate, ok := makeDate(year, m2, d2); ok {
				if igsDate.Before(nvDate.AddDate(0, 0, -30)) {
					if next, ok := makeDate(year+1, m2, d2); ok {
						igsDate = next
					}
				}
				periodIGS = timestamps.PeriodKey(igsDate, aggregation)
			}
		}

		if period != "" && period != "__TOTAL__" {
			if metric == "waiting" {
				if periodIGS != "" {
					if periodIGS != period {
						continue
					}
				} else if periodNV != period {
					continue
				}
			} else if periodNV != period {
				continue
			}
		}

		row := makeRow(r)
		if !skuMatches(row.NVPN) {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SN < out[j].SN })
	return out
}
