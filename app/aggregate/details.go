package aggregate

import (
	"path/filepath"
	"sort"
	"strings"

	"floorsight/app/store"
)

// SNDetail is one serial-level drill-down row. The last_* fields describe
// the context row chosen for the slice (the latest matching raw entry).
type SNDetail struct {
	SN             string `json:"sn"`
	Result         string `json:"result"` // PASS, FAIL or PASS/FAIL
	IsPass         int    `json:"is_pass"`
	IsBonepile     int    `json:"is_bonepile"`
	PassCAMS       *int64 `json:"pass_ca_ms"`
	FailCAMS       *int64 `json:"fail_ca_ms,omitempty"`
	LastCAMS       *int64 `json:"last_ca_ms,omitempty"`
	LastFilename   string `json:"last_filename"`
	LastStation    string `json:"last_station"`
	LastPartNumber string `json:"last_part_number"`
	LastFolderID   string `json:"last_folder_id"`
	LastFolderPath string `json:"last_folder_path"`
}

func anyBonepile(tests []store.RawEntry) bool {
	for _, t := range tests {
		if t.Bonepile() {
			return true
		}
	}
	return false
}

// laterEntry orders rows by (ca_ms, filename).
func laterEntry(a *store.RawEntry, b store.RawEntry) bool {
	if a == nil {
		return true
	}
	if a.CAMS != b.CAMS {
		return a.CAMS < b.CAMS
	}
	return a.Filename < b.Filename
}

func fillContext(d *SNDetail, row *store.RawEntry) {
	if row == nil {
		return
	}
	d.LastFilename = row.Filename
	d.LastStation = row.Station
	d.LastPartNumber = row.PartNumber
	d.LastFolderPath = row.FolderPath
	if row.FolderPath != "" {
		d.LastFolderID = filepath.Base(row.FolderPath)
	}
}

// ComputeSNDetails builds the "overall" drill-down: one row per serial with
// its final-pass result, latest pass/fail times and latest-seen context,
// sorted by last-seen time descending.
func ComputeSNDetails(rows []store.RawEntry) []SNDetail {
	snMap := groupBySN(rows)
	out := make([]SNDetail, 0, len(snMap))
	for sn, tests := range snMap {
		var (
			passMS, failMS *int64
			lastRow        *store.RawEntry
		)
		for i := range tests {
			t := tests[i]
			if t.Status == "F" && (failMS == nil || t.CAMS > *failMS) {
				ms := t.CAMS
				failMS = &ms
			}
			if IsFinalPass(t.Status, t.Station, t.PartNumber) && (passMS == nil || t.CAMS > *passMS) {
				ms := t.CAMS
				passMS = &ms
			}
			if laterEntry(lastRow, t) {
				lastRow = &tests[i]
			}
		}

		d := SNDetail{SN: sn, Result: "FAIL", PassCAMS: passMS, FailCAMS: failMS}
		if passMS != nil {
			d.Result = "PASS"
			d.IsPass = 1
		}
		if anyBonepile(tests) {
			d.IsBonepile = 1
		}
		if lastRow != nil {
			ms := lastRow.CAMS
			d.LastCAMS = &ms
			fillContext(&d, lastRow)
		}
		out = append(out, d)
	}
	sortDetailsDesc(out, func(d SNDetail) *int64 { return d.LastCAMS })
	return out
}

// ComputeStationSNList builds the drill-down for one station and one
// outcome ("pass" or "fail"): serials with at least one matching row at
// that station, contextualized by the latest such match. sku optionally
// restricts to serials whose latest part number in the slice equals it.
func ComputeStationSNList(rows []store.RawEntry, station, outcome, sku string) []SNDetail {
	st := strings.ToUpper(strings.TrimSpace(station))
	wantStatus := "F"
	result := "FAIL"
	if outcome == "pass" {
		wantStatus = "P"
		result = "PASS"
	}

	snMap := groupBySN(rows)
	out := make([]SNDetail, 0)
	for sn, tests := range snMap {
		if sku != "" && latestPartNumber(tests) != sku {
			continue
		}
		var best *store.RawEntry
		for i := range tests {
			t := tests[i]
			if strings.ToUpper(strings.TrimSpace(t.Station)) != st {
				continue
			}
			if strings.ToUpper(strings.TrimSpace(t.Status)) != wantStatus {
				continue
			}
			if laterEntry(best, t) {
				best = &tests[i]
			}
		}
		if best == nil {
			continue
		}

		ms := best.CAMS
		d := SNDetail{SN: sn, Result: result, PassCAMS: &ms}
		if outcome == "pass" {
			d.IsPass = 1
		}
		if anyBonepile(tests) {
			d.IsBonepile = 1
		}
		fillContext(&d, best)
		out = append(out, d)
	}
	sortDetailsDesc(out, func(d SNDetail) *int64 { return d.PassCAMS })
	return out
}

// ComputeStationSNListBoth builds the combined pass+fail drill-down for one
// station: unique serials with any P or F row there; a serial with both
// reports result "PASS/FAIL". The context row is the later of the latest P
// and latest F.
func ComputeStationSNListBoth(rows []store.RawEntry, station, sku string) []SNDetail {
	st := strings.ToUpper(strings.TrimSpace(station))

	snMap := groupBySN(rows)
	out := make([]SNDetail, 0)
	for sn, tests := range snMap {
		if sku != "" && latestPartNumber(tests) != sku {
			continue
		}
		var bestP, bestF *store.RawEntry
		for i := range tests {
			t := tests[i]
			if strings.ToUpper(strings.TrimSpace(t.Station)) != st {
				continue
			}
			switch strings.ToUpper(strings.TrimSpace(t.Status)) {
			case "P":
				if laterEntry(bestP, t) {
					bestP = &tests[i]
				}
			case "F":
				if laterEntry(bestF, t) {
					bestF = &tests[i]
				}
			}
		}
		if bestP == nil && bestF == nil {
			continue
		}

		var result string
		context := bestP
		switch {
		case bestP != nil && bestF != nil:
			result = "PASS/FAIL"
			if laterEntry(bestP, *bestF) {
				context = bestF
			}
		case bestP != nil:
			result = "PASS"
		default:
			result = "FAIL"
			context = bestF
		}

		ms := context.CAMS
		d := SNDetail{SN: sn, Result: result, PassCAMS: &ms}
		if strings.HasPrefix(result, "PASS") {
			d.IsPass = 1
		}
		if anyBonepile(tests) {
			d.IsBonepile = 1
		}
		fillContext(&d, context)
		out = append(out, d)
	}
	sortDetailsDesc(out, func(d SNDetail) *int64 { return d.PassCAMS })
	return out
}

func sortDetailsDesc(out []SNDetail, key func(SNDetail) *int64) {
	sort.Slice(out, func(i, j int) bool {
		ki, kj := int64(0), int64(0)
		if v := key(out[i]); v != nil {
			ki = *v
		}
		if v := key(out[j]); v != nil {
			kj = *v
		}
		if ki != kj {
			return ki > kj
		}
		return out[i].SN > out[j].SN
	})
}
