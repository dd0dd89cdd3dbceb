// Package aggregate computes every dashboard figure from cached rows. All
// functions are pure over their inputs; nothing here touches the share or
// triggers scans.
package aggregate

import (
	"regexp"
	"strconv"
	"strings"

	"floorsight/app/store"
)

// Stations is the fixed station order used by the flow table and exports.
var Stations = []string{"FLA", "FLB", "AST", "FTS", "FCT", "RIN", "NVL"}

// passAtFCT overrides the pass-station lookup for specific part numbers.
// The table is expected to grow; do not infer patterns from SKU names
// beyond the TS2 default below.
var passAtFCT = map[string]struct{}{
	"675-24109-0010-TS2": {},
}

// PassStationFor returns the station at which a 'P' row counts as a final
// pass for the given part number: FCT by default, NVL for TS2 SKUs, with
// the override table taking priority.
func PassStationFor(partNumber string) string {
	pn := strings.ToUpper(strings.TrimSpace(partNumber))
	if _, ok := passAtFCT[pn]; ok {
		return "FCT"
	}
	if strings.Contains(pn, "TS2") {
		return "NVL"
	}
	return "FCT"
}

// IsFinalPass reports whether a raw row counts a unit as passed. Rows with
// a missing or Unknown part number never do; the rule stays strict so the
// dashboard never overcounts.
func IsFinalPass(status, station, partNumber string) bool {
	if status != "P" {
		return false
	}
	pn := strings.TrimSpace(partNumber)
	if pn == "" || strings.EqualFold(pn, "unknown") {
		return false
	}
	st := strings.ToUpper(strings.TrimSpace(station))
	return st == PassStationFor(pn)
}

var reTSGroup = regexp.MustCompile(`\bTS(\d+)\b`)

// TSGroup extracts the TS-family token from a SKU ("TS1", "TS2", …), or
// "TS?" when the SKU carries none.
func TSGroup(partNumber string) string {
	m := reTSGroup.FindStringSubmatch(strings.ToUpper(partNumber))
	if m == nil {
		return "TS?"
	}
	n, _ := strconv.Atoi(m[1])
	return "TS" + strconv.Itoa(n)
}

// tsSortKey orders TS groups numerically with "TS?" last.
func tsSortKey(ts string) (int, int) {
	if m := regexp.MustCompile(`^TS(\d+)$`).FindStringSubmatch(ts); m != nil {
		n, _ := strconv.Atoi(m[1])
		return 0, n
	}
	return 1, 999
}

// groupBySN buckets rows per serial, preserving input order within each.
func groupBySN(rows []store.RawEntry) map[string][]store.RawEntry {
	m := make(map[string][]store.RawEntry)
	for _, r := range rows {
		m[r.SN] = append(m[r.SN], r)
	}
	return m
}

// latestPartNumber returns the part number of the row with the largest
// (ca_ms, filename) key, or "Unknown" for an empty slice.
func latestPartNumber(tests []store.RawEntry) string {
	bestMS := int64(-1)
	bestFn := ""
	pn := "Unknown"
	for _, t := range tests {
		if t.CAMS > bestMS || (t.CAMS == bestMS && t.Filename > bestFn) {
			bestMS = t.CAMS
			bestFn = t.Filename
			if t.PartNumber != "" {
				pn = t.PartNumber
			} else {
				pn = "Unknown"
			}
		}
	}
	return pn
}
