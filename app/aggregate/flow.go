package aggregate

import (
	"sort"
	"strings"

	"floorsight/app/store"
)

// StationPF counts unique serials with at least one pass and at least one
// fail row at a station. A retested serial may be counted in both.
type StationPF struct {
	Pass int `json:"pass"`
	Fail int `json:"fail"`
}

// FlowRow is one SKU line of the station-flow table, grouped by TS family.
type FlowRow struct {
	TS       string               `json:"ts"`
	SKU      string               `json:"sku"`
	Stations map[string]StationPF `json:"stations"`
}

// TestFlow is the full station-flow table: per-station totals plus per-SKU
// rows in TS-family then SKU order.
type TestFlow struct {
	Stations []string             `json:"stations"`
	Totals   map[string]StationPF `json:"totals"`
	Rows     []FlowRow            `json:"rows"`
}

// ComputeTestFlow counts unique serials passing and failing at each station
// in the fixed order FLA→FLB→AST→FTS→FCT→RIN→NVL. Stations outside the
// fixed set are ignored.
func ComputeTestFlow(rows []store.RawEntry) TestFlow {
	known := make(map[string]bool, len(Stations))
	for _, st := range Stations {
		known[st] = true
	}

	snTests := groupBySN(rows)
	snLatestPart := make(map[string]string, len(snTests))
	for sn, tests := range snTests {
		snLatestPart[sn] = latestPartNumber(tests)
	}

	type pfSets struct{ pass, fail map[string]struct{} }
	newSets := func() map[string]*pfSets {
		m := make(map[string]*pfSets, len(Stations))
		for _, st := range Stations {
			m[st] = &pfSets{pass: make(map[string]struct{}), fail: make(map[string]struct{})}
		}
		return m
	}

	totalSets := newSets()
	skuSets := make(map[string]map[string]*pfSets)

	for sn, tests := range snTests {
		sku := snLatestPart[sn]
		if skuSets[sku] == nil {
			skuSets[sku] = newSets()
		}
		for _, t := range tests {
			st := strings.ToUpper(strings.TrimSpace(t.Station))
			if !known[st] {
				continue
			}
			switch strings.ToUpper(strings.TrimSpace(t.Status)) {
			case "P":
				totalSets[st].pass[sn] = struct{}{}
				skuSets[sku][st].pass[sn] = struct{}{}
			case "F":
				totalSets[st].fail[sn] = struct{}{}
				skuSets[sku][st].fail[sn] = struct{}{}
			}
		}
	}

	totals := make(map[string]StationPF, len(Stations))
	for _, st := range Stations {
		totals[st] = StationPF{Pass: len(totalSets[st].pass), Fail: len(totalSets[st].fail)}
	}

	out := make([]FlowRow, 0, len(skuSets))
	for sku, sets := range skuSets {
		row := FlowRow{TS: TSGroup(sku), SKU: sku, Stations: make(map[string]StationPF, len(Stations))}
		for _, st := range Stations {
			row.Stations[st] = StationPF{Pass: len(sets[st].pass), Fail: len(sets[st].fail)}
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		gi, ni := tsSortKey(out[i].TS)
		gj, nj := tsSortKey(out[j].TS)
		if gi != gj {
			return gi < gj
		}
		if ni != nj {
			return ni < nj
		}
		return out[i].SKU < out[j].SKU
	})

	return TestFlow{Stations: Stations, Totals: totals, Rows: out}
}
