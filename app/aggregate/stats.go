package aggregate

import (
	"sort"

	"floorsight/app/store"
)

// MetricSet is one column of the summary matrix.
type MetricSet struct {
	Tested int `json:"tested"`
	Pass   int `json:"pass"`
	Fail   int `json:"fail"`
}

// Summary is the tested/pass/fail × bonepile/fresh/total matrix over unique
// serials in the window.
type Summary struct {
	BP    MetricSet `json:"bp"`
	Fresh MetricSet `json:"fresh"`
	Total MetricSet `json:"total"`
}

// SKURow is one row of the per-SKU table; serials are assigned to their
// latest part number within the window.
type SKURow struct {
	SKU    string `json:"sku"`
	Tested int    `json:"tested"`
	Pass   int    `json:"pass"`
	Fail   int    `json:"fail"`
}

// BreakdownRow is one time bucket of the daily/weekly/monthly breakdown.
type BreakdownRow struct {
	Period   string  `json:"period"`
	Tested   int     `json:"tested"`
	Passed   int     `json:"passed"`
	Bonepile int     `json:"bonepile"`
	Fresh    int     `json:"fresh"`
	PassRate float64 `json:"pass_rate"`
}

// Stats bundles the summary matrix, SKU table and time breakdown.
type Stats struct {
	Summary       Summary        `json:"summary"`
	SKURows       []SKURow       `json:"sku_rows"`
	BreakdownRows []BreakdownRow `json:"breakdown_rows"`
}

// ComputeStats derives the summary matrix, SKU table and breakdown from raw
// rows in a window. A serial is a pass when any of its rows is a final pass;
// it is bonepile when any of its rows carries a PB marker.
func ComputeStats(rows []store.RawEntry, aggregation string) Stats {
	snTests := groupBySN(rows)

	snIsBP := make(map[string]bool, len(snTests))
	snPass := make(map[string]bool, len(snTests))
	snLatestPart := make(map[string]string, len(snTests))

	for sn, tests := range snTests {
		isBP := false
		isPass := false
		latestPart := "Unknown"
		bestUTC := int64(-1)
		bestFn := ""
		for _, t := range tests {
			if t.Bonepile() {
				isBP = true
			}
			if IsFinalPass(t.Status, t.Station, t.PartNumber) {
				isPass = true
			}
			if t.UTCMS > bestUTC || (t.UTCMS == bestUTC && t.Filename > bestFn) {
				bestUTC = t.UTCMS
				bestFn = t.Filename
				if t.PartNumber != "" {
					latestPart = t.PartNumber
				} else {
					latestPart = "Unknown"
				}
			}
		}
		snIsBP[sn] = isBP
		snPass[sn] = isPass
		snLatestPart[sn] = latestPart
	}

	var summary Summary
	summary.Total.Tested = len(snTests)
	for sn := range snTests {
		if snPass[sn] {
			summary.Total.Pass++
			if snIsBP[sn] {
				summary.BP.Pass++
			}
		}
		if snIsBP[sn] {
			summary.BP.Tested++
		}
	}
	summary.Fresh.Tested = summary.Total.Tested - summary.BP.Tested
	summary.Fresh.Pass = summary.Total.Pass - summary.BP.Pass
	summary.Total.Fail = summary.Total.Tested - summary.Total.Pass
	summary.BP.Fail = summary.BP.Tested - summary.BP.Pass
	summary.Fresh.Fail = summary.Fresh.Tested - summary.Fresh.Pass

	// SKU table over unique serials.
	skuStats := make(map[string]*SKURow)
	for sn := range snTests {
		sku := snLatestPart[sn]
		if sku == "" {
			sku = "Unknown"
		}
		row, ok := skuStats[sku]
		if !ok {
			row = &SKURow{SKU: sku}
			skuStats[sku] = row
		}
		row.Tested++
		if snPass[sn] {
			row.Pass++
		} else {
			row.Fail++
		}
	}
	skuRows := make([]SKURow, 0, len(skuStats))
	for _, row := range skuStats {
		skuRows = append(skuRows, *row)
	}
	sort.Slice(skuRows, func(i, j int) bool {
		if skuRows[i].Tested != skuRows[j].Tested {
			return skuRows[i].Tested > skuRows[j].Tested
		}
		return skuRows[i].SKU < skuRows[j].SKU
	})

	// Time breakdown. A serial appearing in multiple buckets is counted in
	// each; pass/bonepile are judged from the rows inside the bucket only.
	bucketKey := func(r store.RawEntry) string {
		switch aggregation {
		case "weekly":
			return r.CAWeek
		case "monthly":
			return r.CAMonth
		default:
			return r.CADate
		}
	}
	bucketSNTests := make(map[string]map[string][]store.RawEntry)
	for _, r := range rows {
		b := bucketKey(r)
		if bucketSNTests[b] == nil {
			bucketSNTests[b] = make(map[string][]store.RawEntry)
		}
		bucketSNTests[b][r.SN] = append(bucketSNTests[b][r.SN], r)
	}
	breakdown := make([]BreakdownRow, 0, len(bucketSNTests))
	for bucket, snMap := range bucketSNTests {
		row := BreakdownRow{Period: bucket, Tested: len(snMap)}
		for _, tests := range snMap {
			bp := false
			passed := false
			for _, t := range tests {
				if t.Bonepile() {
					bp = true
				}
				if IsFinalPass(t.Status, t.Station, t.PartNumber) {
					passed = true
				}
			}
			if bp {
				row.Bonepile++
			}
			if passed {
				row.Passed++
			}
		}
		row.Fresh = row.Tested - row.Bonepile
		if row.Tested > 0 {
			row.PassRate = float64(row.Passed) / float64(row.Tested)
		}
		breakdown = append(breakdown, row)
	}
	sort.Slice(breakdown, func(i, j int) bool { return breakdown[i].Period < breakdown[j].Period })

	return Stats{Summary: summary, SKURows: skuRows, BreakdownRows: breakdown}
}
