package app

import (
	"context"
	"strconv"
	"strings"
	"time"

	"floorsight/app/aggregate"
	"floorsight/app/cache"
	"floorsight/app/store"
)

// skuRowsCap bounds the SKU table returned per query.
const skuRowsCap = 200

// snListCap bounds drill-down lists; count reports the uncapped total.
const snListCap = 5000

// QueryCounts reports the raw slice size behind a query.
type QueryCounts struct {
	RawRows   int `json:"raw_rows"`
	UniqueSNs int `json:"unique_sns"`
}

// QueryCoverage is the data coverage at query time.
type QueryCoverage struct {
	MinCAMS *int64 `json:"min_ca_ms"`
	MaxCAMS *int64 `json:"max_ca_ms"`
}

// QueryResult is the /api/query payload. Queries never trigger scans; the
// coverage flag tells the UI whether the window was fully inside the cache.
type QueryResult struct {
	NeedsScan      bool                     `json:"needs_scan"`
	Aggregation    string                   `json:"aggregation"`
	Summary        aggregate.Summary        `json:"summary"`
	SKURows        []aggregate.SKURow       `json:"sku_rows"`
	BreakdownRows  []aggregate.BreakdownRow `json:"breakdown_rows"`
	Counts         QueryCounts              `json:"counts"`
	Coverage       QueryCoverage            `json:"coverage"`
	IsFullyCovered bool                     `json:"is_fully_covered"`
	TestFlow       aggregate.TestFlow       `json:"test_flow"`
}

// NormalizeAggregation folds unknown aggregation values to daily.
func NormalizeAggregation(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "weekly":
		return "weekly"
	case "monthly":
		return "monthly"
	default:
		return "daily"
	}
}

func (a *App) rowsInRange(ctx context.Context, startCA, endCA time.Time) ([]store.RawEntry, error) {
	return a.Store.EntriesInRange(ctx, startCA.UnixMilli(), endCA.UnixMilli())
}

// RawRows exposes the raw slice behind a window for exports.
func (a *App) RawRows(ctx context.Context, startCA, endCA time.Time) ([]store.RawEntry, error) {
	return a.rowsInRange(ctx, startCA, endCA)
}

func msKey(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

// Query computes the dashboard payload for a window from whatever is in the
// cache. Results are memoized per store generation.
func (a *App) Query(ctx context.Context, startCA, endCA time.Time, aggregation string) (QueryResult, error) {
	aggregation = NormalizeAggregation(aggregation)
	key := cache.Key(a.Store.Generation(), "query", msKey(startCA), msKey(endCA), aggregation)
	if v, ok := a.Results.Get(key); ok {
		return v.(QueryResult), nil
	}

	rows, err := a.rowsInRange(ctx, startCA, endCA)
	if err != nil {
		return QueryResult{}, err
	}
	stats := aggregate.ComputeStats(rows, aggregation)
	if len(stats.SKURows) > skuRowsCap {
		stats.SKURows = stats.SKURows[:skuRowsCap]
	}

	sns := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		sns[r.SN] = struct{}{}
	}

	res := QueryResult{
		Aggregation:   aggregation,
		Summary:       stats.Summary,
		SKURows:       stats.SKURows,
		BreakdownRows: stats.BreakdownRows,
		Counts:        QueryCounts{RawRows: len(rows), UniqueSNs: len(sns)},
		TestFlow:      aggregate.ComputeTestFlow(rows),
	}
	if minMS, maxMS, ok, err := a.Store.DataRange(ctx); err == nil && ok {
		res.Coverage = QueryCoverage{MinCAMS: &minMS, MaxCAMS: &maxMS}
		res.IsFullyCovered = startCA.UnixMilli() >= minMS && endCA.UnixMilli() <= maxMS
	}
	res.NeedsScan = !res.IsFullyCovered

	a.Results.Put(key, res)
	return res, nil
}

// SNListParams narrows a serial drill-down.
type SNListParams struct {
	Segment        string // bp | fresh | total
	Metric         string // tested | pass | fail
	SKU            string
	Period         string
	Aggregation    string
	Station        string
	StationOutcome string // pass | fail | both
}

// SNListResult is the /api/sn-list payload. Rows are capped; Count is the
// total before capping.
type SNListResult struct {
	Segment     string               `json:"segment"`
	Metric      string               `json:"metric"`
	SKU         string               `json:"sku,omitempty"`
	Period      string               `json:"period,omitempty"`
	Aggregation string               `json:"aggregation,omitempty"`
	Count       int                  `json:"count"`
	Rows        []aggregate.SNDetail `json:"rows"`
}

// SNList computes a serial drill-down for a window, optionally narrowed to a
// time bucket, a station outcome, a SKU and a segment/metric cell.
func (a *App) SNList(ctx context.Context, startCA, endCA time.Time, p SNListParams) (SNListResult, error) {
	segment := strings.ToLower(strings.TrimSpace(p.Segment))
	if segment != "bp" && segment != "fresh" {
		segment = "total"
	}
	metric := strings.ToLower(strings.TrimSpace(p.Metric))
	if metric != "pass" && metric != "fail" {
		metric = "tested"
	}
	outcome := strings.ToLower(strings.TrimSpace(p.StationOutcome))
	aggregation := strings.ToLower(strings.TrimSpace(p.Aggregation))
	sku := strings.TrimSpace(p.SKU)

	key := cache.Key(a.Store.Generation(), "sn-list", msKey(startCA), msKey(endCA),
		segment, metric, sku, p.Period, aggregation, p.Station, outcome)
	if v, ok := a.Results.Get(key); ok {
		return v.(SNListResult), nil
	}

	rows, err := a.rowsInRange(ctx, startCA, endCA)
	if err != nil {
		return SNListResult{}, err
	}

	// Time-bucket drilldown narrows the raw slice before grouping.
	if p.Period != "" {
		switch aggregation {
		case "daily", "weekly", "monthly":
			filtered := rows[:0]
			for _, r := range rows {
				bucket := r.CADate
				if aggregation == "weekly" {
					bucket = r.CAWeek
				} else if aggregation == "monthly" {
					bucket = r.CAMonth
				}
				if bucket == p.Period {
					filtered = append(filtered, r)
				}
			}
			rows = filtered
		}
	}

	var details []aggregate.SNDetail
	switch {
	case p.Station != "" && (outcome == "pass" || outcome == "fail"):
		details = aggregate.ComputeStationSNList(rows, p.Station, outcome, sku)
	case p.Station != "" && outcome == "both":
		details = aggregate.ComputeStationSNListBoth(rows, p.Station, sku)
	default:
		details = aggregate.ComputeSNDetails(rows)
	}

	filtered := details[:0]
	for _, d := range details {
		if sku != "" && d.LastPartNumber != sku {
			continue
		}
		if segment == "bp" && d.IsBonepile != 1 {
			continue
		}
		if segment == "fresh" && d.IsBonepile != 0 {
			continue
		}
		if metric == "pass" && d.IsPass != 1 {
			continue
		}
		if metric == "fail" && d.IsPass != 0 {
			continue
		}
		filtered = append(filtered, d)
	}

	res := SNListResult{
		Segment:     segment,
		Metric:      metric,
		SKU:         p.SKU,
		Period:      p.Period,
		Aggregation: aggregation,
		Count:       len(filtered),
		Rows:        filtered,
	}
	if len(res.Rows) > snListCap {
		res.Rows = res.Rows[:snListCap]
	}
	a.Results.Put(key, res)
	return res, nil
}

func ptrOrNil(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

// DispositionStats computes the NV-disposition dashboard for an optional
// window.
func (a *App) DispositionStats(ctx context.Context, startCA, endCA *time.Time, aggregation string) (aggregate.DispositionStats, error) {
	aggregation = NormalizeAggregation(aggregation)
	keyParts := []string{"disposition", aggregation}
	if startCA != nil && endCA != nil {
		keyParts = append(keyParts, msKey(*startCA), msKey(*endCA))
	}
	key := cache.Key(a.Store.Generation(), keyParts...)
	if v, ok := a.Results.Get(key); ok {
		return v.(aggregate.DispositionStats), nil
	}

	rows, err := a.Store.BonepileEntries(ctx)
	if err != nil {
		return aggregate.DispositionStats{}, err
	}
	res := aggregate.ComputeDispositionStats(rows, aggregation, ptrOrNil(startCA), ptrOrNil(endCA))
	a.Results.Put(key, res)
	return res, nil
}

// DispositionSNList computes the drill-down behind one disposition KPI.
func (a *App) DispositionSNList(ctx context.Context, metric, sku, period, aggregation string, startCA, endCA *time.Time) ([]aggregate.DispositionRow, error) {
	aggregation = NormalizeAggregation(aggregation)
	rows, err := a.Store.BonepileEntries(ctx)
	if err != nil {
		return nil, err
	}
	return aggregate.ComputeDispositionSNList(rows, metric, sku, period, aggregation, ptrOrNil(startCA), ptrOrNil(endCA)), nil
}
