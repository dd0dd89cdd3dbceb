package app

import (
	"context"
	"time"

	"floorsight/app/scanner"
	"floorsight/app/timestamps"
)

// scanRangeLocked runs one share scan for the window and persists the updated
// sidecar. Callers hold scanMu.
func (a *App) scanRangeLocked(ctx context.Context, startCA, endCA time.Time) scanner.Result {
	s := a.States.Load()
	res := a.scanner.ScanRange(ctx, startCA, endCA, s)
	if err := a.States.Save(s); err != nil {
		a.Log.Error().Err(err).Msg("save scan state failed")
	}
	return res
}

// CoverageAction records one scan performed while expanding coverage.
type CoverageAction struct {
	Type   string         `json:"type"`
	Range  string         `json:"range"`
	Result scanner.Result `json:"result"`
}

// CoverageResult summarizes an EnsureCoverage call.
type CoverageResult struct {
	OK      bool             `json:"ok"`
	Actions []CoverageAction `json:"actions"`
}

// EnsureCoverage expands cache coverage to include the window, scanning only
// the missing segments. Coverage is always re-derived from the rows actually
// present, healing a sidecar that drifted from the database.
func (a *App) EnsureCoverage(ctx context.Context, startCA, endCA time.Time) CoverageResult {
	nowCA := timestamps.NowCA()
	if endCA.After(nowCA) {
		endCA = nowCA
	}
	if startCA.After(nowCA) {
		startCA = nowCA.Add(-time.Minute)
	}

	a.scanMu.Lock()
	defer a.scanMu.Unlock()

	s := a.States.Load()
	changed := false
	if minMS, maxMS, ok, err := a.Store.DataRange(ctx); err == nil && ok {
		if s.MinCAMS == nil || *s.MinCAMS != minMS {
			s.MinCAMS = &minMS
			changed = true
		}
		if s.MaxCAMS == nil || *s.MaxCAMS != maxMS {
			s.MaxCAMS = &maxMS
			changed = true
		}
	}
	if changed {
		if err := a.States.Save(s); err != nil {
			a.Log.Error().Err(err).Msg("save healed state failed")
		}
	}

	res := CoverageResult{OK: true, Actions: []CoverageAction{}}
	scanAndRecord := func(rangeName string, from, to time.Time) {
		r := a.scanner.ScanRange(ctx, from, to, s)
		if err := a.States.Save(s); err != nil {
			a.Log.Error().Err(err).Msg("save scan state failed")
		}
		res.Actions = append(res.Actions, CoverageAction{Type: "scan", Range: rangeName, Result: r})
	}

	if s.MinCAMS == nil || s.MaxCAMS == nil {
		scanAndRecord("initial", startCA, endCA)
		return res
	}

	startMS := startCA.UnixMilli()
	endMS := endCA.UnixMilli()
	if startMS < *s.MinCAMS {
		scanAndRecord("backfill", startCA, time.UnixMilli(*s.MinCAMS).In(timestamps.CA()))
	}
	if endMS > *s.MaxCAMS {
		scanAndRecord("forward", time.UnixMilli(*s.MaxCAMS).In(timestamps.CA()), endCA)
	}
	return res
}

// StartScanJob queues a background scan for the window and returns the job id.
func (a *App) StartScanJob(startCA, endCA time.Time) string {
	id := a.Jobs.Create("Queued")
	go func() {
		a.Jobs.Start(id, "Scanning...")
		// Window validation errors ride inside the result; the job itself
		// only fails on panics, which we don't recover.
		res := a.EnsureCoverage(context.Background(), startCA, endCA)
		a.Jobs.Done(id, "Scan complete", res)
	}()
	return id
}
