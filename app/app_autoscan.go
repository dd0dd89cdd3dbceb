package app

import (
	"context"
	"time"

	"floorsight/app/timestamps"
)

// retentionEvery is the minimum spacing between retention sweeps.
const retentionEvery = 12 * time.Hour

// RunAutoScan runs the background scheduler until ctx is cancelled. Each
// tick wipes and rescans the trailing refresh window so recent data stays
// fresh, then runs the retention sweep at most every 12 hours. The loop
// always sleeps the full interval after a tick, so a slow share cannot make
// it scan nonstop.
func (a *App) RunAutoScan(ctx context.Context) {
	var lastCleanup time.Time
	interval := a.Cfg.AutoScanInterval()

	for {
		a.autoScanTick(ctx)

		if time.Since(lastCleanup) >= retentionEvery {
			a.retentionSweep(ctx)
			lastCleanup = time.Now()
		}

		next := time.Now().Add(interval).UnixMilli()
		a.statusMu.Lock()
		a.nextAutoScanMS = &next
		a.statusMu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func (a *App) autoScanTick(ctx context.Context) {
	nowCA := timestamps.NowCA()
	startCA := nowCA.Add(-a.Cfg.RefreshWindow())

	a.scanMu.Lock()
	defer a.scanMu.Unlock()

	// Delete the refresh window first so the rescan's INSERT OR IGNORE
	// accepts every file currently in it.
	if _, err := a.Store.DeleteRawSince(ctx, startCA.UnixMilli()); err != nil {
		a.Log.Error().Err(err).Msg("refresh window delete failed")
		return
	}
	a.scanRangeLocked(ctx, startCA, nowCA)
}

// retentionSweep archives then deletes raw entries older than the retention
// horizon, clamps scan coverage forward and prunes old archives. Best
// effort: failures are logged and the next sweep retries.
func (a *App) retentionSweep(ctx context.Context) {
	nowCA := timestamps.NowCA()
	cutoffMS := nowCA.AddDate(0, 0, -a.Cfg.RetentionDays).UnixMilli()

	a.scanMu.Lock()
	defer a.scanMu.Unlock()

	old, err := a.Store.EntriesBefore(ctx, cutoffMS)
	if err != nil {
		a.Log.Error().Err(err).Msg("retention query failed")
		return
	}
	if len(old) > 0 {
		path, err := a.archiver.Archive(old)
		if err != nil {
			a.Log.Error().Err(err).Msg("retention archive failed; keeping rows")
			return
		}
		deleted, err := a.Store.DeleteRawBefore(ctx, cutoffMS)
		if err != nil {
			a.Log.Error().Err(err).Msg("retention delete failed")
			return
		}
		a.Log.Info().Int64("deleted", deleted).Str("archive", path).Msg("retention sweep")
	}

	// Clamp scan coverage forward so the UI never claims coverage of purged time.
	s := a.States.Load()
	changed := false
	if minMS, maxMS, ok, err := a.Store.DataRange(ctx); err == nil && ok {
		if s.MinCAMS == nil || *s.MinCAMS < minMS {
			s.MinCAMS = &minMS
			changed = true
		}
		if s.MaxCAMS == nil || *s.MaxCAMS < maxMS {
			s.MaxCAMS = &maxMS
			changed = true
		}
	}
	if changed {
		if err := a.States.Save(s); err != nil {
			a.Log.Error().Err(err).Msg("save clamped state failed")
		}
	}

	if err := a.archiver.Prune(time.Duration(a.Cfg.RetentionDays) * 24 * time.Hour); err != nil {
		a.Log.Warn().Err(err).Msg("archive prune failed")
	}

	cleanup := nowCA.UnixMilli()
	a.statusMu.Lock()
	a.lastRetentionCleanupMS = &cleanup
	a.statusMu.Unlock()
}
