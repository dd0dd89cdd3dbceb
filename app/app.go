// Package app is the engine behind the HTTP surface: it owns the SQLite
// cache, the scan-state sidecar, the background scheduler and the result
// cache, and exposes the operations the handlers call.
package app

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"floorsight/app/archive"
	"floorsight/app/bonepile"
	"floorsight/app/cache"
	"floorsight/app/config"
	"floorsight/app/jobs"
	"floorsight/app/scanner"
	"floorsight/app/state"
	"floorsight/app/store"
)

// resultCacheSize bounds the number of computed query payloads kept in
// memory. Each entry is one dashboard query result.
const resultCacheSize = 128

// App wires together every service of the analytics backend.
type App struct {
	Cfg     config.Config
	Log     zerolog.Logger
	Store   *store.Store
	States  *state.Manager
	Jobs    *jobs.Registry
	Results *cache.Results

	scanner  *scanner.Scanner
	ingestor *bonepile.Ingestor
	archiver *archive.Writer

	// scanMu serializes every raw_entries writer: manual scans, coverage
	// expansion and the auto-scan tick.
	scanMu sync.Mutex

	// statusMu guards the scheduler-published fields below.
	statusMu               sync.Mutex
	nextAutoScanMS         *int64
	lastRetentionCleanupMS *int64
}

// New opens the cache and sidecar and builds the engine. If the store wiped
// raw_entries on open (timestamp-mode change), the sidecar's coverage is
// reset too so the two can never disagree.
func New(cfg config.Config, log zerolog.Logger) (*App, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("create cache dirs: %w", err)
	}
	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}

	a := &App{
		Cfg:     cfg,
		Log:     log,
		Store:   st,
		States:  state.NewManager(cfg.StatePath()),
		Jobs:    jobs.NewRegistry(),
		Results: cache.NewResults(resultCacheSize),
		scanner: &scanner.Scanner{
			Root:  cfg.ShareRoot,
			Store: st,
			Log:   log.With().Str("component", "scanner").Logger(),
		},
		ingestor: &bonepile.Ingestor{
			Store:        st,
			WorkbookPath: cfg.WorkbookPath(),
			Log:          log.With().Str("component", "bonepile").Logger(),
		},
		archiver: &archive.Writer{Dir: cfg.ArchiveDir()},
	}

	if st.WipedOnOpen() {
		log.Warn().Msg("raw cache wiped on open (timestamp mode changed); resetting scan coverage")
		s := a.States.Load()
		s.MinCAMS, s.MaxCAMS = nil, nil
		s.MinKey, s.MaxKey = nil, nil
		s.MinPath, s.MaxPath = "", ""
		s.LastScanCAMS = nil
		if err := a.States.Save(s); err != nil {
			log.Error().Err(err).Msg("save reset state failed")
		}
	}
	return a, nil
}

// Close releases the database.
func (a *App) Close() error { return a.Store.Close() }

// ClearCache is the full manual reset: both data tables, the sidecar, the
// uploaded workbook, the job registry and all computed results. The system
// rescans from scratch afterwards.
func (a *App) ClearCache(ctx context.Context) error {
	a.scanMu.Lock()
	defer a.scanMu.Unlock()

	a.Jobs.Clear()
	if err := a.Store.ClearAll(ctx); err != nil {
		return err
	}
	if err := a.States.Reset(); err != nil {
		return err
	}
	if err := os.Remove(a.Cfg.WorkbookPath()); err != nil && !os.IsNotExist(err) {
		a.Log.Warn().Err(err).Msg("remove workbook failed")
	}
	a.Results.ClearAll()
	a.Log.Info().Msg("cache cleared")
	return nil
}

// CacheStatus is the "cache" block of the status payload.
type CacheStatus struct {
	MinCAMS                *int64          `json:"min_ca_ms"`
	MaxCAMS                *int64          `json:"max_ca_ms"`
	ScanMinCAMS            *int64          `json:"scan_min_ca_ms"`
	ScanMaxCAMS            *int64          `json:"scan_max_ca_ms"`
	MinKey                 *state.EntryKey `json:"min_key"`
	MaxKey                 *state.EntryKey `json:"max_key"`
	MinPath                string          `json:"min_path,omitempty"`
	MaxPath                string          `json:"max_path,omitempty"`
	LastScanCAMS           *int64          `json:"last_scan_ca_ms"`
	ScanIntervalSeconds    int             `json:"scan_interval_seconds"`
	RetentionDays          int             `json:"retention_days"`
	NextAutoScanMS         *int64          `json:"next_auto_scan_ms"`
	LastRetentionCleanupMS *int64          `json:"last_retention_cleanup_ms"`
}

// StatusPayload is the full /api/status body, also streamed over SSE.
type StatusPayload struct {
	Cache    CacheStatus    `json:"cache"`
	Bonepile BonepileStatus `json:"bonepile"`
}

// Status assembles the current status payload. Data coverage comes from the
// rows actually present; scan coverage from the sidecar.
func (a *App) Status(ctx context.Context) StatusPayload {
	s := a.States.Load()

	cs := CacheStatus{
		ScanMinCAMS:         s.MinCAMS,
		ScanMaxCAMS:         s.MaxCAMS,
		MinKey:              s.MinKey,
		MaxKey:              s.MaxKey,
		MinPath:             s.MinPath,
		MaxPath:             s.MaxPath,
		LastScanCAMS:        s.LastScanCAMS,
		ScanIntervalSeconds: a.Cfg.AutoScanEverySeconds,
		RetentionDays:       a.Cfg.RetentionDays,
	}
	if minMS, maxMS, ok, err := a.Store.DataRange(ctx); err == nil && ok {
		cs.MinCAMS = &minMS
		cs.MaxCAMS = &maxMS
	}
	a.statusMu.Lock()
	cs.NextAutoScanMS = a.nextAutoScanMS
	cs.LastRetentionCleanupMS = a.lastRetentionCleanupMS
	a.statusMu.Unlock()

	return StatusPayload{Cache: cs, Bonepile: a.bonepileStatus(s)}
}
