// Package scanner walks the test-floor share and turns zip filenames into
// cached raw entries. The share is laid out by Taiwan calendar date; windows
// are expressed in California time, so each scan maps its window to the
// Taiwan dates that could contain it (with a day of margin on each side).
package scanner

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"

	"floorsight/app/parser"
	"floorsight/app/state"
	"floorsight/app/store"
	"floorsight/app/timestamps"
)

// insertBatch is the number of parsed rows buffered per database write.
const insertBatch = 2000

// Counters are the per-scan funnel statistics. Files drop out silently at
// each stage; the counters are the only record of how many did.
type Counters struct {
	VisitedZip int `json:"visited_zip"`
	ParsedOK   int `json:"parsed_ok"`
	TSOK       int `json:"ts_ok"`
	InRange    int `json:"in_range"`
}

// Coverage reports the cache's min/max ca_ms after the scan.
type Coverage struct {
	MinCAMS *int64 `json:"min_ca_ms"`
	MaxCAMS *int64 `json:"max_ca_ms"`
}

// Result summarizes one scan.
type Result struct {
	OK            bool     `json:"ok"`
	Error         string   `json:"error,omitempty"`
	ScannedTWDays int      `json:"scanned_tw_days,omitempty"`
	Inserted      int64    `json:"inserted"`
	Counters      Counters `json:"counters"`
	Coverage      Coverage `json:"coverage"`
}

// Scanner reads the share and writes to the cache store. Callers serialize
// scans through the engine's scan lock.
type Scanner struct {
	Root  string
	Store *store.Store
	Log   zerolog.Logger
}

// ScanRange scans the share for a California window and stores parsed
// entries. It mutates st's coverage fields from the data actually present
// after the scan; the caller persists st.
func (sc *Scanner) ScanRange(ctx context.Context, startCA, endCA time.Time, st *state.State) Result {
	// Never scan beyond "now" in CA time; second precision keeps the
	// refresh window near-real-time.
	nowCA := timestamps.NowCA()
	if endCA.After(nowCA) {
		endCA = nowCA
	}
	if startCA.After(nowCA) {
		return Result{Error: "start is in the future"}
	}
	if !endCA.After(startCA) {
		return Result{Error: "end must be after start"}
	}

	twDates := timestamps.TWDatesForCARange(startCA, endCA)
	startMS := startCA.UnixMilli()
	endMS := endCA.UnixMilli()

	var (
		counters Counters
		inserted int64
		batch    []store.RawEntry
	)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		n, err := sc.Store.InsertRawEntries(ctx, batch)
		if err != nil {
			sc.Log.Error().Err(err).Int("batch", len(batch)).Msg("insert raw entries failed")
		}
		inserted += n
		batch = batch[:0]
	}

	for _, twDate := range twDates {
		dayDir := filepath.Join(sc.Root,
			twDate.Format("2006"), twDate.Format("01"), twDate.Format("02"))
		if info, err := os.Stat(dayDir); err != nil || !info.IsDir() {
			continue
		}
		matches, err := doublestar.FilepathGlob(filepath.Join(dayDir, "**", "*.zip"))
		if err != nil {
			// Share-level I/O problems are skipped per directory; the scan
			// stays best-effort.
			sc.Log.Warn().Err(err).Str("dir", dayDir).Msg("day directory walk failed")
			continue
		}
		for _, match := range matches {
			counters.VisitedZip++
			fn := filepath.Base(match)
			parsed, ok := parser.Parse(fn)
			if !ok {
				continue
			}
			counters.ParsedOK++
			ts, ok := parser.Timestamp(fn)
			if !ok {
				continue
			}
			counters.TSOK++
			buckets := timestamps.CABuckets(ts)
			if buckets.MS < startMS || buckets.MS > endMS {
				continue
			}
			counters.InRange++

			entry := store.RawEntry{
				UTCMS:      ts.UnixMilli(),
				CAMS:       buckets.MS,
				CADate:     buckets.Date,
				CAHour:     buckets.Hour,
				CAWeek:     buckets.Week,
				CAMonth:    buckets.Month,
				Filename:   fn,
				FolderPath: filepath.Dir(match),
				SN:         parsed.SN,
				Status:     parsed.Status,
				Station:    parsed.Station,
				PartNumber: parsed.PartNumber,
			}
			switch flag, pbID := parser.SourceToken(fn); flag {
			case parser.BonepileFresh:
				zero := int64(0)
				entry.IsBonepile = &zero
			case parser.BonepileMarked:
				one := int64(1)
				entry.IsBonepile = &one
				entry.PBID = pbID
			}

			key := state.EntryKey{UTCMS: entry.UTCMS, Filename: fn}
			if st.MinKey == nil || key.Less(*st.MinKey) {
				k := key
				st.MinKey = &k
				st.MinPath = entry.FolderPath
			}
			if st.MaxKey == nil || st.MaxKey.Less(key) {
				k := key
				st.MaxKey = &k
				st.MaxPath = entry.FolderPath
			}

			batch = append(batch, entry)
			if len(batch) >= insertBatch {
				flush()
			}
		}
	}
	flush()

	// Coverage reflects data actually present, not the requested window, so
	// "covered" can never race ahead of ingest.
	res := Result{
		OK:            true,
		ScannedTWDays: len(twDates),
		Inserted:      inserted,
		Counters:      counters,
	}
	if minMS, maxMS, ok, err := sc.Store.DataRange(ctx); err == nil && ok {
		st.SetCoverage(minMS, maxMS)
		res.Coverage = Coverage{MinCAMS: &minMS, MaxCAMS: &maxMS}
	}
	lastScan := timestamps.NowCA().UnixMilli()
	st.LastScanCAMS = &lastScan

	sc.Log.Info().
		Int("tw_days", res.ScannedTWDays).
		Int64("inserted", inserted).
		Int("visited_zip", counters.VisitedZip).
		Int("in_range", counters.InRange).
		Msg("scan complete")
	return res
}
