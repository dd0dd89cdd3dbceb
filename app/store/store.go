// Package store is the embedded SQLite cache backing all aggregations.
// One file holds three tables: meta (interpretation version), raw_entries
// (one row per observed test file) and bonepile_entries (one row per
// workbook record per sheet).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"

	_ "modernc.org/sqlite"
)

// TimestampMode versions the interpretation of the filename timestamp
// suffix. The suffix looks like UTC ("…Z") but is California wall clock;
// if this interpretation ever changes the cached CA-derived fields are
// invalid, so the store wipes raw_entries when the stored mode differs.
const TimestampMode = "ca_local_suffix_v3"

const schema = `
CREATE TABLE IF NOT EXISTS meta (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS raw_entries (
  utc_ms INTEGER NOT NULL,
  ca_ms INTEGER NOT NULL,
  ca_date TEXT NOT NULL,
  ca_hour INTEGER NOT NULL,
  ca_week TEXT NOT NULL,
  ca_month TEXT NOT NULL,
  filename TEXT NOT NULL,
  folder_path TEXT NOT NULL,
  sn TEXT NOT NULL,
  status TEXT NOT NULL,
  station TEXT NOT NULL,
  part_number TEXT NOT NULL,
  is_bonepile INTEGER,
  pb_id TEXT,
  PRIMARY KEY (utc_ms, filename)
);
CREATE INDEX IF NOT EXISTS idx_raw_ca_ms ON raw_entries (ca_ms);
CREATE INDEX IF NOT EXISTS idx_raw_sn_ca ON raw_entries (sn, ca_ms);
CREATE INDEX IF NOT EXISTS idx_raw_ca_date ON raw_entries (ca_date);
CREATE INDEX IF NOT EXISTS idx_raw_ca_week ON raw_entries (ca_week);
CREATE INDEX IF NOT EXISTS idx_raw_ca_month ON raw_entries (ca_month);
CREATE TABLE IF NOT EXISTS bonepile_entries (
  sheet TEXT NOT NULL,
  excel_row INTEGER NOT NULL,
  sn TEXT NOT NULL,
  nvpn TEXT,
  status TEXT,
  pic TEXT,
  igs_status TEXT,
  nv_disposition TEXT,
  igs_action TEXT,
  nv_dispo_count INTEGER,
  igs_action_count INTEGER,
  updated_at_ca_ms INTEGER,
  PRIMARY KEY (sheet, excel_row)
);
CREATE INDEX IF NOT EXISTS idx_bp_sn ON bonepile_entries (sn);
CREATE INDEX IF NOT EXISTS idx_bp_sheet_sn ON bonepile_entries (sheet, sn);
`

// RawEntry is one observed test file.
type RawEntry struct {
	UTCMS      int64  `json:"utc_ms"`
	CAMS       int64  `json:"ca_ms"`
	CADate     string `json:"ca_date"`
	CAHour     int    `json:"ca_hour"`
	CAWeek     string `json:"ca_week"`
	CAMonth    string `json:"ca_month"`
	Filename   string `json:"filename"`
	FolderPath string `json:"folder_path"`
	SN         string `json:"sn"`
	Status     string `json:"status"`
	Station    string `json:"station"`
	PartNumber string `json:"part_number"`
	IsBonepile *int64 `json:"is_bonepile"`
	PBID       string `json:"pb_id,omitempty"`
}

// Bonepile reports whether the entry carries a PB marker.
func (e RawEntry) Bonepile() bool { return e.IsBonepile != nil && *e.IsBonepile == 1 }

// BonepileEntry is one workbook record for one sheet.
type BonepileEntry struct {
	Sheet          string `json:"sheet"`
	ExcelRow       int    `json:"excel_row"`
	SN             string `json:"sn"`
	NVPN           string `json:"nvpn"`
	Status         string `json:"status"`
	PIC            string `json:"pic"`
	IGSStatus      string `json:"igs_status"`
	NVDisposition  string `json:"nv_disposition"`
	IGSAction      string `json:"igs_action"`
	NVDispoCount   int    `json:"nv_dispo_count"`
	IGSActionCount int    `json:"igs_action_count"`
	UpdatedAtCAMS  int64  `json:"updated_at_ca_ms"`
}

// Store wraps the SQLite cache file. Writers serialize through the engine's
// scan lock; the store itself only serializes at the connection level.
type Store struct {
	db  *sql.DB
	gen atomic.Uint64

	wipedOnOpen bool
}

// Open opens (creating if needed) the cache at path, applies the schema and
// enforces the timestamp-mode invariant: if the stored mode differs from
// TimestampMode, or rows predate any recorded mode, raw_entries is dropped.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// modernc.org/sqlite serializes access per connection; a single
	// connection avoids SQLITE_BUSY between the scanner and readers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT NOT NULL);`); err != nil {
		return fmt.Errorf("create meta: %w", err)
	}

	var oldMode sql.NullString
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'timestamp_mode';`).Scan(&oldMode)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read timestamp_mode: %w", err)
	}

	rawHasRows := false
	var one int
	err = s.db.QueryRow(`SELECT 1 FROM sqlite_master WHERE type='table' AND name='raw_entries';`).Scan(&one)
	if err == nil {
		if err := s.db.QueryRow(`SELECT 1 FROM raw_entries LIMIT 1;`).Scan(&one); err == nil {
			rawHasRows = true
		}
	}

	// A populated cache with no recorded mode was built by an older build
	// with a different interpretation; treat it like a mode change.
	needsReset := (!oldMode.Valid && rawHasRows) || (oldMode.Valid && oldMode.String != TimestampMode)
	if needsReset {
		if _, err := s.db.Exec(`DROP TABLE IF EXISTS raw_entries;`); err != nil {
			return fmt.Errorf("drop raw_entries: %w", err)
		}
		s.wipedOnOpen = true
	}
	if needsReset || !oldMode.Valid {
		if _, err := s.db.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES ('timestamp_mode', ?);`, TimestampMode); err != nil {
			return fmt.Errorf("write timestamp_mode: %w", err)
		}
	}

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// WipedOnOpen reports whether Open dropped raw_entries because of a
// timestamp-mode change. The caller must reset the scan-state sidecar.
func (s *Store) WipedOnOpen() bool { return s.wipedOnOpen }

// Generation is bumped on every mutation; readers use it to key result caches.
func (s *Store) Generation() uint64 { return s.gen.Load() }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// InsertRawEntries batch-inserts with INSERT OR IGNORE so re-scans are
// idempotent. Returns the number of rows actually inserted.
func (s *Store) InsertRawEntries(ctx context.Context, entries []RawEntry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO raw_entries (
		  utc_ms, ca_ms, ca_date, ca_hour, ca_week, ca_month,
		  filename, folder_path, sn, status, station, part_number,
		  is_bonepile, pb_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, e := range entries {
		var isBP any
		if e.IsBonepile != nil {
			isBP = *e.IsBonepile
		}
		var pbID any
		if e.PBID != "" {
			pbID = e.PBID
		}
		res, err := stmt.ExecContext(ctx,
			e.UTCMS, e.CAMS, e.CADate, e.CAHour, e.CAWeek, e.CAMonth,
			e.Filename, e.FolderPath, e.SN, e.Status, e.Station, e.PartNumber,
			isBP, pbID)
		if err != nil {
			return inserted, fmt.Errorf("insert raw entry %s: %w", e.Filename, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += n
		}
	}
	if err := tx.Commit(); err != nil {
		return inserted, fmt.Errorf("commit insert tx: %w", err)
	}
	s.gen.Add(1)
	return inserted, nil
}

// DataRange returns the min/max ca_ms across all raw entries. ok is false
// when the table is empty.
func (s *Store) DataRange(ctx context.Context) (minMS, maxMS int64, ok bool, err error) {
	var minN, maxN sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		`SELECT MIN(ca_ms), MAX(ca_ms) FROM raw_entries;`).Scan(&minN, &maxN)
	if err != nil {
		return 0, 0, false, fmt.Errorf("query data range: %w", err)
	}
	if !minN.Valid || !maxN.Valid {
		return 0, 0, false, nil
	}
	return minN.Int64, maxN.Int64, true, nil
}

const rawColumns = `utc_ms, ca_ms, ca_date, ca_hour, ca_week, ca_month,
	filename, folder_path, sn, status, station, part_number, is_bonepile, pb_id`

func scanRawRows(rows *sql.Rows) ([]RawEntry, error) {
	var out []RawEntry
	for rows.Next() {
		var e RawEntry
		var isBP sql.NullInt64
		var pbID sql.NullString
		if err := rows.Scan(&e.UTCMS, &e.CAMS, &e.CADate, &e.CAHour, &e.CAWeek, &e.CAMonth,
			&e.Filename, &e.FolderPath, &e.SN, &e.Status, &e.Station, &e.PartNumber,
			&isBP, &pbID); err != nil {
			return nil, fmt.Errorf("scan raw entry: %w", err)
		}
		if isBP.Valid {
			v := isBP.Int64
			e.IsBonepile = &v
		}
		e.PBID = pbID.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// EntriesInRange returns raw entries with ca_ms in [startMS, endMS],
// ordered by (sn, utc_ms, filename) for stable grouping.
func (s *Store) EntriesInRange(ctx context.Context, startMS, endMS int64) ([]RawEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+rawColumns+` FROM raw_entries WHERE ca_ms BETWEEN ? AND ? ORDER BY sn, utc_ms, filename;`,
		startMS, endMS)
	if err != nil {
		return nil, fmt.Errorf("query entries in range: %w", err)
	}
	defer rows.Close()
	return scanRawRows(rows)
}

// EntriesBefore returns raw entries older than cutoffMS, used to archive
// rows ahead of a retention purge.
func (s *Store) EntriesBefore(ctx context.Context, cutoffMS int64) ([]RawEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+rawColumns+` FROM raw_entries WHERE ca_ms < ? ORDER BY ca_ms, filename;`, cutoffMS)
	if err != nil {
		return nil, fmt.Errorf("query entries before cutoff: %w", err)
	}
	defer rows.Close()
	return scanRawRows(rows)
}

// DeleteRawSince deletes rows with ca_ms >= cutoffMS (the refresh window).
func (s *Store) DeleteRawSince(ctx context.Context, cutoffMS int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM raw_entries WHERE ca_ms >= ?;`, cutoffMS)
	if err != nil {
		return 0, fmt.Errorf("delete refresh window: %w", err)
	}
	s.gen.Add(1)
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteRawBefore deletes rows with ca_ms < cutoffMS (retention).
func (s *Store) DeleteRawBefore(ctx context.Context, cutoffMS int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM raw_entries WHERE ca_ms < ?;`, cutoffMS)
	if err != nil {
		return 0, fmt.Errorf("delete before retention cutoff: %w", err)
	}
	s.gen.Add(1)
	n, _ := res.RowsAffected()
	return n, nil
}

// ClearAll empties both data tables, keeping meta intact. Used by the
// manual cache reset.
func (s *Store) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM raw_entries;`); err != nil {
		return fmt.Errorf("clear raw entries: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM bonepile_entries;`); err != nil {
		return fmt.Errorf("clear bonepile entries: %w", err)
	}
	s.gen.Add(1)
	return nil
}

// CountRaw returns the raw_entries row count.
func (s *Store) CountRaw(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM raw_entries;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count raw entries: %w", err)
	}
	return n, nil
}

// ReplaceSheet atomically replaces all bonepile rows for one sheet.
func (s *Store) ReplaceSheet(ctx context.Context, sheet string, entries []BonepileEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sheet tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM bonepile_entries WHERE sheet = ?;`, sheet); err != nil {
		return fmt.Errorf("delete sheet %s: %w", sheet, err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bonepile_entries (
		  sheet, excel_row, sn, nvpn, status, pic, igs_status,
		  nv_disposition, igs_action, nv_dispo_count, igs_action_count, updated_at_ca_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`)
	if err != nil {
		return fmt.Errorf("prepare sheet insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			e.Sheet, e.ExcelRow, e.SN, e.NVPN, e.Status, e.PIC, e.IGSStatus,
			e.NVDisposition, e.IGSAction, e.NVDispoCount, e.IGSActionCount, e.UpdatedAtCAMS); err != nil {
			return fmt.Errorf("insert bonepile row %s/%d: %w", e.Sheet, e.ExcelRow, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sheet tx: %w", err)
	}
	s.gen.Add(1)
	return nil
}

// BonepileEntries returns every workbook row across all sheets.
func (s *Store) BonepileEntries(ctx context.Context) ([]BonepileEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sheet, excel_row, sn, nvpn, status, pic, igs_status,
		       nv_disposition, igs_action, nv_dispo_count, igs_action_count, updated_at_ca_ms
		FROM bonepile_entries;`)
	if err != nil {
		return nil, fmt.Errorf("query bonepile entries: %w", err)
	}
	defer rows.Close()

	var out []BonepileEntry
	for rows.Next() {
		var e BonepileEntry
		var nvpn, status, pic, igsStatus, nvDispo, igsAction sql.NullString
		var nvCnt, igsCnt, updated sql.NullInt64
		if err := rows.Scan(&e.Sheet, &e.ExcelRow, &e.SN, &nvpn, &status, &pic, &igsStatus,
			&nvDispo, &igsAction, &nvCnt, &igsCnt, &updated); err != nil {
			return nil, fmt.Errorf("scan bonepile entry: %w", err)
		}
		e.NVPN = nvpn.String
		e.Status = status.String
		e.PIC = pic.String
		e.IGSStatus = igsStatus.String
		e.NVDisposition = nvDispo.String
		e.IGSAction = igsAction.String
		e.NVDispoCount = int(nvCnt.Int64)
		e.IGSActionCount = int(igsCnt.Int64)
		e.UpdatedAtCAMS = updated.Int64
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountBonepile returns the bonepile_entries row count.
func (s *Store) CountBonepile(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bonepile_entries;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count bonepile entries: %w", err)
	}
	return n, nil
}
