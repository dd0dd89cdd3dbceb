package bonepile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"floorsight/app/store"
	"floorsight/app/timestamps"
)

// hashRows bounds the content hash to keep re-parse checks cheap even on
// workbooks padded with thousands of trailing rows.
const hashRows = 10000

// blankSNAbort is the end-of-data heuristic: stop a sheet after this many
// consecutive rows without a usable serial.
const blankSNAbort = 200

// Ingestor parses the uploaded workbook into bonepile_entries, replacing
// rows per sheet. Sheets whose content hash is unchanged are skipped.
type Ingestor struct {
	Store        *store.Store
	WorkbookPath string
	Log          zerolog.Logger
}

// HashSheetContent computes a SHA-256 over the first 10 000 rows of a sheet:
// cell values pipe-separated, one line per row, with the row count mixed in.
func HashSheetContent(rows [][]string) string {
	h := sha256.New()
	count := len(rows)
	if count > hashRows {
		count = hashRows
	}
	for i := 0; i < count; i++ {
		h.Write([]byte(strings.Join(rows[i], "|")))
		h.Write([]byte("\n"))
	}
	h.Write([]byte(strconv.Itoa(count)))
	return hex.EncodeToString(h.Sum(nil))
}

func cellAt(row []string, idx int) string {
	if idx <= 0 || idx > len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx-1])
}

// ParseSheets parses the allowed sheets (or the subset in only) and returns
// the updated per-sheet status map. Mapping problems are recorded per sheet
// and do not fail the run; only a missing or unreadable workbook does.
func (ing *Ingestor) ParseSheets(ctx context.Context, mapping map[string]SheetMapping, prev map[string]*SheetStatus, only []string) (map[string]*SheetStatus, error) {
	f, err := excelize.OpenFile(ing.WorkbookPath)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	status := make(map[string]*SheetStatus, len(prev))
	for k, v := range prev {
		status[k] = v
	}

	present := make(map[string]bool)
	for _, name := range f.GetSheetList() {
		present[name] = true
	}

	target := make([]string, 0, len(AllowedSheets))
	for _, sheet := range AllowedSheets {
		if !present[sheet] {
			continue
		}
		if len(only) > 0 {
			found := false
			for _, s := range only {
				if s == sheet {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		target = append(target, sheet)
	}

	for _, sheet := range target {
		if err := ctx.Err(); err != nil {
			return status, err
		}
		st := ing.parseSheet(ctx, f, sheet, mapping, status[sheet])
		status[sheet] = st
		ing.Log.Info().
			Str("sheet", sheet).
			Str("status", st.Status).
			Int("rows", st.Rows).
			Bool("skipped", st.Skipped).
			Msg("bonepile sheet parsed")
	}
	return status, nil
}

func (ing *Ingestor) parseSheet(ctx context.Context, f *excelize.File, sheet string, mapping map[string]SheetMapping, prev *SheetStatus) *SheetStatus {
	nowMS := timestamps.NowCA().UnixMilli()

	rows, err := f.GetRows(sheet)
	if err != nil {
		return &SheetStatus{Status: "error", Error: fmt.Sprintf("read sheet: %v", err), LastRunCAMS: nowMS}
	}

	currentHash := HashSheetContent(rows)
	if prev != nil && prev.ContentHash != "" && prev.ContentHash == currentHash {
		// Content unchanged since the last parse; keep the previous result.
		st := *prev
		st.LastRunCAMS = nowMS
		st.Skipped = true
		st.SkipReason = "Content unchanged (hash match)"
		return &st
	}

	var cfg *SheetMapping
	if c, ok := mapping[sheet]; ok {
		cfg = &c
	}
	headerRow := 0
	if cfg != nil && cfg.HeaderRow > 0 {
		headerRow = cfg.HeaderRow
	}
	if headerRow <= 0 {
		headerRow = FindHeaderRow(rows)
	}
	if headerRow <= 0 || headerRow > len(rows) {
		return &SheetStatus{
			Status:      "error",
			Error:       "Header row not found (SN)",
			LastRunCAMS: nowMS,
			ContentHash: currentHash,
		}
	}

	headers, headerNames := HeaderMap(rows[headerRow-1])
	colMap := ResolveMapping(cfg, headers)
	if errs := MappingErrors(colMap, headerNames); len(errs) > 0 {
		n := len(errs)
		if n > 3 {
			n = 3
		}
		return &SheetStatus{
			Status:      "error",
			Error:       strings.Join(errs[:n], "; "),
			HeaderRow:   headerRow,
			LastRunCAMS: nowMS,
			ContentHash: currentHash,
		}
	}

	var entries []store.BonepileEntry
	blankStreak := 0
	for i := headerRow; i < len(rows); i++ {
		row := rows[i]
		sn := NormalizeSN(cellAt(row, colMap["sn"]))
		if sn == "" {
			blankStreak++
			if blankStreak >= blankSNAbort {
				break
			}
			continue
		}
		blankStreak = 0

		nvDispo := cellAt(row, colMap["nv_disposition"])
		igsAction := cellAt(row, colMap["igs_action"])
		entries = append(entries, store.BonepileEntry{
			Sheet:          sheet,
			ExcelRow:       i + 1,
			SN:             sn,
			NVPN:           cellAt(row, colMap["nvpn"]),
			Status:         cellAt(row, colMap["status"]),
			PIC:            cellAt(row, colMap["pic"]),
			IGSStatus:      cellAt(row, colMap["igs_status"]),
			NVDisposition:  nvDispo,
			IGSAction:      igsAction,
			NVDispoCount:   CountMMDD(nvDispo),
			IGSActionCount: CountMMDD(igsAction),
			UpdatedAtCAMS:  nowMS,
		})
	}

	if err := ing.Store.ReplaceSheet(ctx, sheet, entries); err != nil {
		return &SheetStatus{
			Status:      "error",
			Error:       err.Error(),
			HeaderRow:   headerRow,
			LastRunCAMS: nowMS,
			ContentHash: currentHash,
		}
	}
	return &SheetStatus{
		Status:      "ok",
		Rows:        len(entries),
		HeaderRow:   headerRow,
		LastRunCAMS: nowMS,
		ContentHash: currentHash,
	}
}

// SheetPreview is the auto-detection summary returned for one allowed sheet.
type SheetPreview struct {
	Present      bool           `json:"present"`
	HeaderRow    int            `json:"header_row,omitempty"`
	Headers      []string       `json:"headers,omitempty"`
	AutoColumns  map[string]int `json:"auto_columns,omitempty"`
	AutoErrors   []string       `json:"auto_errors,omitempty"`
	SavedMapping *SheetMapping  `json:"saved_mapping,omitempty"`
	Status       *SheetStatus   `json:"status,omitempty"`
}

// Preview opens the workbook and reports, per allowed sheet, the detected
// header row, headers, auto mapping and any auto-mapping errors, alongside
// the saved mapping and last parse status. It never mutates anything.
func (ing *Ingestor) Preview(mapping map[string]SheetMapping, status map[string]*SheetStatus) (ignored []string, sheets map[string]SheetPreview, err error) {
	f, err := excelize.OpenFile(ing.WorkbookPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	present := make(map[string]bool)
	for _, name := range f.GetSheetList() {
		present[name] = true
		if !SheetAllowed(name) {
			ignored = append(ignored, name)
		}
	}

	sheets = make(map[string]SheetPreview, len(AllowedSheets))
	for _, sheet := range AllowedSheets {
		if !present[sheet] {
			sheets[sheet] = SheetPreview{Present: false}
			continue
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			sheets[sheet] = SheetPreview{Present: true, AutoErrors: []string{fmt.Sprintf("read sheet: %v", err)}}
			continue
		}
		p := SheetPreview{Present: true, Status: status[sheet]}
		if m, ok := mapping[sheet]; ok {
			saved := m
			p.SavedMapping = &saved
		}
		headerRow := FindHeaderRow(rows)
		if headerRow <= 0 {
			p.AutoErrors = []string{"Header row not found (SN)"}
			sheets[sheet] = p
			continue
		}
		headers, headerNames := HeaderMap(rows[headerRow-1])
		p.HeaderRow = headerRow
		if len(headerNames) > maxHeaderCols {
			headerNames = headerNames[:maxHeaderCols]
		}
		p.Headers = headerNames
		p.AutoColumns = AutoMapping(headers)
		p.AutoErrors = MappingErrors(p.AutoColumns, headerNames)
		sheets[sheet] = p
	}
	return ignored, sheets, nil
}
