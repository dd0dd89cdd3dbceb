// Package bonepile ingests the NV/IGS failure-analysis workbook. Operations
// staff maintain the workbook by hand, so header rows float, columns get
// renamed, and serials arrive as floats or scientific notation; everything
// here is written to survive that.
package bonepile

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// AllowedSheets are the product-line sheets the ingestor recognizes; other
// sheets in the workbook are ignored.
var AllowedSheets = []string{"VR-TS1", "TS2-SKU002", "TS2-SKU010"}

// RequiredFields are the canonical fields every sheet must resolve.
var RequiredFields = []string{"sn", "nv_disposition", "status", "pic", "igs_action", "igs_status"}

// SheetAllowed reports whether name is one of the allowed sheets.
func SheetAllowed(name string) bool {
	for _, s := range AllowedSheets {
		if s == name {
			return true
		}
	}
	return false
}

const indexSentinel = "__idx__"

// ColumnRef points a canonical field at a workbook column, either by header
// name or by 1-based column index. JSON forms accepted: a header-name
// string, an "__idx__N" sentinel string, or a bare number.
type ColumnRef struct {
	Name  string
	Index int
}

// ByName returns a reference resolved through the header map.
func ByName(name string) ColumnRef { return ColumnRef{Name: name} }

// ByIndex returns a fixed 1-based column reference.
func ByIndex(idx int) ColumnRef { return ColumnRef{Index: idx} }

// IsZero reports whether the reference points at nothing.
func (c ColumnRef) IsZero() bool { return c.Index <= 0 && strings.TrimSpace(c.Name) == "" }

// Resolve returns the 1-based column for this reference given the sheet's
// upper-cased header map, or 0 when unresolvable. An explicit index wins
// over a name.
func (c ColumnRef) Resolve(headers map[string]int) int {
	if c.Index > 0 {
		return c.Index
	}
	name := strings.ToUpper(strings.TrimSpace(c.Name))
	if name == "" {
		return 0
	}
	return headers[name]
}

// MarshalJSON emits the index sentinel for fixed columns, else the name.
func (c ColumnRef) MarshalJSON() ([]byte, error) {
	if c.Index > 0 {
		return json.Marshal(indexSentinel + strconv.Itoa(c.Index))
	}
	return json.Marshal(c.Name)
}

// UnmarshalJSON accepts a number, an "__idx__N" sentinel, or a header name.
func (c *ColumnRef) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*c = ColumnRef{Index: n}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("column ref must be a string or number")
	}
	if rest, ok := strings.CutPrefix(s, indexSentinel); ok {
		idx, err := strconv.Atoi(rest)
		if err != nil {
			return fmt.Errorf("bad column index sentinel %q", s)
		}
		*c = ColumnRef{Index: idx}
		return nil
	}
	*c = ColumnRef{Name: s}
	return nil
}

// SheetMapping is a user-saved per-sheet override: a fixed header row plus
// per-field column references. Unset fields fall back to auto mapping.
type SheetMapping struct {
	HeaderRow int                  `json:"header_row"`
	Columns   map[string]ColumnRef `json:"columns"`
}

// SheetStatus records the outcome of the last parse of one sheet.
type SheetStatus struct {
	Status      string `json:"status"` // "ok" or "error"
	Error       string `json:"error,omitempty"`
	Rows        int    `json:"rows,omitempty"`
	HeaderRow   int    `json:"header_row,omitempty"`
	LastRunCAMS int64  `json:"last_run_ca_ms"`
	ContentHash string `json:"content_hash,omitempty"`
	Skipped     bool   `json:"skipped,omitempty"`
	SkipReason  string `json:"skip_reason,omitempty"`
}

// headerScanRows bounds the search for the header row.
const headerScanRows = 300

// FindHeaderRow returns the 1-based index of the first row containing a cell
// whose trimmed upper-case value is exactly "SN", or 0 if none is found in
// the first 300 rows.
func FindHeaderRow(rows [][]string) int {
	limit := len(rows)
	if limit > headerScanRows {
		limit = headerScanRows
	}
	for i := 0; i < limit; i++ {
		for _, v := range rows[i] {
			if strings.ToUpper(strings.TrimSpace(v)) == "SN" {
				return i + 1
			}
		}
	}
	return 0
}

// maxHeaderCols bounds header parsing; workbooks occasionally carry junk
// cells far to the right.
const maxHeaderCols = 80

// HeaderMap builds an upper-cased header-name -> 1-based column map plus the
// header names in column order.
func HeaderMap(headerRow []string) (map[string]int, []string) {
	m := make(map[string]int)
	var names []string
	for j, cell := range headerRow {
		if j >= maxHeaderCols {
			break
		}
		name := strings.TrimSpace(cell)
		if name == "" {
			continue
		}
		m[strings.ToUpper(name)] = j + 1
		names = append(names, strings.ToUpper(name))
	}
	return m, names
}

// AutoMapping maps the canonical fields by header name, with a small synonym
// set for the columns whose names vary between product lines.
func AutoMapping(headers map[string]int) map[string]int {
	pick := func(names ...string) int {
		for _, n := range names {
			if idx := headers[strings.ToUpper(n)]; idx > 0 {
				return idx
			}
		}
		return 0
	}
	return map[string]int{
		"sn":             pick("SN"),
		"nv_disposition": pick("NV DISPOSITION", "NV DISPO"),
		"status":         pick("STATUS"),
		"pic":            pick("PIC"),
		"igs_action":     pick("IGS ACTION"),
		"igs_status":     pick("IGS STATUS"),
		// Optional part number/SKU column (varies by file).
		"nvpn": pick("NVPN", "PART NUMBER", "PART NUMBERS", "SKU"),
	}
}

// ResolveMapping applies the user's per-sheet overrides over the auto
// mapping. A user reference that fails to resolve stays 0 so the error
// surfaces instead of silently reading the wrong column.
func ResolveMapping(cfg *SheetMapping, headers map[string]int) map[string]int {
	auto := AutoMapping(headers)
	if cfg == nil || len(cfg.Columns) == 0 {
		return auto
	}
	out := make(map[string]int, len(auto))
	for field, ref := range cfg.Columns {
		if ref.IsZero() {
			continue
		}
		out[field] = ref.Resolve(headers)
	}
	for field, idx := range auto {
		if _, ok := out[field]; !ok {
			out[field] = idx
		}
	}
	return out
}

// headerSample bounds the header list appended to mapping error messages.
const headerSample = 25

// MappingErrors lists the required fields a mapping failed to resolve, with
// a sample of the available headers for context.
func MappingErrors(mapping map[string]int, headerNames []string) []string {
	var errs []string
	for _, k := range RequiredFields {
		if mapping[k] <= 0 {
			errs = append(errs, fmt.Sprintf("Missing column for '%s'", k))
		}
	}
	if len(errs) > 0 {
		sample := headerNames
		if len(sample) > headerSample {
			sample = sample[:headerSample]
		}
		errs = append(errs, "Available headers: "+strings.Join(sample, ", "))
	}
	return errs
}
