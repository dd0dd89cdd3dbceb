package bonepile

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"floorsight/app/store"
)

func writeWorkbook(t *testing.T, path string, rows [][]any) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", "VR-TS1"); err != nil {
		t.Fatal(err)
	}
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.SetSheetRow("VR-TS1", cell, &rows[i]); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
}

func workbookRows(extra bool) [][]any {
	rows := [][]any{
		{"SN", "NVPN", "Status", "PIC", "IGS Status", "NV Disposition", "IGS Action"},
		{"1812345678901", "675-24109-0000", "FAIL", "IGS", "WIP", "01/10: bad DIMM", "01/12: retest"},
		{"1898765432109", "675-24109-0000", "ALL PASS", "NV", "DONE", "01/11: reworked", ""},
	}
	if extra {
		rows = append(rows, []any{"1811111111111", "675-24109-0010", "FAIL", "IGS", "WIP", "01/13: pending", ""})
	}
	return rows
}

func TestParseSheetsSkipsUnchangedContent(t *testing.T) {
	dir := t.TempDir()
	wb := filepath.Join(dir, "bonepile.xlsx")
	writeWorkbook(t, wb, workbookRows(false))

	s, err := store.Open(filepath.Join(dir, "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ing := &Ingestor{Store: s, WorkbookPath: wb, Log: zerolog.Nop()}
	ctx := context.Background()

	status, err := ing.ParseSheets(ctx, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	st := status["VR-TS1"]
	if st == nil || st.Status != "ok" || st.Skipped {
		t.Fatalf("first parse = %+v", st)
	}
	if st.Rows != 2 || st.HeaderRow != 1 || st.ContentHash == "" {
		t.Errorf("first parse = %+v", st)
	}
	count, err := s.CountBonepile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("bonepile rows = %d, want 2", count)
	}

	entries, err := s.BonepileEntries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	bySN := make(map[string]store.BonepileEntry)
	for _, e := range entries {
		bySN[e.SN] = e
	}
	first := bySN["1812345678901"]
	if first.Sheet != "VR-TS1" || first.Status != "FAIL" || first.PIC != "IGS" {
		t.Errorf("entry = %+v", first)
	}
	if first.NVDispoCount != 1 || first.IGSActionCount != 1 {
		t.Errorf("date counts = %+v", first)
	}

	// Same bytes again: the sheet is skipped and nothing is rewritten.
	status2, err := ing.ParseSheets(ctx, nil, status, nil)
	if err != nil {
		t.Fatal(err)
	}
	st2 := status2["VR-TS1"]
	if st2 == nil || !st2.Skipped || st2.SkipReason == "" {
		t.Fatalf("reparse = %+v", st2)
	}
	if st2.Status != "ok" || st2.Rows != 2 || st2.ContentHash != st.ContentHash {
		t.Errorf("reparse = %+v", st2)
	}
	count, err = s.CountBonepile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("bonepile rows after skip = %d, want 2", count)
	}

	// An appended row changes the hash and forces a real parse.
	writeWorkbook(t, wb, workbookRows(true))
	status3, err := ing.ParseSheets(ctx, nil, status2, nil)
	if err != nil {
		t.Fatal(err)
	}
	st3 := status3["VR-TS1"]
	if st3 == nil || st3.Skipped || st3.Status != "ok" || st3.Rows != 3 {
		t.Fatalf("changed parse = %+v", st3)
	}
	count, err = s.CountBonepile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("bonepile rows after change = %d, want 3", count)
	}
}

func TestParseSheetsMissingWorkbook(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ing := &Ingestor{Store: s, WorkbookPath: filepath.Join(t.TempDir(), "nope.xlsx"), Log: zerolog.Nop()}
	if _, err := ing.ParseSheets(context.Background(), nil, nil, nil); err == nil {
		t.Error("missing workbook did not fail")
	}
}
