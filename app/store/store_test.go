package store

import (
	"context"
	"path/filepath"
	"testing"
)

func openTest(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func rawEntry(sn, filename string, caMS int64) RawEntry {
	one := int64(0)
	return RawEntry{
		UTCMS:      caMS,
		CAMS:       caMS,
		CADate:     "2026-01-10",
		CAHour:     8,
		CAWeek:     "2026-01-04~2026-01-10",
		CAMonth:    "2026-01",
		Filename:   filename,
		FolderPath: "/share/2026/01/10",
		SN:         sn,
		Status:     "P",
		Station:    "FCT",
		PartNumber: "675-24109-0000",
		IsBonepile: &one,
	}
}

func TestInsertRawEntriesIdempotent(t *testing.T) {
	s, _ := openTest(t)
	ctx := context.Background()

	entries := []RawEntry{
		rawEntry("1812345678901", "a.zip", 1000),
		rawEntry("1812345678901", "b.zip", 2000),
		rawEntry("1898765432109", "c.zip", 3000),
	}
	n, err := s.InsertRawEntries(ctx, entries)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("first insert = %d rows, want 3", n)
	}

	// Re-inserting the same files must be a no-op.
	n, err = s.InsertRawEntries(ctx, entries)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("duplicate insert = %d rows, want 0", n)
	}
	count, err := s.CountRaw(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("CountRaw = %d, want 3", count)
	}
}

func TestDataRangeAndQueries(t *testing.T) {
	s, _ := openTest(t)
	ctx := context.Background()

	if _, _, ok, err := s.DataRange(ctx); err != nil || ok {
		t.Fatalf("empty DataRange = ok=%v err=%v, want ok=false", ok, err)
	}

	if _, err := s.InsertRawEntries(ctx, []RawEntry{
		rawEntry("1812345678901", "b.zip", 2000),
		rawEntry("1812345678901", "a.zip", 1000),
		rawEntry("1898765432109", "c.zip", 3000),
	}); err != nil {
		t.Fatal(err)
	}

	minMS, maxMS, ok, err := s.DataRange(ctx)
	if err != nil || !ok {
		t.Fatalf("DataRange err=%v ok=%v", err, ok)
	}
	if minMS != 1000 || maxMS != 3000 {
		t.Errorf("DataRange = [%d, %d], want [1000, 3000]", minMS, maxMS)
	}

	got, err := s.EntriesInRange(ctx, 1000, 2500)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("EntriesInRange = %d rows, want 2", len(got))
	}
	// Ordered by (sn, utc_ms, filename).
	if got[0].Filename != "a.zip" || got[1].Filename != "b.zip" {
		t.Errorf("order = %s, %s", got[0].Filename, got[1].Filename)
	}

	before, err := s.EntriesBefore(ctx, 3000)
	if err != nil {
		t.Fatal(err)
	}
	if len(before) != 2 {
		t.Errorf("EntriesBefore(3000) = %d rows, want 2", len(before))
	}
}

func TestDeleteRawWindows(t *testing.T) {
	s, _ := openTest(t)
	ctx := context.Background()

	if _, err := s.InsertRawEntries(ctx, []RawEntry{
		rawEntry("1812345678901", "a.zip", 1000),
		rawEntry("1812345678901", "b.zip", 2000),
		rawEntry("1898765432109", "c.zip", 3000),
	}); err != nil {
		t.Fatal(err)
	}

	n, err := s.DeleteRawSince(ctx, 2000)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("DeleteRawSince(2000) = %d, want 2", n)
	}

	n, err = s.DeleteRawBefore(ctx, 2000)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("DeleteRawBefore(2000) = %d, want 1", n)
	}
	count, _ := s.CountRaw(ctx)
	if count != 0 {
		t.Errorf("CountRaw after deletes = %d, want 0", count)
	}
}

func TestGenerationBumpsOnMutation(t *testing.T) {
	s, _ := openTest(t)
	ctx := context.Background()

	g0 := s.Generation()
	if _, err := s.InsertRawEntries(ctx, []RawEntry{rawEntry("1812345678901", "a.zip", 1000)}); err != nil {
		t.Fatal(err)
	}
	if s.Generation() == g0 {
		t.Error("generation unchanged after insert")
	}
	g1 := s.Generation()
	if err := s.ClearAll(ctx); err != nil {
		t.Fatal(err)
	}
	if s.Generation() == g1 {
		t.Error("generation unchanged after clear")
	}
}

func TestTimestampModeWipe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.WipedOnOpen() {
		t.Error("fresh open reported a wipe")
	}
	if _, err := s.InsertRawEntries(ctx, []RawEntry{rawEntry("1812345678901", "a.zip", 1000)}); err != nil {
		t.Fatal(err)
	}
	// Simulate a cache written by a build with a different interpretation.
	if _, err := s.db.Exec(`UPDATE meta SET value = 'utc_suffix_v1' WHERE key = 'timestamp_mode';`); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	if !s2.WipedOnOpen() {
		t.Error("mode change did not trigger a wipe")
	}
	count, err := s2.CountRaw(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("raw rows survived the wipe: %d", count)
	}

	// Reopening again with the mode now current must not wipe.
	s2.Close()
	s3, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s3.Close()
	if s3.WipedOnOpen() {
		t.Error("stable mode triggered a wipe")
	}
}

func TestReplaceSheet(t *testing.T) {
	s, _ := openTest(t)
	ctx := context.Background()

	first := []BonepileEntry{
		{Sheet: "VR-TS1", ExcelRow: 5, SN: "1812345678901", Status: "FAIL", PIC: "IGS", UpdatedAtCAMS: 100},
		{Sheet: "VR-TS1", ExcelRow: 6, SN: "1898765432109", Status: "PASS", UpdatedAtCAMS: 100},
	}
	if err := s.ReplaceSheet(ctx, "VR-TS1", first); err != nil {
		t.Fatal(err)
	}
	other := []BonepileEntry{
		{Sheet: "TS2-SKU002", ExcelRow: 3, SN: "1811111111111", Status: "FAIL", UpdatedAtCAMS: 100},
	}
	if err := s.ReplaceSheet(ctx, "TS2-SKU002", other); err != nil {
		t.Fatal(err)
	}

	// Replacing one sheet must leave the other alone.
	second := []BonepileEntry{
		{Sheet: "VR-TS1", ExcelRow: 5, SN: "1812345678901", Status: "PASS", UpdatedAtCAMS: 200},
	}
	if err := s.ReplaceSheet(ctx, "VR-TS1", second); err != nil {
		t.Fatal(err)
	}

	all, err := s.BonepileEntries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("BonepileEntries = %d rows, want 2", len(all))
	}
	bySheet := make(map[string]BonepileEntry)
	for _, e := range all {
		bySheet[e.Sheet] = e
	}
	if got := bySheet["VR-TS1"]; got.Status != "PASS" || got.UpdatedAtCAMS != 200 {
		t.Errorf("VR-TS1 row not replaced: %+v", got)
	}
	if _, ok := bySheet["TS2-SKU002"]; !ok {
		t.Error("TS2-SKU002 rows lost by replacing VR-TS1")
	}
}
