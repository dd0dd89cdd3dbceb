// Package archive writes retention-purged raw entries to xz-compressed
// NDJSON files before they are deleted from the cache. Archives are append
// points for offline analysis only; nothing in the server reads them back.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ohler55/ojg/oj"
	"github.com/ulikunitz/xz"

	"floorsight/app/store"
	"floorsight/app/timestamps"
)

// Writer archives purged rows under Dir, one file per purge.
type Writer struct {
	Dir string
}

// Archive writes entries as one NDJSON stream compressed with xz and returns
// the file path. An empty slice writes nothing and returns "".
func (w *Writer) Archive(entries []store.RawEntry) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	name := fmt.Sprintf("raw_%s.ndjson.xz",
		timestamps.NowCA().Format("20060102T150405"))
	path := filepath.Join(w.Dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create archive %s: %w", name, err)
	}
	defer f.Close()

	xzw, err := xz.NewWriter(f)
	if err != nil {
		return "", fmt.Errorf("create xz writer: %w", err)
	}

	for _, e := range entries {
		line, err := oj.Marshal(e)
		if err != nil {
			xzw.Close()
			return "", fmt.Errorf("marshal archive row: %w", err)
		}
		if _, err := xzw.Write(append(line, '\n')); err != nil {
			xzw.Close()
			return "", fmt.Errorf("write archive row: %w", err)
		}
	}
	if err := xzw.Close(); err != nil {
		return "", fmt.Errorf("close xz stream: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close archive %s: %w", name, err)
	}
	return path, nil
}

// Prune deletes archives older than keep. Used alongside the raw retention
// sweep so the archive dir does not grow forever.
func (w *Writer) Prune(keep time.Duration) error {
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read archive dir: %w", err)
	}
	cutoff := time.Now().Add(-keep)
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(w.Dir, de.Name()))
		}
	}
	return nil
}
