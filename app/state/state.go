// Package state persists scan coverage and workbook bookkeeping in a small
// JSON sidecar next to the cache database. The file is rewritten atomically
// (temp file + rename) so a crash mid-write never leaves a torn state.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"floorsight/app/bonepile"
)

// EntryKey identifies a raw entry by its primary key. It serializes as the
// two-element JSON array [utc_ms, filename] the sidecar has always used.
type EntryKey struct {
	UTCMS    int64
	Filename string
}

// Less orders keys by (utc_ms, filename).
func (k EntryKey) Less(o EntryKey) bool {
	if k.UTCMS != o.UTCMS {
		return k.UTCMS < o.UTCMS
	}
	return k.Filename < o.Filename
}

// MarshalJSON encodes the key as [utc_ms, filename].
func (k EntryKey) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{k.UTCMS, k.Filename})
}

// UnmarshalJSON decodes [utc_ms, filename].
func (k *EntryKey) UnmarshalJSON(b []byte) error {
	var arr [2]json.RawMessage
	if err := json.Unmarshal(b, &arr); err != nil {
		return err
	}
	if err := json.Unmarshal(arr[0], &k.UTCMS); err != nil {
		return fmt.Errorf("entry key utc_ms: %w", err)
	}
	if err := json.Unmarshal(arr[1], &k.Filename); err != nil {
		return fmt.Errorf("entry key filename: %w", err)
	}
	return nil
}

// WorkbookFile describes the currently uploaded bonepile workbook.
type WorkbookFile struct {
	HasFile        bool   `json:"has_file"`
	Path           string `json:"path"`
	OriginalName   string `json:"original_name"`
	SizeBytes      int64  `json:"size_bytes"`
	UploadedAtCAMS int64  `json:"uploaded_at_ca_ms"`
}

// State is the scan-state sidecar contents.
type State struct {
	MinCAMS *int64 `json:"min_ca_ms"`
	MaxCAMS *int64 `json:"max_ca_ms"`

	MinKey  *EntryKey `json:"min_key"`
	MaxKey  *EntryKey `json:"max_key"`
	MinPath string    `json:"min_path,omitempty"`
	MaxPath string    `json:"max_path,omitempty"`

	LastScanCAMS *int64 `json:"last_scan_ca_ms"`

	// Full-day rescan runs by hour -> YYYY-MM-DD (CA), kept across restarts.
	FullDayRuns map[string]string `json:"full_day_runs,omitempty"`

	BonepileFile        *WorkbookFile                    `json:"bonepile_file,omitempty"`
	BonepileMapping     map[string]bonepile.SheetMapping `json:"bonepile_mapping,omitempty"`
	BonepileSheetStatus map[string]*bonepile.SheetStatus `json:"bonepile_sheet_status,omitempty"`
}

// SetCoverage records min/max coverage from the values actually present in
// the cache.
func (s *State) SetCoverage(minMS, maxMS int64) {
	s.MinCAMS = &minMS
	s.MaxCAMS = &maxMS
}

// Manager serializes reads and writes of the sidecar file.
type Manager struct {
	mu   sync.Mutex
	path string
}

// NewManager returns a manager for the sidecar at path.
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Load reads the sidecar. A missing or unreadable file yields a fresh state,
// matching the self-healing behavior users expect after deleting the cache.
func (m *Manager) Load() *State {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := os.ReadFile(m.path)
	if err != nil {
		return &State{}
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return &State{}
	}
	return &st
}

// Save writes the sidecar atomically via <path>.tmp + rename.
func (m *Manager) Save(st *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write state temp file: %w", err)
	}
	// Remove first for platforms that disallow replace-on-rename.
	if _, err := os.Stat(m.path); err == nil {
		_ = os.Remove(m.path)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}

// Reset deletes the sidecar file.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
