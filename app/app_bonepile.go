package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"floorsight/app/bonepile"
	"floorsight/app/state"
	"floorsight/app/timestamps"
)

// BonepileStatus is the "bonepile" block of the status payload.
type BonepileStatus struct {
	File          *state.WorkbookFile              `json:"file"`
	AllowedSheets []string                         `json:"allowed_sheets"`
	Mapping       map[string]bonepile.SheetMapping `json:"mapping"`
	Sheets        map[string]*bonepile.SheetStatus `json:"sheets"`
}

func (a *App) bonepileStatus(s *state.State) BonepileStatus {
	bs := BonepileStatus{
		File:          s.BonepileFile,
		AllowedSheets: bonepile.AllowedSheets,
		Mapping:       s.BonepileMapping,
		Sheets:        s.BonepileSheetStatus,
	}
	if bs.File == nil {
		bs.File = &state.WorkbookFile{}
	}
	if bs.Mapping == nil {
		bs.Mapping = map[string]bonepile.SheetMapping{}
	}
	if bs.Sheets == nil {
		bs.Sheets = map[string]*bonepile.SheetStatus{}
	}
	return bs
}

// SaveWorkbook replaces the uploaded workbook atomically (temp + rename) and
// records its metadata in the sidecar.
func (a *App) SaveWorkbook(src io.Reader, originalName string) (state.WorkbookFile, error) {
	dst := a.Cfg.WorkbookPath()
	tmp := dst + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return state.WorkbookFile{}, fmt.Errorf("create workbook temp: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(tmp)
		return state.WorkbookFile{}, fmt.Errorf("write workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return state.WorkbookFile{}, fmt.Errorf("close workbook temp: %w", err)
	}
	if _, err := os.Stat(dst); err == nil {
		_ = os.Remove(dst)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return state.WorkbookFile{}, fmt.Errorf("replace workbook: %w", err)
	}

	info, err := os.Stat(dst)
	if err != nil {
		return state.WorkbookFile{}, fmt.Errorf("stat workbook: %w", err)
	}
	wf := state.WorkbookFile{
		HasFile:        true,
		Path:           dst,
		OriginalName:   originalName,
		SizeBytes:      info.Size(),
		UploadedAtCAMS: timestamps.NowCA().UnixMilli(),
	}

	s := a.States.Load()
	s.BonepileFile = &wf
	if err := a.States.Save(s); err != nil {
		return wf, fmt.Errorf("save workbook state: %w", err)
	}
	a.Log.Info().Str("name", originalName).Int64("bytes", wf.SizeBytes).Msg("workbook uploaded")
	return wf, nil
}

// StartBonepileParseJob queues a workbook parse for the given sheets (nil
// means every allowed sheet) and returns the job id.
func (a *App) StartBonepileParseJob(sheets []string, message string) string {
	id := a.Jobs.Create(message)
	go func() {
		a.Jobs.Start(id, "Parsing workbook...")
		if _, err := os.Stat(a.Cfg.WorkbookPath()); err != nil {
			a.Jobs.Fail(id, fmt.Errorf("no uploaded bonepile workbook found"))
			return
		}

		s := a.States.Load()
		status, err := a.ingestor.ParseSheets(context.Background(), s.BonepileMapping, s.BonepileSheetStatus, sheets)
		// Persist whatever per-sheet statuses we got, even on failure.
		if status != nil {
			s = a.States.Load()
			s.BonepileSheetStatus = status
			if saveErr := a.States.Save(s); saveErr != nil {
				a.Log.Error().Err(saveErr).Msg("save bonepile status failed")
			}
		}
		if err != nil {
			a.Jobs.Fail(id, err)
			return
		}
		a.Jobs.Done(id, "Workbook parsed", nil)
	}()
	return id
}

// SaveSheetMapping stores a user column mapping for one sheet and queues a
// re-parse of just that sheet. Returns the job id.
func (a *App) SaveSheetMapping(sheet string, m bonepile.SheetMapping) (string, error) {
	if !bonepile.SheetAllowed(sheet) {
		return "", fmt.Errorf("sheet %q is not allowed", sheet)
	}
	s := a.States.Load()
	if s.BonepileMapping == nil {
		s.BonepileMapping = map[string]bonepile.SheetMapping{}
	}
	s.BonepileMapping[sheet] = m
	if err := a.States.Save(s); err != nil {
		return "", fmt.Errorf("save mapping: %w", err)
	}
	return a.StartBonepileParseJob([]string{sheet}, fmt.Sprintf("Parsing %s...", sheet)), nil
}

// BonepilePreview reports auto-detection results per allowed sheet without
// mutating anything.
func (a *App) BonepilePreview() (ignored []string, sheets map[string]bonepile.SheetPreview, err error) {
	s := a.States.Load()
	return a.ingestor.Preview(s.BonepileMapping, s.BonepileSheetStatus)
}
