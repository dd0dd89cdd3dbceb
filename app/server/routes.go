package server

import (
	"net/http"
	"strings"
	"time"

	"floorsight/app"
	"floorsight/app/bonepile"
	"floorsight/app/timestamps"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.App.Status(r.Context()))
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var p windowPayload
	if err := readJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	startCA, endCA, err := parseWindow(p.StartDatetime, p.EndDatetime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	id := s.App.StartScanJob(startCA, endCA)
	writeJSON(w, http.StatusOK, map[string]string{"job_id": id, "status": "queued"})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var p struct {
		windowPayload
		Aggregation string `json:"aggregation"`
	}
	if err := readJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	startCA, endCA, err := parseWindow(p.StartDatetime, p.EndDatetime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	res, err := s.App.Query(r.Context(), startCA, endCA, p.Aggregation)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSNList(w http.ResponseWriter, r *http.Request) {
	var p struct {
		windowPayload
		Segment        string `json:"segment"`
		Metric         string `json:"metric"`
		SKU            string `json:"sku"`
		Period         string `json:"period"`
		Aggregation    string `json:"aggregation"`
		Station        string `json:"station"`
		StationOutcome string `json:"station_outcome"`
	}
	if err := readJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	startCA, endCA, err := parseWindow(p.StartDatetime, p.EndDatetime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	res, err := s.App.SNList(r.Context(), startCA, endCA, app.SNListParams{
		Segment:        p.Segment,
		Metric:         p.Metric,
		SKU:            p.SKU,
		Period:         p.Period,
		Aggregation:    p.Aggregation,
		Station:        p.Station,
		StationOutcome: p.StationOutcome,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.App.ClearCache(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	j, ok := s.App.Jobs.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) handleBonepileStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.App.Status(r.Context()).Bonepile)
}

// maxUploadBytes bounds workbook uploads. Production workbooks run a few MB.
const maxUploadBytes = 100 << 20

func (s *Server) handleBonepileUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: %v", err)
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer f.Close()
	if hdr.Filename == "" {
		writeError(w, http.StatusBadRequest, "no file selected")
		return
	}
	if !strings.HasSuffix(strings.ToLower(hdr.Filename), ".xlsx") {
		writeError(w, http.StatusBadRequest, "only .xlsx is supported for bonepile upload")
		return
	}

	wf, err := s.App.SaveWorkbook(f, hdr.Filename)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	// Auto-parse everything; unchanged sheets skip on hash match.
	id := s.App.StartBonepileParseJob(nil, "Auto-parsing all sheets with auto-detect...")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "job_id": id, "bonepile_file": wf})
}

func (s *Server) handleBonepileSheets(w http.ResponseWriter, r *http.Request) {
	ignored, sheets, err := s.App.BonepilePreview()
	if err != nil {
		// A missing workbook is a normal pre-upload condition, not an error.
		writeJSON(w, http.StatusOK, map[string]any{
			"ok": true, "has_file": false,
			"allowed": bonepile.AllowedSheets,
			"ignored": []string{}, "sheets": map[string]any{},
		})
		return
	}
	if ignored == nil {
		ignored = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true, "has_file": true,
		"allowed": bonepile.AllowedSheets,
		"ignored": ignored, "sheets": sheets,
	})
}

func (s *Server) handleBonepileMapping(w http.ResponseWriter, r *http.Request) {
	var p struct {
		Sheet     string                        `json:"sheet"`
		HeaderRow int                           `json:"header_row"`
		Columns   map[string]bonepile.ColumnRef `json:"columns"`
	}
	if err := readJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	sheet := strings.TrimSpace(p.Sheet)
	if !bonepile.SheetAllowed(sheet) {
		writeError(w, http.StatusBadRequest, "invalid sheet")
		return
	}
	if p.HeaderRow <= 0 {
		writeError(w, http.StatusBadRequest, "header_row must be >= 1")
		return
	}
	id, err := s.App.SaveSheetMapping(sheet, bonepile.SheetMapping{
		HeaderRow: p.HeaderRow,
		Columns:   p.Columns,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "job_id": id})
}

func (s *Server) handleBonepileParse(w http.ResponseWriter, r *http.Request) {
	var p struct {
		Sheet string `json:"sheet"`
	}
	if err := readJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	var sheets []string
	if sheet := strings.TrimSpace(p.Sheet); sheet != "" {
		if !bonepile.SheetAllowed(sheet) {
			writeError(w, http.StatusBadRequest, "invalid sheet")
			return
		}
		sheets = []string{sheet}
	}
	id := s.App.StartBonepileParseJob(sheets, "Bonepile parse queued")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "job_id": id})
}

func (s *Server) handleDisposition(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	aggregation := q.Get("aggregation")

	startCA, endCA := parseOptionalWindow(q.Get("start_datetime"), q.Get("end_datetime"))
	res, err := s.App.DispositionStats(r.Context(), startCA, endCA, aggregation)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"summary":     res.Summary,
		"by_sku":      res.BySKU,
		"by_period":   res.ByPeriod,
		"tray_by_sku": res.TrayBySKU,
	})
}

func (s *Server) handleDispositionSNList(w http.ResponseWriter, r *http.Request) {
	var p struct {
		Metric      string `json:"metric"`
		SKU         string `json:"sku"`
		Period      string `json:"period"`
		Aggregation string `json:"aggregation"`
		windowPayload
	}
	if err := readJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	metric := strings.ToLower(strings.TrimSpace(p.Metric))
	switch metric {
	case "total", "waiting", "complete", "trays_bp", "all_pass_trays":
	default:
		metric = "total"
	}

	startCA, endCA := parseOptionalWindow(p.StartDatetime, p.EndDatetime)
	rows, err := s.App.DispositionSNList(r.Context(), metric,
		strings.TrimSpace(p.SKU), strings.TrimSpace(p.Period), p.Aggregation, startCA, endCA)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "count": len(rows), "rows": rows})
}

// parseOptionalWindow parses independently optional start/end datetimes.
// Unparseable values are treated as absent, matching the tolerant behavior
// of the disposition endpoints.
func parseOptionalWindow(startStr, endStr string) (startCA, endCA *time.Time) {
	if startStr != "" {
		if t, err := timestamps.ParseInput(startStr, false); err == nil {
			startCA = &t
		}
	}
	if endStr != "" {
		if t, err := timestamps.ParseInput(endStr, true); err == nil {
			endCA = &t
		}
	}
	return startCA, endCA
}
