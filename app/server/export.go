package server

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"floorsight/app"
	"floorsight/app/aggregate"
	"floorsight/app/timestamps"
)

var (
	reLongDigits = regexp.MustCompile(`^\d{10,}$`)
	reSlashDate  = regexp.MustCompile(`^\d{1,4}/\d{1,4}(/\d{1,4})?$`)
)

// excelTextCell wraps values Excel would mangle (long serials into
// scientific notation, "183/66" into a date) in an ="..." text formula.
func excelTextCell(s string) string {
	if reLongDigits.MatchString(s) || reSlashDate.MatchString(s) {
		return `="` + s + `"`
	}
	return s
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var p struct {
		windowPayload
		Aggregation string `json:"aggregation"`
		Export      string `json:"export"`
		Format      string `json:"format"`
	}
	if err := readJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	kind := strings.ToLower(strings.TrimSpace(p.Export))
	if kind == "" {
		kind = "dashboard"
	}
	format := strings.ToLower(strings.TrimSpace(p.Format))
	if format == "" {
		format = "csv"
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

	startS := startCA.Format("20060102_1504")
	endS := endCA.Format("20060102_1504")

	if format == "xlsx" && (kind == "summary" || kind == "sku") {
		data, name, err := buildExportXLSX(kind, res, startCA, endCA, startS, endS)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "XLSX export failed: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		w.Header().Set("Cache-Control", "no-store")
		w.Write(data)
		return
	}

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	var name string

	switch kind {
	case "summary":
		writeSummaryCSV(cw, res.Summary)
		name = fmt.Sprintf("summary_%s_to_%s.csv", startS, endS)
	case "sku":
		writeSKUCSV(cw, res.SKURows)
		name = fmt.Sprintf("sku_%s_to_%s.csv", startS, endS)
	case "breakdown":
		writeBreakdownCSV(cw, res.BreakdownRows)
		name = fmt.Sprintf("breakdown_%s_%s_to_%s.csv", res.Aggregation, startS, endS)
	case "test_flow", "testflow":
		writeTestFlowCSV(cw, res.TestFlow)
		name = fmt.Sprintf("test_flow_%s_to_%s.csv", startS, endS)
	case "disposition_summary":
		dispo, err := s.App.DispositionStats(r.Context(), &startCA, &endCA, "daily")
		if err != nil {
			writeError(w, http.StatusInternalServerError, "%v", err)
			return
		}
		cw.Write([]string{"metric", "value"})
		cw.Write([]string{"Total Dispositions", itoa(dispo.Summary.Total)})
		cw.Write([]string{"Waiting IGS", itoa(dispo.Summary.WaitingIGS)})
		cw.Write([]string{"Complete", itoa(dispo.Summary.Complete)})
		name = fmt.Sprintf("disposition_summary_%s_to_%s.csv", startS, endS)
	default:
		if err := s.writeDashboardCSV(r, cw, startCA, endCA); err != nil {
			writeError(w, http.StatusInternalServerError, "%v", err)
			return
		}
		name = fmt.Sprintf("dashboard_%s_to_%s.csv", startS, endS)
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

func itoa(n int) string { return fmt.Sprintf("%d", n) }

func writeSummaryCSV(cw *csv.Writer, s aggregate.Summary) {
	cw.Write([]string{"metric", "bp", "fresh", "total"})
	cw.Write([]string{"tested", itoa(s.BP.Tested), itoa(s.Fresh.Tested), itoa(s.Total.Tested)})
	cw.Write([]string{"pass", itoa(s.BP.Pass), itoa(s.Fresh.Pass), itoa(s.Total.Pass)})
	cw.Write([]string{"fail", itoa(s.BP.Fail), itoa(s.Fresh.Fail), itoa(s.Total.Fail)})
}

func writeSKUCSV(cw *csv.Writer, rows []aggregate.SKURow) {
	cw.Write([]string{"sku", "tested", "pass", "fail"})
	for _, r := range rows {
		cw.Write([]string{r.SKU, itoa(r.Tested), itoa(r.Pass), itoa(r.Fail)})
	}
}

func writeBreakdownCSV(cw *csv.Writer, rows []aggregate.BreakdownRow) {
	cw.Write([]string{"period", "tested", "passed", "bonepile", "fresh", "pass_rate"})
	for _, r := range rows {
		cw.Write([]string{
			r.Period, itoa(r.Tested), itoa(r.Passed), itoa(r.Bonepile), itoa(r.Fresh),
			fmt.Sprintf("%.4f", r.PassRate),
		})
	}
}

func writeTestFlowCSV(cw *csv.Writer, tf aggregate.TestFlow) {
	header := append([]string{"ts", "sku"}, tf.Stations...)
	cw.Write(header)

	totalRow := []string{"-", "TOTAL"}
	for _, st := range tf.Stations {
		pf := tf.Totals[st]
		totalRow = append(totalRow, excelTextCell(fmt.Sprintf("%d/%d", pf.Pass, pf.Fail)))
	}
	cw.Write(totalRow)

	for _, r := range tf.Rows {
		row := []string{r.TS, r.SKU}
		for _, st := range tf.Stations {
			pf := r.Stations[st]
			row = append(row, excelTextCell(fmt.Sprintf("%d/%d", pf.Pass, pf.Fail)))
		}
		cw.Write(row)
	}
}

// writeDashboardCSV emits the single per-SN review table: one row per
// serial with its outcome, station history and latest-seen context.
func (s *Server) writeDashboardCSV(r *http.Request, cw *csv.Writer, startCA, endCA time.Time) error {
	list, err := s.App.SNList(r.Context(), startCA, endCA, app.SNListParams{})
	if err != nil {
		return err
	}
	rows, err := s.App.RawRows(r.Context(), startCA, endCA)
	if err != nil {
		return err
	}

	bySN := make(map[string]aggregate.SNDetail, len(list.Rows))
	for _, d := range list.Rows {
		bySN[d.SN] = d
	}
	type snAgg struct {
		passCnt, failCnt int
		isBP             bool
		stations         map[string]bool
		parts            map[string]bool
		minCA, maxCA     int64
		tests            int
	}
	perSN := make(map[string]*snAgg)
	for _, e := range rows {
		a, ok := perSN[e.SN]
		if !ok {
			a = &snAgg{stations: map[string]bool{}, parts: map[string]bool{}, minCA: e.CAMS, maxCA: e.CAMS}
			perSN[e.SN] = a
		}
		a.tests++
		if st := strings.ToUpper(strings.TrimSpace(e.Station)); st != "" {
			a.stations[st] = true
		}
		if e.PartNumber != "" {
			a.parts[e.PartNumber] = true
		}
		switch strings.ToUpper(strings.TrimSpace(e.Status)) {
		case "P":
			a.passCnt++
		case "F":
			a.failCnt++
		}
		if e.Bonepile() {
			a.isBP = true
		}
		if e.CAMS < a.minCA {
			a.minCA = e.CAMS
		}
		if e.CAMS > a.maxCA {
			a.maxCA = e.CAMS
		}
	}

	cw.Write([]string{
		"SN", "Bonepile", "Pass/Fail", "Part Numbers", "Stations",
		"Test Count", "Pass Count", "Fail Count",
		"First Seen (CA)", "Last Seen (CA)",
		"Last Station", "Last Folder ID", "Last Filename",
		"Last Final Pass Time (CA)", "Last Fail Time (CA)",
	})

	sns := make([]string, 0, len(perSN))
	for sn := range perSN {
		sns = append(sns, sn)
	}
	sort.Strings(sns)

	for _, sn := range sns {
		a := perSN[sn]
		d := bySN[sn]

		ordered := make([]string, 0, len(a.stations))
		for _, st := range aggregate.Stations {
			if a.stations[st] {
				ordered = append(ordered, st)
			}
		}
		var extras []string
		for st := range a.stations {
			known := false
			for _, k := range aggregate.Stations {
				if st == k {
					known = true
					break
				}
			}
			if !known {
				extras = append(extras, st)
			}
		}
		sort.Strings(extras)
		stationsTxt := strings.Join(append(ordered, extras...), ", ")

		var partsTxt string
		if d.LastPartNumber != "" && len(a.parts) > 1 {
			others := make([]string, 0, len(a.parts)-1)
			for p := range a.parts {
				if p != d.LastPartNumber {
					others = append(others, p)
				}
			}
			sort.Strings(others)
			partsTxt = strings.Join(append([]string{d.LastPartNumber}, others...), "; ")
		} else if d.LastPartNumber != "" {
			partsTxt = d.LastPartNumber
		} else {
			all := make([]string, 0, len(a.parts))
			for p := range a.parts {
				all = append(all, p)
			}
			sort.Strings(all)
			partsTxt = strings.Join(all, "; ")
		}

		passFail := "FAIL"
		if d.IsPass == 1 {
			passFail = "PASS"
		}
		bp := "No"
		if a.isBP {
			bp = "Yes"
		}
		cw.Write([]string{
			excelTextCell(sn), bp, passFail, partsTxt, stationsTxt,
			itoa(a.tests), itoa(a.passCnt), itoa(a.failCnt),
			timestamps.FormatMS(a.minCA), timestamps.FormatMS(a.maxCA),
			d.LastStation, d.LastFolderID, d.LastFilename,
			fmtPtrMS(d.PassCAMS), fmtPtrMS(d.FailCAMS),
		})
	}
	return nil
}

func fmtPtrMS(ms *int64) string {
	if ms == nil {
		return ""
	}
	return timestamps.FormatMS(*ms)
}

// buildExportXLSX renders the summary or SKU table as a styled workbook.
func buildExportXLSX(kind string, res app.QueryResult, startCA, endCA time.Time, startS, endS string) ([]byte, string, error) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	headerText := fmt.Sprintf("Testing from %s to %s",
		startCA.Format("2006-01-02 15:04"), endCA.Format("2006-01-02 15:04"))

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 12},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
	})
	if err != nil {
		return nil, "", err
	}
	boldStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, "", err
	}

	f.SetCellValue(sheet, "B1", headerText)
	f.MergeCell(sheet, "B1", "D1")
	f.SetCellStyle(sheet, "B1", "D1", headerStyle)
	width := float64(len(headerText)) * 1.2 / 3
	if width < 15 {
		width = 15
	}
	f.SetColWidth(sheet, "B", "D", width)

	switch kind {
	case "summary":
		s := res.Summary
		f.SetSheetRow(sheet, "A2", &[]any{"", "BP", "FRESH", "TOTAL"})
		f.SetSheetRow(sheet, "A3", &[]any{"TOTAL", s.BP.Tested, s.Fresh.Tested, s.Total.Tested})
		f.SetSheetRow(sheet, "A4", &[]any{"PASS", s.BP.Pass, s.Fresh.Pass, s.Total.Pass})
		f.SetSheetRow(sheet, "A5", &[]any{"FAIL", s.BP.Fail, s.Fresh.Fail, s.Total.Fail})
		f.SetCellStyle(sheet, "A2", "D2", boldStyle)

		buf, err := f.WriteToBuffer()
		if err != nil {
			return nil, "", err
		}
		return buf.Bytes(), fmt.Sprintf("summary_%s_to_%s.xlsx", startS, endS), nil

	case "sku":
		f.SetSheetRow(sheet, "A2", &[]any{"SKU", "TESTED", "PASS", "FAIL"})
		f.SetCellStyle(sheet, "A2", "D2", boldStyle)
		for i, row := range res.SKURows {
			cell := fmt.Sprintf("A%d", 3+i)
			f.SetSheetRow(sheet, cell, &[]any{row.SKU, row.Tested, row.Pass, row.Fail})
		}
		buf, err := f.WriteToBuffer()
		if err != nil {
			return nil, "", err
		}
		return buf.Bytes(), fmt.Sprintf("sku_%s_to_%s.xlsx", startS, endS), nil
	}
	return nil, "", fmt.Errorf("unsupported export kind for XLSX: %s", kind)
}
