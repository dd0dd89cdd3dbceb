// Package server is the HTTP/JSON surface of the analytics backend. All
// endpoints live under /api; errors come back as {"error": "..."} with the
// matching status code.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"floorsight/app"
	"floorsight/app/timestamps"
)

// Server holds the engine and serves the API.
type Server struct {
	App *app.App
	Log zerolog.Logger
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("POST /api/scan", s.handleScan)
	mux.HandleFunc("POST /api/query", s.handleQuery)
	mux.HandleFunc("POST /api/sn-list", s.handleSNList)
	mux.HandleFunc("POST /api/export", s.handleExport)
	mux.HandleFunc("POST /api/clear-cache", s.handleClearCache)
	mux.HandleFunc("GET /api/job/{id}", s.handleJob)

	mux.HandleFunc("GET /api/bonepile/status", s.handleBonepileStatus)
	mux.HandleFunc("POST /api/bonepile/upload", s.handleBonepileUpload)
	mux.HandleFunc("GET /api/bonepile/sheets", s.handleBonepileSheets)
	mux.HandleFunc("POST /api/bonepile/mapping", s.handleBonepileMapping)
	mux.HandleFunc("POST /api/bonepile/parse", s.handleBonepileParse)
	mux.HandleFunc("GET /api/bonepile/disposition", s.handleDisposition)
	mux.HandleFunc("POST /api/bonepile/disposition/sn-list", s.handleDispositionSNList)

	return s.logRequests(mux)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		next.ServeHTTP(w, r)
		// The SSE stream would log once per connection close; skip it.
		if r.URL.Path != "/api/events" {
			s.Log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("elapsed", time.Since(started)).
				Msg("request")
		}
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}

func readJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// windowPayload carries the datetime fields shared by most POST bodies.
type windowPayload struct {
	StartDatetime string `json:"start_datetime"`
	EndDatetime   string `json:"end_datetime"`
}

// parseWindow validates and parses a CA window, clamping the end to now.
// rejectFutureStart mirrors the scan/query rule; coverage expansion clamps
// instead.
func parseWindow(startStr, endStr string) (startCA, endCA time.Time, err error) {
	if startStr == "" || endStr == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("start_datetime and end_datetime required")
	}
	startCA, err = timestamps.ParseInput(startStr, false)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	endCA, err = timestamps.ParseInput(endStr, true)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	nowCA := timestamps.NowCA()
	if endCA.After(nowCA) {
		endCA = nowCA
	}
	if startCA.After(nowCA) {
		return time.Time{}, time.Time{}, fmt.Errorf("start is in the future")
	}
	if !endCA.After(startCA) {
		return time.Time{}, time.Time{}, fmt.Errorf("end must be after start")
	}
	return startCA, endCA, nil
}
