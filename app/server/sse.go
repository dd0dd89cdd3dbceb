package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ohler55/ojg/oj"
)

// ssePollInterval is how often the event stream re-checks status.
const ssePollInterval = 2 * time.Second

// handleEvents streams status payloads over Server-Sent Events. A frame is
// only sent when the serialized payload changed, so an idle dashboard costs
// one status read every poll and no traffic.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(ssePollInterval)
	defer ticker.Stop()

	var lastSent string
	send := func() {
		payload := s.App.Status(r.Context())
		// Canonical compact JSON, so change detection is a string compare.
		b, err := oj.Marshal(payload)
		if err != nil {
			fmt.Fprintf(w, "event: error\ndata: {\"error\":%q}\n\n", err.Error())
			flusher.Flush()
			return
		}
		data := string(b)
		if data == lastSent {
			return
		}
		lastSent = data
		fmt.Fprintf(w, "event: status\ndata: %s\n\n", data)
		flusher.Flush()
	}

	send()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			send()
		}
	}
}
