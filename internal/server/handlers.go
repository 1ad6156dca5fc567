package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/coder/websocket"

	"github.com/MeGallin/ai-chat-bot-api/internal/relay"
)

// maxSpeakBody bounds the legacy endpoint's request body.
const maxSpeakBody = 10 << 20 // 10 MB

// maxSpeakTextLen is the longest prompt the legacy endpoint accepts.
const maxSpeakTextLen = 4000

// statsResponse is the JSON body of the stats endpoint.
type statsResponse struct {
	ActiveConnections int                  `json:"active_connections"`
	TotalServed       int64                `json:"total_connections_served"`
	UptimeSeconds     int64                `json:"uptime_seconds"`
	Connections       []relay.ConnSnapshot `json:"connections"`
}

// handleStats reports a consistent snapshot of every open connection plus
// process-lifetime totals.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	conns := s.registry.Snapshot()
	writeJSON(w, http.StatusOK, statsResponse{
		ActiveConnections: len(conns),
		TotalServed:       s.registry.TotalServed(),
		UptimeSeconds:     int64(s.registry.Uptime().Seconds()),
		Connections:       conns,
	})
}

// speakRequest is the legacy endpoint's request body. Text is decoded as any
// so that a non-string value can be rejected explicitly rather than as a
// generic decode failure.
type speakRequest struct {
	Text any `json:"text"`
}

// handleSpeak is the legacy one-shot endpoint: the prompt is answered by a
// chat completion and the answer returned as synthesised MP3 audio.
func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSpeakBody)

	var req speakRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "Text is required and must be a string")
		return
	}

	text, ok := req.Text.(string)
	if !ok || text == "" {
		writeJSONError(w, http.StatusBadRequest, "Text is required and must be a string")
		return
	}
	if len(text) > maxSpeakTextLen {
		writeJSONError(w, http.StatusBadRequest, "Text must be less than 4000 characters")
		return
	}

	audio, err := s.pipeline.Render(r.Context(), text)
	if err != nil {
		s.log.Error("speech pipeline failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "audio/mpeg")
	h.Set("Content-Length", strconv.Itoa(len(audio)))
	h.Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	w.Write(audio)
}

// handleRealtime upgrades the request to a WebSocket and runs a relay on it
// for the lifetime of the connection.
func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}

	rel := relay.New(sock, s.upstream, s.registry,
		relay.WithLogger(s.log),
		relay.WithObserve(s.obs),
	)
	if err := rel.Run(r.Context()); err != nil {
		s.log.Warn("relay terminated", "client_id", rel.ID(), "error", err)
	}
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"Internal server error"}`, http.StatusInternalServerError)
	}
}

// writeJSONError writes the standard {"error": msg} body.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
