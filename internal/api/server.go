// Package api exposes a read-mostly HTTP surface over a conversation engine:
// transcript, run state, trace events, diagram, and a bridge endpoint that
// submits turns on behalf of HTTP clients.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/error505/archway/internal/fallback"
	"github.com/error505/archway/internal/runstate"
	"github.com/error505/archway/internal/session"
)

type Server struct {
	engine *session.Engine
	router chi.Router
	port   int
}

func NewServer(engine *session.Engine, port int) *Server {
	srv := &Server{
		engine: engine,
		port:   port,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", srv.handleHealth)
		r.Get("/transcript", srv.handleTranscript)
		r.Get("/runs", srv.handleListRuns)
		r.Get("/runs/{runID}/events", srv.handleRunEvents)
		r.Get("/diagram", srv.handleDiagram)
		r.Get("/stats", srv.handleStats)
		r.Get("/history", srv.handleHistory)
		r.Post("/chat", srv.handleChat)
	})

	srv.router = r
	return srv
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	slog.Info("starting HTTP API", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"service":         "archway",
		"connected":       s.engine.Connected(),
		"conversation_id": s.engine.ConversationID(),
	})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Transcript())
}

// runView decorates a run record with its live agent set and how many trace
// events it has accumulated.
type runView struct {
	runstate.Run
	Agents []string `json:"agents,omitempty"`
	Events int      `json:"events"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs := s.engine.Runs()
	out := make([]runView, 0, len(runs))
	for _, run := range runs {
		out = append(out, runView{
			Run:    run,
			Agents: s.engine.RunAgents(run.ID),
			Events: len(s.engine.RunEvents(run.ID)),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	if _, ok := s.engine.Run(runID); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}

	writeJSON(w, http.StatusOK, s.engine.RunEvents(runID))
}

func (s *Server) handleDiagram(w http.ResponseWriter, r *http.Request) {
	up, ok := s.engine.LatestDiagram()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no diagram yet"})
		return
	}

	writeJSON(w, http.StatusOK, up)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Stats())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	recs, err := s.engine.History(r.Context())
	if err != nil {
		slog.Error("history read failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, recs)
}

type chatRequest struct {
	Message string `json:"message"`
	Sync    bool   `json:"sync,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	send := s.engine.Send
	if req.Sync {
		send = s.engine.SendSync
	}

	msg, err := send(r.Context(), req.Message)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrEmptyTurn):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	case errors.Is(err, session.ErrNoTransport):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no transport available"})
		return
	default:
		var se *fallback.StatusError
		if errors.As(err, &se) {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": se.Error()})
			return
		}
		slog.Error("chat turn failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "turn failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":         msg,
		"conversation_id": s.engine.ConversationID(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
