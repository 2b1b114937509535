package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/error505/archway/internal/fallback"
	"github.com/error505/archway/internal/persist"
	"github.com/error505/archway/internal/session"
	"github.com/error505/archway/internal/testutil"
	"github.com/error505/archway/internal/tracelog"
)

func setupServer(t *testing.T) (*Server, *testutil.Dialer, *testutil.Recorder) {
	t.Helper()
	dialer := testutil.NewDialer()
	rec := testutil.NewRecorder()
	eng := session.New(session.Options{
		ConversationID: "conv-api",
		Dial:           dialer.Dial,
		Recorder:       rec,
	})
	return NewServer(eng, 8710), dialer, rec
}

// postChat submits a turn through the bridge endpoint, establishing the
// scripted channel as a side effect.
func postChat(t *testing.T, srv *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/v1/chat", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := setupServer(t)

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}
	if body["service"] != "archway" {
		t.Errorf("expected service archway, got %v", body["service"])
	}
	if body["connected"] != false {
		t.Errorf("expected connected false before any dial, got %v", body["connected"])
	}
	if body["conversation_id"] != "conv-api" {
		t.Errorf("expected conversation_id conv-api, got %v", body["conversation_id"])
	}
}

func TestTranscriptEndpoint_StartsEmpty(t *testing.T) {
	srv, _, _ := setupServer(t)

	req := httptest.NewRequest("GET", "/api/v1/transcript", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body []map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	if len(body) != 0 {
		t.Errorf("expected empty transcript, got %d messages", len(body))
	}
}

func TestChatEndpoint_StreamsOverChannel(t *testing.T) {
	srv, dialer, _ := setupServer(t)

	w := postChat(t, srv, `{"message": "design a queue worker"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		Message struct {
			Role   string `json:"role"`
			Status string `json:"status"`
		} `json:"message"`
		ConversationID string `json:"conversation_id"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	if body.Message.Role != "user" {
		t.Errorf("expected user message back, got role %s", body.Message.Role)
	}
	if body.Message.Status != "sent" {
		t.Errorf("expected status sent, got %s", body.Message.Status)
	}
	if body.ConversationID != "conv-api" {
		t.Errorf("expected conversation_id conv-api, got %s", body.ConversationID)
	}

	ch := dialer.Last()
	if ch == nil {
		t.Fatal("expected the turn to dial the channel")
	}
	if sent := ch.Sent(); len(sent) != 1 {
		t.Errorf("expected 1 outbound payload, got %d", len(sent))
	}
}

func TestChatEndpoint_EmptyMessage(t *testing.T) {
	srv, _, _ := setupServer(t)

	w := postChat(t, srv, `{"message": "   "}`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestChatEndpoint_InvalidBody(t *testing.T) {
	srv, _, _ := setupServer(t)

	w := postChat(t, srv, `{"message": `)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestChatEndpoint_NoTransport(t *testing.T) {
	eng := session.New(session.Options{
		ConversationID: "conv-api",
		Recorder:       testutil.NewRecorder(),
	})
	srv := NewServer(eng, 8710)

	w := postChat(t, srv, `{"message": "hello"}`)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestChatEndpoint_SyncUsesFallback(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"response": "synchronous reply", "conversation_id": "conv-api"}`))
	}))
	defer backend.Close()

	dialer := testutil.NewDialer()
	eng := session.New(session.Options{
		ConversationID: "conv-api",
		Dial:           dialer.Dial,
		Fallback:       fallback.New(backend.URL, 0),
		Recorder:       testutil.NewRecorder(),
	})
	srv := NewServer(eng, 8710)

	w := postChat(t, srv, `{"message": "hello", "sync": true}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if dialer.DialCount() != 0 {
		t.Errorf("expected sync turn to skip the channel, got %d dials", dialer.DialCount())
	}

	req := httptest.NewRequest("GET", "/api/v1/transcript", nil)
	tw := httptest.NewRecorder()
	srv.router.ServeHTTP(tw, req)

	var transcript []map[string]any
	json.NewDecoder(tw.Body).Decode(&transcript)
	if len(transcript) != 2 {
		t.Fatalf("expected user + assistant in transcript, got %d", len(transcript))
	}
	if transcript[1]["content"] != "synchronous reply" {
		t.Errorf("expected fallback reply in transcript, got %v", transcript[1]["content"])
	}
}

func TestChatEndpoint_BackendFailure(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer backend.Close()

	eng := session.New(session.Options{
		ConversationID: "conv-api",
		Fallback:       fallback.New(backend.URL, 0),
		Recorder:       testutil.NewRecorder(),
	})
	srv := NewServer(eng, 8710)

	w := postChat(t, srv, `{"message": "hello", "sync": true}`)

	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}
}

func TestRunEndpoints(t *testing.T) {
	srv, dialer, _ := setupServer(t)

	postChat(t, srv, `{"message": "start"}`)
	ch := dialer.Last()
	if ch == nil {
		t.Fatal("expected dialed channel")
	}

	ch.DeliverJSON(map[string]any{"type": "run_started", "run_id": "run-api"})
	ch.DeliverJSON(map[string]any{
		"type": "trace_event", "run_id": "run-api",
		"step_id": "s1", "phase": "started", "ts": 1.0, "agent": "architect",
	})
	ch.DeliverJSON(map[string]any{
		"type": "agent_stream", "run_id": "run-api",
		"agent": "architect", "message_delta": "drafting",
	})
	ch.DeliverJSON(map[string]any{"type": "team_final", "run_id": "run-api", "message": "done"})
	ch.DeliverJSON(map[string]any{"type": "run_completed", "run_id": "run-api"})

	req := httptest.NewRequest("GET", "/api/v1/runs", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var runs []struct {
		RunID  string   `json:"run_id"`
		Status string   `json:"status"`
		Agents []string `json:"agents"`
		Events int      `json:"events"`
	}
	json.NewDecoder(w.Body).Decode(&runs)
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].RunID != "run-api" {
		t.Errorf("expected run-api, got %s", runs[0].RunID)
	}
	if runs[0].Status != "completed" {
		t.Errorf("expected completed, got %s", runs[0].Status)
	}
	if runs[0].Events != 1 {
		t.Errorf("expected 1 trace event, got %d", runs[0].Events)
	}
	if len(runs[0].Agents) != 0 {
		t.Errorf("expected agent set cleared after completion, got %v", runs[0].Agents)
	}

	req = httptest.NewRequest("GET", "/api/v1/runs/run-api/events", nil)
	w = httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var evts []tracelog.Event
	json.NewDecoder(w.Body).Decode(&evts)
	if len(evts) != 1 || evts[0].StepID != "s1" {
		t.Errorf("expected the recorded trace event, got %+v", evts)
	}
}

func TestRunEventsEndpoint_UnknownRun(t *testing.T) {
	srv, _, _ := setupServer(t)

	req := httptest.NewRequest("GET", "/api/v1/runs/nonexistent/events", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestDiagramEndpoint(t *testing.T) {
	srv, dialer, _ := setupServer(t)

	req := httptest.NewRequest("GET", "/api/v1/diagram", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 before any extraction, got %d", w.Code)
	}

	postChat(t, srv, `{"message": "draw it"}`)
	dialer.Last().DeliverJSON(map[string]any{
		"type": "team_final", "run_id": "run-d", "message": "here you go",
		"diagram": map[string]any{
			"nodes": []map[string]any{{"id": "web", "type": "appservice"}},
			"edges": []map[string]any{},
		},
	})

	w = httptest.NewRecorder()
	srv.router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/diagram", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		MessageID string `json:"message_id"`
		RunID     string `json:"run_id"`
		Diagram   *struct {
			Nodes []map[string]any `json:"nodes"`
		} `json:"diagram"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	if body.MessageID == "" {
		t.Error("expected message_id on diagram update")
	}
	if body.RunID != "run-d" {
		t.Errorf("expected run_id run-d, got %s", body.RunID)
	}
	if body.Diagram == nil || len(body.Diagram.Nodes) != 1 {
		t.Errorf("expected parsed diagram with 1 node, got %+v", body.Diagram)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv, dialer, _ := setupServer(t)

	postChat(t, srv, `{"message": "go"}`)
	ch := dialer.Last()
	ch.DeliverJSON(map[string]any{"type": "typing", "typing": true})
	ch.Deliver([]byte("not json"))

	req := httptest.NewRequest("GET", "/api/v1/stats", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var stats session.Stats
	json.NewDecoder(w.Body).Decode(&stats)
	if stats.FramesTotal != 2 {
		t.Errorf("expected 2 frames total, got %d", stats.FramesTotal)
	}
	if stats.FramesDropped != 1 {
		t.Errorf("expected 1 dropped frame, got %d", stats.FramesDropped)
	}
	if stats.TurnsStreamed != 1 {
		t.Errorf("expected 1 streamed turn, got %d", stats.TurnsStreamed)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	srv, _, _ := setupServer(t)

	postChat(t, srv, `{"message": "remember this"}`)

	req := httptest.NewRequest("GET", "/api/v1/history", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var recs []persist.Record
	json.NewDecoder(w.Body).Decode(&recs)
	if len(recs) != 1 {
		t.Fatalf("expected 1 persisted record, got %d", len(recs))
	}
	if recs[0].Role != "user" || recs[0].Content != "remember this" {
		t.Errorf("unexpected record: %+v", recs[0])
	}
}
