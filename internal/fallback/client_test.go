package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/error505/archway/internal/protocol"
)

func TestSendTurnSuccess(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"conversation_id": "conv-42",
			"message":         "Here is your plan.",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	reply, err := c.SendTurn(context.Background(), "deploy a web app", "conv-42",
		[]protocol.TurnMessage{{Role: "user", Content: "earlier turn"}},
		protocol.TurnContext{Summary: "[user]: earlier turn"},
	)
	if err != nil {
		t.Fatalf("SendTurn failed: %v", err)
	}

	if gotPath != "/chat" {
		t.Errorf("path = %q, want /chat", gotPath)
	}
	if gotBody["message"] != "deploy a web app" {
		t.Errorf("request message = %v", gotBody["message"])
	}
	if gotBody["conversation_id"] != "conv-42" {
		t.Errorf("request conversation_id = %v", gotBody["conversation_id"])
	}
	if _, ok := gotBody["conversation_history"].([]any); !ok {
		t.Errorf("conversation_history missing: %v", gotBody)
	}
	if reply.Content != "Here is your plan." || reply.ConversationID != "conv-42" {
		t.Errorf("unexpected reply: %+v", reply)
	}
}

func TestSendTurnObjectReply(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"content field", `{"message": {"content": "from content"}}`, "from content"},
		{"nested message field", `{"message": {"message": "from message"}}`, "from message"},
		{"text field", `{"message": {"text": "from text"}}`, "from text"},
		{"response field fallback", `{"response": "from response"}`, "from response"},
		{"unknown object kept as JSON", `{"message": {"verdict": "ok"}}`, `{"verdict":"ok"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			reply, err := New(srv.URL, time.Second).SendTurn(context.Background(), "hi", "", nil, protocol.TurnContext{})
			if err != nil {
				t.Fatalf("SendTurn failed: %v", err)
			}
			if reply.Content != tc.want {
				t.Errorf("content = %q, want %q", reply.Content, tc.want)
			}
		})
	}
}

func TestSendTurnAcceptedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"message": "queued reply"}`))
	}))
	defer srv.Close()

	reply, err := New(srv.URL, time.Second).SendTurn(context.Background(), "hi", "", nil, protocol.TurnContext{})
	if err != nil {
		t.Fatalf("SendTurn rejected a 2xx response: %v", err)
	}
	if reply.Content != "queued reply" {
		t.Errorf("content = %q, want %q", reply.Content, "queued reply")
	}
}

func TestSendTurnStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).SendTurn(context.Background(), "hi", "", nil, protocol.TurnContext{})

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Code != http.StatusTooManyRequests {
		t.Errorf("code = %d, want 429", se.Code)
	}
	if se.Body != "rate limited" {
		t.Errorf("body = %q", se.Body)
	}
}

func TestSendTurnTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"message": "too late"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, 20*time.Millisecond).SendTurn(context.Background(), "hi", "", nil, protocol.TurnContext{})
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestSendTurnMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).SendTurn(context.Background(), "hi", "", nil, protocol.TurnContext{})
	if err == nil {
		t.Fatal("expected decode error")
	}
}
