package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestGroq_NoKey(t *testing.T) {
	c := NewGroqClient("", "model")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Complete(ctx, []Message{{Role: "user", Content: "hi"}}); err == nil {
		t.Fatalf("expected error with missing key")
	}
}

func TestGroq_HTTPFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status_non_2xx", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500); _, _ = w.Write([]byte("oops")) }},
		{"bad_json", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("not-json")) }},
		{"empty_choices", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(200)
			_, _ = w.Write([]byte(`{"choices":[]}`))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			c := NewGroqClient("key", "model")
			c.BaseURL = srv.URL
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if _, err := c.Complete(ctx, []Message{{Role: "user", Content: "hi"}}); err == nil {
				t.Fatalf("expected error; got nil")
			}
		})
	}
}

func TestGroq_StreamChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`data: {"choices":[{"delta":{"content":"Namaste"}}]}`,
			`data: {"choices":[{"delta":{"content":", kitne"}}]}`,
			``,
			`data: {"choices":[{"delta":{"content":" log?"}}]}`,
			`data: [DONE]`,
		}
		for _, c := range chunks {
			_, _ = w.Write([]byte(c + "\n"))
		}
	}))
	defer srv.Close()

	c := NewGroqClient("key", "model")
	c.BaseURL = srv.URL
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	tokens, errc := c.StreamChat(ctx, []Message{{Role: "user", Content: "hi"}})
	var sb strings.Builder
	for tok := range tokens {
		sb.WriteString(tok)
	}
	if err := <-errc; err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if got := sb.String(); got != "Namaste, kitne log?" {
		t.Fatalf("stream text = %q", got)
	}
}

func TestGroq_StreamCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(`data: {"choices":[{"delta":{"content":"slow"}}]}` + "\n"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := NewGroqClient("key", "model")
	c.BaseURL = srv.URL
	ctx, cancel := context.WithCancel(context.Background())

	tokens, errc := c.StreamChat(ctx, []Message{{Role: "user", Content: "hi"}})
	<-tokens
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-tokens:
			if !ok {
				tokens = nil
			}
		case err, ok := <-errc:
			if ok && err == nil {
				t.Fatalf("expected cancellation error")
			}
			return
		case <-deadline:
			t.Fatalf("stream did not stop after cancel")
		}
	}
}

func TestGroq_ExtractJSONSetsJSONMode(t *testing.T) {
	var gotFormat string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ResponseFormat *struct {
				Type string `json:"type"`
			} `json:"response_format"`
		}
		_ = jsonDecode(r, &body)
		if body.ResponseFormat != nil {
			gotFormat = body.ResponseFormat.Type
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"intent\":\"inquiry\"}"}}]}`))
	}))
	defer srv.Close()

	c := NewGroqClient("key", "model")
	c.BaseURL = srv.URL
	raw, err := c.ExtractJSON(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if gotFormat != "json_object" {
		t.Fatalf("response_format = %q", gotFormat)
	}
	if !strings.Contains(string(raw), "inquiry") {
		t.Fatalf("raw = %s", raw)
	}
}

func jsonDecode(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
