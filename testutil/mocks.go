package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// MockGenerativeServer is a test server standing in for an OpenAI-compatible
// generative-text API. Handlers are keyed by URL path.
type MockGenerativeServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu       sync.Mutex
	requests int
	lastBody []byte
	lastAuth string
}

// NewMockGenerativeServer creates a new mock generative-text server.
func NewMockGenerativeServer(t *testing.T) *MockGenerativeServer {
	t.Helper()
	m := &MockGenerativeServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		m.mu.Lock()
		m.requests++
		m.lastBody = body
		m.lastAuth = r.Header.Get("Authorization")
		handler, ok := m.Handlers[r.URL.Path]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

func (m *MockGenerativeServer) handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers[path] = h
}

// MockCompletion answers /chat/completions with a single choice whose content is content.
func (m *MockGenerativeServer) MockCompletion(content string) {
	m.handle("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	})
}

// MockStatus answers /chat/completions with the given status code and an error body.
func (m *MockGenerativeServer) MockStatus(code int) {
	m.handle("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"upstream unavailable"}`, code)
	})
}

// MockRawBody answers /chat/completions with body verbatim and status 200.
func (m *MockGenerativeServer) MockRawBody(body string) {
	m.handle("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body)) //nolint:errcheck // test mock response
	})
}

// Requests returns how many requests the server has received.
func (m *MockGenerativeServer) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

// LastPrompt returns the content of the last message in the most recent request.
func (m *MockGenerativeServer) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var req struct {
		Messages []struct {
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(m.lastBody, &req); err != nil || len(req.Messages) == 0 {
		return ""
	}
	return req.Messages[len(req.Messages)-1].Content
}

// LastAuthorization returns the Authorization header of the most recent request.
func (m *MockGenerativeServer) LastAuthorization() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAuth
}
