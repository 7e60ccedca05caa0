package delivery

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
)

// StubEndpoint is an in-memory stand-in for the remote collection endpoint
// (for development/testing). Rows are deduplicated by submission_uuid the
// way the real endpoint is expected to.
type StubEndpoint struct {
	mu       sync.Mutex
	rows     map[string]url.Values
	order    []string
	requests []url.Values
	failures map[string]string
}

// NewStubEndpoint creates an empty stub endpoint.
func NewStubEndpoint() *StubEndpoint {
	return &StubEndpoint{
		rows:     make(map[string]url.Values),
		failures: make(map[string]string),
	}
}

// FailAction makes every request with the given action answer with an
// application-level failure carrying message.
func (s *StubEndpoint) FailAction(action, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[action] = message
}

// Recover clears a failure set by FailAction.
func (s *StubEndpoint) Recover(action string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, action)
}

// Rows returns the written rows in first-write order.
func (s *StubEndpoint) Rows() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]url.Values, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.rows[id])
	}
	return out
}

// Requests returns every request received, in arrival order.
func (s *StubEndpoint) Requests() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.requests...)
}

func (s *StubEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	form := r.PostForm
	action := form.Get("action")
	id := form.Get("submission_uuid")

	s.mu.Lock()
	s.requests = append(s.requests, form)
	msg, failing := s.failures[action]
	if !failing && action != ActionUpload {
		if _, seen := s.rows[id]; !seen {
			s.rows[id] = form
			s.order = append(s.order, id)
		}
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case failing:
		json.NewEncoder(w).Encode(map[string]string{"status": "ERRO", "mensagem": msg})
	case action == ActionUpload:
		json.NewEncoder(w).Encode(map[string]string{
			"status":   "OK",
			"foto_url": "stub://photos/" + id,
			"foto_id":  id,
		})
	default:
		json.NewEncoder(w).Encode(map[string]string{"status": "OK"})
	}
}
