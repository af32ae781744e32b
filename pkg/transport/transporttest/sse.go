package transporttest

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
)

// SSEServer serves a StubServer over an event stream at "/sse" and a POST
// endpoint at "/message".
type SSEServer struct {
	*httptest.Server
	Stub *StubServer
	// Inline answers POSTs with a JSON body instead of on the stream.
	Inline bool
	// SessionID is returned in the session header when non-empty.
	SessionID string

	streams atomic.Int32

	mu        sync.Mutex
	auth      []string
	sessions  map[string]chan []byte
	nextID    int
	seenSIDs  []string
	closeOnce sync.Once
	done      chan struct{}
}

// NewSSEServer starts a server answering with stub.
func NewSSEServer(stub *StubServer) *SSEServer {
	s := &SSEServer{
		Stub:     stub,
		sessions: make(map[string]chan []byte),
		done:     make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", s.stream)
	mux.HandleFunc("/message", s.message)
	s.Server = httptest.NewServer(mux)
	return s
}

// StreamURL returns the event-stream URL.
func (s *SSEServer) StreamURL() string {
	return s.Server.URL + "/sse"
}

// Streams returns how many event streams were opened.
func (s *SSEServer) Streams() int { return int(s.streams.Load()) }

// Authorizations returns the Authorization headers seen so far.
func (s *SSEServer) Authorizations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.auth...)
}

// SessionHeaders returns the session headers sent with POSTs.
func (s *SSEServer) SessionHeaders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seenSIDs...)
}

// DropStreams ends every open event stream.
func (s *SSEServer) DropStreams() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Close drops the streams and shuts the server down.
func (s *SSEServer) Close() {
	s.DropStreams()
	s.Server.Close()
}

func (s *SSEServer) stream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	s.streams.Add(1)

	s.mu.Lock()
	s.auth = append(s.auth, r.Header.Get("Authorization"))
	s.nextID++
	id := fmt.Sprintf("s%d", s.nextID)
	out := make(chan []byte, 64)
	s.sessions[id] = out
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	if s.SessionID != "" {
		w.Header().Set("Mcp-Session-Id", s.SessionID)
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, ": welcome\n\nevent: endpoint\ndata: /message?session=%s\n\n", id)
	flusher.Flush()

	for {
		select {
		case frame := <-out:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", frame)
			flusher.Flush()
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		}
	}
}

func (s *SSEServer) message(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	out, ok := s.sessions[r.URL.Query().Get("session")]
	s.seenSIDs = append(s.seenSIDs, r.Header.Get("Mcp-Session-Id"))
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	replies := s.Stub.Handle(bytes.TrimSpace(body))
	if s.Inline && len(replies) > 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(replies[0])
		return
	}
	for _, reply := range replies {
		out <- reply
	}
	w.WriteHeader(http.StatusAccepted)
}
