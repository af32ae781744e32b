package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/elnormous/contenttype"

	mcperrors "github.com/ajitpratap0/mcp-toolhub/pkg/errors"
	"github.com/ajitpratap0/mcp-toolhub/pkg/logging"
)

// HTTPConfig describes an event-stream endpoint.
type HTTPConfig struct {
	URL string
	// APIKey, when set, is sent as a bearer token on every request.
	APIKey  string
	Headers map[string]string
	Client  *http.Client

	// EndpointTimeout bounds the wait for the endpoint event after the
	// stream is established.
	EndpointTimeout time.Duration

	Logger logging.Logger
}

// SessionIDHeader carries the server-assigned session id.
const SessionIDHeader = "Mcp-Session-Id"

const defaultEndpointTimeout = 10 * time.Second

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")
)

// SSETransport talks to a server over a long-lived GET event stream for
// inbound frames and one POST per outbound frame. The stream's first
// "endpoint" event names the URL frames are posted to.
type SSETransport struct {
	cfg     HTTPConfig
	client  *http.Client
	baseURL *url.URL
	logger  logging.Logger

	mu        sync.Mutex
	opened    bool
	closed    bool
	postURL   *url.URL
	sessionID string
	cancel    context.CancelFunc
	reading   bool

	frames     chan Frame
	pushMu     sync.RWMutex
	framesDone bool
	closing    chan struct{}
	readerDone chan struct{}
	closeOnce  sync.Once
}

// NewSSETransport creates a transport for the configured URL. The stream is
// opened by Open.
func NewSSETransport(cfg HTTPConfig) (*SSETransport, error) {
	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, mcperrors.TransportError("http", "configure", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, mcperrors.TransportError("http", "configure", fmt.Errorf("unsupported scheme %q", base.Scheme))
	}
	if cfg.EndpointTimeout <= 0 {
		cfg.EndpointTimeout = defaultEndpointTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &SSETransport{
		cfg:        cfg,
		client:     client,
		baseURL:    base,
		logger:     logger.WithFields(logging.Component("http-transport"), logging.String("url", cfg.URL)),
		frames:     make(chan Frame, frameBuffer),
		closing:    make(chan struct{}),
		readerDone: make(chan struct{}),
	}, nil
}

// Open connects the event stream and waits for the endpoint event. A
// failed Open leaves the transport closed.
func (t *SSETransport) Open(ctx context.Context) error {
	err := t.open(ctx)
	if err != nil {
		_ = t.Close()
	}
	return err
}

func (t *SSETransport) open(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return mcperrors.ClosedTransportError("http", "open")
	}
	if t.opened || t.cancel != nil {
		t.mu.Unlock()
		return mcperrors.TransportError("http", "open", errors.New("already open"))
	}
	streamCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.mu.Unlock()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.baseURL.String(), nil)
	if err != nil {
		return mcperrors.HTTPTransportError("open", t.cfg.URL, 0, err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	t.decorate(req)

	// The request context outlives Open, so ctx is enforced by hand.
	stop := context.AfterFunc(ctx, cancel)
	resp, err := t.client.Do(req)
	stop()
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return mcperrors.HTTPTransportError("open", t.cfg.URL, 0, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return mcperrors.HTTPTransportError("open", t.cfg.URL, resp.StatusCode, errors.New(resp.Status))
	}
	mt := contenttype.NewMediaType(resp.Header.Get("Content-Type"))
	if !mt.Matches(eventStreamMediaType) {
		_ = resp.Body.Close()
		return mcperrors.HTTPTransportError("open", t.cfg.URL, resp.StatusCode,
			fmt.Errorf("unexpected content type %q", resp.Header.Get("Content-Type")))
	}
	t.rememberSession(resp)

	endpoint := make(chan string, 1)
	t.mu.Lock()
	t.reading = true
	t.mu.Unlock()
	go t.read(resp.Body, endpoint)

	timer := time.NewTimer(t.cfg.EndpointTimeout)
	defer timer.Stop()

	var openErr error
	select {
	case raw := <-endpoint:
		ref, err := url.Parse(raw)
		if err != nil {
			openErr = fmt.Errorf("invalid endpoint %q: %w", raw, err)
			break
		}
		t.mu.Lock()
		t.postURL = t.baseURL.ResolveReference(ref)
		t.opened = true
		t.mu.Unlock()
		t.logger.Debug("stream established", logging.String("endpoint", t.postURL.String()))
		return nil
	case <-t.readerDone:
		openErr = errors.New("stream ended before endpoint event")
	case <-timer.C:
		openErr = fmt.Errorf("no endpoint event within %v", t.cfg.EndpointTimeout)
	case <-ctx.Done():
		openErr = ctx.Err()
	}
	return mcperrors.HTTPTransportError("open", t.cfg.URL, resp.StatusCode, openErr)
}

// read consumes the event stream until it ends. The first endpoint event
// is handed to Open; message events become frames.
func (t *SSETransport) read(body io.ReadCloser, endpoint chan<- string) {
	defer close(t.readerDone)
	defer body.Close()

	events := newEventReader(body)
	sawEndpoint := false
	for {
		ev, err := events.Next()
		if err != nil {
			select {
			case <-t.closing:
				t.closeFrames()
				return
			default:
			}
			end := &Termination{Kind: TerminationEOF}
			if !errors.Is(err, io.EOF) {
				end = &Termination{Kind: TerminationError, Err: mcperrors.HTTPTransportError("read", t.cfg.URL, 0, err)}
			}
			t.logger.Debug("stream ended", logging.String("reason", end.Kind.String()))
			t.push(Frame{End: end})
			t.closeFrames()
			return
		}

		switch ev.Type {
		case "endpoint":
			if !sawEndpoint {
				sawEndpoint = true
				endpoint <- string(ev.Data)
			}
		case "", "message":
			t.push(Frame{Data: ev.Data})
		default:
			t.logger.Debug("ignoring event", logging.String("event", ev.Type))
		}
	}
}

// push delivers f unless the transport is closing or the sequence already
// ended.
func (t *SSETransport) push(f Frame) {
	t.pushMu.RLock()
	defer t.pushMu.RUnlock()
	if t.framesDone {
		return
	}
	select {
	case t.frames <- f:
	case <-t.closing:
	}
}

func (t *SSETransport) closeFrames() {
	t.pushMu.Lock()
	defer t.pushMu.Unlock()
	if !t.framesDone {
		t.framesDone = true
		close(t.frames)
	}
}

// Send posts one frame. A JSON or event-stream reply body is fed into the
// inbound sequence, for servers that answer inline.
func (t *SSETransport) Send(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	closed, opened := t.closed, t.opened
	var target string
	if t.postURL != nil {
		target = t.postURL.String()
	}
	t.mu.Unlock()

	if closed {
		return mcperrors.ClosedTransportError("http", "send")
	}
	if !opened {
		return mcperrors.TransportNotOpen("http", "send")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(frame))
	if err != nil {
		return mcperrors.HTTPTransportError("send", target, 0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	t.decorate(req)

	resp, err := t.client.Do(req)
	if err != nil {
		if t.isClosed() {
			return mcperrors.ClosedTransportError("http", "send")
		}
		return mcperrors.HTTPTransportError("send", target, 0, err)
	}
	defer resp.Body.Close()
	t.rememberSession(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return mcperrors.HTTPTransportError("send", target, resp.StatusCode, errors.New(string(bytes.TrimSpace(snippet))))
	}

	mt := contenttype.NewMediaType(resp.Header.Get("Content-Type"))
	switch {
	case mt.Matches(jsonMediaType):
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameSize))
		if err != nil {
			return mcperrors.HTTPTransportError("send", target, resp.StatusCode, err)
		}
		if body = bytes.TrimSpace(body); len(body) > 0 {
			t.push(Frame{Data: body})
		}
	case mt.Matches(eventStreamMediaType):
		events := newEventReader(resp.Body)
		for {
			ev, err := events.Next()
			if err != nil {
				break
			}
			if ev.Type == "" || ev.Type == "message" {
				t.push(Frame{Data: ev.Data})
			}
		}
	}
	return nil
}

// Frames returns the inbound sequence.
func (t *SSETransport) Frames() (<-chan Frame, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, mcperrors.ClosedTransportError("http", "frames")
	}
	if !t.opened {
		return nil, mcperrors.TransportNotOpen("http", "frames")
	}
	return t.frames, nil
}

// Close tears down the event stream. Posts in flight are abandoned.
func (t *SSETransport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		cancel, reading := t.cancel, t.reading
		t.mu.Unlock()

		close(t.closing)
		if cancel != nil {
			cancel()
		}
		if reading {
			<-t.readerDone
		}
		t.closeFrames()
	})
	return nil
}

// SessionID returns the server-assigned session id, if any.
func (t *SSETransport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

func (t *SSETransport) decorate(req *http.Request) {
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}
	if t.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	}
	t.mu.Lock()
	if t.sessionID != "" {
		req.Header.Set(SessionIDHeader, t.sessionID)
	}
	t.mu.Unlock()
}

func (t *SSETransport) rememberSession(resp *http.Response) {
	if sid := resp.Header.Get(SessionIDHeader); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}
}

func (t *SSETransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
