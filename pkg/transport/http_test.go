package transport_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/ajitpratap0/mcp-toolhub/pkg/errors"
	"github.com/ajitpratap0/mcp-toolhub/pkg/protocol"
	"github.com/ajitpratap0/mcp-toolhub/pkg/transport"
	"github.com/ajitpratap0/mcp-toolhub/pkg/transport/transporttest"
)

func openSSE(t *testing.T, srv *transporttest.SSEServer, apiKey string) *transport.SSETransport {
	t.Helper()
	tr, err := transport.NewSSETransport(transport.HTTPConfig{URL: srv.StreamURL(), APIKey: apiKey})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	require.NoError(t, tr.Open(context.Background()))
	return tr
}

func TestSSETransport_RoundTrip(t *testing.T) {
	srv := transporttest.NewSSEServer(&transporttest.StubServer{})
	defer srv.Close()

	tr := openSSE(t, srv, "secret")
	frames, err := tr.Frames()
	require.NoError(t, err)

	require.NoError(t, tr.Send(context.Background(), request(t, 4, protocol.MethodListTools, nil)))
	msg, err := protocol.ParseMessage(nextFrame(t, frames).Data)
	require.NoError(t, err)
	id, _ := msg.NumericID()
	assert.Equal(t, int64(4), id)

	var result protocol.ListToolsResult
	require.NoError(t, json.Unmarshal(msg.Result, &result))
	assert.Equal(t, []protocol.Tool{transporttest.EchoTool}, result.Tools)

	assert.Equal(t, []string{"Bearer secret"}, srv.Authorizations())
	assert.Equal(t, 1, srv.Streams())
}

func TestSSETransport_InlineReplies(t *testing.T) {
	srv := transporttest.NewSSEServer(&transporttest.StubServer{})
	srv.Inline = true
	defer srv.Close()

	tr := openSSE(t, srv, "")
	frames, err := tr.Frames()
	require.NoError(t, err)

	require.NoError(t, tr.Send(context.Background(), request(t, 1, protocol.MethodPing, nil)))
	msg, err := protocol.ParseMessage(nextFrame(t, frames).Data)
	require.NoError(t, err)
	assert.Equal(t, protocol.KindResponse, msg.Kind())
	assert.Equal(t, []string{""}, srv.Authorizations())
}

func TestSSETransport_SessionHeader(t *testing.T) {
	srv := transporttest.NewSSEServer(&transporttest.StubServer{})
	srv.SessionID = "sess-42"
	defer srv.Close()

	tr := openSSE(t, srv, "")
	assert.Equal(t, "sess-42", tr.SessionID())

	require.NoError(t, tr.Send(context.Background(), request(t, 1, protocol.MethodPing, nil)))
	assert.Equal(t, []string{"sess-42"}, srv.SessionHeaders())
}

func TestSSETransport_StreamEnds(t *testing.T) {
	srv := transporttest.NewSSEServer(&transporttest.StubServer{})
	defer srv.Close()

	tr := openSSE(t, srv, "")
	frames, err := tr.Frames()
	require.NoError(t, err)

	srv.DropStreams()
	end := nextFrame(t, frames)
	require.True(t, end.Terminal())
	assert.Equal(t, transport.TerminationEOF, end.End.Kind)
}

func TestSSETransport_UnreachableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	tr, err := transport.NewSSETransport(transport.HTTPConfig{URL: url})
	require.NoError(t, err)
	err = tr.Open(context.Background())
	require.Error(t, err)
	assert.True(t, mcperrors.IsTransport(err))

	err = tr.Send(context.Background(), []byte(`{}`))
	assert.True(t, mcperrors.IsClosedTransport(err), "a failed Open leaves the transport closed")
}

func TestSSETransport_RejectsNonStreamResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	tr, err := transport.NewSSETransport(transport.HTTPConfig{URL: srv.URL})
	require.NoError(t, err)
	err = tr.Open(context.Background())
	assert.True(t, mcperrors.IsTransport(err))
}

func TestSSETransport_MissingEndpointEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	tr, err := transport.NewSSETransport(transport.HTTPConfig{URL: srv.URL, EndpointTimeout: 100 * time.Millisecond})
	require.NoError(t, err)
	start := time.Now()
	err = tr.Open(context.Background())
	assert.True(t, mcperrors.IsTransport(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSSETransport_InvalidURL(t *testing.T) {
	_, err := transport.NewSSETransport(transport.HTTPConfig{URL: "ftp://example.com/sse"})
	assert.True(t, mcperrors.IsTransport(err))
}

func TestSSETransport_CloseIsIdempotent(t *testing.T) {
	srv := transporttest.NewSSEServer(&transporttest.StubServer{})
	defer srv.Close()

	tr := openSSE(t, srv, "")
	frames, err := tr.Frames()
	require.NoError(t, err)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	for range frames {
	}

	err = tr.Send(context.Background(), []byte(`{}`))
	assert.True(t, mcperrors.IsClosedTransport(err))
}
