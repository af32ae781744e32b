package registry

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/mcp-toolhub/pkg/config"
	mcperrors "github.com/ajitpratap0/mcp-toolhub/pkg/errors"
	"github.com/ajitpratap0/mcp-toolhub/pkg/logging"
	"github.com/ajitpratap0/mcp-toolhub/pkg/protocol"
	"github.com/ajitpratap0/mcp-toolhub/pkg/reconnect"
	"github.com/ajitpratap0/mcp-toolhub/pkg/transport"
	"github.com/ajitpratap0/mcp-toolhub/pkg/transport/transporttest"
)

func TestMain(m *testing.M) {
	transporttest.RunStdioStubIfRequested()
	os.Exit(m.Run())
}

// mockFactory hands out a fresh Mock per transport and remembers them.
type mockFactory struct {
	mu      sync.Mutex
	stubs   map[string]*transporttest.StubServer
	failing map[string]bool
	delay   time.Duration
	mocks   map[string][]*transporttest.Mock
}

func newMockFactory() *mockFactory {
	return &mockFactory{
		stubs:   make(map[string]*transporttest.StubServer),
		failing: make(map[string]bool),
		mocks:   make(map[string][]*transporttest.Mock),
	}
}

func (f *mockFactory) build(cfg config.ServerConfig, _ logging.Logger) (transport.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stub, ok := f.stubs[cfg.ID]
	if !ok {
		stub = &transporttest.StubServer{}
		f.stubs[cfg.ID] = stub
	}
	m := transporttest.NewMock(stub)
	m.ReplyDelay = f.delay
	if f.failing[cfg.ID] {
		m.OpenErr = mcperrors.TransportError("mock", "open", errors.New("connection refused"))
	}
	f.mocks[cfg.ID] = append(f.mocks[cfg.ID], m)
	return m, nil
}

func (f *mockFactory) setFailing(id string, failing bool) {
	f.mu.Lock()
	f.failing[id] = failing
	f.mu.Unlock()
}

func (f *mockFactory) stub(id string) *transporttest.StubServer {
	f.mu.Lock()
	defer f.mu.Unlock()
	stub, ok := f.stubs[id]
	if !ok {
		stub = &transporttest.StubServer{}
		f.stubs[id] = stub
	}
	return stub
}

func (f *mockFactory) built(id string) []*transporttest.Mock {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*transporttest.Mock(nil), f.mocks[id]...)
}

func (f *mockFactory) last(t *testing.T, id string) *transporttest.Mock {
	t.Helper()
	mocks := f.built(id)
	require.NotEmpty(t, mocks)
	return mocks[len(mocks)-1]
}

func stdioConfig(id string) config.ServerConfig {
	return config.ServerConfig{ID: id, Name: id + " server", Spec: config.StdioSpec{Command: "/usr/bin/" + id}}
}

func newTestRegistry(t *testing.T, f *mockFactory, opts ...Option) *Registry {
	t.Helper()
	opts = append([]Option{
		WithTransportFactory(f.build),
		WithReconnectPolicy(reconnect.Policy{MaxRetries: 3, BaseDelay: time.Hour, Multiplier: 2}),
		WithRequestTimeout(2 * time.Second),
	}, opts...)
	r := New(opts...)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func addServer(t *testing.T, r *Registry, cfg config.ServerConfig) {
	t.Helper()
	_, err := r.AddServer(context.Background(), cfg)
	require.NoError(t, err)
}

func status(t *testing.T, r *Registry, id string) Status {
	t.Helper()
	sc, err := r.GetServer(id)
	require.NoError(t, err)
	return sc.Status
}

func TestAddThenGetIsDisconnected(t *testing.T) {
	r := newTestRegistry(t, newMockFactory())

	added, err := r.AddServer(context.Background(), stdioConfig("fs"))
	require.NoError(t, err)
	assert.Equal(t, StatusDisconnected, added.Status)

	sc, err := r.GetServer("fs")
	require.NoError(t, err)
	assert.Equal(t, StatusDisconnected, sc.Status)
	assert.Empty(t, sc.Tools)
	assert.Empty(t, sc.Resources)
	assert.Empty(t, sc.LastError)
	assert.Zero(t, sc.RetryCount)
	assert.Nil(t, sc.ServerInfo)
	assert.Equal(t, stdioConfig("fs"), sc.Config)
}

func TestAddServerRejectsInvalidConfig(t *testing.T) {
	store := config.NewMemoryStore()
	r := newTestRegistry(t, newMockFactory(), WithStore(store))

	for name, cfg := range map[string]config.ServerConfig{
		"missing id":      {Name: "x", Spec: config.StdioSpec{Command: "x"}},
		"missing name":    {ID: "x", Spec: config.StdioSpec{Command: "x"}},
		"missing command": {ID: "x", Name: "x", Spec: config.StdioSpec{}},
		"missing url":     {ID: "x", Name: "x", Spec: config.HTTPSpec{}},
		"missing spec":    {ID: "x", Name: "x"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := r.AddServer(context.Background(), cfg)
			assert.True(t, mcperrors.IsInvalidConfig(err), "got %v", err)
		})
	}
	assert.Empty(t, r.GetAllServers())
	assert.Zero(t, store.Saves())
}

func TestConnectDiscoversCapabilities(t *testing.T) {
	f := newMockFactory()
	r := newTestRegistry(t, f)
	addServer(t, r, stdioConfig("fs"))

	require.NoError(t, r.ConnectServer(context.Background(), "fs"))

	sc, err := r.GetServer("fs")
	require.NoError(t, err)
	assert.Equal(t, StatusConnected, sc.Status)
	assert.Equal(t, []protocol.Tool{transporttest.EchoTool}, sc.Tools)
	assert.Equal(t, []protocol.Resource{transporttest.ReadmeResource}, sc.Resources)
	require.NotNil(t, sc.ServerInfo)
	assert.Equal(t, "stub", sc.ServerInfo.Name)
	assert.Equal(t, protocol.ProtocolRevision, sc.ProtocolVersion)
	assert.NotNil(t, sc.ConnectedAt)

	// Already connected: nothing new is opened.
	require.NoError(t, r.ConnectServer(context.Background(), "fs"))
	assert.Len(t, f.built("fs"), 1)
}

func TestConcurrentConnectOpensOneTransport(t *testing.T) {
	f := newMockFactory()
	f.delay = 20 * time.Millisecond
	r := newTestRegistry(t, f)
	addServer(t, r, stdioConfig("fs"))

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = r.ConnectServer(context.Background(), "fs")
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	mocks := f.built("fs")
	require.Len(t, mocks, 1)
	assert.Equal(t, 1, mocks[0].Opens())
	assert.Equal(t, StatusConnected, status(t, r, "fs"))
}

func TestDisconnectIsIdempotent(t *testing.T) {
	f := newMockFactory()
	r := newTestRegistry(t, f)
	addServer(t, r, stdioConfig("fs"))
	ctx := context.Background()

	require.NoError(t, r.DisconnectServer(ctx, "fs"))
	assert.Equal(t, StatusDisconnected, status(t, r, "fs"))

	require.NoError(t, r.ConnectServer(ctx, "fs"))
	require.NoError(t, r.DisconnectServer(ctx, "fs"))
	require.NoError(t, r.DisconnectServer(ctx, "fs"))

	sc, err := r.GetServer("fs")
	require.NoError(t, err)
	assert.Equal(t, StatusDisconnected, sc.Status)
	assert.Empty(t, sc.Tools)
	assert.True(t, f.last(t, "fs").Closed())

	err = r.DisconnectServer(ctx, "missing")
	assert.True(t, mcperrors.IsServerNotFound(err))
}

func TestExecuteToolRoundTrip(t *testing.T) {
	f := newMockFactory()
	r := newTestRegistry(t, f)
	addServer(t, r, stdioConfig("fs"))
	require.NoError(t, r.ConnectServer(context.Background(), "fs"))

	res, err := r.ExecuteTool(context.Background(), "fs", "echo", json.RawMessage(`{"text":"hello"}`))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	require.Len(t, res.Content, 1)
	assert.JSONEq(t, string(protocol.TextContent("hello")), string(res.Content[0]))
}

func TestExecuteToolReportsToolError(t *testing.T) {
	f := newMockFactory()
	f.stub("fs").CallTool = func(string, json.RawMessage) (*protocol.CallToolResult, *protocol.Error) {
		return &protocol.CallToolResult{Content: []json.RawMessage{protocol.TextContent("disk full")}, IsError: true}, nil
	}
	r := newTestRegistry(t, f)
	addServer(t, r, stdioConfig("fs"))
	require.NoError(t, r.ConnectServer(context.Background(), "fs"))

	res, err := r.ExecuteTool(context.Background(), "fs", "echo", json.RawMessage(`{"text":"x"}`))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, StatusConnected, status(t, r, "fs"))
}

func TestUnknownToolMakesNoIO(t *testing.T) {
	f := newMockFactory()
	r := newTestRegistry(t, f)
	addServer(t, r, stdioConfig("fs"))
	require.NoError(t, r.ConnectServer(context.Background(), "fs"))

	mock := f.last(t, "fs")
	sends := mock.Sends()
	calls := f.stub("fs").Calls(protocol.MethodCallTool)

	_, err := r.ExecuteTool(context.Background(), "fs", "nonexistent", json.RawMessage(`{}`))
	assert.True(t, mcperrors.IsUnknownTool(err), "got %v", err)
	assert.Equal(t, sends, mock.Sends())
	assert.Equal(t, calls, f.stub("fs").Calls(protocol.MethodCallTool))
}

func TestExecuteToolRequiresConnection(t *testing.T) {
	f := newMockFactory()
	r := newTestRegistry(t, f)
	addServer(t, r, stdioConfig("fs"))

	_, err := r.ExecuteTool(context.Background(), "fs", "echo", json.RawMessage(`{"text":"x"}`))
	assert.True(t, mcperrors.IsServerNotConnected(err), "got %v", err)
	assert.Empty(t, f.built("fs"), "executing must not connect")

	_, err = r.ExecuteTool(context.Background(), "nope", "echo", nil)
	assert.True(t, mcperrors.IsServerNotFound(err))

	_, err = r.ReadResource(context.Background(), "fs", transporttest.ReadmeResource.URI)
	assert.True(t, mcperrors.IsServerNotConnected(err))
}

func TestReadResource(t *testing.T) {
	f := newMockFactory()
	r := newTestRegistry(t, f)
	addServer(t, r, stdioConfig("fs"))
	require.NoError(t, r.ConnectServer(context.Background(), "fs"))

	res, err := r.ReadResource(context.Background(), "fs", transporttest.ReadmeResource.URI)
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Contains(t, string(res.Contents[0]), "hello from file:///readme.txt")
}

func TestConnectFailureHandsOffToSupervisor(t *testing.T) {
	f := newMockFactory()
	f.setFailing("fs", true)
	r := newTestRegistry(t, f)
	addServer(t, r, stdioConfig("fs"))

	err := r.ConnectServer(context.Background(), "fs")
	require.Error(t, err)
	assert.True(t, mcperrors.IsTransport(err), "got %v", err)

	sc, err := r.GetServer("fs")
	require.NoError(t, err)
	assert.Equal(t, StatusError, sc.Status)
	assert.Contains(t, sc.LastError, "connection refused")
	assert.Equal(t, reconnect.StateScheduled, sc.Reconnect.State)
	assert.Zero(t, sc.RetryCount)

	require.NoError(t, r.DisconnectServer(context.Background(), "fs"))
	sc, err = r.GetServer("fs")
	require.NoError(t, err)
	assert.Equal(t, StatusDisconnected, sc.Status)
	assert.Equal(t, reconnect.StateIdle, sc.Reconnect.State)
	assert.Empty(t, sc.LastError)
}

func TestConnectWithoutRetry(t *testing.T) {
	f := newMockFactory()
	f.setFailing("fs", true)
	r := newTestRegistry(t, f)
	addServer(t, r, stdioConfig("fs"))

	require.Error(t, r.ConnectServer(context.Background(), "fs", WithoutRetry()))
	sc, err := r.GetServer("fs")
	require.NoError(t, err)
	assert.Equal(t, StatusError, sc.Status)
	assert.Equal(t, reconnect.StateIdle, sc.Reconnect.State)
}

func TestAutoReconnectDisabled(t *testing.T) {
	f := newMockFactory()
	f.setFailing("fs", true)
	r := newTestRegistry(t, f, WithAutoReconnect(false))
	addServer(t, r, stdioConfig("fs"))

	require.Error(t, r.ConnectServer(context.Background(), "fs"))
	sc, err := r.GetServer("fs")
	require.NoError(t, err)
	assert.Equal(t, reconnect.StateIdle, sc.Reconnect.State)
}

func TestSupervisorReconnects(t *testing.T) {
	f := newMockFactory()
	f.setFailing("fs", true)
	r := newTestRegistry(t, f, WithReconnectPolicy(reconnect.Policy{MaxRetries: 5, BaseDelay: 20 * time.Millisecond, Multiplier: 2}))
	addServer(t, r, stdioConfig("fs"))

	require.Error(t, r.ConnectServer(context.Background(), "fs"))
	require.Eventually(t, func() bool {
		sc, _ := r.GetServer("fs")
		return sc.RetryCount >= 1
	}, 5*time.Second, 5*time.Millisecond)

	f.setFailing("fs", false)
	require.Eventually(t, func() bool {
		sc, _ := r.GetServer("fs")
		return sc.Status == StatusConnected && sc.Reconnect.State == reconnect.StateIdle
	}, 5*time.Second, 10*time.Millisecond)

	sc, err := r.GetServer("fs")
	require.NoError(t, err)
	assert.Zero(t, sc.RetryCount)
	assert.Equal(t, reconnect.StateIdle, sc.Reconnect.State)
	assert.Empty(t, sc.LastError)
	assert.Len(t, sc.Tools, 1)
}

func TestStdioServerExitingAfterHandshake(t *testing.T) {
	cmd, args, env := transporttest.StdioCommand(transporttest.StubBehavior{ExitAfterHandshake: true, ExitCode: 3})
	r := New(WithReconnectPolicy(reconnect.Policy{MaxRetries: 3, BaseDelay: 100 * time.Millisecond, Multiplier: 2}))
	t.Cleanup(func() { _ = r.Close() })

	_, err := r.AddServer(context.Background(), config.ServerConfig{
		ID:   "flaky",
		Name: "exits after handshake",
		Spec: config.StdioSpec{Command: cmd, Args: args, Env: env},
	})
	require.NoError(t, err)

	require.Error(t, r.ConnectServer(context.Background(), "flaky"))
	sc, err := r.GetServer("flaky")
	require.NoError(t, err)
	assert.Equal(t, StatusError, sc.Status)
	assert.NotEmpty(t, sc.LastError)
	assert.Equal(t, reconnect.StateScheduled, sc.Reconnect.State)

	require.Eventually(t, func() bool {
		sc, _ := r.GetServer("flaky")
		return sc.Reconnect.State == reconnect.StateExhausted
	}, 15*time.Second, 20*time.Millisecond)

	sc, err = r.GetServer("flaky")
	require.NoError(t, err)
	assert.Equal(t, StatusError, sc.Status)
	assert.Equal(t, 3, sc.RetryCount)

	time.Sleep(300 * time.Millisecond)
	sc, err = r.GetServer("flaky")
	require.NoError(t, err)
	assert.Equal(t, StatusError, sc.Status)
	assert.Equal(t, 3, sc.RetryCount)
}

func TestSessionCrashSchedulesRetry(t *testing.T) {
	f := newMockFactory()
	r := newTestRegistry(t, f)
	addServer(t, r, stdioConfig("fs"))
	require.NoError(t, r.ConnectServer(context.Background(), "fs"))

	f.last(t, "fs").Crash(137)

	require.Eventually(t, func() bool {
		sc, _ := r.GetServer("fs")
		return sc.Status == StatusError && sc.Reconnect.State == reconnect.StateScheduled
	}, 2*time.Second, 5*time.Millisecond)

	sc, err := r.GetServer("fs")
	require.NoError(t, err)
	assert.NotEmpty(t, sc.LastError)
	assert.Equal(t, reconnect.StateScheduled, sc.Reconnect.State)
	assert.Empty(t, r.AllTools())

	_, err = r.ExecuteTool(context.Background(), "fs", "echo", json.RawMessage(`{"text":"x"}`))
	assert.True(t, mcperrors.IsServerNotConnected(err))

	// An explicit connect supersedes the scheduled retry.
	require.NoError(t, r.ConnectServer(context.Background(), "fs"))
	sc, err = r.GetServer("fs")
	require.NoError(t, err)
	assert.Equal(t, StatusConnected, sc.Status)
	assert.Equal(t, reconnect.StateIdle, sc.Reconnect.State)
}

func TestListChangedTriggersRediscovery(t *testing.T) {
	f := newMockFactory()
	r := newTestRegistry(t, f)
	addServer(t, r, stdioConfig("fs"))
	require.NoError(t, r.ConnectServer(context.Background(), "fs"))

	grep := protocol.Tool{Name: "grep", InputSchema: json.RawMessage(`{"type":"object"}`)}
	f.stub("fs").SetTools([]protocol.Tool{transporttest.EchoTool, grep})
	f.last(t, "fs").Inject(transporttest.Notification(protocol.NotificationToolsListChanged))

	require.Eventually(t, func() bool {
		sc, _ := r.GetServer("fs")
		return len(sc.Tools) == 2
	}, 2*time.Second, 5*time.Millisecond)

	res, err := r.ExecuteTool(context.Background(), "fs", "grep", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.NotNil(t, res)
}

func TestAddServerOverwriteResets(t *testing.T) {
	f := newMockFactory()
	store := config.NewMemoryStore()
	r := newTestRegistry(t, f, WithStore(store))
	addServer(t, r, stdioConfig("fs"))
	require.NoError(t, r.ConnectServer(context.Background(), "fs"))
	mock := f.last(t, "fs")

	replacement := config.ServerConfig{ID: "fs", Name: "remote fs", Spec: config.HTTPSpec{URL: "http://localhost:9000/sse"}}
	sc, err := r.AddServer(context.Background(), replacement)
	require.NoError(t, err)

	assert.Equal(t, StatusDisconnected, sc.Status)
	assert.Empty(t, sc.Tools)
	assert.Empty(t, sc.Resources)
	assert.Equal(t, replacement, sc.Config)
	assert.True(t, mock.Closed())
	assert.Len(t, r.GetAllServers(), 1)

	saved, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []config.ServerConfig{replacement}, saved)
}

func TestRemoveServerPersists(t *testing.T) {
	f := newMockFactory()
	store := config.NewMemoryStore()
	r := newTestRegistry(t, f, WithStore(store))
	addServer(t, r, stdioConfig("fs"))
	addServer(t, r, stdioConfig("git"))
	assert.Equal(t, 2, store.Saves())

	require.NoError(t, r.ConnectServer(context.Background(), "fs"))
	require.NoError(t, r.RemoveServer(context.Background(), "fs"))
	assert.Equal(t, 3, store.Saves())
	assert.True(t, f.last(t, "fs").Closed())

	_, err := r.GetServer("fs")
	assert.True(t, mcperrors.IsServerNotFound(err))

	saved, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []config.ServerConfig{stdioConfig("git")}, saved)

	err = r.RemoveServer(context.Background(), "fs")
	assert.True(t, mcperrors.IsServerNotFound(err))
}

func TestRemoveCancelsScheduledRetry(t *testing.T) {
	f := newMockFactory()
	f.setFailing("fs", true)
	r := newTestRegistry(t, f, WithReconnectPolicy(reconnect.Policy{MaxRetries: 3, BaseDelay: 50 * time.Millisecond, Multiplier: 1}))
	addServer(t, r, stdioConfig("fs"))

	require.Error(t, r.ConnectServer(context.Background(), "fs"))
	require.NoError(t, r.RemoveServer(context.Background(), "fs"))
	built := len(f.built("fs"))

	time.Sleep(200 * time.Millisecond)
	assert.Len(t, f.built("fs"), built, "no attempt may run after removal")
}

func TestLoadFromConfigPreservesStatus(t *testing.T) {
	f := newMockFactory()
	store := config.NewMemoryStore(stdioConfig("fs"), stdioConfig("git"))
	r := newTestRegistry(t, f, WithStore(store))
	ctx := context.Background()

	require.NoError(t, r.LoadFromConfig(ctx))
	require.NoError(t, r.LoadFromConfig(ctx))
	require.Len(t, r.GetAllServers(), 2)
	require.NoError(t, r.ConnectServer(ctx, "fs"))

	renamed := stdioConfig("fs")
	renamed.Name = "files"
	require.NoError(t, store.Save(ctx, []config.ServerConfig{renamed, stdioConfig("git"), stdioConfig("web")}))
	require.NoError(t, r.LoadFromConfig(ctx))

	all := r.GetAllServers()
	require.Len(t, all, 3)
	assert.Equal(t, "fs", all[0].Config.ID)
	assert.Equal(t, "files", all[0].Config.Name)
	assert.Equal(t, StatusConnected, all[0].Status)
	assert.Len(t, all[0].Tools, 1)
	assert.Equal(t, "git", all[1].Config.ID)
	assert.Equal(t, StatusDisconnected, all[1].Status)
	assert.Equal(t, "web", all[2].Config.ID)
	assert.Equal(t, StatusDisconnected, all[2].Status)

	// Servers missing from the store are kept.
	require.NoError(t, store.Save(ctx, nil))
	require.NoError(t, r.LoadFromConfig(ctx))
	assert.Len(t, r.GetAllServers(), 3)
}

func TestLoadFromConfigCoalescesConcurrentCalls(t *testing.T) {
	store := config.NewMemoryStore(stdioConfig("fs"))
	r := newTestRegistry(t, newMockFactory(), WithStore(store))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.LoadFromConfig(context.Background()))
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, store.Loads(), 16)
	assert.Len(t, r.GetAllServers(), 1)
}

func TestLoadFromConfigRejectsInvalidRecords(t *testing.T) {
	tests := []struct {
		name    string
		servers []config.ServerConfig
	}{
		{"missing name and command", []config.ServerConfig{stdioConfig("fs"), {ID: "bad", Spec: config.StdioSpec{}}}},
		{"missing id", []config.ServerConfig{{Name: "noid", Spec: config.HTTPSpec{URL: "http://localhost:9000/sse"}}}},
		{"missing url", []config.ServerConfig{{ID: "web", Name: "web", Spec: config.HTTPSpec{}}}},
		{"duplicate id", []config.ServerConfig{stdioConfig("fs"), stdioConfig("fs")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry(t, newMockFactory(), WithStore(config.NewMemoryStore(tt.servers...)))

			err := r.LoadFromConfig(context.Background())
			require.Error(t, err)
			assert.True(t, mcperrors.IsInvalidConfig(err), "got %v", err)
			assert.Empty(t, r.GetAllServers())
		})
	}
}

// blockingStore holds Load until released, honoring its context.
type blockingStore struct {
	*config.MemoryStore
	release chan struct{}
}

func (s *blockingStore) Load(ctx context.Context) ([]config.ServerConfig, error) {
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.MemoryStore.Load(ctx)
}

func TestLoadFromConfigOutlivesCancelledCaller(t *testing.T) {
	store := &blockingStore{MemoryStore: config.NewMemoryStore(stdioConfig("fs")), release: make(chan struct{})}
	r := newTestRegistry(t, newMockFactory(), WithStore(store))

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() { first <- r.LoadFromConfig(ctx) }()
	second := make(chan error, 1)
	go func() { second <- r.LoadFromConfig(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(store.release)

	assert.NoError(t, <-first)
	assert.NoError(t, <-second)
	assert.Len(t, r.GetAllServers(), 1)
}

// flakyStore fails every Save while failing is set.
type flakyStore struct {
	*config.MemoryStore
	mu      sync.Mutex
	failing bool
}

func (s *flakyStore) setFailing(v bool) {
	s.mu.Lock()
	s.failing = v
	s.mu.Unlock()
}

func (s *flakyStore) Save(ctx context.Context, servers []config.ServerConfig) error {
	s.mu.Lock()
	failing := s.failing
	s.mu.Unlock()
	if failing {
		return errors.New("disk full")
	}
	return s.MemoryStore.Save(ctx, servers)
}

func TestAddServerFailedSaveChangesNothing(t *testing.T) {
	f := newMockFactory()
	store := &flakyStore{MemoryStore: config.NewMemoryStore()}
	r := newTestRegistry(t, f, WithStore(store))
	ctx := context.Background()

	store.setFailing(true)
	_, err := r.AddServer(ctx, stdioConfig("fs"))
	require.Error(t, err)
	assert.True(t, mcperrors.HasCode(err, mcperrors.CodeStoreError), "got %v", err)
	_, err = r.GetServer("fs")
	assert.True(t, mcperrors.IsServerNotFound(err))

	store.setFailing(false)
	addServer(t, r, stdioConfig("fs"))
	require.NoError(t, r.ConnectServer(ctx, "fs"))
	mock := f.last(t, "fs")

	store.setFailing(true)
	replacement := config.ServerConfig{ID: "fs", Name: "remote fs", Spec: config.HTTPSpec{URL: "http://localhost:9000/sse"}}
	_, err = r.AddServer(ctx, replacement)
	require.Error(t, err)

	sc, err := r.GetServer("fs")
	require.NoError(t, err)
	assert.Equal(t, StatusConnected, sc.Status)
	assert.Equal(t, stdioConfig("fs"), sc.Config)
	assert.False(t, mock.Closed())

	saved, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []config.ServerConfig{stdioConfig("fs")}, saved)
}

func TestRemoveServerFailedSaveKeepsServer(t *testing.T) {
	f := newMockFactory()
	store := &flakyStore{MemoryStore: config.NewMemoryStore()}
	r := newTestRegistry(t, f, WithStore(store))
	ctx := context.Background()
	addServer(t, r, stdioConfig("fs"))
	require.NoError(t, r.ConnectServer(ctx, "fs"))

	store.setFailing(true)
	err := r.RemoveServer(ctx, "fs")
	require.Error(t, err)
	assert.True(t, mcperrors.HasCode(err, mcperrors.CodeStoreError), "got %v", err)

	assert.Equal(t, StatusConnected, status(t, r, "fs"))
	assert.False(t, f.last(t, "fs").Closed())

	store.setFailing(false)
	require.NoError(t, r.RemoveServer(ctx, "fs"))
	_, err = r.GetServer("fs")
	assert.True(t, mcperrors.IsServerNotFound(err))
}

func TestAllToolsCoversConnectedServers(t *testing.T) {
	f := newMockFactory()
	f.stub("git").Tools = []protocol.Tool{{Name: "log"}, {Name: "diff"}}
	r := newTestRegistry(t, f)
	addServer(t, r, stdioConfig("fs"))
	addServer(t, r, stdioConfig("git"))
	addServer(t, r, stdioConfig("web"))
	require.NoError(t, r.ConnectServer(context.Background(), "git"))
	require.NoError(t, r.ConnectServer(context.Background(), "fs"))

	tools := r.AllTools()
	require.Len(t, tools, 3)
	assert.Equal(t, ServerTool{ServerID: "fs", Tool: transporttest.EchoTool}, tools[0])
	assert.Equal(t, "git", tools[1].ServerID)
	assert.Equal(t, "log", tools[1].Tool.Name)
	assert.Equal(t, "diff", tools[2].Tool.Name)

	resources := r.AllResources()
	require.Len(t, resources, 2)
	assert.Equal(t, "fs", resources[0].ServerID)
	assert.Equal(t, "git", resources[1].ServerID)
}

func TestConnectAll(t *testing.T) {
	f := newMockFactory()
	f.setFailing("broken", true)
	r := newTestRegistry(t, f, WithAutoReconnect(false))
	addServer(t, r, stdioConfig("fs"))
	addServer(t, r, stdioConfig("broken"))
	addServer(t, r, stdioConfig("git"))

	err := r.ConnectAll(context.Background())
	require.Error(t, err)
	assert.True(t, mcperrors.IsTransport(err))

	assert.Equal(t, StatusConnected, status(t, r, "fs"))
	assert.Equal(t, StatusError, status(t, r, "broken"))
	assert.Equal(t, StatusConnected, status(t, r, "git"))
}

func TestCloseDisconnectsEverything(t *testing.T) {
	f := newMockFactory()
	r := New(WithTransportFactory(f.build))
	_, err := r.AddServer(context.Background(), stdioConfig("fs"))
	require.NoError(t, err)
	require.NoError(t, r.ConnectServer(context.Background(), "fs"))

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.True(t, f.last(t, "fs").Closed())

	err = r.ConnectServer(context.Background(), "fs")
	assert.True(t, mcperrors.IsRegistryClosed(err), "got %v", err)
	_, err = r.AddServer(context.Background(), stdioConfig("git"))
	assert.True(t, mcperrors.IsRegistryClosed(err))
	assert.True(t, mcperrors.IsRegistryClosed(r.LoadFromConfig(context.Background())))
}
