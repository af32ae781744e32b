// Package controlplane exposes the registry over HTTP: listing servers,
// adding and removing them, connecting and disconnecting, and calling
// tools.
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/ajitpratap0/mcp-toolhub/pkg/config"
	mcperrors "github.com/ajitpratap0/mcp-toolhub/pkg/errors"
	"github.com/ajitpratap0/mcp-toolhub/pkg/logging"
	"github.com/ajitpratap0/mcp-toolhub/pkg/protocol"
	"github.com/ajitpratap0/mcp-toolhub/pkg/registry"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 4 << 20

// Server serves the control-plane API for one registry.
type Server struct {
	registry       *registry.Registry
	logger         logging.Logger
	metrics        http.Handler
	allowedOrigins []string
	shutdown       time.Duration

	handler http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithLogger logs every request.
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithAllowedOrigins sets the origins browsers may call the API from. The
// default allows localhost only.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.allowedOrigins = origins }
}

// WithShutdownTimeout bounds how long Run waits for in-flight requests.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdown = d
		}
	}
}

// New builds the API for reg.
func New(reg *registry.Registry, opts ...Option) *Server {
	s := &Server{
		registry:       reg,
		logger:         logging.Nop(),
		allowedOrigins: []string{"http://localhost", "http://127.0.0.1"},
		shutdown:       10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithFields(logging.Component("controlplane"))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.health)
	mux.HandleFunc("GET /servers", s.listServers)
	mux.HandleFunc("POST /servers", s.addServer)
	mux.HandleFunc("POST /servers/reload", s.reload)
	mux.HandleFunc("GET /servers/{id}", s.getServer)
	mux.HandleFunc("DELETE /servers/{id}", s.removeServer)
	mux.HandleFunc("POST /servers/{id}/connect", s.connectServer)
	mux.HandleFunc("POST /servers/{id}/disconnect", s.disconnectServer)
	mux.HandleFunc("POST /servers/{id}/tools/{tool}", s.executeTool)
	mux.HandleFunc("POST /servers/{id}/resources/read", s.readResource)
	mux.HandleFunc("GET /tools", s.listTools)
	mux.HandleFunc("GET /resources", s.listResources)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", logging.RequestIDHeader},
		ExposedHeaders: []string{logging.RequestIDHeader},
	})
	s.handler = logging.HTTPMiddleware(s.logger)(c.Handler(mux))
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Run serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("control plane listening", logging.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listServers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.GetAllServers())
}

func (s *Server) getServer(w http.ResponseWriter, r *http.Request) {
	sc, err := s.registry.GetServer(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) addServer(w http.ResponseWriter, r *http.Request) {
	var cfg config.ServerConfig
	if err := decodeBody(r, &cfg); err != nil {
		if !mcperrors.IsMCPError(err) {
			err = mcperrors.InvalidConfigError("", "body", err.Error())
		}
		writeError(w, err)
		return
	}
	sc, err := s.registry.AddServer(r.Context(), cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

func (s *Server) reload(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.LoadFromConfig(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.registry.GetAllServers())
}

func (s *Server) removeServer(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.RemoveServer(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) connectServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.registry.ConnectServer(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	s.writeSnapshot(w, id)
}

func (s *Server) disconnectServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.registry.DisconnectServer(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	s.writeSnapshot(w, id)
}

func (s *Server) writeSnapshot(w http.ResponseWriter, id string) {
	sc, err := s.registry.GetServer(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) executeTool(w http.ResponseWriter, r *http.Request) {
	var args json.RawMessage
	if err := decodeBody(r, &args); err != nil {
		writeError(w, mcperrors.InvalidParams(protocol.MethodCallTool, err))
		return
	}
	if len(args) > 0 && !bytes.HasPrefix(bytes.TrimSpace(args), []byte("{")) {
		writeError(w, mcperrors.InvalidParams(protocol.MethodCallTool, errors.New("arguments must be a JSON object")))
		return
	}
	res, err := s.registry.ExecuteTool(r.Context(), r.PathValue("id"), r.PathValue("tool"), args)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) readResource(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URI string `json:"uri"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, mcperrors.InvalidParams(protocol.MethodReadResource, err))
		return
	}
	if body.URI == "" {
		writeError(w, mcperrors.InvalidParams(protocol.MethodReadResource, errors.New("uri is required")))
		return
	}
	res, err := s.registry.ReadResource(r.Context(), r.PathValue("id"), body.URI)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) listTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.AllTools())
}

func (s *Server) listResources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.AllResources())
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v interface{}) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return err
	}
	if len(data) > maxBodyBytes {
		return fmt.Errorf("body exceeds %d bytes", maxBodyBytes)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
