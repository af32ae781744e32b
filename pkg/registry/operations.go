package registry

import (
	"context"
	"encoding/json"
	"errors"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/mcp-toolhub/pkg/config"
	mcperrors "github.com/ajitpratap0/mcp-toolhub/pkg/errors"
	"github.com/ajitpratap0/mcp-toolhub/pkg/logging"
	"github.com/ajitpratap0/mcp-toolhub/pkg/protocol"
	"github.com/ajitpratap0/mcp-toolhub/pkg/session"
)

// LoadFromConfig reads the store and upserts every configured server.
// Known servers keep their runtime status and get the stored config; new
// ones are added disconnected. Servers missing from the store are left
// alone. One invalid record fails the whole load and changes nothing.
// Concurrent calls share one read, which is not cut short when the first
// caller goes away.
func (r *Registry) LoadFromConfig(ctx context.Context) error {
	_, err, _ := r.loads.Do("load", func() (interface{}, error) {
		servers, err := r.store.Load(context.WithoutCancel(ctx))
		if err != nil {
			return nil, storeError("load", err)
		}
		if err := config.ValidateAll(servers); err != nil {
			r.logger.Warn("rejected server list", logging.ErrorField(err))
			return nil, err
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			return nil, mcperrors.RegistryClosed()
		}
		added := 0
		for _, cfg := range servers {
			if e, ok := r.entries[cfg.ID]; ok {
				e.cfg = cfg.Clone()
				continue
			}
			r.insertLocked(cfg)
			added++
		}
		r.logger.Debug("config loaded", logging.Int("servers", len(servers)), logging.Int("added", added))
		return nil, nil
	})
	return err
}

// insertLocked appends a new disconnected entry. r.mu must be held.
func (r *Registry) insertLocked(cfg config.ServerConfig) *entry {
	e := &entry{id: cfg.ID, cfg: cfg.Clone()}
	r.entries[cfg.ID] = e
	r.order = append(r.order, cfg.ID)
	r.setStatusLocked(e, StatusDisconnected)
	return e
}

// AddServer validates cfg and inserts it, or replaces the server with the
// same id. A replaced server is disconnected first. The server is not
// connected. The updated list is saved to the store before the registry
// changes, so a failed save leaves the registry as it was.
func (r *Registry) AddServer(ctx context.Context, cfg config.ServerConfig) (ServerConnection, error) {
	if err := cfg.Validate(); err != nil {
		return ServerConnection{}, err
	}
	cfg = cfg.Clone()

	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	err := r.persist(ctx, func(servers []config.ServerConfig) []config.ServerConfig {
		for i := range servers {
			if servers[i].ID == cfg.ID {
				servers[i] = cfg.Clone()
				return servers
			}
		}
		return append(servers, cfg.Clone())
	})
	if err != nil {
		return ServerConnection{}, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ServerConnection{}, mcperrors.RegistryClosed()
	}
	e, exists := r.entries[cfg.ID]
	if !exists {
		e = r.insertLocked(cfg)
		snap := r.snapshotLocked(e)
		r.mu.Unlock()
		r.logger.Info("server added", logging.ServerID(cfg.ID), logging.String("transport", string(cfg.Kind())))
		return snap, nil
	}
	r.mu.Unlock()

	r.supervisor.Cancel(cfg.ID)
	e.op.Lock()
	r.disconnectLocked(e)
	r.mu.Lock()
	e.cfg = cfg
	snap := r.snapshotLocked(e)
	r.mu.Unlock()
	e.op.Unlock()

	r.logger.Info("server replaced", logging.ServerID(cfg.ID), logging.String("transport", string(cfg.Kind())))
	return snap, nil
}

// RemoveServer saves the list without the server, then disconnects and
// deletes it. A failed save leaves the server registered.
func (r *Registry) RemoveServer(ctx context.Context, id string) error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	if _, err := r.lookup(id); err != nil {
		return err
	}
	err := r.persist(ctx, func(servers []config.ServerConfig) []config.ServerConfig {
		out := servers[:0]
		for _, s := range servers {
			if s.ID != id {
				out = append(out, s)
			}
		}
		return out
	})
	if err != nil {
		return err
	}

	r.supervisor.Cancel(id)
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.op.Lock()
	r.mu.Lock()
	if e.removed {
		r.mu.Unlock()
		e.op.Unlock()
		return mcperrors.ServerNotFound(id)
	}
	r.mu.Unlock()
	r.disconnectLocked(e)

	r.mu.Lock()
	e.removed = true
	delete(r.entries, id)
	for i, other := range r.order {
		if other == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	e.op.Unlock()

	r.metrics.Forget(id)
	r.logger.Info("server removed", logging.ServerID(id))
	return nil
}

// persist saves the ordered configs with change applied. r.saveMu must be
// held, which keeps the store from seeing an older list after a newer one.
func (r *Registry) persist(ctx context.Context, change func([]config.ServerConfig) []config.ServerConfig) error {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return mcperrors.RegistryClosed()
	}
	servers := make([]config.ServerConfig, 0, len(r.order)+1)
	for _, id := range r.order {
		servers = append(servers, r.entries[id].cfg.Clone())
	}
	r.mu.RUnlock()

	if err := r.store.Save(ctx, change(servers)); err != nil {
		r.logger.Error("saving server list failed", logging.ErrorField(err))
		return storeError("save", err)
	}
	return nil
}

func storeError(op string, err error) error {
	if mcperrors.IsMCPError(err) {
		return err
	}
	return mcperrors.StoreError("registry", op, err)
}

// liveSession returns the session of a connected server.
func (r *Registry) liveSession(id string) (*session.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, mcperrors.RegistryClosed()
	}
	e, ok := r.entries[id]
	if !ok {
		return nil, mcperrors.ServerNotFound(id)
	}
	if e.status != StatusConnected || e.session == nil {
		return nil, mcperrors.ServerNotConnectedError(id, string(e.status))
	}
	return e.session, nil
}

// ExecuteTool calls a tool on a connected server. It never connects: a
// server in any other status fails with ServerNotConnectedError. A tool
// that ran and reported failure is returned as a result with IsError set.
func (r *Registry) ExecuteTool(ctx context.Context, id, tool string, args json.RawMessage) (*protocol.CallToolResult, error) {
	sess, err := r.liveSession(id)
	if err != nil {
		return nil, err
	}
	res, err := sess.CallTool(ctx, tool, args)
	r.metrics.ToolCall(id, tool, err == nil && res.IsError, err)
	if err != nil {
		r.logger.WithContext(ctx).Debug("tool call failed", logging.ServerID(id),
			logging.String("tool", tool), logging.ErrorField(err))
		return nil, err
	}
	return res, nil
}

// ReadResource reads a resource from a connected server.
func (r *Registry) ReadResource(ctx context.Context, id, uri string) (*protocol.ReadResourceResult, error) {
	sess, err := r.liveSession(id)
	if err != nil {
		return nil, err
	}
	return sess.ReadResource(ctx, uri)
}

// forEach runs fn for every server that is not connected, bounded by the
// number of CPUs, and joins the failures.
func (r *Registry) forEach(ctx context.Context, fn func(ctx context.Context, id string) error) error {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return mcperrors.RegistryClosed()
	}
	var ids []string
	for _, id := range r.order {
		if r.entries[id].status != StatusConnected {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	errs := make([]error, len(ids))
	var g errgroup.Group
	g.SetLimit(max(4, runtime.NumCPU()))
	for i, id := range ids {
		g.Go(func() error {
			errs[i] = fn(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
