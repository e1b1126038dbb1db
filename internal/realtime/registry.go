package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Handle is one user's live transport. Tests inject fakes; production wraps a
// websocket connection.
type Handle interface {
	Send(ctx context.Context, event Event) error
	Close(reason string) error
}

type sessionEntry struct {
	handle     Handle
	lastActive time.Time
}

// Registry maps a user to at most one live transport handle. It owns its own
// lifecycle: construct it, hand it to the gateway and broadcaster by
// reference, and run the sweep with Run until shutdown.
type Registry struct {
	SweepInterval time.Duration
	Staleness     time.Duration
	// OnEvict fires after the sweep removes a stale session, outside the
	// registry lock. The gateway uses it to run the offline transition for
	// connections that vanished without a disconnect event.
	OnEvict func(ctx context.Context, userID string)
	Logger  *slog.Logger
	Now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*sessionEntry)}
}

func (r *Registry) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *Registry) sweepInterval() time.Duration {
	if r.SweepInterval <= 0 {
		return time.Minute
	}
	return r.SweepInterval
}

func (r *Registry) staleness() time.Duration {
	if r.Staleness <= 0 {
		return 5 * time.Minute
	}
	return r.Staleness
}

// Register installs the handle for a user. Last connect wins: a prior handle
// is closed and replaced.
func (r *Registry) Register(userID string, handle Handle) {
	r.mu.Lock()
	prior, had := r.sessions[userID]
	r.sessions[userID] = &sessionEntry{handle: handle, lastActive: r.now()}
	r.mu.Unlock()
	if had && prior.handle != handle {
		_ = prior.handle.Close("replaced by newer connection")
	}
}

// Deregister removes the user's session only when it still owns the given
// handle, so a replacement connection is never torn down by the old one.
func (r *Registry) Deregister(userID string, handle Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[userID]
	if !ok || entry.handle != handle {
		return false
	}
	delete(r.sessions, userID)
	return true
}

// Lookup returns the user's live handle, if any.
func (r *Registry) Lookup(userID string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[userID]
	if !ok {
		return nil, false
	}
	return entry.handle, true
}

// Touch refreshes the liveness timestamp on inbound activity.
func (r *Registry) Touch(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.sessions[userID]; ok {
		entry.lastActive = r.now()
	}
}

// Count reports the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Run sweeps stale sessions on a fixed interval until ctx is done. The sweep
// runs off the request path and covers connections whose disconnect event was
// lost.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.sweepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.sweepOnce(ctx)
		}
	}
}

func (r *Registry) sweepOnce(ctx context.Context) {
	cutoff := r.now().Add(-r.staleness())

	r.mu.Lock()
	var evicted []struct {
		userID string
		handle Handle
	}
	for userID, entry := range r.sessions {
		if entry.lastActive.Before(cutoff) {
			evicted = append(evicted, struct {
				userID string
				handle Handle
			}{userID, entry.handle})
			delete(r.sessions, userID)
		}
	}
	r.mu.Unlock()

	for _, e := range evicted {
		if r.Logger != nil {
			r.Logger.Info("stale session evicted", "user_id", e.userID)
		}
		_ = e.handle.Close("session expired")
		if r.OnEvict != nil {
			r.OnEvict(ctx, e.userID)
		}
	}
}
