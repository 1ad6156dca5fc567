package relay

import (
	"fmt"
	"sync"
	"time"
)

// Registry is the process-wide mapping from connection id to its relay.
// Entries are inserted when a socket is accepted and removed on disconnect;
// no entry outlives its socket. The registry also carries the lifetime
// connection counter and the process start time for the stats endpoint.
//
// The registry is explicitly constructed by the process entry point and
// injected into the components that need it. All methods are safe for
// concurrent use: the stats endpoint iterates entries while connections come
// and go.
type Registry struct {
	mu          sync.Mutex
	conns       map[string]*Relay
	started     time.Time
	totalServed int64
}

// NewRegistry creates an empty Registry with the uptime clock started.
func NewRegistry() *Registry {
	return &Registry{
		conns:   make(map[string]*Relay),
		started: time.Now(),
	}
}

// Register inserts r under its connection id and counts it against the
// lifetime total. Ids are unique by construction (timestamp plus random
// suffix); a duplicate is a programming error and is returned as one rather
// than silently overwriting the existing entry.
func (g *Registry) Register(r *Relay) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.totalServed++
	if _, exists := g.conns[r.id]; exists {
		return fmt.Errorf("registry: connection id %q already registered", r.id)
	}
	g.conns[r.id] = r
	return nil
}

// Lookup returns the relay registered under id, if any.
func (g *Registry) Lookup(id string) (*Relay, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.conns[id]
	return r, ok
}

// Unregister removes the entry for id. Idempotent: teardown may race with
// disconnect handling, so a missing id is not an error.
func (g *Registry) Unregister(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.conns, id)
}

// Len returns the number of currently registered connections.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// TotalServed returns the lifetime count of accepted connections.
func (g *Registry) TotalServed() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.totalServed
}

// StartedAt returns the registry's construction time, used as process start
// time for uptime reporting.
func (g *Registry) StartedAt() time.Time {
	return g.started
}

// Uptime returns the time elapsed since the registry was constructed.
func (g *Registry) Uptime() time.Duration {
	return time.Since(g.started)
}

// ConnSnapshot describes one open connection for the stats endpoint.
type ConnSnapshot struct {
	ClientID          string   `json:"client_id"`
	ConnectedDuration int64    `json:"connected_duration"`
	Metrics           Snapshot `json:"metrics"`
}

// Snapshot returns a consistent copy of all open connections with their
// metric records. The registry lock is held only while collecting the relay
// list; metric snapshots are taken per connection afterwards.
func (g *Registry) Snapshot() []ConnSnapshot {
	g.mu.Lock()
	relays := make([]*Relay, 0, len(g.conns))
	for _, r := range g.conns {
		relays = append(relays, r)
	}
	g.mu.Unlock()

	out := make([]ConnSnapshot, 0, len(relays))
	for _, r := range relays {
		out = append(out, ConnSnapshot{
			ClientID:          r.id,
			ConnectedDuration: r.metrics.Elapsed().Milliseconds(),
			Metrics:           r.metrics.Snapshot(),
		})
	}
	return out
}

// CloseAll shuts down every registered connection: each upstream session is
// told to disconnect and each client socket is closed. Used during graceful
// shutdown; individual close errors are ignored.
func (g *Registry) CloseAll() {
	g.mu.Lock()
	relays := make([]*Relay, 0, len(g.conns))
	for _, r := range g.conns {
		relays = append(relays, r)
	}
	g.mu.Unlock()

	for _, r := range relays {
		r.Close()
	}
}
