// Package registry is the process-wide map from identity to the one
// active, authenticated Session for it, with admit/displace/remove
// semantics.
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/op/go-logging"
)

// Peer is the subset of Session the Registry needs to manage it: deliver
// a line (used only for the displaced-session OUT OTH notice), and force
// a close.
type Peer interface {
	Identity() string
	DisplayName() string
	Presence() string
	Deliver(line string) error
	Terminate(reason string)
}

// Entry is a stable, point-in-time view of one registered identity, for
// Router fan-out and snapshot() reads.
type Entry struct {
	Identity    string
	DisplayName string
	Presence    string
	Peer        Peer
}

// Registry serializes admit/remove under a single mutex; lookups and
// Snapshot are lock-free reads of an atomically-swapped map pointer.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]Peer // guarded by mu; source of truth for writers
	snap     atomic.Value    // holds map[string]Entry; read by lookups/snapshot
	log      *logging.Logger
}

func New(log *logging.Logger) *Registry {
	r := &Registry{
		sessions: make(map[string]Peer),
		log:      log,
	}
	r.snap.Store(map[string]Entry{})
	return r
}

// Admit installs peer under identity, displacing and terminating any
// existing session for that identity first. Atomic with respect to
// concurrent admits.
func (r *Registry) Admit(identity string, peer Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[identity]; ok {
		if err := existing.Deliver("OUT OTH"); err != nil {
			r.log.Debug("displacement notice failed for", identity, ":", err)
		}
		existing.Terminate("displaced")
	}
	r.sessions[identity] = peer
	r.publishLocked()
}

// Remove is idempotent.
func (r *Registry) Remove(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, identity)
	r.publishLocked()
}

// RemoveIfCurrent removes identity only if peer is still the registered
// session for it — guards against a late remove() racing a newer admit().
func (r *Registry) RemoveIfCurrent(identity string, peer Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[identity]; ok && cur == peer {
		delete(r.sessions, identity)
		r.publishLocked()
	}
}

// Lookup is a lock-free read of the latest published snapshot.
func (r *Registry) Lookup(identity string) (Entry, bool) {
	m := r.snap.Load().(map[string]Entry)
	e, ok := m[identity]
	return e, ok
}

// Snapshot returns a stable, point-in-time copy of every registered
// entry.
func (r *Registry) Snapshot() []Entry {
	m := r.snap.Load().(map[string]Entry)
	out := make([]Entry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	return out
}

// RefreshPresence re-publishes the snapshot to pick up a presence or
// display-name change already applied to the registered Peer. Presence
// is last-writer-wins at the Session; the Registry only republishes.
func (r *Registry) RefreshPresence(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[identity]; !ok {
		return
	}
	r.publishLocked()
}

// publishLocked rebuilds the snapshot map from sessions and swaps it in.
// Must be called with mu held.
func (r *Registry) publishLocked() {
	m := make(map[string]Entry, len(r.sessions))
	for identity, peer := range r.sessions {
		m[identity] = Entry{
			Identity:    identity,
			DisplayName: peer.DisplayName(),
			Presence:    peer.Presence(),
			Peer:        peer,
		}
	}
	r.snap.Store(m)
}
