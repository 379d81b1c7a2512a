package session

import (
	"sort"
	"sync"

	"github.com/quantfall/riskgate/errs"
)

// Registry owns every session in the process. It is created at application
// start and passed by reference; there is no package-level store. A single
// coarse mutex guards all session reads and writes, and Update/Transact hold
// it for the entire read-modify-write.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]Session
	snapshot SnapshotFunc
}

// SnapshotFunc receives a copy of every committed session. It runs after the
// registry lock is released and must not call back into the registry's
// mutating methods from the same goroutine expecting ordering guarantees.
type SnapshotFunc func(Session)

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]Session)}
}

// SetSnapshot installs a commit hook, typically the durable session store.
// Pass nil to disable snapshotting.
func (r *Registry) SetSnapshot(fn SnapshotFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshot = fn
}

// Put stores a snapshot of the session.
func (r *Registry) Put(s Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s.Clone()
	fn := r.snapshot
	r.mu.Unlock()
	if fn != nil {
		fn(s.Clone())
	}
}

// Get returns a snapshot of the session with the given id.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return s.Clone(), true
}

// List returns snapshots of all sessions in stable id order.
func (r *Registry) List() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Update runs fn over a snapshot of the session and stores the returned
// snapshot, all under the session lock. When fn errors the stored session is
// left untouched and the error is returned.
func (r *Registry) Update(id string, fn func(Session) (Session, error)) (Session, error) {
	r.mu.Lock()
	current, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return Session{}, errs.New("session", errs.CodeNotFound,
			errs.WithSessionID(id), errs.WithMessage("unknown session"))
	}
	updated, err := fn(current.Clone())
	if err != nil {
		r.mu.Unlock()
		return Session{}, err
	}
	updated.ID = id
	r.sessions[id] = updated.Clone()
	hook := r.snapshot
	r.mu.Unlock()
	if hook != nil {
		hook(updated.Clone())
	}
	return updated, nil
}

// Tx is a view over the locked session map handed to Transact callbacks.
type Tx struct {
	registry *Registry
	changed  []Session
}

// Get returns a snapshot of a session inside the transaction.
func (tx *Tx) Get(id string) (Session, bool) {
	s, ok := tx.registry.sessions[id]
	if !ok {
		return Session{}, false
	}
	return s.Clone(), true
}

// Put stores a session snapshot inside the transaction.
func (tx *Tx) Put(s Session) {
	tx.registry.sessions[s.ID] = s.Clone()
	tx.changed = append(tx.changed, s.Clone())
}

// List returns snapshots of all sessions in stable id order.
func (tx *Tx) List() []Session {
	out := make([]Session, 0, len(tx.registry.sessions))
	for _, s := range tx.registry.sessions {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Transact runs fn with the session lock held across the whole callback.
// The reconciliation worker uses this so its cross-session repair passes are
// atomic with respect to executors and risk checks.
func (r *Registry) Transact(fn func(tx *Tx)) {
	r.mu.Lock()
	tx := &Tx{registry: r}
	fn(tx)
	hook := r.snapshot
	r.mu.Unlock()
	if hook == nil {
		return
	}
	for _, s := range tx.changed {
		hook(s)
	}
}
