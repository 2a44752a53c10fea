// Package presence tracks which live connection currently represents each
// account. The registry is process-local and not durable: a restart forgets
// everyone, and clients recover by reconnecting and authenticating again.
package presence

import "sync"

// Entry is the live connection registered for an account.
type Entry struct {
	IdentityID int64
	ConnID     string
	Role       string
}

// Registry maps account id to at most one connection. A later Register for
// the same account replaces the earlier one without closing it.
type Registry struct {
	mu         sync.RWMutex
	byIdentity map[int64]Entry
	byConn     map[string]int64
}

func NewRegistry() *Registry {
	return &Registry{
		byIdentity: make(map[int64]Entry),
		byConn:     make(map[string]int64),
	}
}

// Register upserts the entry for identityID. If connID was previously
// registered under a different account, that entry is dropped first.
func (r *Registry) Register(identityID int64, connID, role string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byConn[connID]; ok && prev != identityID {
		if e, ok := r.byIdentity[prev]; ok && e.ConnID == connID {
			delete(r.byIdentity, prev)
		}
	}
	if old, ok := r.byIdentity[identityID]; ok && old.ConnID != connID {
		delete(r.byConn, old.ConnID)
	}

	r.byIdentity[identityID] = Entry{IdentityID: identityID, ConnID: connID, Role: role}
	r.byConn[connID] = identityID
}

// Lookup returns the live entry for identityID.
func (r *Registry) Lookup(identityID int64) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byIdentity[identityID]
	return e, ok
}

// Unregister removes the entry owned by connID. It is a no-op when the
// connection was never registered or has already been replaced.
func (r *Registry) Unregister(connID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byConn[connID]
	if !ok {
		return Entry{}, false
	}
	delete(r.byConn, connID)

	e, ok := r.byIdentity[id]
	if !ok || e.ConnID != connID {
		return Entry{}, false
	}
	delete(r.byIdentity, id)
	return e, true
}

// Count returns the number of accounts with a live connection.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity)
}
