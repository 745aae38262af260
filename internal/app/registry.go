package app

import (
	"sort"
	"sync"

	"github.com/dkeye/callstream/internal/core"
	"github.com/dkeye/callstream/internal/domain"
	"github.com/rs/zerolog/log"
)

// Registry maps call identifiers to live sessions. It is the only mutable
// structure shared between connections. It has no capacity bound: there is
// one entry per concurrently active call.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.CallID]*core.Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[domain.CallID]*core.Session),
	}
}

// Put stores sess under id and returns the entry it replaced, if any.
// The caller owns the returned session and must clean it up.
func (r *Registry) Put(id domain.CallID, sess *core.Session) *core.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.sessions[id]
	r.sessions[id] = sess
	if prev == sess {
		prev = nil
	}
	log.Info().Str("module", "app.registry").Str("call_id", string(id)).Bool("replaced", prev != nil).Msg("put session")
	return prev
}

func (r *Registry) Get(id domain.CallID) (*core.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove deletes id. Removing an absent key is a no-op.
func (r *Registry) Remove(id domain.CallID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	log.Info().Str("module", "app.registry").Str("call_id", string(id)).Msg("removed session")
	return true
}

// RemoveIf deletes id only while it still maps to sess.
func (r *Registry) RemoveIf(id domain.CallID, sess *core.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[id]; !ok || cur != sess {
		return false
	}
	delete(r.sessions, id)
	log.Info().Str("module", "app.registry").Str("call_id", string(id)).Msg("removed session")
	return true
}

// Release removes sess under whatever call id it currently holds. The id is
// read under the registry lock, which is also where Move rekeys.
func (r *Registry) Release(sess *core.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := sess.CallID()
	if cur, ok := r.sessions[id]; !ok || cur != sess {
		return false
	}
	delete(r.sessions, id)
	log.Info().Str("module", "app.registry").Str("call_id", string(id)).Msg("released session")
	return true
}

// Move rekeys sess from one call id to another in a single critical section,
// so there is no window where neither key resolves. The old key is only
// dropped if it still points at sess. Whatever occupied the new key is
// returned to the caller for cleanup. A session that was closed before the
// lock was taken is not reinserted and ok is false.
func (r *Registry) Move(from, to domain.CallID, sess *core.Session) (prev *core.Session, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, found := r.sessions[from]; found && cur == sess {
		delete(r.sessions, from)
	}
	if sess.State() == core.Closed {
		log.Info().Str("module", "app.registry").Str("from", string(from)).Str("to", string(to)).Msg("skip rekey of closed session")
		return nil, false
	}
	prev = r.sessions[to]
	if prev == sess {
		prev = nil
	}
	r.sessions[to] = sess
	sess.Rekey(to)
	log.Info().Str("module", "app.registry").Str("from", string(from)).Str("to", string(to)).Msg("rekeyed session")
	return prev, true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sessions returns the live sessions.
func (r *Registry) Sessions() []*core.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*core.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Snapshot returns read-only views ordered by call id.
func (r *Registry) Snapshot() []core.SessionInfo {
	sessions := r.Sessions()
	out := make([]core.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CallID < out[j].CallID })
	return out
}
