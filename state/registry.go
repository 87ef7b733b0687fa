package state

import (
	"sync"
)

// Snapshot is a detached copy of the registry keyed by player id.
type Snapshot map[string]PlayerState

// Registry 玩家状态表，所有读写都持有同一把锁
type Registry struct {
	players map[string]PlayerState
	mutex   sync.Mutex
}

func NewRegistry() *Registry {
	return &Registry{
		players: make(map[string]PlayerState),
	}
}

// Register inserts a default state for id, replacing any existing entry.
func (r *Registry) Register(id string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.players[id] = NewPlayerState()
}

// Unregister removes id. Removing an unknown id is a no-op.
func (r *Registry) Unregister(id string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.players, id)
}

// ApplyAction replaces the state of a registered player wholesale.
// It reports false and leaves the registry untouched when id is unknown.
func (r *Registry) ApplyAction(id string, next PlayerState) bool {
	next.Clamp()

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.players[id]; !exists {
		return false
	}
	r.players[id] = next
	return true
}

func (r *Registry) Get(id string) (PlayerState, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	p, exists := r.players[id]
	return p, exists
}

func (r *Registry) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.players)
}

// Snapshot returns a copy of every entry. The result is never nil.
func (r *Registry) Snapshot() Snapshot {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.copyLocked()
}

// ClampAll clamps every joystick into range.
func (r *Registry) ClampAll() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.clampLocked()
}

// Tick clamps every entry and snapshots the result under a single lock
// acquisition, so no action lands between the clamp and the copy.
func (r *Registry) Tick() Snapshot {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.clampLocked()
	return r.copyLocked()
}

func (r *Registry) clampLocked() {
	for id, p := range r.players {
		p.Clamp()
		r.players[id] = p
	}
}

func (r *Registry) copyLocked() Snapshot {
	snap := make(Snapshot, len(r.players))
	for id, p := range r.players {
		snap[id] = p
	}
	return snap
}
