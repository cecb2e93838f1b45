package registry

import (
	"math"
	"sync"
)

// ConnectionID identifies one live producer connection.
type ConnectionID string

// Position is a normalized pointer location. Both axes are in [-1, 1].
type Position struct {
	X float64
	Y float64
}

// Registry tracks the last reported position per connection.
type Registry struct {
	mu        sync.RWMutex
	positions map[ConnectionID]Position
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		positions: make(map[ConnectionID]Position),
	}
}

// Clamp bounds v to [-1, 1].
// NaN becomes 0, +Inf becomes 1 and -Inf becomes -1.
func Clamp(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	case v < -1:
		return -1
	}
	return v
}

// Upsert stores the clamped position for id.
// Returns true if id was not present before.
func (r *Registry) Upsert(id ConnectionID, x, y float64) bool {
	pos := Position{X: Clamp(x), Y: Clamp(y)}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, existed := r.positions[id]
	r.positions[id] = pos
	return !existed
}

// Update stores the clamped position only if id is already present.
// Returns false for unknown ids.
func (r *Registry) Update(id ConnectionID, x, y float64) bool {
	pos := Position{X: Clamp(x), Y: Clamp(y)}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.positions[id]; !ok {
		return false
	}
	r.positions[id] = pos
	return true
}

// Remove deletes id. Removing an unknown id is a no-op.
// Returns true if an entry was deleted.
func (r *Registry) Remove(id ConnectionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.positions[id]; !ok {
		return false
	}
	delete(r.positions, id)
	return true
}

// Get returns the position for id.
func (r *Registry) Get(id ConnectionID) (Position, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pos, ok := r.positions[id]
	return pos, ok
}

// Snapshot copies every current position. Order is unspecified.
func (r *Registry) Snapshot() []Position {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Position, 0, len(r.positions))
	for _, pos := range r.positions {
		out = append(out, pos)
	}
	return out
}

// Count returns the number of live entries.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.positions)
}

// Reset moves every live entry back to the origin and returns how many
// entries it touched. Ids stay registered, since their connections are
// still open.
func (r *Registry) Reset() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id := range r.positions {
		r.positions[id] = Position{}
	}
	return len(r.positions)
}
