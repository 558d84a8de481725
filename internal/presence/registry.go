package presence

import "sync"

// Registry keeps counts of open connections per user. A user with no open
// connection has no entry.
type Registry struct {
	mu     sync.Mutex
	online map[UserID]int
}

func NewRegistry() *Registry {
	return &Registry{online: make(map[UserID]int)}
}

// Increment records one more connection and returns the new count.
func (r *Registry) Increment(user UserID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.online[user]++
	return r.online[user]
}

// Decrement records a closed connection and returns the new count. ok is
// false when the user had no entry, in which case nothing changed.
func (r *Registry) Decrement(user UserID) (count int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, exists := r.online[user]
	if !exists {
		return 0, false
	}
	if current <= 1 {
		delete(r.online, user)
		return 0, true
	}
	r.online[user] = current - 1
	return current - 1, true
}

// Count returns the number of open connections held by user.
func (r *Registry) Count(user UserID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online[user]
}

func (r *Registry) IsOnline(user UserID) bool {
	return r.Count(user) > 0
}

// ActiveUsers returns how many users hold at least one connection.
func (r *Registry) ActiveUsers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.online)
}
