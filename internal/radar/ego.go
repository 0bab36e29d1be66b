package radar

import "sync/atomic"

// EgoVelocityLatch holds the most recent ego velocity. It is empty until the
// first Store and never becomes empty again afterwards. Store and Load are
// safe to call concurrently.
type EgoVelocityLatch struct {
	v atomic.Pointer[EgoVelocity]
}

// Store replaces the held velocity.
func (l *EgoVelocityLatch) Store(v EgoVelocity) {
	l.v.Store(&v)
}

// Load returns the held velocity and whether any velocity was ever stored.
func (l *EgoVelocityLatch) Load() (EgoVelocity, bool) {
	p := l.v.Load()
	if p == nil {
		return EgoVelocity{}, false
	}
	return *p, true
}
