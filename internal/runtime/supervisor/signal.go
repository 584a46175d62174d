package supervisor

import "sync"

// StartedSignal is a Readiness that fires once.
type StartedSignal struct {
	once sync.Once
	ch   chan struct{}
}

func NewStartedSignal() *StartedSignal {
	return &StartedSignal{ch: make(chan struct{})}
}

// Fire releases every waiter. Later calls do nothing.
func (s *StartedSignal) Fire() {
	s.once.Do(func() { close(s.ch) })
}

func (s *StartedSignal) Ready() <-chan struct{} { return s.ch }

// Fired reports whether Fire was called.
func (s *StartedSignal) Fired() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}
