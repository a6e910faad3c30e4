package ioconn

import (
	"go.uber.org/atomic"
)

// Sequence hands out strictly increasing numbers starting at 1.
type Sequence struct {
	n *atomic.Int64
}

func NewSequence() *Sequence {
	return &Sequence{n: atomic.NewInt64(0)}
}

func (s *Sequence) Next() int64 {
	return s.n.Inc()
}

// Reset restarts numbering at 1. Numbers handed out before the reset must no
// longer be compared with new ones.
func (s *Sequence) Reset() {
	s.n.Store(0)
}

// global orders observations across every connection of one configuration
// generation.
var global = NewSequence()

// ResetSequence restarts the process wide sequence for a new configuration
// generation.
func ResetSequence() {
	global.Reset()
}
