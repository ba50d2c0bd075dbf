package client

import "sync/atomic"

// Sequencer tags requests with increasing generations so a caller can drop
// responses that were overtaken by a newer request.
type Sequencer struct {
	gen atomic.Uint64
}

// Next starts a new generation and returns it.
func (s *Sequencer) Next() uint64 {
	return s.gen.Add(1)
}

func (s *Sequencer) Current() uint64 {
	return s.gen.Load()
}

// IsCurrent reports whether gen is still the latest generation.
func (s *Sequencer) IsCurrent(gen uint64) bool {
	return gen == s.gen.Load()
}
