package chat

import "sync/atomic"

// MessageID identifies a message for its whole lifetime.
type MessageID uint64

// systemIDBase separates announcement ids from user message ids. It stays
// below 2^53 so browser clients can hold every id as a JSON number.
const systemIDBase MessageID = 1 << 52

// Sequence hands out strictly increasing ids. The zero value starts at 1.
type Sequence struct {
	base MessageID
	n    atomic.Uint64
}

// NewSequence returns a sequence whose first id is base+1.
func NewSequence(base MessageID) *Sequence {
	return &Sequence{base: base}
}

// Next returns the next id. Safe for concurrent use.
func (s *Sequence) Next() MessageID {
	return s.base + MessageID(s.n.Add(1))
}

// IsSystemID reports whether id was issued for a system announcement.
func IsSystemID(id MessageID) bool {
	return id > systemIDBase
}
