package chat

// History is the bounded global log. Appending past capacity evicts the
// oldest entry. It is a ring buffer; removal compacts in place. Not safe for
// concurrent use.
type History struct {
	items []Message
	pos   int // next write slot
	count int
}

// NewHistory creates a log holding at most capacity messages.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 100
	}
	return &History{items: make([]Message, capacity)}
}

// Cap returns the capacity.
func (h *History) Cap() int { return len(h.items) }

// Len returns the number of stored messages.
func (h *History) Len() int { return h.count }

// Append stores msg and returns the evicted message, if any.
func (h *History) Append(msg Message) (Message, bool) {
	var evicted Message
	full := h.count == len(h.items)
	if full {
		evicted = h.items[h.pos]
	}
	h.items[h.pos] = msg
	h.pos = (h.pos + 1) % len(h.items)
	if !full {
		h.count++
	}
	return evicted, full
}

// index returns the ring slot of the i-th oldest message.
func (h *History) index(i int) int {
	start := (h.pos - h.count + len(h.items)) % len(h.items)
	return (start + i) % len(h.items)
}

// find returns a pointer to the stored message with id, or nil.
func (h *History) find(id MessageID) *Message {
	for i := 0; i < h.count; i++ {
		if m := &h.items[h.index(i)]; m.ID == id {
			return m
		}
	}
	return nil
}

// Get returns a copy of the message with id.
func (h *History) Get(id MessageID) (Message, bool) {
	if m := h.find(id); m != nil {
		return m.Clone(), true
	}
	return Message{}, false
}

// Remove deletes the message with id, keeping the order of the rest.
func (h *History) Remove(id MessageID) (Message, bool) {
	at := -1
	for i := 0; i < h.count; i++ {
		if h.items[h.index(i)].ID == id {
			at = i
			break
		}
	}
	if at < 0 {
		return Message{}, false
	}
	removed := h.items[h.index(at)]
	for i := at; i < h.count-1; i++ {
		h.items[h.index(i)] = h.items[h.index(i+1)]
	}
	last := h.index(h.count - 1)
	h.items[last] = Message{}
	h.pos = last
	h.count--
	return removed, true
}

// Snapshot returns copies of every message, oldest first.
func (h *History) Snapshot() []Message {
	out := make([]Message, h.count)
	for i := 0; i < h.count; i++ {
		out[i] = h.items[h.index(i)].Clone()
	}
	return out
}

// Reset drops every message.
func (h *History) Reset() {
	clear(h.items)
	h.pos, h.count = 0, 0
}
