package chat

// SetTypingGlobal adds or removes id from the global typing set and
// broadcasts the full list when membership changed. Unknown ids are ignored.
func (h *Hub) SetTypingGlobal(id string, isTyping bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sess, ok := h.sessions.Get(id)
	if !ok {
		return
	}
	_, present := h.typing[id]
	switch {
	case isTyping && !present:
		h.typing[id] = sess.DisplayName
	case !isTyping && present:
		delete(h.typing, id)
	default:
		return
	}
	h.broadcastLocked(Event{Type: EventTypingGlobalList, Payload: TypingListPayload{Names: h.typingNamesLocked()}})
}

// SetTypingPrivate forwards a typing notice to peerID and echoes it to the
// sender. Nothing is stored; an offline peer simply misses it.
func (h *Hub) SetTypingPrivate(id, peerID string, isTyping bool) {
	if peerID == "" || peerID == id {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions.Get(id); !ok {
		return
	}
	ev := Event{Type: EventTypingPrivateNotice, Payload: TypingNoticePayload{From: id, PeerID: peerID, IsTyping: isTyping}}
	if h.liveLocked(peerID) {
		h.sendLocked(peerID, ev)
	}
	h.sendLocked(id, ev)
}
