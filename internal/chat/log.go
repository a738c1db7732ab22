package chat

// messageLog is the append-only, ordered message history of one ticket.
// It is not goroutine-safe on its own; the Store guards it.
type messageLog struct {
	items []Message
}

// append adds msg at the end of the log. Insertion order is the
// chronological order; entries are never reordered or edited.
func (l *messageLog) append(msg Message) {
	l.items = append(l.items, msg)
}

// snapshot returns the messages in append order (oldest first). The result
// is a copy so callers may hold it after the Store lock is released. An
// empty log yields an empty, non-nil slice.
func (l *messageLog) snapshot() []Message {
	out := make([]Message, len(l.items))
	copy(out, l.items)
	return out
}

func (l *messageLog) len() int {
	return len(l.items)
}
