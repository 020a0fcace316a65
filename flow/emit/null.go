package emit

// NullEmitter implements Emitter by discarding all events.
//
// Use it where event emission is unwanted without changing engine
// construction. Safe for concurrent use; zero overhead.
type NullEmitter struct{}

// NewNullEmitter creates a NullEmitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(Event) {}
