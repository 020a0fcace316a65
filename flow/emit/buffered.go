package emit

import "sync"

// BufferedEmitter implements Emitter by storing events in memory, keyed
// by execution ID.
//
// Intended for tests and post-run analysis: run a workflow, then query
// the captured history. All events stay in memory, so production
// deployments with high event volume should prefer LogEmitter or
// OTelEmitter.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// HistoryFilter selects events from a run's history. All fields are
// optional; set fields combine with AND.
type HistoryFilter struct {
	// NodeID restricts to events from one node instance.
	NodeID string

	// Msg restricts to one event message.
	Msg string

	// Edge restricts to events carrying one emitted edge.
	Edge string
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

// Emit appends the event to its run's history.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.ExecutionID] = append(b.events[event.ExecutionID], event)
}

// History returns all events captured for an execution, in emission
// order. The returned slice is a copy.
func (b *BufferedEmitter) History(executionID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	events := b.events[executionID]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// HistoryWithFilter returns the events for an execution matching the
// filter, in emission order.
func (b *BufferedEmitter) HistoryWithFilter(executionID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	for _, ev := range b.events[executionID] {
		if filter.NodeID != "" && ev.NodeID != filter.NodeID {
			continue
		}
		if filter.Msg != "" && ev.Msg != filter.Msg {
			continue
		}
		if filter.Edge != "" && ev.Edge != filter.Edge {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Clear discards the history for one execution.
func (b *BufferedEmitter) Clear(executionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.events, executionID)
}

// ClearAll discards all captured events.
func (b *BufferedEmitter) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = make(map[string][]Event)
}
