package emit

// Emitter receives observability events from workflow execution.
//
// Implementations should be non-blocking, thread-safe, and resilient:
// an emitter must never panic or slow the run down materially. The
// engine calls Emit inline between suspension points.
type Emitter interface {
	// Emit sends one event to the configured backend. Errors are handled
	// internally; Emit never reports them to the engine.
	Emit(event Event)
}
