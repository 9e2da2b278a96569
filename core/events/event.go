package events

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Record is the canonical event payload shared by all ledger modules. The
// attribute map holds stringified values so transports can forward events
// without schema knowledge.
type Record struct {
	Type       string
	Attributes map[string]string
}

// EventType implements the Event interface.
func (r *Record) EventType() string {
	if r == nil {
		return ""
	}
	return r.Type
}

// CaptureEmitter retains every emitted event in order. Primarily used by
// tests asserting on emission side effects.
type CaptureEmitter struct {
	Events []Event
}

// Emit implements the Emitter interface.
func (c *CaptureEmitter) Emit(evt Event) {
	if c == nil || evt == nil {
		return
	}
	c.Events = append(c.Events, evt)
}
