package events

// Event is a state change recorded while an operation runs. Subscribers see
// it only once the operation commits.
type Event interface {
	EventType() string
}

// Emitter receives events from the escrow engine and the bank ledger.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter drops every event.
type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}
