package progress

import "context"

// Sink consumes batches of events. Consume is called from the Hub goroutine
// only; Close is called once when the Hub shuts down.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events.
type Emitter interface {
	Emit(evt Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

// Emit calls f.
func (f EmitterFunc) Emit(evt Event) { f(evt) }
