package fanout

import "context"

// Broker is a shared publish/subscribe channel between relay processes.
type Broker interface {
	Name() string
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe hands every payload on topic to fn. It blocks until ctx is
	// done (returning nil) or the subscription breaks (returning the cause).
	Subscribe(ctx context.Context, topic string, fn func(payload []byte)) error
	Close() error
}

// Handler consumes a decoded event from the broker.
type Handler func(ctx context.Context, ev Event) error

// Middleware wraps a Handler (origin filter, dedupe, logging).
type Middleware func(Handler) Handler

// Chain applies mws so that mws[0] runs first.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
