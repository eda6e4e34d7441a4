package ingestion

import "context"

// Handler is satisfied by Consumer.
type Handler interface {
	Handle(ctx context.Context, rec Record) Outcome
}

// Source pulls records from an upstream stream and feeds them to a Handler
// until ctx is cancelled.
type Source interface {
	Start(ctx context.Context) error
	Close() error
}
