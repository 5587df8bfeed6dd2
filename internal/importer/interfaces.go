package importer

import (
	"context"
	"time"
)

// Sink receives events from exactly one channel. Reports and transport
// failures are reported distinctly.
type Sink interface {
	OnReport(report Report)
	OnTransportError(err error)
}

// Channel is an open notification transport for one task.
type Channel interface {
	// Kind identifies the transport.
	Kind() ChannelKind
	// Close releases the connection or timer. It is idempotent and returns
	// once the channel has stopped delivering.
	Close()
}

// ChannelFactory opens a Channel bound to taskID. The channel lives until it
// is closed or ctx ends; events flow to sink.
type ChannelFactory interface {
	Open(ctx context.Context, taskID string, sink Sink) (Channel, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces opaque identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
