// Package bus carries live fan-out events between service instances. The
// in-memory channel registry only reaches subscribers on the local process;
// the bus re-broadcasts every published event so subscribers connected to
// any instance see it. Durability is never the bus's job: messages are
// persisted before anything is published.
package bus

import (
	"context"

	"github.com/goccy/go-json"
)

// Envelope is one broadcast unit: the logical channel it is addressed to
// and the already-encoded transport event.
type Envelope struct {
	// Channel is the registry channel name, e.g. "job:42", "user:alice",
	// "role:clients".
	Channel string `json:"channel"`

	// Origin is the publishing instance id. Instances skip their own
	// envelopes; local delivery already happened synchronously.
	Origin string `json:"origin"`

	// Event is the encoded transport event, fanned out verbatim.
	Event json.RawMessage `json:"event"`
}

// Handler consumes envelopes arriving from other instances.
type Handler func(env Envelope)

type Bus interface {
	// Publish broadcasts the envelope to all instances. Best-effort: a
	// publish failure loses the live event, never the message.
	Publish(ctx context.Context, env Envelope) error

	// Start begins consuming remote envelopes, invoking handler for each.
	// Returns after launching; consumption stops when ctx is canceled.
	Start(ctx context.Context, handler Handler)

	Close() error
}

// Nop is the single-instance bus: publishes go nowhere, nothing arrives.
type Nop struct{}

func (Nop) Publish(context.Context, Envelope) error { return nil }
func (Nop) Start(context.Context, Handler)          {}
func (Nop) Close() error                            { return nil }
