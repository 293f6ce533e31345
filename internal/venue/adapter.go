package venue

import "context"

// Adapter is the capability set every venue implementation (including the
// mock) satisfies: connect, subscribe/unsubscribe, and run the event loop
// until ctx is cancelled.
type Adapter interface {
	// Run connects, reads frames until ctx is cancelled, and reconnects
	// with backoff on transport failure. It returns only when ctx is done.
	Run(ctx context.Context)
	// Subscribe adds tokens to the desired subscription set and, once
	// connected, sends the subscribe frame.
	Subscribe(tokens []string)
	// Unsubscribe removes tokens from the desired subscription set and
	// sends the unsubscribe frame.
	Unsubscribe(tokens []string)
	// Subscribed returns the current subscription set.
	Subscribed() []string
}
