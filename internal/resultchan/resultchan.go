/*
Package resultchan implements the multi-producer, single-consumer handoff that carries a client
query's outcome back to its caller as a (client id, message, error) result tuple.

Each ClientQuery owns exactly one Chan. The orchestrator produces the terminal tuple, and the
Resolver itself sends one when it rejects a query or is closed; the caller (blocked in SendMessage,
or polling after SendAsync) is the sole consumer. Send is safe to call from any goroutine: the
Chan's first-send guard ensures that exactly one terminal tuple is ever delivered.
*/
package resultchan

import (
	"sync/atomic"

	"github.com/markdingo/stubresolver/internal/validator"

	"github.com/miekg/dns"
)

// Tuple is one (client_id, message, error) result, extended with the
// validator's verdict since dns.Msg has no field to carry it.
// Exactly one of Message/Err is normally populated, though both may be nil in a pathological
// zero-value case.
type Tuple struct {
	ClientID      uint32
	Message       *dns.Msg
	SecurityLevel validator.SecurityLevel
	Err           error
}

// Chan is a single-slot buffered channel plus a guard against sending a second tuple after the
// first terminal one. Buffered by 1 so the orchestrator's Send never blocks waiting on a caller that
// may never read the channel (e.g. a SendAsync caller who abandoned the query).
type Chan struct {
	sent atomic.Bool
	c    chan Tuple
}

// New constructs a Chan ready for a single terminal Send.
func New() *Chan {
	return &Chan{c: make(chan Tuple, 1)}
}

// Send delivers the terminal tuple. Only the first Send per Chan does anything; a Close racing a
// terminal emission for the same client loses the race harmlessly instead of delivering twice.
// Never blocks: the winning send always lands in the empty one-slot buffer.
func (t *Chan) Send(tuple Tuple) {
	if !t.sent.CompareAndSwap(false, true) {
		return
	}
	t.c <- tuple
}

// Recv blocks until the terminal tuple arrives.
func (t *Chan) Recv() Tuple {
	return <-t.c
}

// C exposes the underlying channel for callers (e.g. SendAsync users) who want to select on it
// rather than block in Recv.
func (t *Chan) C() <-chan Tuple {
	return t.c
}
