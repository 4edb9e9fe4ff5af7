/*
Package eventbus implements the internal channel that carries per-packet events from transports
into the orchestrator: tuples of (sub_id, EventKind, message, error).

Transports hold only the Sender half - they never see the orchestrator or the receiving end, which
avoids any ownership cycle between transports and the orchestrator. The orchestrator's select
task holds the Receiver half and drains it non-blocking on every tick.
*/
package eventbus

import (
	"github.com/markdingo/stubresolver/internal/validator"

	"github.com/miekg/dns"
)

// Kind discriminates the three event shapes a transport or validator can raise.
type Kind int

const (
	// RECEIVED is a response (or transport error) attributable to a specific sub-query.
	RECEIVED Kind = iota
	// VALIDATED is the validator's verdict on a previously RECEIVED message.
	VALIDATED
	// ERROR is a transport-level failure unassociated with any response.
	ERROR
)

func (k Kind) String() string {
	switch k {
	case RECEIVED:
		return "RECEIVED"
	case VALIDATED:
		return "VALIDATED"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// SubID is the correlation token a transport is handed on send_async and must echo back on every
// event it raises for that sub-query. It doubles as the querytable outstanding-set key.
type SubID struct {
	ClientID uint32
	Server   string
	Attempt  int
}

// Event is one (sub_id, kind, message, error) tuple as SecurityLevel is
// only meaningful on a VALIDATED event.
type Event struct {
	SubID         SubID
	Kind          Kind
	Message       *dns.Msg
	SecurityLevel validator.SecurityLevel
	Err           error
}

// Bus is a bounded channel of Events. Transports only ever call Send; the orchestrator only ever
// calls Drain. There is no backpressure policy beyond the channel capacity - the orchestrator
// drains eagerly and never blocks on a caller's sink, so the bus itself is sized generously and
// Send is expected never to block in practice.
type Bus struct {
	c chan Event
}

// New constructs a Bus with the given channel capacity.
func New(capacity int) *Bus {
	return &Bus{c: make(chan Event, capacity)}
}

// Send enqueues an event. It is the only method transports call.
func (t *Bus) Send(e Event) {
	t.c <- e
}

// Drain removes and returns every event currently queued, without blocking. Called once per tick
// by the orchestrator.
func (t *Bus) Drain() []Event {
	var events []Event
	for {
		select {
		case e := <-t.c:
			events = append(events, e)
		default:
			return events
		}
	}
}

// C exposes the receive-only channel so the orchestrator's select loop can wake on arrival rather
// than poll.
func (t *Bus) C() <-chan Event {
	return t.c
}
