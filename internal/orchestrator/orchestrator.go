/*
Package orchestrator implements the cooperative tick loop: the
single-threaded select task that drives the timer wheel, dispatches due sub-queries to transports,
consumes the event bus, updates server ranking, hands successful responses to a validator, and emits
exactly one result per client query.

Tick is exported separately from Run so property and scenario tests can drive the loop
deterministically against a clock.FakeClock without a background goroutine or real sleeps.
*/
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/markdingo/stubresolver/internal/bestserver"
	"github.com/markdingo/stubresolver/internal/clock"
	"github.com/markdingo/stubresolver/internal/eventbus"
	"github.com/markdingo/stubresolver/internal/querytable"
	"github.com/markdingo/stubresolver/internal/rerrors"
	"github.com/markdingo/stubresolver/internal/resultchan"
	"github.com/markdingo/stubresolver/internal/transport"
	"github.com/markdingo/stubresolver/internal/validator"

	"github.com/miekg/dns"
)

// DefaultTickPeriod is the orchestrator's fixed polling cadence.
const DefaultTickPeriod = 500 * time.Millisecond

// Orchestrator owns the Query Table, the event bus, the server ranking and the validator hand-off.
// All of its unexported state (the pending map) is touched only by the single goroutine that calls
// Tick, whether that is Run's background goroutine or a test calling Tick directly - so no
// additional locking is needed beyond what querytable.Table and bestserver.Ranking already provide.
type Orchestrator struct {
	table     *querytable.Table
	bus       *eventbus.Bus
	ranking   atomic.Pointer[bestserver.Ranking]
	validator validator.Validator
	clock     clock.Clock

	tickPeriod time.Duration
	kick       chan struct{}

	// pending maps a dispatched sub-query's correlation token back to the transport it was sent
	// to, so a RECEIVED/ERROR event can be fed to the ranking algorithm. Only ever read/written
	// from the tick goroutine.
	pending map[eventbus.SubID]transport.Handle
}

// New constructs an Orchestrator. tickPeriod of 0 uses DefaultTickPeriod.
func New(table *querytable.Table, bus *eventbus.Bus, ranking *bestserver.Ranking, v validator.Validator,
	c clock.Clock, tickPeriod time.Duration) *Orchestrator {
	if tickPeriod <= 0 {
		tickPeriod = DefaultTickPeriod
	}
	if v == nil {
		v = validator.NoOp{}
	}

	t := &Orchestrator{
		table:      table,
		bus:        bus,
		validator:  v,
		clock:      c,
		tickPeriod: tickPeriod,
		kick:       make(chan struct{}, 1),
		pending:    make(map[eventbus.SubID]transport.Handle),
	}
	t.ranking.Store(ranking)

	return t
}

// SetRanking atomically replaces the server ranking the orchestrator dispatches against, used by
// Resolver.Reconfigure when the nameserver list changes. Safe to call from any goroutine.
func (t *Orchestrator) SetRanking(ranking *bestserver.Ranking) {
	t.ranking.Store(ranking)
}

// Kick requests an out-of-band tick as soon as the select task next runs, used by SendAsync to
// avoid waiting a full tick period for a newly-inserted query's first dispatch.
func (t *Orchestrator) Kick() {
	select {
	case t.kick <- struct{}{}:
	default:
	}
}

// Run is the select-task goroutine: it wakes on whichever of the timer wheel's next
// due wake-up, a Kick, or the event bus having something queued comes first, and calls Tick each
// time. It returns when ctx is cancelled.
func (t *Orchestrator) Run(ctx context.Context) {
	for {
		wait := t.table.NextWakeupDuration(t.clock.Now(), t.tickPeriod)

		select {
		case <-ctx.Done():
			return
		case <-t.clock.After(wait):
			t.Tick(t.clock.Now())
		case <-t.kick:
			t.Tick(t.clock.Now())
		case ev := <-t.bus.C():
			t.handleEvent(ev)
			t.Tick(t.clock.Now())
		}
	}
}

// Tick performs one full pass of the orchestrator's critical work: check hard
// deadlines, dispatch due sub-queries, and drain whatever the event bus has queued.
func (t *Orchestrator) Tick(now time.Time) {
	t.processTimeouts(now)
	t.dispatchDue(now)
	t.drainEvents()
}

// processTimeouts fails every client whose hard deadline has passed with ErrClientTimeout.
func (t *Orchestrator) processTimeouts(now time.Time) {
	for _, e := range t.table.PopTimedOut(now) {
		e.Sink.Send(resultchan.Tuple{ClientID: e.ClientID, Err: rerrors.ErrClientTimeout})
	}
}

// dispatchDue sends every schedule entry whose fire time has arrived: clone
// the request, assign a fresh transaction id, record it as outstanding, and hand it to the
// transport.
func (t *Orchestrator) dispatchDue(now time.Time) {
	for _, due := range t.table.PopDue(now) {
		req := due.Request.Copy()
		req.Id = uint16(rand.Intn(1 << 16))

		subID := eventbus.SubID{ClientID: due.ClientID, Server: due.Transport.Name(), Attempt: due.Attempt}
		t.pending[subID] = due.Transport
		t.table.RecordOutstanding(due.ClientID, subID)
		due.Transport.SendAsync(req, t.bus, subID)
	}
}

// drainEvents consumes every event currently queued on the bus.
func (t *Orchestrator) drainEvents() {
	for _, ev := range t.bus.Drain() {
		t.handleEvent(ev)
	}
}

func (t *Orchestrator) handleEvent(ev eventbus.Event) {
	switch ev.Kind {
	case eventbus.RECEIVED, eventbus.ERROR:
		t.handleReceived(ev)
	case eventbus.VALIDATED:
		t.handleValidated(ev)
	}
}

// handleReceived processes a RECEIVED (or, identically, ERROR) event: clear the sub-query from
// the outstanding set, classify the payload, and either keep racing or settle the client.
func (t *Orchestrator) handleReceived(ev eventbus.Event) {
	tr, known := t.pending[ev.SubID]
	delete(t.pending, ev.SubID)

	entry, ok := t.table.Get(ev.SubID.ClientID)
	if !ok {
		return // stale event for a client already completed or timed out
	}
	if entry.State != querytable.Open {
		return // a winner already arrived for this client; this is a losing racer
	}

	if !t.table.ClearOutstanding(ev.SubID.ClientID, ev.SubID) {
		// An open client received an event for a sub-query it never dispatched. A transport
		// echoed back a corrupted sub_id, which nothing downstream can recover from.
		panic(fmt.Sprintf("%s: event for unknown sub-query %+v", rerrors.ErrInternal, ev.SubID))
	}

	if ev.Err != nil {
		t.handleReceivedError(ev, entry, tr, known)
		return
	}

	if known {
		t.ranking.Load().Promote(tr)
	}
	t.table.Cancel(ev.SubID.ClientID) // stop scheduling/racing further sub-queries for this client
	t.table.SetState(ev.SubID.ClientID, querytable.StoppedWaitingValidation)
	t.startValidation(ev.SubID.ClientID, ev.Message)
}

func (t *Orchestrator) handleReceivedError(ev eventbus.Event, entry *querytable.Entry, tr transport.Handle, known bool) {
	switch {
	case errors.Is(ev.Err, rerrors.ErrNXDomain):
		t.terminal(entry, nil, validator.Unchecked, ev.Err)

	case errors.Is(ev.Err, rerrors.ErrTimeout):
		if known {
			t.ranking.Load().Demote(tr)
		}
		t.maybeExhausted(ev.SubID.ClientID, entry, ev.Err)

	case errors.Is(ev.Err, rerrors.ErrResourceExhausted):
		// Transient local failure: the server stays in the schedule, nothing else to do.

	default:
		if known {
			t.table.DropServerFromSchedule(ev.SubID.ClientID, tr)
			t.ranking.Load().SinkToBottom(tr)
		}
		t.maybeExhausted(ev.SubID.ClientID, entry, ev.Err)
	}
}

// maybeExhausted emits err as a terminal result once a client has nothing left outstanding or
// scheduled.
func (t *Orchestrator) maybeExhausted(clientID uint32, entry *querytable.Entry, err error) {
	if t.table.OutstandingEmpty(clientID) && t.table.ScheduleEmpty(clientID) {
		t.terminal(entry, nil, validator.Unchecked, err)
	}
}

// startValidation hands a successful response to the validator asynchronously; its verdict arrives
// back on the event bus as a VALIDATED event.
func (t *Orchestrator) startValidation(clientID uint32, msg *dns.Msg) {
	v := t.validator
	go func() {
		vmsg, level, err := v.Validate(context.Background(), msg)
		t.bus.Send(eventbus.Event{
			SubID:         eventbus.SubID{ClientID: clientID},
			Kind:          eventbus.VALIDATED,
			Message:       vmsg,
			SecurityLevel: level,
			Err:           err,
		})
	}()
}

// handleValidated consumes the validator's verdict on a previously received message. Which
// SecurityLevel values count as errors is decided by validator.ReportAsError.
func (t *Orchestrator) handleValidated(ev eventbus.Event) {
	entry, ok := t.table.Get(ev.SubID.ClientID)
	if !ok {
		return
	}

	if ev.Err != nil {
		t.terminal(entry, nil, validator.Unchecked, fmt.Errorf("%w: %s", rerrors.ErrValidation, ev.Err.Error()))
		return
	}

	if validator.ReportAsError(ev.SecurityLevel) {
		t.terminal(entry, nil, ev.SecurityLevel,
			fmt.Errorf("%w: classified %s", rerrors.ErrValidation, ev.SecurityLevel))
		return
	}

	t.terminal(entry, ev.Message, ev.SecurityLevel, nil)
}

// terminal delivers the single terminal tuple for entry and removes it from the table.
func (t *Orchestrator) terminal(entry *querytable.Entry, msg *dns.Msg, level validator.SecurityLevel, err error) {
	entry.Sink.Send(resultchan.Tuple{ClientID: entry.ClientID, Message: msg, SecurityLevel: level, Err: err})
	t.table.Remove(entry.ClientID)
}
