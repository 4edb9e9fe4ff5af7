/*
Package querytable implements the registry of in-flight client queries:
the single source of truth for which sub-queries may still be considered live.

Table is guarded by one sync.Mutex, following the locking shape of
internal/bestserver.baseManager (lock/unlock helpers wrapping every exported mutation) - every
Table operation touches the schedule and the outstanding set together, so a single exclusive lock is
simpler than the bestserver package's RWMutex split between Best() readers and Result() writers.

Table also keeps an internal/timerwheel.Wheel of every pending fire time and hard deadline across all
entries, so the orchestrator's select task can compute a precise sleep duration instead
of polling on a fixed cadence.
*/
package querytable

import (
	"fmt"
	"sync"
	"time"

	"github.com/markdingo/stubresolver/internal/eventbus"
	"github.com/markdingo/stubresolver/internal/rerrors"
	"github.com/markdingo/stubresolver/internal/resultchan"
	"github.com/markdingo/stubresolver/internal/schedule"
	"github.com/markdingo/stubresolver/internal/timerwheel"
	"github.com/markdingo/stubresolver/internal/transport"

	"github.com/miekg/dns"
)

const me = "querytable"

// State is the lifecycle stage of a ClientQuery.
type State int

const (
	Open State = iota
	StoppedWaitingValidation
	Done
)

// ErrDuplicateClientID is returned by Insert when client_id is already present.
type ErrDuplicateClientID struct {
	ClientID uint32
}

func (e *ErrDuplicateClientID) Error() string {
	return fmt.Sprintf("%s: duplicate client id %d", me, e.ClientID)
}

// Entry is one ClientQuery.
type Entry struct {
	ClientID     uint32
	Request      *dns.Msg
	Sink         *resultchan.Chan
	Outstanding  map[eventbus.SubID]bool
	Schedule     []schedule.Fire
	Servers      []transport.Handle // snapshot of the ranking in effect at insert time
	HardDeadline time.Time          // zero value (IsZero) means no deadline
	State        State
}

// DueFire is one schedule entry ready to be dispatched: the resolved transport (looked up from the
// entry's server snapshot by schedule.Fire.ServerIdx) plus the attempt/round number.
type DueFire struct {
	ClientID  uint32
	Transport transport.Handle
	Attempt   int
	Request   *dns.Msg
}

// Table is the registry of in-flight client queries, keyed by client_id.
type Table struct {
	mu      sync.Mutex
	entries map[uint32]*Entry
	wheel   *timerwheel.Wheel
}

// New constructs an empty Table.
func New() *Table {
	return &Table{entries: make(map[uint32]*Entry), wheel: timerwheel.New()}
}

// NextWakeupDuration returns how long the orchestrator's select task should wait before it next has
// something due - the earliest of any pending schedule fire or hard deadline - or fallback if
// nothing is pending. The wheel synchronizes itself, so this does not take the
// table's own lock.
func (t *Table) NextWakeupDuration(now time.Time, fallback time.Duration) time.Duration {
	return t.wheel.SleepDuration(now, fallback)
}

// Len returns the number of live entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.entries)
}

// Insert registers a new client query and builds its dispatch schedule from the current server
// ranking snapshot. hardDeadline should be the zero time.Time when no per-client deadline is
// configured.
func (t *Table) Insert(clientID uint32, request *dns.Msg, sink *resultchan.Chan, servers []transport.Handle,
	retryTimes int, retryDelay time.Duration, hardDeadline time.Time, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[clientID]; exists {
		return &ErrDuplicateClientID{ClientID: clientID}
	}

	plan, err := schedule.Build(len(servers), retryTimes, retryDelay, now)
	if err != nil {
		// Resolver construction already proved this (servers, retryTimes, retryDelay)
		// combination plans cleanly, so a failure here is an invariant violation, not a bad
		// argument. Never silently overwrite a colliding fire time.
		panic(fmt.Sprintf("%s: %s", rerrors.ErrInternal, err.Error()))
	}

	serversCopy := make([]transport.Handle, len(servers))
	copy(serversCopy, servers)

	t.entries[clientID] = &Entry{
		ClientID:     clientID,
		Request:      request,
		Sink:         sink,
		Outstanding:  make(map[eventbus.SubID]bool),
		Schedule:     plan.Fires,
		Servers:      serversCopy,
		HardDeadline: hardDeadline,
		State:        Open,
	}

	for _, f := range plan.Fires {
		t.wheel.Add(f.At)
	}
	if !hardDeadline.IsZero() {
		t.wheel.Add(hardDeadline)
	}

	return nil
}

// PopDue returns and removes every schedule entry across all clients whose fire time is <= now.
func (t *Table) PopDue(now time.Time) []DueFire {
	t.mu.Lock()
	defer t.mu.Unlock()

	var due []DueFire
	for clientID, e := range t.entries {
		remaining := e.Schedule[:0]
		for _, f := range e.Schedule {
			if !f.At.After(now) {
				t.wheel.Remove(f.At)
				if f.ServerIdx >= 0 && f.ServerIdx < len(e.Servers) {
					due = append(due, DueFire{ClientID: clientID, Transport: e.Servers[f.ServerIdx], Attempt: f.Attempt, Request: e.Request})
				}
				continue
			}
			remaining = append(remaining, f)
		}
		e.Schedule = remaining
	}

	return due
}

// PopTimedOut returns and fully removes every entry whose hard deadline has been reached. A zero
// HardDeadline never times out.
func (t *Table) PopTimedOut(now time.Time) []*Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var timedOut []*Entry
	for clientID, e := range t.entries {
		if e.HardDeadline.IsZero() {
			continue
		}
		if !now.Before(e.HardDeadline) {
			timedOut = append(timedOut, e)
			delete(t.entries, clientID)
			t.wheel.Remove(e.HardDeadline)
			for _, f := range e.Schedule {
				t.wheel.Remove(f.At)
			}
		}
	}

	return timedOut
}

// RecordOutstanding adds sub_id to the client's outstanding set.
func (t *Table) RecordOutstanding(clientID uint32, subID eventbus.SubID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[clientID]
	if !ok {
		return
	}
	e.Outstanding[subID] = true
}

// ClearOutstanding removes sub_id from the client's outstanding set. Returns false if the client is
// gone or sub_id was not outstanding.
func (t *Table) ClearOutstanding(clientID uint32, subID eventbus.SubID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[clientID]
	if !ok {
		return false
	}
	if !e.Outstanding[subID] {
		return false
	}
	delete(e.Outstanding, subID)

	return true
}

// Cancel drops the client's schedule and outstanding set but leaves the entry in the table so late
// transport events can still be recognised and dropped.
func (t *Table) Cancel(clientID uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[clientID]
	if !ok {
		return
	}
	for _, f := range e.Schedule {
		t.wheel.Remove(f.At)
	}
	e.Schedule = nil
	e.Outstanding = make(map[eventbus.SubID]bool)
}

// Remove terminally deletes the client's entry.
func (t *Table) Remove(clientID uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[clientID]
	if !ok {
		return
	}
	for _, f := range e.Schedule {
		t.wheel.Remove(f.At)
	}
	if !e.HardDeadline.IsZero() {
		t.wheel.Remove(e.HardDeadline)
	}
	delete(t.entries, clientID)
}

// Get returns the client's entry and whether it is present. Used to drop stale events for a client
// no longer in the table.
func (t *Table) Get(clientID uint32) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[clientID]

	return e, ok
}

// SetState transitions a client's lifecycle state.
func (t *Table) SetState(clientID uint32, state State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[clientID]; ok {
		e.State = state
	}
}

// ScheduleEmpty reports whether the client has no remaining scheduled fires.
func (t *Table) ScheduleEmpty(clientID uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[clientID]
	if !ok {
		return true
	}

	return len(e.Schedule) == 0
}

// OutstandingEmpty reports whether the client has no remaining outstanding sub-queries.
func (t *Table) OutstandingEmpty(clientID uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[clientID]
	if !ok {
		return true
	}

	return len(e.Outstanding) == 0
}

// DropServerFromSchedule removes every remaining schedule entry for transport from the client's
// schedule, used on a hard (non-timeout, non-resource-exhausted) transport error.
func (t *Table) DropServerFromSchedule(clientID uint32, tr transport.Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[clientID]
	if !ok {
		return
	}

	remaining := e.Schedule[:0]
	for _, f := range e.Schedule {
		if f.ServerIdx >= 0 && f.ServerIdx < len(e.Servers) && e.Servers[f.ServerIdx] == tr {
			t.wheel.Remove(f.At)
			continue
		}
		remaining = append(remaining, f)
	}
	e.Schedule = remaining
}

// RemoveAll drains every entry from the table and returns them, used by Close().
func (t *Table) RemoveAll() []*Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	all := make([]*Entry, 0, len(t.entries))
	for _, e := range t.entries {
		all = append(all, e)
	}
	t.entries = make(map[uint32]*Entry)
	t.wheel = timerwheel.New()

	return all
}
