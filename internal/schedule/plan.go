/*
Package schedule implements the retry schedule planner: a pure function turning a server count, a
retry count and a nominal retry delay into a set of absolute fire times, each paired with the
(server index, attempt) it should dispatch.

Build has no I/O and no mutation; equal inputs always yield equal outputs, and
it is a fatal planner error for two entries to land on the same fire time.
*/
package schedule

import (
	"fmt"
	"time"

	"github.com/markdingo/stubresolver/internal/rerrors"
)

const me = "schedule"

// ErrDuplicateFireTime is returned when two schedule entries would land on the same absolute time -
// almost always a sign that retry_delay is far smaller than the per-server stagger requires. It
// unwraps to rerrors.ErrInternal: a colliding plan is an invariant violation that must never be
// repaired by silently overwriting one entry with another.
type ErrDuplicateFireTime struct {
	At time.Time
}

func (e *ErrDuplicateFireTime) Error() string {
	return fmt.Sprintf("%s: duplicate fire time at %s", me, e.At.Format(time.RFC3339Nano))
}

func (e *ErrDuplicateFireTime) Unwrap() error {
	return rerrors.ErrInternal
}

// Fire pairs an absolute wake-up time with the server index and attempt (round) number that should
// be dispatched at that time.
type Fire struct {
	At        time.Time
	ServerIdx int
	Attempt   int
}

// Plan is the ordered output of Build(): Fires sorted by ascending At. The ordering is purely a
// convenience for callers that want to iterate deterministically; the querytable re-sorts into its
// own ordered structure on insert.
type Plan struct {
	Fires []Fire
}

// Build computes the fire-time schedule for n servers across retryTimes retry rounds (so
// retryTimes+1 total rounds counting the initial round 0), starting at base, with a nominal
// inter-round delay of retryDelay.
//
// Round 0 spreads the n servers evenly across one retryDelay so all are exercised without a
// thundering herd. Round k>=1 fires at base + retryDelay*2^k, again staggered by retryDelay/n across
// servers within the round.
func Build(serverCount, retryTimes int, retryDelay time.Duration, base time.Time) (Plan, error) {
	if serverCount <= 0 {
		return Plan{}, fmt.Errorf("%s: no servers to schedule", me)
	}
	if retryTimes < 0 {
		return Plan{}, fmt.Errorf("%s: retryTimes must be >= 0, got %d", me, retryTimes)
	}
	if retryDelay <= 0 {
		return Plan{}, fmt.Errorf("%s: retryDelay must be > 0, got %s", me, retryDelay)
	}

	stagger := retryDelay / time.Duration(serverCount)
	seen := make(map[time.Time]bool)
	plan := Plan{}

	addFire := func(at time.Time, serverIdx, attempt int) error {
		if seen[at] {
			return &ErrDuplicateFireTime{At: at}
		}
		seen[at] = true
		plan.Fires = append(plan.Fires, Fire{At: at, ServerIdx: serverIdx, Attempt: attempt})

		return nil
	}

	for i := 0; i < serverCount; i++ {
		at := base.Add(time.Duration(i) * stagger)
		if err := addFire(at, i, 0); err != nil {
			return Plan{}, err
		}
	}

	for k := 1; k <= retryTimes; k++ {
		roundDelay := retryDelay * time.Duration(int64(1)<<uint(k))
		for i := 0; i < serverCount; i++ {
			at := base.Add(roundDelay).Add(time.Duration(i) * stagger)
			if err := addFire(at, i, k); err != nil {
				return Plan{}, err
			}
		}
	}

	sortFires(plan.Fires)

	return plan, nil
}

func sortFires(fires []Fire) {
	for i := 1; i < len(fires); i++ {
		for j := i; j > 0 && fires[j-1].At.After(fires[j].At); j-- {
			fires[j-1], fires[j] = fires[j], fires[j-1]
		}
	}
}
