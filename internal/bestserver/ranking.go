package bestserver

import (
	"time"
)

// RankingAlgorithm is the name reported by Ranking.Algorithm().
const RankingAlgorithm algorithm = "ranking"

// RankingConfig is currently a placeholder - easier to add a field to an existing struct than to
// change a widely-used constructor signature.
type RankingConfig struct{}

// Ranking implements the orchestrator's server-ranking policy: an ordered list of
// servers that is physically reordered - promoted one step on a clean success, demoted one step on
// a timeout, sunk to the bottom on any other hard error - so that Servers() always reflects the
// orchestrator's current dispatch order.
//
// It composes with baseManager for locking and the Server/index bookkeeping. Every mutation
// physically moves elements of the underlying servers slice, so baseManager's front-of-list Best()
// is always this algorithm's next-preferred server.
type Ranking struct {
	RankingConfig
	baseManager
}

// NewRanking constructs a Ranking collection over servers, in the order supplied - that order is
// the initial dispatch order before any Promote/Demote/SinkToBottom calls.
func NewRanking(config RankingConfig, servers []Server) (*Ranking, error) {
	t := &Ranking{RankingConfig: config}
	if err := t.baseManager.init(RankingAlgorithm, servers); err != nil {
		return nil, err
	}

	return t, nil
}

// Result implements the generic bestserver.Manager interface: success promotes one step, failure
// demotes one step. The orchestrator's three-way policy (promote/demote/sink) calls Promote/Demote/
// SinkToBottom directly instead, since a plain bool cannot distinguish a timeout from a hard error.
func (t *Ranking) Result(server Server, success bool, now time.Time, latency time.Duration) bool {
	if success {
		return t.Promote(server)
	}

	return t.Demote(server)
}

// Promote moves server one position toward the front of the ranking. Returns false if server is
// not part of this collection.
func (t *Ranking) Promote(server Server) bool {
	return t.move(server, -1)
}

// Demote moves server one position toward the back of the ranking. Returns false if server is not
// part of this collection.
func (t *Ranking) Demote(server Server) bool {
	return t.move(server, 1)
}

// SinkToBottom moves server to the last position in the ranking. Returns false if server is not
// part of this collection.
func (t *Ranking) SinkToBottom(server Server) bool {
	t.lock()
	defer t.unlock()

	ix, ok := t.serverToIndex[server]
	if !ok {
		return false
	}

	t.relocate(ix, t.serverCount-1)

	return true
}

// move relocates the server currently at its tracked index by delta positions, clamped to the valid
// range, and returns false if server is not part of this collection.
func (t *Ranking) move(server Server, delta int) bool {
	t.lock()
	defer t.unlock()

	ix, ok := t.serverToIndex[server]
	if !ok {
		return false
	}

	newIx := ix + delta
	if newIx < 0 {
		newIx = 0
	}
	if newIx >= t.serverCount {
		newIx = t.serverCount - 1
	}
	if newIx == ix {
		return true
	}

	t.relocate(ix, newIx)

	return true
}

// relocate moves the server at position from to position to, shifting the intervening servers to
// fill the gap, and rebuilds the index map. Caller holds the lock.
func (t *Ranking) relocate(from, to int) {
	s := t.servers[from]
	if from < to {
		copy(t.servers[from:to], t.servers[from+1:to+1])
	} else {
		copy(t.servers[to+1:from+1], t.servers[to:from])
	}
	t.servers[to] = s

	for ix, srv := range t.servers {
		t.serverToIndex[srv] = ix
	}
}
