package bestserver

import (
	"errors"
	"sync"
)

type algorithm string

// baseManager implements most of the Manager interface and provides helper routines that assist in
// implementations meeting the Manager interface. Algorithms are encouraged to compose themselves
// with baseManager as a way of providing most of the interface, though of course they are not
// obliged to do so.
//
// baseManager treats the front of the servers slice as the current best: algorithms that reorder
// the slice (such as Ranking) get Best() behaviour for free, and algorithms that do not reorder
// simply leave the original first server at the front.
type baseManager struct {
	algType       algorithm    // Set by init
	mu            sync.RWMutex // Protects everything below here as well as implementation vars
	servers       []Server
	serverCount   int            // Cache of len(servers)
	serverToIndex map[Server]int // Converts Server back to slice index
}

// lock is a wrapper to encapsulate locking on behalf of all bestserver
// implementations. Implementations must call lock|rlock/unlock to protect their
// data structures from concurrent access.
func (t *baseManager) lock() {
	t.mu.Lock()
}

// unlock is a wrapper to encapsulate locking on behalf of all implementations.
func (t *baseManager) unlock() {
	t.mu.Unlock()
}

// rlock is a wrapper to encapsulate locking on behalf of all implementations.
func (t *baseManager) rlock() {
	t.mu.RLock()
}

// runlock is a wrapper to encapsulate locking on behalf of all implementations.
func (t *baseManager) runlock() {
	t.mu.RUnlock()
}

// init is called by the algorithm constructor to initialize the server variables. The supplied
// slice is copied so later reordering never aliases the caller's slice.
func (t *baseManager) init(algType algorithm, servers []Server) error {
	if len(servers) == 0 {
		return errors.New("bestserver:No servers in list")
	}
	t.algType = algType
	t.servers = make([]Server, len(servers))
	copy(t.servers, servers)
	t.serverCount = len(t.servers)

	t.serverToIndex = make(map[Server]int)
	for ix, s := range t.servers {
		if _, ok := t.serverToIndex[s]; ok {
			return errors.New("bestserver.New: Duplicate Server in list: " + s.Name())
		}
		t.serverToIndex[s] = ix
	}

	return nil
}

func (t *baseManager) Algorithm() string {
	return string(t.algType)
}

// Best returns the server currently at the front of the list and its index in the current order.
func (t *baseManager) Best() (Server, int) {
	t.rlock()
	defer t.runlock()

	return t.servers[0], 0
}

// Servers returns a copy of the server list in its current order.
func (t *baseManager) Servers() []Server {
	t.rlock()
	defer t.runlock()

	servers := make([]Server, len(t.servers))
	copy(servers, t.servers)

	return servers
}

func (t *baseManager) Len() int {
	return t.serverCount
}
