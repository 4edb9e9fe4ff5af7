package bestserver

import (
	"time"
)

// Server is the interface used to create a bestserver collection. It is returned by Best() and
// passed in to Result(). The underlying struct is supplied by the caller when they create a
// bestserver collection with one of the New* functions. The application will normally supply its
// own struct if it wants to track other things related to the server, such as stats or the server
// IP address or similar - the resolver's transport handles satisfy Server directly for exactly
// that reason.
type Server interface {
	Name() string
}

// Manager is the public interface for bestserver.
type Manager interface {
	// Algorithm returns the name of the implementation
	Algorithm() string

	// Best returns the current best server (and its index into the server
	// list) as determined by the underlying algorithm in use. It always
	// returns valid values.
	Best() (Server, int)

	// Result updates internal statistics and *may* reorder the collection
	// or reassess whether there is a better choice for the current 'best'
	// server.
	//
	// The Server passed into Result() must be exactly the value originally
	// supplied to the constructor as it is used as an index into a map.
	//
	// Return false if Server is not part of this collection
	Result(server Server, success bool, now time.Time, latency time.Duration) bool

	// Servers returns a slice of all Servers in the collection's current
	// preference order.
	Servers() []Server

	// Len returns the count of servers
	Len() int
}
