/*
Package transport defines the per-server transport capability set and ships three concrete
implementations - udp, tcp and doh - that the orchestrator treats as opaque black boxes.

On-wire encode/decode, per-packet timeouts, TC-bit TCP fallback and TSIG signing all live here,
one layer below the multi-server retry engine in internal/orchestrator. The orchestrator never
constructs or type-asserts concrete transports; it only calls through the Handle interface.
*/
package transport

import (
	"time"

	"github.com/markdingo/stubresolver/internal/eventbus"

	"github.com/miekg/dns"
)

// Handle is the capability set the orchestrator depends on for every upstream server.
// Name also satisfies internal/bestserver.Server, so a Handle can be registered directly into a
// bestserver.Manager ranking collection.
type Handle interface {
	// Name returns the server label used for logging and as the bestserver.Server identity.
	Name() string

	// SendAsync is non-blocking. It must eventually enqueue exactly one (sub_id, RECEIVED,
	// msg|nil, err|nil) event on bus, unless the transport is torn down before it can.
	SendAsync(request *dns.Msg, bus *eventbus.Bus, subID eventbus.SubID)

	// Configure applies resolver-wide configuration. Called on construction and whenever the
	// resolver's configuration changes.
	Configure(cfg Config)
}

// TSIGConfig carries the three accepted shapes of TSIG signing material: a pre-built TSIG
// record (Name+Secret+Algorithm all set), a bare (name,key) pair, or nothing at all (nil *TSIGConfig
// on Config disables signing).
type TSIGConfig struct {
	Name      string
	Secret    string
	Algorithm string // defaults to dns.HmacSHA256 if empty
}

// Config is the set of per-transport fields the orchestrator sets on every transport on
// construction and whenever resolver configuration changes. SrcPorts is the validated,
// expanded set from portpolicy.Validate; the udp and tcp transports round-robin their outbound
// sockets across it, while doh does not use it.
type Config struct {
	Port             int
	UseTCP           bool
	TSIG             *TSIGConfig
	IgnoreTruncation bool
	PacketTimeout    time.Duration
	SrcAddress       string
	SrcPorts         []int
	PersistentTCP    bool
	PersistentUDP    bool
	Recurse          bool
	UDPSize          uint16
	DNSSEC           bool
}
