package main

import (
	"time"

	"github.com/markdingo/stubresolver/internal/flagutil"
)

// config holds every command-line setting for stubresolverd.
type config struct {
	gops    bool
	help    bool
	udp     bool // Listen on UDP
	tcp     bool // Listen on TCP
	verbose bool
	version bool

	listenAddresses flagutil.StringValue // Listen address(es) for inbound DNS queries

	upstreamTCP bool // Force TCP to every upstream nameserver
	dnssec      bool // Set the DO bit and request DNSSEC-aware behaviour
	resolvConf  string

	ecsV4PrefixLen int // Synthesize ECS from the client address for IPv4 clients
	ecsV6PrefixLen int // Synthesize ECS from the client address for IPv6 clients

	srcAddress string
	srcPorts   flagutil.StringValue // Each value is a single port or an inclusive first-last range

	packetTimeout  time.Duration
	queryTimeout   time.Duration
	retryTimes     int
	retryDelay     time.Duration
	statusInterval time.Duration

	logClientIn  bool
	logClientOut bool

	setuidName, setgidName, chrootDir string

	cpuprofile, memprofile string
}
