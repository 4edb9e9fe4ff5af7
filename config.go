package stubresolver

import (
	"strconv"
	"time"

	"github.com/markdingo/stubresolver/internal/constants"
	"github.com/markdingo/stubresolver/internal/transport"
	"github.com/markdingo/stubresolver/internal/validator"
)

// SecurityLevel is the DNSSEC validator's verdict on a message, re-exported from
// internal/validator so callers never need to import internal packages.
type SecurityLevel = validator.SecurityLevel

const (
	Unchecked     = validator.Unchecked
	Insecure      = validator.Insecure
	Secure        = validator.Secure
	Bogus         = validator.Bogus
	Indeterminate = validator.Indeterminate
)

// Validator is re-exported so callers can supply their own DNSSEC chain-of-trust implementation.
type Validator = validator.Validator

// TSIGConfig carries the TSIG signing material: a full record, a (name,key) pair, or nothing.
type TSIGConfig = transport.TSIGConfig

// ConfigInfo is a pluggable config source: a nameserver list plus search domains, typically
// sourced from /etc/resolv.conf by a caller. The resolver itself never reads system
// configuration files.
type ConfigInfo struct {
	Nameservers   []string
	SearchDomains []string
}

// Config is the full configuration surface of the resolver. The zero value is usable once
// Nameservers is populated; withDefaults fills in everything else.
type Config struct {
	Port int // Default destination UDP/TCP port (53).

	UseTCP bool // Force TCP for new queries.

	TSIG *TSIGConfig // nil disables signing.

	IgnoreTruncation bool // If true, do not retry over TCP on TC=1.

	SrcAddress string // Bind address for outbound sockets (default "0.0.0.0").
	SrcPorts   []int  // One 0 (any), or a list/range of ports.

	PersistentTCP bool
	PersistentUDP bool

	Recurse bool // Set RD on new queries.

	UDPSize uint16 // EDNS0 buffer size; forced >= 4096 when DNSSEC is true, floor 1220.

	DNSSEC bool // Enable DNSSEC-aware behaviour; CD bit defaults to set on queries.

	ConfigInfo *ConfigInfo
	Nameservers []string // String list of server labels; replaces the ranking list.

	PacketTimeout time.Duration // Per-packet timeout (default 10s).
	QueryTimeout  time.Duration // Per-client hard deadline; 0 means none (default 0).

	RetryTimes int           // Retry rounds (default 4).
	RetryDelay time.Duration // Nominal delay between rounds (default 5s).

	Validator Validator // nil uses validator.NoOp{}.

	TickPeriod time.Duration // orchestrator polling cadence; 0 uses the package default.
}

// withDefaults returns a copy of c with every zero-valued field replaced by the resolver's default,
// following the same defaulting convention as constants.Constants.
func (c Config) withDefaults() Config {
	consts := constants.Get()

	if c.Port == 0 {
		c.Port = 53
		if p, err := strconv.Atoi(consts.DNSDefaultPort); err == nil && p != 0 {
			c.Port = p
		}
	}
	if c.PacketTimeout == 0 {
		c.PacketTimeout = time.Duration(consts.DefaultPacketTimeoutSeconds) * time.Second
	}
	if c.RetryTimes == 0 {
		c.RetryTimes = consts.DefaultRetryTimes
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = time.Duration(consts.DefaultRetryDelaySeconds) * time.Second
	}
	if len(c.SrcAddress) == 0 {
		c.SrcAddress = "0.0.0.0"
	}
	if c.UDPSize == 0 {
		c.UDPSize = uint16(consts.MinimumUDPSize)
	}
	if c.DNSSEC && c.UDPSize < uint16(consts.DNSSECUDPSize) {
		c.UDPSize = uint16(consts.DNSSECUDPSize) // DNSSEC needs room for RRSIGs
	}
	if c.UDPSize < uint16(consts.MinimumUDPSize) {
		c.UDPSize = uint16(consts.MinimumUDPSize)
	}
	if c.Validator == nil {
		c.Validator = validator.NoOp{}
	}
	if c.ConfigInfo != nil && len(c.Nameservers) == 0 {
		c.Nameservers = c.ConfigInfo.Nameservers
	}

	return c
}

// transportConfig projects Config down to the internal/transport.Config every Handle is configured
// with.
func (c Config) transportConfig() transport.Config {
	return transport.Config{
		Port:             c.Port,
		UseTCP:           c.UseTCP,
		TSIG:             c.TSIG,
		IgnoreTruncation: c.IgnoreTruncation,
		PacketTimeout:    c.PacketTimeout,
		SrcAddress:       c.SrcAddress,
		SrcPorts:         c.SrcPorts,
		PersistentTCP:    c.PersistentTCP,
		PersistentUDP:    c.PersistentUDP,
		Recurse:          c.Recurse,
		UDPSize:          c.UDPSize,
		DNSSEC:           c.DNSSEC,
	}
}
