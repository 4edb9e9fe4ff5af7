package stubresolver

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/markdingo/stubresolver/internal/bestserver"
	"github.com/markdingo/stubresolver/internal/clock"
	"github.com/markdingo/stubresolver/internal/dnsutil"
	"github.com/markdingo/stubresolver/internal/eventbus"
	"github.com/markdingo/stubresolver/internal/orchestrator"
	"github.com/markdingo/stubresolver/internal/portpolicy"
	"github.com/markdingo/stubresolver/internal/querytable"
	"github.com/markdingo/stubresolver/internal/resultchan"
	"github.com/markdingo/stubresolver/internal/schedule"
	"github.com/markdingo/stubresolver/internal/transport"

	"github.com/miekg/dns"
)

const eventBusCapacity = 256

// Resolver is the public entry point: a multi-server retry-and-racing DNS
// stub resolver built on top of the tick-loop orchestrator in internal/orchestrator.
type Resolver struct {
	mu     sync.RWMutex
	config Config

	handles []transport.Handle
	ranking *bestserver.Ranking
	table   *querytable.Table
	bus     *eventbus.Bus
	orch    *orchestrator.Orchestrator
	clock   clock.Clock

	cancel  context.CancelFunc
	closed  atomic.Bool
	nextSeq atomic.Uint32
}

// New constructs a Resolver from config, applying every default, validating config.SrcPorts and
// the retry schedule, and starting the orchestrator's tick-loop goroutine. Callers must call
// Close when done with the returned Resolver.
func New(config Config) (*Resolver, error) {
	cfg := config.withDefaults()

	ports, err := portpolicy.Validate(cfg.SrcPorts)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrArgument, err)
	}
	cfg.SrcPorts = ports

	if len(cfg.Nameservers) == 0 {
		return nil, fmt.Errorf("%w: no nameservers configured", ErrArgument)
	}

	handles := buildTransports(cfg)
	ranking, err := bestserver.NewRanking(bestserver.RankingConfig{}, toServers(handles))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrArgument, err)
	}

	table := querytable.New()
	bus := eventbus.New(eventBusCapacity)
	clk := clock.Real()

	// Prove the retry configuration plans cleanly for this server count before accepting it.
	// Collisions depend only on the count/retries/delay combination, never on the base time, so
	// a clean trial plan here guarantees every per-query plan is collision-free too - and a
	// dirty one means the Resolver would deterministically fail every query it was given.
	if _, err := schedule.Build(len(handles), cfg.RetryTimes, cfg.RetryDelay, clk.Now()); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrArgument, err)
	}

	orch := orchestrator.New(table, bus, ranking, cfg.Validator, clk, cfg.TickPeriod)

	ctx, cancel := context.WithCancel(context.Background())
	r := &Resolver{
		config:  cfg,
		handles: handles,
		ranking: ranking,
		table:   table,
		bus:     bus,
		orch:    orch,
		clock:   clk,
		cancel:  cancel,
	}

	go orch.Run(ctx)

	return r, nil
}

// buildTransports constructs one transport.Handle per entry in cfg.Nameservers: an https:// label
// becomes a DoH transport, everything else becomes UDP (with TC-bit fallback to TCP) or, if UseTCP
// is forced, a plain TCP transport.
func buildTransports(cfg Config) []transport.Handle {
	tc := cfg.transportConfig()
	handles := make([]transport.Handle, 0, len(cfg.Nameservers))
	for _, ns := range cfg.Nameservers {
		var h transport.Handle
		switch {
		case strings.HasPrefix(ns, "https://"):
			h = transport.NewDoH(ns, nil)
		case cfg.UseTCP:
			h = transport.NewTCP(ns)
		default:
			h = transport.NewUDP(ns)
		}
		h.Configure(tc)
		handles = append(handles, h)
	}

	return handles
}

func toServers(handles []transport.Handle) []bestserver.Server {
	servers := make([]bestserver.Server, len(handles))
	for i, h := range handles {
		servers[i] = h
	}

	return servers
}

// Reconfigure replaces the resolver's configuration. A change to Nameservers rebuilds the transport
// pool and ranking from scratch (its order becomes the new initial dispatch order); every other
// field is pushed to the existing transports via Configure.
func (r *Resolver) Reconfigure(config Config) error {
	cfg := config.withDefaults()

	ports, err := portpolicy.Validate(cfg.SrcPorts)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrArgument, err)
	}
	cfg.SrcPorts = ports

	if len(cfg.Nameservers) == 0 {
		return fmt.Errorf("%w: no nameservers configured", ErrArgument)
	}
	if _, err := schedule.Build(len(cfg.Nameservers), cfg.RetryTimes, cfg.RetryDelay, r.clock.Now()); err != nil {
		return fmt.Errorf("%w: %s", ErrArgument, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !sameNameservers(cfg.Nameservers, r.config.Nameservers) {
		handles := buildTransports(cfg)
		ranking, err := bestserver.NewRanking(bestserver.RankingConfig{}, toServers(handles))
		if err != nil {
			return fmt.Errorf("%w: %s", ErrArgument, err)
		}
		r.handles = handles
		r.ranking = ranking
		r.orch.SetRanking(ranking)
	} else {
		tc := cfg.transportConfig()
		for _, h := range r.handles {
			h.Configure(tc)
		}
	}

	r.config = cfg

	return nil
}

func sameNameservers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

// currentServers returns the transport handles in the ranking's current dispatch order.
func (r *Resolver) currentServers() []transport.Handle {
	r.mu.RLock()
	ranking := r.ranking
	r.mu.RUnlock()

	raw := ranking.Servers()
	out := make([]transport.Handle, 0, len(raw))
	for _, s := range raw {
		if h, ok := s.(transport.Handle); ok {
			out = append(out, h)
		}
	}

	return out
}

// Query builds a Message with RD=1 for (name, qtype, qclass), optionally setting the CD bit, and
// blocks for a result. setCD defaults to the resolver's configured DNSSEC
// flag when omitted.
func (r *Resolver) Query(name string, qtype, qclass uint16, setCD ...bool) (*dns.Msg, error) {
	r.mu.RLock()
	dnssec := r.config.DNSSEC
	r.mu.RUnlock()

	msg := new(dns.Msg)
	if qclass == 0 {
		qclass = dns.ClassINET
	}
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.Question[0].Qclass = qclass
	msg.RecursionDesired = true

	cd := dnssec
	if len(setCD) > 0 {
		cd = setCD[0]
	}
	dnsutil.SetCheckingDisabled(msg, cd)

	return r.SendMessage(msg)
}

// SendMessage sends msg and blocks until the terminal result arrives.
func (r *Resolver) SendMessage(msg *dns.Msg) (*dns.Msg, error) {
	sink := resultchan.New()
	r.SendAsync(msg, sink)
	tuple := sink.Recv()

	return tuple.Message, tuple.Err
}

// SendAsync registers msg for asynchronous dispatch and returns immediately with its client id.
// The terminal result is delivered on sink exactly once. clientID may be supplied to correlate
// the call with a caller-chosen id; otherwise one is generated.
func (r *Resolver) SendAsync(msg *dns.Msg, sink *resultchan.Chan, clientID ...uint32) uint32 {
	if r.closed.Load() {
		sink.Send(resultchan.Tuple{Err: ErrResolverClosed})
		return 0
	}
	if msg == nil || len(msg.Question) == 0 {
		sink.Send(resultchan.Tuple{Err: fmt.Errorf("%w: message has no question", ErrArgument)})
		return 0
	}

	var cid uint32
	if len(clientID) > 0 {
		cid = clientID[0]
	} else {
		cid = r.generateClientID()
	}

	r.mu.RLock()
	cfg := r.config
	r.mu.RUnlock()

	if cfg.Recurse {
		msg.RecursionDesired = true
	}
	dnsutil.SetEDNS0Size(msg, cfg.UDPSize)
	if cfg.DNSSEC {
		dnsutil.SetDNSSECOK(msg, true)
	}

	servers := r.currentServers()
	if len(servers) == 0 {
		sink.Send(resultchan.Tuple{ClientID: cid, Err: fmt.Errorf("%w: no nameservers configured", ErrArgument)})
		return cid
	}

	var hardDeadline time.Time
	if cfg.QueryTimeout > 0 {
		hardDeadline = r.clock.Now().Add(cfg.QueryTimeout)
	}

	if err := r.table.Insert(cid, msg, sink, servers, cfg.RetryTimes, cfg.RetryDelay, hardDeadline, r.clock.Now()); err != nil {
		sink.Send(resultchan.Tuple{ClientID: cid, Err: fmt.Errorf("%w: %s", ErrArgument, err)})
		return cid
	}

	r.orch.Kick()

	return cid
}

// generateClientID manufactures a client id from the current time plus a random jitter term,
// retrying on the vanishingly unlikely collision with an id already in the table.
func (r *Resolver) generateClientID() uint32 {
	for {
		cid := uint32(r.clock.Now().UnixNano()) + uint32(rand.Intn(1<<16))
		if cid == 0 {
			continue
		}
		if _, exists := r.table.Get(cid); !exists {
			return cid
		}
	}
}

// Close shuts the resolver down: every client query still in the table is failed
// with ErrResolverClosed and the orchestrator's tick-loop goroutine is stopped. Close is idempotent.
func (r *Resolver) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	r.cancel()
	for _, e := range r.table.RemoveAll() {
		e.Sink.Send(resultchan.Tuple{ClientID: e.ClientID, Err: ErrResolverClosed})
	}

	return nil
}
