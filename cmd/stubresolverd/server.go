package main

/*
This module is the daemon's listening side: it accepts inbound DNS queries over UDP/TCP and hands
each one to the shared stubresolver.Resolver, which forwards to the ranked multi-server pool.
*/

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/markdingo/stubresolver/internal/concurrencytracker"
	"github.com/markdingo/stubresolver/internal/connectiontracker"
	"github.com/markdingo/stubresolver/internal/dnsutil"

	"github.com/miekg/dns"
)

// messageSender is the single resolver capability the listening side depends on, so tests can
// substitute the racing resolver with a mock.
type messageSender interface {
	SendMessage(msg *dns.Msg) (*dns.Msg, error)
}

const ( // ser = Server ERror index into failureCounters
	serNoResponse = iota
	serDNSWriteFailed
	serListSize
)

type stats struct {
	successCount    int
	totalLatency    time.Duration
	failureCounters [serListSize]int
}

type server struct {
	stdout        io.Writer
	resolver      messageSender
	listenAddress string
	transport     string // consts.DNSUDPTransport or consts.DNSTCPTransport
	server        *dns.Server
	cct           concurrencytracker.Counter // Peak concurrent inbound requests
	connTrk       *connectiontracker.Tracker // TCP connection occupancy (nil for UDP)

	mu sync.RWMutex
	stats
}

// start starts the dns.Server and writes to errorChan at server exit. NotifyStartedFunc lets
// main know the listen socket is open so osutil.Constrain can run without a fixed delay.
func (t *server) start(errorChan chan error, wg *sync.WaitGroup) {
	var notifyWG sync.WaitGroup
	var once sync.Once
	notifyWG.Add(1)

	t.server = &dns.Server{Addr: t.listenAddress, Net: t.transport, Handler: t, NotifyStartedFunc: func() {
		once.Do(func() { notifyWG.Done() })
	}}

	if t.transport == consts.DNSTCPTransport {
		t.connTrk = connectiontracker.New(t.Name())
		ln, err := net.Listen("tcp", t.listenAddress)
		if err != nil {
			wg.Add(1)
			go func() {
				errorChan <- err
				once.Do(func() { notifyWG.Done() })
				wg.Done()
			}()
			notifyWG.Wait()
			return
		}
		t.server.Listener = &trackedListener{Listener: ln, tracker: t.connTrk}
	}

	serve := t.server.ListenAndServe
	if t.server.Listener != nil { // Serve on the tracked listener rather than binding a second one
		serve = t.server.ActivateAndServe
	}

	wg.Add(1)
	go func() {
		errorChan <- serve()
		once.Do(func() { notifyWG.Done() })
		wg.Done()
	}()
	notifyWG.Wait()
}

// ServeDNS is called once per query in a newly created go-routine by the miekg/dns server.
func (t *server) ServeDNS(writer dns.ResponseWriter, query *dns.Msg) {
	t.cct.Add()
	defer t.cct.Done()

	if cfg.logClientIn {
		fmt.Fprintln(t.stdout, "CI:"+writer.RemoteAddr().String()+":"+dnsutil.CompactMsgString(query))
	}

	outbound := query.Copy()
	t.maybeAddECS(outbound, writer.RemoteAddr())

	startTime := time.Now()
	resp, err := t.resolver.SendMessage(outbound)
	duration := time.Since(startTime)
	if err != nil || resp == nil {
		t.addFailureStats(serNoResponse)
		if cfg.logClientOut {
			fmt.Fprintln(t.stdout, "CE:"+dnsutil.CompactMsgString(query), err)
		}
		return
	}
	resp.Id = query.Id // Echo the client's transaction id, not our internal sub-query id

	// Truncate oversized UDP responses to the client's advertised buffer size (or the protocol
	// default). TC=1 set by Truncate() tells the client
	// to retry over TCP; we never clear a TC bit the upstream already set.
	if t.transport == consts.DNSUDPTransport {
		limit := dns.MinMsgSize
		if opt := query.IsEdns0(); opt != nil && int(opt.UDPSize()) > limit {
			limit = int(opt.UDPSize())
		}
		if resp.Len() > limit {
			resp.Truncate(limit)
		}
	}

	if err := writer.WriteMsg(resp); err != nil {
		t.addFailureStats(serDNSWriteFailed)
		if cfg.logClientOut {
			fmt.Fprintln(t.stdout, "CE:"+err.Error())
		}
		return
	}

	t.addSuccessStats(duration)
	if cfg.logClientOut {
		fmt.Fprintln(t.stdout, "CO:"+dnsutil.CompactMsgString(resp), duration)
	}
}

// maybeAddECS synthesizes an EDNS0 Client Subnet option from the client's address so upstream
// nameservers can give topology-aware answers. A client that supplied its own ECS wins; synthesis
// only fills the gap, and only when the matching prefix length option is non-zero.
func (t *server) maybeAddECS(msg *dns.Msg, remote net.Addr) {
	if cfg.ecsV4PrefixLen == 0 && cfg.ecsV6PrefixLen == 0 {
		return
	}
	if _, ecs := dnsutil.FindECS(msg); ecs != nil {
		return
	}

	var ip net.IP
	switch a := remote.(type) {
	case *net.UDPAddr:
		ip = a.IP
	case *net.TCPAddr:
		ip = a.IP
	default:
		return
	}

	if ip4 := ip.To4(); ip4 != nil {
		if cfg.ecsV4PrefixLen > 0 {
			dnsutil.CreateECS(msg, 1, cfg.ecsV4PrefixLen, ip4)
		}
		return
	}
	if cfg.ecsV6PrefixLen > 0 {
		dnsutil.CreateECS(msg, 2, cfg.ecsV6PrefixLen, ip)
	}
}

// stop performs an orderly shutdown of the listen socket.
func (t *server) stop() {
	if t.server != nil {
		t.server.Shutdown()
	}
}

// trackedListener wraps a net.Listener so every accepted TCP connection is reported to a
// connectiontracker.Tracker. A plain TCP accept loop has no Active/Idle transitions to report,
// only New/Closed.
type trackedListener struct {
	net.Listener
	tracker *connectiontracker.Tracker
}

func (l *trackedListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	key := c.RemoteAddr().String()
	l.tracker.ConnState(key, time.Now(), http.StateNew)

	return &trackedConn{Conn: c, key: key, tracker: l.tracker}, nil
}

type trackedConn struct {
	net.Conn
	key     string
	tracker *connectiontracker.Tracker
	once    sync.Once
}

func (c *trackedConn) Close() error {
	c.once.Do(func() { c.tracker.ConnState(c.key, time.Now(), http.StateClosed) })

	return c.Conn.Close()
}
