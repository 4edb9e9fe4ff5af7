package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/markdingo/stubresolver/internal/eventbus"
	"github.com/markdingo/stubresolver/internal/rerrors"

	"github.com/miekg/dns"
)

// udp is the default Handle implementation for plain UDP, retrying a truncated (TC=1) reply over
// TCP unless Config.IgnoreTruncation says otherwise.
type udp struct {
	host string // server host, without port

	mu  sync.RWMutex
	cfg Config

	portIx atomic.Uint32 // round-robin index into cfg.SrcPorts

	connMu sync.Mutex
	conn   *dns.Conn // persistent socket when cfg.PersistentUDP; nil until first dial
}

// NewUDP constructs a udp transport dialing host (an IP or hostname, no port - the port comes from
// Config.Port, applied via Configure).
func NewUDP(host string) *udp {
	t := &udp{host: host}
	t.Configure(Config{Port: 53, PacketTimeout: 10 * time.Second, UDPSize: dns.MinMsgSize})

	return t
}

func (t *udp) Name() string {
	return t.host
}

func (t *udp) Configure(cfg Config) {
	t.mu.Lock()
	t.cfg = cfg
	t.mu.Unlock()

	// A cached persistent socket was dialed under the old configuration, so drop it and let the
	// next exchange dial afresh.
	t.connMu.Lock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.connMu.Unlock()
}

func (t *udp) address(cfg Config) string {
	return net.JoinHostPort(t.host, strconv.Itoa(cfg.Port))
}

// newClient builds the dns.Client for one exchange. A fresh client per dispatch keeps the Dialer
// free to bind a different source port each time without racing concurrent sub-queries.
func (t *udp) newClient(cfg Config) *dns.Client {
	client := &dns.Client{Net: "udp", Timeout: cfg.PacketTimeout, UDPSize: cfg.UDPSize,
		TsigSecret: tsigSecrets(cfg.TSIG)}
	port := nextSrcPort(&t.portIx, cfg.SrcPorts)
	if len(cfg.SrcAddress) > 0 || port != 0 {
		client.Dialer = &net.Dialer{LocalAddr: &net.UDPAddr{IP: net.ParseIP(cfg.SrcAddress), Port: port}}
	}

	return client
}

// exchange performs one query/response round-trip. With PersistentUDP the socket is dialed once
// and reused across queries; exchanges serialize on it and any error tears it down so the next
// exchange starts clean.
func (t *udp) exchange(client *dns.Client, msg *dns.Msg, addr string, persistent bool) (*dns.Msg, error) {
	if !persistent {
		reply, _, err := client.Exchange(msg, addr)
		return reply, err
	}

	t.connMu.Lock()
	defer t.connMu.Unlock()

	if t.conn == nil {
		conn, err := client.Dial(addr)
		if err != nil {
			return nil, err
		}
		t.conn = conn
	}
	reply, _, err := client.ExchangeWithConn(msg, t.conn)
	if err != nil {
		t.conn.Close()
		t.conn = nil
	}

	return reply, err
}

func (t *udp) SendAsync(request *dns.Msg, bus *eventbus.Bus, subID eventbus.SubID) {
	t.mu.RLock()
	cfg := t.cfg
	t.mu.RUnlock()

	addr := t.address(cfg)

	go func() {
		msg := request.Copy()
		applyTSIG(msg, cfg.TSIG)

		reply, err := t.exchange(t.newClient(cfg), msg, addr, cfg.PersistentUDP)
		if err != nil {
			bus.Send(eventbus.Event{SubID: subID, Kind: eventbus.RECEIVED, Err: classifyError(err)})
			return
		}

		if reply.Truncated && !cfg.IgnoreTruncation {
			tcpClient := &dns.Client{Net: "tcp", Timeout: cfg.PacketTimeout, TsigSecret: tsigSecrets(cfg.TSIG)}
			tcpReply, _, tcpErr := tcpClient.Exchange(msg, addr)
			if tcpErr == nil {
				reply = tcpReply
			}
		}

		if reply.Rcode == dns.RcodeNameError {
			bus.Send(eventbus.Event{SubID: subID, Kind: eventbus.RECEIVED, Err: rerrors.ErrNXDomain})
			return
		}

		bus.Send(eventbus.Event{SubID: subID, Kind: eventbus.RECEIVED, Message: reply})
	}()
}

// applyTSIG signs msg if cfg is non-nil. The dns.Client performs the actual HMAC computation on
// exchange; it finds the key material through its TsigSecret map (see tsigSecrets).
func applyTSIG(msg *dns.Msg, cfg *TSIGConfig) {
	if cfg == nil {
		return
	}
	alg := cfg.Algorithm
	if len(alg) == 0 {
		alg = dns.HmacSHA256
	}
	msg.SetTsig(dns.Fqdn(cfg.Name), alg, 300, time.Now().Unix())
}

// tsigSecrets builds the keyname-to-secret map a dns.Client needs to sign requests and verify
// responses carrying the TSIG record applyTSIG appends.
func tsigSecrets(cfg *TSIGConfig) map[string]string {
	if cfg == nil || len(cfg.Secret) == 0 {
		return nil
	}

	return map[string]string{dns.Fqdn(cfg.Name): cfg.Secret}
}

// nextSrcPort returns the source port the next outbound socket should bind, round-robining across
// the validated port set. An empty set, or the single 0 the port policy reduces "any" to, lets the
// OS pick.
func nextSrcPort(ix *atomic.Uint32, ports []int) int {
	if len(ports) == 0 {
		return 0
	}

	return ports[int(ix.Add(1)-1)%len(ports)]
}

// classifyError maps a raw transport error to one of the rerrors sentinel kinds.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
		return fmt.Errorf("%w: %s", rerrors.ErrTimeout, err.Error())
	}
	if isResourceExhausted(err) {
		return fmt.Errorf("%w: %s", rerrors.ErrResourceExhausted, err.Error())
	}

	return fmt.Errorf("%w: %s", rerrors.ErrTransport, err.Error())
}

// isResourceExhausted reports whether err stems from a local resource limit (e.g. too many open
// files) rather than a network or server problem.
func isResourceExhausted(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}

	return errno == syscall.EMFILE || errno == syscall.ENFILE || errno == syscall.ENOBUFS
}
