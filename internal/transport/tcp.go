package transport

import (
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/markdingo/stubresolver/internal/eventbus"
	"github.com/markdingo/stubresolver/internal/rerrors"

	"github.com/miekg/dns"
)

// tcp is the default Handle implementation for DNS-over-TCP, used for every non-DoH nameserver
// when Config.UseTCP is set.
type tcp struct {
	host string

	mu  sync.RWMutex
	cfg Config

	portIx atomic.Uint32 // round-robin index into cfg.SrcPorts

	connMu sync.Mutex
	conn   *dns.Conn // persistent connection when cfg.PersistentTCP; nil until first dial
}

// NewTCP constructs a tcp transport dialing host (an IP or hostname, no port).
func NewTCP(host string) *tcp {
	t := &tcp{host: host}
	t.Configure(Config{Port: 53, PacketTimeout: 10 * time.Second})

	return t
}

func (t *tcp) Name() string {
	return t.host
}

func (t *tcp) Configure(cfg Config) {
	t.mu.Lock()
	t.cfg = cfg
	t.mu.Unlock()

	t.connMu.Lock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.connMu.Unlock()
}

// newClient builds the dns.Client for one exchange, binding the next source port in the rotation.
func (t *tcp) newClient(cfg Config) *dns.Client {
	client := &dns.Client{Net: "tcp", Timeout: cfg.PacketTimeout, TsigSecret: tsigSecrets(cfg.TSIG)}
	port := nextSrcPort(&t.portIx, cfg.SrcPorts)
	if len(cfg.SrcAddress) > 0 || port != 0 {
		client.Dialer = &net.Dialer{LocalAddr: &net.TCPAddr{IP: net.ParseIP(cfg.SrcAddress), Port: port}}
	}

	return client
}

// exchange performs one query/response round-trip. With PersistentTCP the connection is dialed
// once and reused; exchanges serialize on it and any error tears it down.
func (t *tcp) exchange(client *dns.Client, msg *dns.Msg, addr string, persistent bool) (*dns.Msg, error) {
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

func (t *tcp) SendAsync(request *dns.Msg, bus *eventbus.Bus, subID eventbus.SubID) {
	t.mu.RLock()
	cfg := t.cfg
	t.mu.RUnlock()

	addr := net.JoinHostPort(t.host, strconv.Itoa(cfg.Port))

	go func() {
		msg := request.Copy()
		applyTSIG(msg, cfg.TSIG)

		reply, err := t.exchange(t.newClient(cfg), msg, addr, cfg.PersistentTCP)
		if err != nil {
			bus.Send(eventbus.Event{SubID: subID, Kind: eventbus.RECEIVED, Err: classifyError(err)})
			return
		}
		if reply.Rcode == dns.RcodeNameError {
			bus.Send(eventbus.Event{SubID: subID, Kind: eventbus.RECEIVED, Err: rerrors.ErrNXDomain})
			return
		}

		bus.Send(eventbus.Event{SubID: subID, Kind: eventbus.RECEIVED, Message: reply})
	}()
}
