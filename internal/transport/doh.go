package transport

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/markdingo/stubresolver/internal/constants"
	"github.com/markdingo/stubresolver/internal/dnsutil"
	"github.com/markdingo/stubresolver/internal/eventbus"
	"github.com/markdingo/stubresolver/internal/rerrors"
	"github.com/markdingo/stubresolver/internal/tlsutil"

	"github.com/miekg/dns"
	"golang.org/x/net/http2"
)

// HTTPClientDo is the single http.Client method doh depends on, so tests can supply a mock.
type HTTPClientDo interface {
	Do(*http.Request) (*http.Response, error)
}

// doh is the default Handle implementation for DNS-over-HTTPS (RFC8484): each sub-query becomes
// one POSTed application/dns-message request against the upstream's query URL.
type doh struct {
	url string // full base URL, e.g. https://dns.example/dns-query

	consts constants.Constants

	mu         sync.RWMutex
	cfg        Config
	httpClient HTTPClientDo
}

// NewDoH constructs a doh transport against the given base URL. When client is nil a default
// http.Client configured for HTTP/2 is built.
func NewDoH(url string, client HTTPClientDo) *doh {
	t := &doh{url: url, consts: constants.Get()}
	if client == nil {
		transport := &http.Transport{}
		if tlsConfig, err := tlsutil.NewClientTLSConfig(true, nil, "", ""); err == nil {
			transport.TLSClientConfig = tlsConfig
		}
		_ = http2.ConfigureTransport(transport)
		client = &http.Client{Transport: transport}
	}
	t.httpClient = client
	t.Configure(Config{PacketTimeout: 10 * time.Second})

	return t
}

func (t *doh) Name() string {
	return t.url
}

func (t *doh) Configure(cfg Config) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cfg = cfg
}

func (t *doh) SendAsync(request *dns.Msg, bus *eventbus.Bus, subID eventbus.SubID) {
	t.mu.RLock()
	httpClient := t.httpClient
	t.mu.RUnlock()

	go func() {
		msg := request.Copy()

		// RFC8467 recommends clients pad queries to a fixed modulo so the encrypted
		// request length leaks less about the question.
		binary, err := dnsutil.PadAndPack(msg, t.consts.Rfc8467ClientPadModulo)
		if err != nil {
			bus.Send(eventbus.Event{SubID: subID, Kind: eventbus.RECEIVED,
				Err: fmt.Errorf("%w: pack: %s", rerrors.ErrTransport, err.Error())})
			return
		}

		req, err := http.NewRequest(http.MethodPost, t.url, bytes.NewReader(binary))
		if err != nil {
			bus.Send(eventbus.Event{SubID: subID, Kind: eventbus.RECEIVED,
				Err: fmt.Errorf("%w: request: %s", rerrors.ErrTransport, err.Error())})
			return
		}
		req.Header.Set(t.consts.AcceptHeader, t.consts.Rfc8484AcceptValue)
		req.Header.Set(t.consts.ContentTypeHeader, t.consts.Rfc8484AcceptValue)
		req.Header.Set(t.consts.UserAgentHeader, t.consts.PackageName+"/"+t.consts.Version)

		resp, err := httpClient.Do(req)
		if err != nil {
			bus.Send(eventbus.Event{SubID: subID, Kind: eventbus.RECEIVED, Err: classifyError(err)})
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			bus.Send(eventbus.Event{SubID: subID, Kind: eventbus.RECEIVED,
				Err: fmt.Errorf("%w: bad HTTP status %s", rerrors.ErrTransport, resp.Status)})
			return
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			bus.Send(eventbus.Event{SubID: subID, Kind: eventbus.RECEIVED,
				Err: fmt.Errorf("%w: body read: %s", rerrors.ErrTransport, err.Error())})
			return
		}

		reply := &dns.Msg{}
		if err := reply.Unpack(body); err != nil {
			bus.Send(eventbus.Event{SubID: subID, Kind: eventbus.RECEIVED,
				Err: fmt.Errorf("%w: unpack: %s", rerrors.ErrTransport, err.Error())})
			return
		}

		if reply.Rcode == dns.RcodeNameError {
			bus.Send(eventbus.Event{SubID: subID, Kind: eventbus.RECEIVED, Err: rerrors.ErrNXDomain})
			return
		}

		bus.Send(eventbus.Event{SubID: subID, Kind: eventbus.RECEIVED, Message: reply})
	}()
}
