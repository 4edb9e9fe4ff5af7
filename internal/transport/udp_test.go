package transport

import (
	"errors"
	"fmt"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/markdingo/stubresolver/internal/rerrors"

	"github.com/miekg/dns"
)

// timeoutError satisfies net.Error with Timeout() true.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name string
		in   error
		want error
	}{
		{"nil", nil, nil},
		{"net timeout", timeoutError{}, rerrors.ErrTimeout},
		{"fd exhaustion EMFILE", fmt.Errorf("dial udp: %w", syscall.EMFILE), rerrors.ErrResourceExhausted},
		{"fd exhaustion ENFILE", fmt.Errorf("dial udp: %w", syscall.ENFILE), rerrors.ErrResourceExhausted},
		{"no buffers", fmt.Errorf("write udp: %w", syscall.ENOBUFS), rerrors.ErrResourceExhausted},
		{"refused", fmt.Errorf("dial udp: %w", syscall.ECONNREFUSED), rerrors.ErrTransport},
		{"anything else", errors.New("weird"), rerrors.ErrTransport},
	}

	for _, tc := range cases {
		got := classifyError(tc.in)
		if tc.want == nil {
			if got != nil {
				t.Errorf("%s: classifyError = %v, want nil", tc.name, got)
			}
			continue
		}
		if !errors.Is(got, tc.want) {
			t.Errorf("%s: classifyError(%v) = %v, want %v", tc.name, tc.in, got, tc.want)
		}
	}
}

func TestApplyTSIG(t *testing.T) {
	msg := new(dns.Msg)
	msg.SetQuestion("example.com.", dns.TypeA)

	applyTSIG(msg, nil)
	if msg.IsTsig() != nil {
		t.Fatal("nil TSIGConfig added a TSIG record")
	}

	applyTSIG(msg, &TSIGConfig{Name: "keyname", Secret: "c2VjcmV0"})
	tsig := msg.IsTsig()
	if tsig == nil {
		t.Fatal("no TSIG record after applyTSIG")
	}
	if tsig.Header().Name != "keyname." {
		t.Errorf("TSIG name = %q, want keyname.", tsig.Header().Name)
	}
	if tsig.Algorithm != dns.HmacSHA256 {
		t.Errorf("TSIG algorithm = %q, want default %q", tsig.Algorithm, dns.HmacSHA256)
	}
}

func TestNextSrcPortRoundRobins(t *testing.T) {
	var ix atomic.Uint32

	if got := nextSrcPort(&ix, nil); got != 0 {
		t.Errorf("empty port set returned %d, want 0 (any)", got)
	}
	if got := nextSrcPort(&ix, []int{0}); got != 0 {
		t.Errorf("the single 0 \"any\" set returned %d, want 0", got)
	}

	ix.Store(0)
	ports := []int{2000, 3000, 4000}
	want := []int{2000, 3000, 4000, 2000, 3000}
	for i, w := range want {
		if got := nextSrcPort(&ix, ports); got != w {
			t.Errorf("pick %d = %d, want %d", i, got, w)
		}
	}
}

func TestNewClientBindsRotatedSrcPort(t *testing.T) {
	u := NewUDP("192.0.2.1")
	cfg := Config{Port: 53, PacketTimeout: time.Second, SrcAddress: "0.0.0.0", SrcPorts: []int{2000, 3000}}

	for i, want := range []string{"0.0.0.0:2000", "0.0.0.0:3000", "0.0.0.0:2000"} {
		client := u.newClient(cfg)
		if client.Dialer == nil || client.Dialer.LocalAddr == nil {
			t.Fatalf("client %d has no local bind address", i)
		}
		if got := client.Dialer.LocalAddr.String(); got != want {
			t.Errorf("client %d binds %q, want %q", i, got, want)
		}
	}
}

func TestTsigSecrets(t *testing.T) {
	if tsigSecrets(nil) != nil {
		t.Error("nil TSIGConfig produced a secret map")
	}
	if tsigSecrets(&TSIGConfig{Name: "keyname"}) != nil {
		t.Error("empty secret produced a secret map")
	}

	secrets := tsigSecrets(&TSIGConfig{Name: "keyname", Secret: "c2VjcmV0"})
	if secrets["keyname."] != "c2VjcmV0" {
		t.Errorf("secrets = %v, want keyname. mapped to the configured secret", secrets)
	}
}

func TestNamesAndConfigure(t *testing.T) {
	u := NewUDP("192.0.2.1")
	if u.Name() != "192.0.2.1" {
		t.Errorf("udp Name = %q", u.Name())
	}

	c := NewTCP("192.0.2.2")
	if c.Name() != "192.0.2.2" {
		t.Errorf("tcp Name = %q", c.Name())
	}

	// Reconfiguration never disturbs the transport's identity.
	u.Configure(Config{Port: 5353, PacketTimeout: time.Second, UDPSize: 4096})
	if u.Name() != "192.0.2.1" {
		t.Errorf("udp Name changed after Configure: %q", u.Name())
	}
	if got := u.address(Config{Port: 5353}); got != "192.0.2.1:5353" {
		t.Errorf("address = %q, want 192.0.2.1:5353", got)
	}
}
