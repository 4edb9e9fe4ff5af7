package stubresolver

import (
	"errors"
	"testing"
	"time"

	"github.com/markdingo/stubresolver/internal/resultchan"

	"github.com/miekg/dns"
)

func TestNewRejectsEmptyNameserverList(t *testing.T) {
	_, err := New(Config{})
	if !errors.Is(err, ErrArgument) {
		t.Fatalf("err = %v, want ErrArgument", err)
	}
}

func TestNewRejectsBadSourcePorts(t *testing.T) {
	cases := [][]int{
		{53},        // below the allowed range
		{3306},      // IANA-assigned
		{0, 2000},   // 0 mixed with explicit ports
		{65535},     // range boundary
	}
	for _, ports := range cases {
		_, err := New(Config{Nameservers: []string{"192.0.2.1"}, SrcPorts: ports})
		if !errors.Is(err, ErrArgument) {
			t.Errorf("SrcPorts %v: err = %v, want ErrArgument", ports, err)
		}
	}
}

func TestNewRejectsUnplannableRetryConfig(t *testing.T) {
	// A nanosecond retry delay across three servers collapses the round-0 stagger to zero, so
	// no collision-free schedule exists. That must fail at construction, not on every query.
	_, err := New(Config{
		Nameservers: []string{"192.0.2.1", "192.0.2.2", "192.0.2.3"},
		RetryDelay:  time.Nanosecond,
	})
	if !errors.Is(err, ErrArgument) {
		t.Fatalf("err = %v, want ErrArgument", err)
	}
}

func TestReconfigureRejectsUnplannableRetryConfig(t *testing.T) {
	res, err := New(Config{Nameservers: []string{"192.0.2.1"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer res.Close()

	err = res.Reconfigure(Config{
		Nameservers: []string{"192.0.2.1", "192.0.2.2"},
		RetryDelay:  time.Nanosecond,
	})
	if !errors.Is(err, ErrArgument) {
		t.Fatalf("err = %v, want ErrArgument", err)
	}
}

func TestSendAsyncRejectsQuestionlessMessage(t *testing.T) {
	res, err := New(Config{Nameservers: []string{"192.0.2.1"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer res.Close()

	sink := resultchan.New()
	res.SendAsync(new(dns.Msg), sink)

	tuple := sink.Recv()
	if !errors.Is(tuple.Err, ErrArgument) {
		t.Fatalf("err = %v, want ErrArgument", tuple.Err)
	}

	sink2 := resultchan.New()
	res.SendAsync(nil, sink2)
	if tuple := sink2.Recv(); !errors.Is(tuple.Err, ErrArgument) {
		t.Fatalf("nil message err = %v, want ErrArgument", tuple.Err)
	}
}

func TestSendAsyncReturnsDistinctClientIDs(t *testing.T) {
	res, err := New(Config{Nameservers: []string{"192.0.2.1"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer res.Close()

	msg := new(dns.Msg)
	msg.SetQuestion("example.com.", dns.TypeA)

	cid1 := res.SendAsync(msg.Copy(), resultchan.New())
	cid2 := res.SendAsync(msg.Copy(), resultchan.New())

	if cid1 == 0 || cid2 == 0 {
		t.Fatalf("generated ids must be non-zero: %d, %d", cid1, cid2)
	}
	if cid1 == cid2 {
		t.Fatalf("two live queries share client id %d", cid1)
	}
}

func TestCloseFailsAllInFlightQueries(t *testing.T) {
	// 192.0.2.0/24 is reserved for documentation; nothing answers there.
	res, err := New(Config{Nameservers: []string{"192.0.2.1", "192.0.2.2"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	msg := new(dns.Msg)
	msg.SetQuestion("example.com.", dns.TypeA)

	sink1 := resultchan.New()
	sink2 := resultchan.New()
	res.SendAsync(msg.Copy(), sink1)
	res.SendAsync(msg.Copy(), sink2)

	if err := res.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	for i, sink := range []*resultchan.Chan{sink1, sink2} {
		select {
		case tuple := <-sink.C():
			if !errors.Is(tuple.Err, ErrResolverClosed) {
				t.Errorf("sink %d err = %v, want ErrResolverClosed", i+1, tuple.Err)
			}
		case <-time.After(2 * time.Second):
			t.Errorf("sink %d received nothing after Close", i+1)
		}
	}

	// No later tuples.
	time.Sleep(50 * time.Millisecond)
	for i, sink := range []*resultchan.Chan{sink1, sink2} {
		select {
		case tuple := <-sink.C():
			t.Errorf("sink %d received a second tuple after Close: %+v", i+1, tuple)
		default:
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	res, err := New(Config{Nameservers: []string{"192.0.2.1"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := res.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := res.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestSendAsyncAfterCloseFailsImmediately(t *testing.T) {
	res, err := New(Config{Nameservers: []string{"192.0.2.1"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res.Close()

	msg := new(dns.Msg)
	msg.SetQuestion("example.com.", dns.TypeA)

	sink := resultchan.New()
	res.SendAsync(msg, sink)
	if tuple := sink.Recv(); !errors.Is(tuple.Err, ErrResolverClosed) {
		t.Fatalf("err = %v, want ErrResolverClosed", tuple.Err)
	}
}

func TestQueryTimeoutWithSilentServers(t *testing.T) {
	res, err := New(Config{
		Nameservers:  []string{"192.0.2.1"},
		QueryTimeout: 150 * time.Millisecond,
		TickPeriod:   20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer res.Close()

	msg := new(dns.Msg)
	msg.SetQuestion("example.com.", dns.TypeA)

	start := time.Now()
	_, err = res.SendMessage(msg)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrClientTimeout) {
		t.Fatalf("err = %v, want ErrClientTimeout", err)
	}
	if elapsed > 2*time.Second {
		t.Errorf("ClientTimeout took %v, far beyond the 150ms deadline", elapsed)
	}
}

func TestReconfigureRevalidatesPorts(t *testing.T) {
	res, err := New(Config{Nameservers: []string{"192.0.2.1"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer res.Close()

	err = res.Reconfigure(Config{Nameservers: []string{"192.0.2.1"}, SrcPorts: []int{3306}})
	if !errors.Is(err, ErrArgument) {
		t.Fatalf("err = %v, want ErrArgument", err)
	}

	if err := res.Reconfigure(Config{Nameservers: []string{"192.0.2.9"}}); err != nil {
		t.Fatalf("valid Reconfigure failed: %v", err)
	}
}
