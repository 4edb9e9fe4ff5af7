package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

// We use a bytes.Buffer as stdout, stderr which is shared across multiple go-routines so we need to
// protected it from concurrent access. This is test-only code but -race doesn't know that.
type mutexBytesBuffer struct {
	mu     sync.Mutex
	buffer bytes.Buffer
}

func (t *mutexBytesBuffer) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.buffer.Write(p)
}

func (t *mutexBytesBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.buffer.String()
}

//////////////////////////////////////////////////////////////////////

type mainTestCase struct {
	description string
	needsRoot   bool          // Only run if we're setuid 0
	willRunFor  time.Duration // stubresolverd should run for this amount of time before being terminated
	args        []string      // ARGV - not counting command
	stdout      []string      // Expected stdout strings
	stderr      string        // Expected stderr string
}

// The listen ports are arbitrary high ports, one per case so a straggler from an earlier case can
// never collide with a later one. 192.0.2.0/24 is reserved for documentation so the resolver's
// upstream sub-queries never reach a real nameserver.

var mainTestCases = []mainTestCase{
	{"plain start",
		false, 100 * time.Millisecond, []string{"-v", "-A", "127.0.0.1:63101", "192.0.2.1"},
		[]string{"Starting", "Exiting"}, ""},

	{"resolv.conf seeding",
		false, 100 * time.Millisecond, []string{"-v", "-A", "127.0.0.1:63102",
			"-resolv-conf", "testdata/resolv.conf"},
		[]string{"Starting", "Exiting"}, ""},

	{"source port rotation",
		false, 100 * time.Millisecond, []string{"-v", "-A", "127.0.0.1:63103",
			"--src-port", "30000-30003", "--src-port", "40000", "192.0.2.1"},
		[]string{"Starting"}, ""},

	{"dnssec and upstream tcp",
		false, 100 * time.Millisecond, []string{"-v", "-A", "127.0.0.1:63104",
			"--dnssec", "--upstream-tcp", "192.0.2.1"},
		[]string{"Starting"}, ""},

	{"ecs synthesis flags",
		false, 100 * time.Millisecond, []string{"-v", "-A", "127.0.0.1:63105",
			"--ecs-v4-prefixlen", "24", "--ecs-v6-prefixlen", "56", "192.0.2.1"},
		[]string{"Starting"}, ""},

	{"status report",
		false, 2 * time.Second, []string{"-v", "-i", "1s", "-A", "127.0.0.1:63106", "192.0.2.1"},
		[]string{"Status Up:"}, ""},

	{"cpu and mem profiles",
		false, 100 * time.Millisecond, []string{"-A", "127.0.0.1:63107", "--cpu-profile", "testdata/cpu",
			"--mem-profile", "testdata/mem", "192.0.2.1"}, []string{}, ""},

	{"wildcard listen address",
		true, 100 * time.Millisecond, []string{"192.0.2.1"}, []string{}, ""},
}

// TestMain tests legitimate usage invocations
func TestMain(t *testing.T) {
	uid := os.Getuid()
	for _, tc := range mainTestCases {
		t.Run(tc.description, func(t *testing.T) {
			if tc.needsRoot && uid != 0 {
				t.Skip("Skipping setuid=0 test as not running as root")
				return
			}
			args := append([]string{"stubresolverd"}, tc.args...)
			out := &mutexBytesBuffer{}
			err := &mutexBytesBuffer{}
			mainInit(out, err)
			done := make(chan error)
			go func() {
				done <- waitForMainExecute(t, tc.willRunFor)
			}()
			ec := mainExecute(args)
			e := <-done // Get waitForMainExecute results
			if e != nil {
				t.Log("wfmeO:", out.String())
				t.Log("wfmeE:", err.String())
				t.Fatal(e)
			}
			if ec != 0 && tc.willRunFor > 0 {
				t.Error("Zero Exit code expected, not:", ec)
			}

			outStr := out.String()
			errStr := err.String()
			if len(errStr) > 0 && len(tc.stderr) == 0 {
				t.Error("Did not expect a fatal error:", errStr)
			}
			if !strings.Contains(errStr, tc.stderr) {
				t.Error("Stderr expected:", tc.stderr, "Got:", errStr)
			}

			for _, o := range tc.stdout {
				if !strings.Contains(outStr, o) {
					t.Error("Stdout expected:", o, "Got:", outStr)
				}
			}
		})
	}
}

func TestNextInterval(t *testing.T) {
	tt := []struct {
		now      time.Time
		interval time.Duration
		nextIn   time.Duration
	}{
		// mod(01:01:01, minute)++ -> 01:02:00 needs 59s
		{time.Date(2026, 5, 7, 1, 1, 1, 0, time.UTC), time.Minute, time.Second * 59},
		// mod(01:13:58, 15m)++ -> 01:15:00 needs 1m2s
		{time.Date(2026, 5, 7, 1, 13, 58, 0, time.UTC), time.Minute * 15, time.Minute + time.Second*2},
		// mod(01:01:01, hour)++ -> 02:00:00 needs 58m59s
		{time.Date(2026, 5, 7, 1, 1, 1, 0, time.UTC), time.Hour, time.Minute*58 + time.Second*59},
	}

	for tx, tc := range tt {
		t.Run(fmt.Sprintf("%d", tx), func(t *testing.T) {
			nextIn := nextInterval(tc.now, tc.interval)
			if nextIn != tc.nextIn {
				t.Error("nextIn NE:now", tc.now, "Int", tc.interval, "Want", tc.nextIn, "Got", nextIn)
			}
		})
	}
}

func TestWithDefaultPort(t *testing.T) {
	tt := []struct {
		in   string
		want string
	}{
		{"127.0.0.1", "127.0.0.1:53"},
		{"127.0.0.1:5300", "127.0.0.1:5300"},
		{"::1", "[::1]:53"},
		{"[::1]:5300", "[::1]:5300"},
		{"", ":53"},
	}

	for _, tc := range tt {
		if got := withDefaultPort(tc.in); got != tc.want {
			t.Error("withDefaultPort", tc.in, "Want", tc.want, "Got", got)
		}
	}
}

func TestParseSrcPorts(t *testing.T) {
	got, err := parseSrcPorts(nil)
	if err != nil || len(got) != 0 {
		t.Error("No values should expand to no ports, got", got, err)
	}

	got, err = parseSrcPorts([]string{"30000"})
	if err != nil || len(got) != 1 || got[0] != 30000 {
		t.Error("Single port expansion failed, got", got, err)
	}

	got, err = parseSrcPorts([]string{"30000-30002", "40000"})
	if err != nil {
		t.Fatal("Range + single expansion failed:", err)
	}
	want := []int{30000, 30001, 30002, 40000}
	if len(got) != len(want) {
		t.Fatal("Expansion length", len(got), "want", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Error("Expansion mismatch at", i, "Want", want[i], "Got", got[i])
		}
	}

	for _, bad := range []string{"abc", "1-x", "x-1", "30000-20000"} {
		if _, err := parseSrcPorts([]string{bad}); err == nil {
			t.Error("Expected an error from src-port value", bad)
		}
	}
}

// Test that SIGUSR1 causes a stats report
func TestUSR1(t *testing.T) {
	out := &mutexBytesBuffer{}
	err := &mutexBytesBuffer{}
	args := []string{"stubresolverd", "-A", "127.0.0.1:63108", "192.0.2.1"}
	mainInit(out, err) // Start up quietly
	go func() {
		stopChannel <- syscall.SIGUSR1
		time.Sleep(time.Millisecond * 200) // Give it time to process
		stopMain()
	}()
	ec := mainExecute(args)
	outStr := out.String()
	errStr := err.String()
	if ec != 0 {
		t.Error("Expected zero exit return, not", ec, errStr)
	}
	if !strings.Contains(outStr, "User1 Server") {
		t.Error("Expected User1 Server", outStr)
	}
}

// waitForMainExecute is a helper routine which makes sure that the main mainExecute() function
// starts up and terminates as expected. If not, t.Fatal()
func waitForMainExecute(t *testing.T, howLong time.Duration) error {
	for ix := 0; ix < 10; ix++ { // Wait for up to two seconds for main to get running
		if isMain(Started) {
			break
		}
		time.Sleep(time.Millisecond * 200)
	}
	if !isMain(Started) {
		return fmt.Errorf("mainStarted did not get set after two seconds")
	}
	time.Sleep(howLong)          // Give it the designated time to complete
	stopMain()                   // Then ask it to finished up
	for ix := 0; ix < 10; ix++ { // Wait for up to two seconds for main to terminate
		if isMain(Stopped) {
			break
		}
		time.Sleep(time.Millisecond * 200)
	}
	if !isMain(Stopped) {
		return fmt.Errorf("mainStopped did not get set two seconds after stopMain() call for %s", t.Name())
	}

	return nil
}
