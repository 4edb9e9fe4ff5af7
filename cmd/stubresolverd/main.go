// stubresolverd listens for inbound DNS queries and resolves them by racing a ranked set of
// upstream nameservers, over UDP, TCP or DNS-over-HTTPS.
package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/markdingo/stubresolver"
	"github.com/markdingo/stubresolver/internal/constants"
	"github.com/markdingo/stubresolver/internal/osutil"
	"github.com/markdingo/stubresolver/internal/portpolicy"
	"github.com/markdingo/stubresolver/internal/reporter"

	"github.com/google/gops/agent"
	"github.com/miekg/dns"
)

// Program-wide variables.
var (
	consts           = constants.Get()
	cfg              *config
	listenTransports = []string{}

	stdout io.Writer
	stderr io.Writer

	startTime   = time.Now()
	stopChannel chan os.Signal
	flagSet     *flag.FlagSet
)

// stopMain is used by tests to wind mainExecute down as if a termination signal had arrived.
// stopChannel is buffered so this never blocks even if mainExecute has already exited.
func stopMain() {
	stopChannel <- syscall.SIGINT
}

func fatal(args ...interface{}) int {
	fmt.Fprint(stderr, "Fatal: ", consts.ResolverdProgramName, ": ")
	fmt.Fprintln(stderr, args...)

	return 1
}

func mainInit(out io.Writer, err io.Writer) {
	cfg = &config{}
	listenTransports = []string{}
	stdout = out
	stderr = err
	mainState(Initial)
	stopChannel = make(chan os.Signal, 4)
	signal.Notify(stopChannel, syscall.SIGINT, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGUSR1)
}

func main() {
	mainInit(os.Stdout, os.Stderr)
	os.Exit(mainExecute(os.Args))
}

func mainExecute(args []string) int {
	flagSet = flag.NewFlagSet(args[0], flag.ContinueOnError)
	flagSet.SetOutput(stderr)
	if err := parseCommandLine(args); err != nil {
		return 1
	}
	if cfg.help {
		usage(stdout)
		return 0
	}
	if cfg.version {
		fmt.Fprintln(stdout, consts.ResolverdProgramName, "Version:", consts.Version)
		return 0
	}

	if cfg.udp {
		listenTransports = append(listenTransports, consts.DNSUDPTransport)
	}
	if cfg.tcp {
		listenTransports = append(listenTransports, consts.DNSTCPTransport)
	}
	if len(listenTransports) == 0 {
		return fatal("Must have one of --tcp or --udp set")
	}

	nameservers := flagSet.Args()
	if len(nameservers) == 0 && len(cfg.resolvConf) > 0 {
		cc, err := dns.ClientConfigFromFile(cfg.resolvConf)
		if err != nil {
			return fatal(cfg.resolvConf, err)
		}
		nameservers = cc.Servers
	}
	if len(nameservers) == 0 {
		return fatal("Must supply at least one nameserver on the command line, or --resolv-conf")
	}

	if cfg.gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			return fatal("gops agent:", err)
		}
		defer agent.Close()
	}

	srcPorts, err := parseSrcPorts(cfg.srcPorts.Args())
	if err != nil {
		return fatal(err)
	}

	res, err := stubresolver.New(stubresolver.Config{
		Nameservers:   nameservers,
		UseTCP:        cfg.upstreamTCP,
		DNSSEC:        cfg.dnssec,
		SrcAddress:    cfg.srcAddress,
		SrcPorts:      srcPorts,
		PacketTimeout: cfg.packetTimeout,
		QueryTimeout:  cfg.queryTimeout,
		RetryTimes:    cfg.retryTimes,
		RetryDelay:    cfg.retryDelay,
	})
	if err != nil {
		return fatal(err)
	}
	defer res.Close()

	if cfg.listenAddresses.NArg() == 0 {
		cfg.listenAddresses.Set("")
	}

	var memProfileFile *os.File
	if len(cfg.memprofile) > 0 {
		memProfileFile, err = os.Create(cfg.memprofile)
		if err != nil {
			return fatal(err)
		}
		defer memProfileFile.Close()
	}
	if len(cfg.cpuprofile) > 0 {
		f, err := os.Create(cfg.cpuprofile)
		if err != nil {
			return fatal(err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fatal(err)
		}
		defer pprof.StopCPUProfile()
	}

	if cfg.verbose {
		fmt.Fprintln(stdout, consts.ResolverdProgramName, consts.Version, "Starting:", nameservers)
	}

	var reporters []reporter.Reporter
	var servers []*server
	errorChannel := make(chan error, cfg.listenAddresses.NArg()*len(listenTransports))
	wg := &sync.WaitGroup{}

	for _, addr := range cfg.listenAddresses.Args() {
		addr = withDefaultPort(addr)
		for _, transport := range listenTransports {
			s := &server{stdout: stdout, resolver: res, listenAddress: addr, transport: transport}
			s.start(errorChannel, wg)
			if cfg.verbose {
				fmt.Fprintln(stdout, "Starting", s.Name())
			}
			reporters = append(reporters, s)
			servers = append(servers, s)
		}
	}

	if err := osutil.Constrain(cfg.setuidName, cfg.setgidName, cfg.chrootDir); err != nil {
		return fatal(err)
	}
	if cfg.verbose {
		fmt.Fprintf(stdout, "Constraints: %s\n", osutil.ConstraintReport())
	}

	mainState(Started)
	nextStatusIn := nextInterval(time.Now(), cfg.statusInterval)

Running:
	for {
		select {
		case s := <-stopChannel:
			if s == syscall.SIGUSR1 {
				statusReport("User1", false, reporters)
				continue
			}
			if cfg.verbose {
				fmt.Fprintln(stdout, "\nSignal", s)
			}
			break Running

		case err := <-errorChannel:
			return fatal(err)

		case <-time.After(nextStatusIn):
			if cfg.verbose {
				statusReport("Status", true, reporters)
			}
			nextStatusIn = nextInterval(time.Now(), cfg.statusInterval)
		}
	}

	for _, s := range servers {
		s.stop()
	}
	mainState(Stopped)
	wg.Wait()

	if cfg.verbose {
		statusReport("Status", true, reporters)
		fmt.Fprintln(stdout, consts.ResolverdProgramName, consts.Version, "Exiting after", uptime())
	}

	if memProfileFile != nil {
		runtime.GC()
		if err := pprof.WriteHeapProfile(memProfileFile); err != nil {
			return fatal(err)
		}
	}

	return 0
}

// parseSrcPorts expands the repeatable --src-port values - each a single port or an inclusive
// first-last range - into the flat list the resolver's port policy validates.
func parseSrcPorts(vals []string) ([]int, error) {
	var ports []int
	for _, v := range vals {
		if first, last, isRange := strings.Cut(v, "-"); isRange {
			f, err := strconv.Atoi(first)
			if err != nil {
				return nil, fmt.Errorf("src-port range start %q: %s", first, err.Error())
			}
			l, err := strconv.Atoi(last)
			if err != nil {
				return nil, fmt.Errorf("src-port range end %q: %s", last, err.Error())
			}
			expanded, err := portpolicy.Range(f, l)
			if err != nil {
				return nil, err
			}
			ports = append(ports, expanded...)
			continue
		}
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("src-port %q: %s", v, err.Error())
		}
		ports = append(ports, p)
	}

	return ports, nil
}

// withDefaultPort appends the default DNS port to addr if it doesn't already carry one, wrapping
// naked IPv6 literals in brackets first.
func withDefaultPort(addr string) string {
	ip := net.ParseIP(addr)
	if ip != nil && ip.To4() == nil {
		addr = "[" + addr + "]"
	}
	if !(strings.LastIndex(addr, ":") > strings.LastIndex(addr, "]")) {
		addr = fmt.Sprintf("%s:%s", addr, consts.DNSDefaultPort)
	}

	return addr
}

func nextInterval(now time.Time, interval time.Duration) time.Duration {
	return now.Truncate(interval).Add(interval).Sub(now)
}

func uptime() string {
	return time.Since(startTime).Truncate(time.Second).String()
}

func statusReport(what string, resetCounters bool, reporters []reporter.Reporter) {
	fmt.Fprintln(stdout, "Status Up:", consts.ResolverdProgramName, consts.Version, uptime())
	for _, r := range reporters {
		reps := strings.Split(r.Report(resetCounters), "\n")
		for _, s := range reps {
			if len(s) > 0 {
				fmt.Fprintf(stdout, "%s %s: %s\n", what, r.Name(), s)
			}
		}
	}
}
