package main

import (
	"fmt"
	"io"
	"text/template"
	"time"
)

// The "flag" package is not tty aware so we've arbitrarily picked 100 columns as a conservative tty
// width for the usage output.

const usageMessageTemplate = `
NAME
          {{.ResolverdProgramName}} -- a multi-server retry-and-racing stub DNS resolver daemon

SYNOPSIS
          {{.ResolverdProgramName}} [options] nameserver...

DESCRIPTION
          {{.ResolverdProgramName}} accepts DNS queries from local clients and resolves them by
          racing a staggered, retried set of sub-queries across every nameserver argument, over
          UDP, TCP or DNS-over-HTTPS ({{.RFC}}) depending on each nameserver's label. A plain
          address or host:port is treated as a traditional nameserver; an https:// URL is treated
          as a DoH endpoint.

          Server order is re-ranked as queries complete: a nameserver that answers promptly is
          promoted toward the front of the dispatch order, one that times out is demoted, and one
          that returns a hard transport error is sunk to the back - so the most reliable servers
          are tried first over time.

          The wildcard interface address and default DNS port are used if no listen addresses are
          specified. Queries are accepted on UDP and TCP.

OPTIONS
          [-hv] [--version]
          [-A listen Address[:port] ...] [--tcp] [--udp]

          [--upstream-tcp] [--dnssec]
          [--ecs-v4-prefixlen length] [--ecs-v6-prefixlen length]
          [--src-address address] [--src-port port|first-last ...]
          [--packet-timeout duration] [--query-timeout duration]
          [--retry-times count] [--retry-delay duration]
          [-i status-report-interval]

          [--log-client-in] [--log-client-out]

          [--gops] [--cpu-profile file] [--mem-profile file]

          [--user userName] [--group groupName] [--chroot directory]

`

func usage(out io.Writer) {
	tmpl, err := template.New("usage").Parse(usageMessageTemplate)
	if err != nil {
		panic(err)
	}
	if err := tmpl.Execute(out, consts); err != nil {
		panic(err)
	}
	flagSet.SetOutput(out)
	flagSet.PrintDefaults()
	fmt.Fprintln(out, "\nVersion:", consts.Version)
}

// parseCommandLine sets up the flags-to-config mapping and parses the supplied command line
// arguments. It starts from scratch each time to make it easier for test wrappers to use.
func parseCommandLine(args []string) error {
	flagSet.BoolVar(&cfg.help, "h", false, "Print usage message to Stdout then exit(0)")
	flagSet.BoolVar(&cfg.verbose, "v", false, "Verbose status and stats - otherwise only errors are output")
	flagSet.BoolVar(&cfg.version, "version", false, "Print version and exit")

	flagSet.Var(&cfg.listenAddresses, "A",
		"Listen `address` for inbound DNS queries (default :"+consts.DNSDefaultPort+")")
	flagSet.BoolVar(&cfg.tcp, "tcp", true, "Listen for TCP DNS queries")
	flagSet.BoolVar(&cfg.udp, "udp", true, "Listen for UDP DNS queries")

	flagSet.BoolVar(&cfg.upstreamTCP, "upstream-tcp", false, "Force TCP for every upstream nameserver")
	flagSet.BoolVar(&cfg.dnssec, "dnssec", false, "Set the DO bit and request DNSSEC-aware behaviour")
	flagSet.StringVar(&cfg.resolvConf, "resolv-conf", "", "Seed the nameserver list from this resolv.conf `path` if no nameservers are given")

	flagSet.IntVar(&cfg.ecsV4PrefixLen, "ecs-v4-prefixlen", 0,
		"Add an EDNS0 Client Subnet option of this `prefixlen` for IPv4 clients (0 disables)")
	flagSet.IntVar(&cfg.ecsV6PrefixLen, "ecs-v6-prefixlen", 0,
		"Add an EDNS0 Client Subnet option of this `prefixlen` for IPv6 clients (0 disables)")

	flagSet.StringVar(&cfg.srcAddress, "src-address", "0.0.0.0", "Bind `address` for outbound sockets")
	flagSet.Var(&cfg.srcPorts, "src-port",
		"Bind `port` (or inclusive first-last range) for outbound sockets - repeatable (default any)")

	flagSet.DurationVar(&cfg.packetTimeout, "packet-timeout", 10*time.Second, "Per-packet `timeout`")
	flagSet.DurationVar(&cfg.queryTimeout, "query-timeout", 0, "Per-client hard `deadline` (0 means none)")
	flagSet.IntVar(&cfg.retryTimes, "retry-times", 4, "Retry `rounds` per nameserver")
	flagSet.DurationVar(&cfg.retryDelay, "retry-delay", 5*time.Second, "Nominal `delay` between retry rounds")

	flagSet.DurationVar(&cfg.statusInterval, "i", time.Minute*15, "Periodic Status Report `interval`")

	flagSet.BoolVar(&cfg.logClientIn, "log-client-in", false, "Compact print of query arriving from client")
	flagSet.BoolVar(&cfg.logClientOut, "log-client-out", false, "Compact print of response returned to client")

	flagSet.BoolVar(&cfg.gops, "gops", false, "Start github.com/google/gops agent")
	flagSet.StringVar(&cfg.cpuprofile, "cpu-profile", "", "write cpu profile to `file`")
	flagSet.StringVar(&cfg.memprofile, "mem-profile", "", "write mem profile to `file`")

	flagSet.StringVar(&cfg.setuidName, "user", "", "setuid `username` to constrain process after start-up (disabled for Linux)")
	flagSet.StringVar(&cfg.setgidName, "group", "", "setgid `groupname` to constrain process after start-up (disabled for Linux)")
	flagSet.StringVar(&cfg.chrootDir, "chroot", "", "chroot `directory` to constrain process after start-up")

	return flagSet.Parse(args[1:])
}
