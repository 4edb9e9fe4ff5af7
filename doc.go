/*
Package stubresolver implements a multi-server retry-and-racing DNS stub resolver: a single
Resolver drives each client query across a ranked pool of upstream nameservers under a staggered
retransmission schedule, races UDP/TCP/DoH responses, and optionally hands the winner to a DNSSEC
validator before returning exactly one result to the caller.

A Resolver is constructed once with New(Config) and used concurrently from any number of
goroutines:

	res, err := stubresolver.New(stubresolver.Config{Nameservers: []string{"9.9.9.9", "1.1.1.1"}})
	if err != nil {
	        log.Fatal(err)
	}
	defer res.Close()

	msg, err := res.Query("example.com.", dns.TypeA, dns.ClassINET, false)

Query and SendMessage block until a result is available; SendAsync never blocks and instead delivers
its result on a caller-supplied channel, identified by a client id the caller can use to correlate
many concurrent in-flight queries.

The resolver's internal machinery - timer wheel, event bus, query table, server ranking, schedule
planner and tick-loop orchestrator - lives under internal/ and is not part of the public API.
*/
package stubresolver
