package main

import (
	"fmt"
	"time"
)

// addSuccessStats and addFailureStats transfer per-query outcomes into the server's longer-term
// stats.

func (t *server) addSuccessStats(latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.successCount++
	t.totalLatency += latency
}

func (t *server) addFailureStats(ix int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failureCounters[ix]++
}

// Name implements the reporter.Reporter interface.
func (t *server) Name() string {
	return "Server: (on " + t.listenAddress + "/" + t.transport + ")"
}

// Report implements the reporter.Reporter interface.
func (t *server) Report(resetCounters bool) string {
	if resetCounters {
		t.mu.Lock()
		defer t.mu.Unlock()
	} else {
		t.mu.RLock()
		defer t.mu.RUnlock()
	}

	errs := 0
	for _, v := range t.failureCounters {
		errs += v
	}
	req := t.successCount + errs

	var avgLatency float64
	if t.successCount > 0 {
		avgLatency = t.totalLatency.Seconds() / float64(t.successCount)
	}

	s := fmt.Sprintf("req=%d ok=%d al=%0.3f errs=%d concurrency=%d",
		req, t.successCount, avgLatency, errs, t.cct.Peak(resetCounters))

	if resetCounters {
		t.stats = stats{}
	}

	return s
}
