package timerwheel

import (
	"testing"
	"time"
)

var base = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestNextOnEmptyWheel(t *testing.T) {
	w := New()
	if _, ok := w.Next(); ok {
		t.Fatal("Next reported an entry on an empty wheel")
	}
}

func TestAddKeepsEarliestFirst(t *testing.T) {
	w := New()
	w.Add(base.Add(3 * time.Second))
	w.Add(base.Add(1 * time.Second))
	w.Add(base.Add(2 * time.Second))

	next, ok := w.Next()
	if !ok || !next.Equal(base.Add(1*time.Second)) {
		t.Fatalf("Next = %v %v, want base+1s", next, ok)
	}
	if w.Len() != 3 {
		t.Fatalf("Len = %d, want 3", w.Len())
	}
}

func TestRemoveOneOccurrence(t *testing.T) {
	w := New()
	at := base.Add(time.Second)
	w.Add(at)
	w.Add(at) // duplicates across clients are legitimate

	if !w.Remove(at) {
		t.Fatal("Remove failed for a present entry")
	}
	if w.Len() != 1 {
		t.Fatalf("Len = %d after removing one of two, want 1", w.Len())
	}
	if !w.Remove(at) {
		t.Fatal("Remove failed for the second occurrence")
	}
	if w.Remove(at) {
		t.Fatal("Remove succeeded on an empty wheel")
	}
}

func TestSleepDuration(t *testing.T) {
	fallback := 10 * time.Second
	w := New()

	if got := w.SleepDuration(base, fallback); got != fallback {
		t.Fatalf("empty wheel SleepDuration = %v, want fallback", got)
	}

	w.Add(base.Add(2 * time.Second))
	if got := w.SleepDuration(base, fallback); got != 2*time.Second {
		t.Fatalf("SleepDuration = %v, want 2s", got)
	}

	// A wake-up already in the past means no sleep at all.
	if got := w.SleepDuration(base.Add(3*time.Second), fallback); got != 0 {
		t.Fatalf("overdue SleepDuration = %v, want 0", got)
	}

	// Never sleep longer than the fallback cadence even if the next fire is far away.
	w2 := New()
	w2.Add(base.Add(time.Hour))
	if got := w2.SleepDuration(base, fallback); got != fallback {
		t.Fatalf("capped SleepDuration = %v, want fallback %v", got, fallback)
	}
}
