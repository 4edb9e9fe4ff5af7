package clock

import (
	"testing"
	"time"
)

var base = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeNowAndAdvance(t *testing.T) {
	c := NewFake(base)
	if !c.Now().Equal(base) {
		t.Fatalf("Now = %v, want %v", c.Now(), base)
	}

	c.Advance(3 * time.Second)
	if !c.Now().Equal(base.Add(3 * time.Second)) {
		t.Fatalf("Now after Advance = %v", c.Now())
	}
}

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	c := NewFake(base)
	ch := c.After(2 * time.Second)

	c.Advance(time.Second)
	select {
	case at := <-ch:
		t.Fatalf("After fired early at %v", at)
	default:
	}

	c.Advance(time.Second)
	select {
	case at := <-ch:
		if !at.Equal(base.Add(2 * time.Second)) {
			t.Fatalf("After fired at %v, want base+2s", at)
		}
	default:
		t.Fatal("After did not fire once its deadline was reached")
	}
}

func TestFakeAfterZeroDurationFiresImmediately(t *testing.T) {
	c := NewFake(base)
	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) did not fire immediately")
	}
}

func TestFakeSetNeverMovesBackwards(t *testing.T) {
	c := NewFake(base)
	c.Advance(time.Minute)
	c.Set(base) // ignored
	if !c.Now().Equal(base.Add(time.Minute)) {
		t.Fatalf("Set moved the clock backwards to %v", c.Now())
	}
}

func TestRealClockTicks(t *testing.T) {
	c := Real()
	before := c.Now()
	<-c.After(time.Millisecond)
	if !c.Now().After(before) {
		t.Fatal("real clock did not move forward")
	}
}
