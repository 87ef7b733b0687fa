package timer

import (
	"testing"
	"time"
)

func TestManualClock_FiresOnInterval(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	ticker := clock.NewTicker(16 * time.Millisecond)

	clock.Advance(10 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("Ticker should not fire before its interval")
	default:
	}

	clock.Advance(6 * time.Millisecond)
	select {
	case got := <-ticker.C():
		if want := time.Unix(0, 0).Add(16 * time.Millisecond); !got.Equal(want) {
			t.Errorf("Expected tick at %v, got %v", want, got)
		}
	default:
		t.Fatal("Ticker should fire once the interval elapsed")
	}
}

func TestManualClock_DropsUnreceivedTicks(t *testing.T) {
	clock := NewManualClock(time.Now())
	ticker := clock.NewTicker(time.Millisecond)

	clock.Advance(time.Millisecond)
	clock.Advance(time.Millisecond)
	clock.Advance(time.Millisecond)

	<-ticker.C()
	select {
	case <-ticker.C():
		t.Fatal("Only one pending tick should be buffered")
	default:
	}
}

func TestManualClock_Stop(t *testing.T) {
	clock := NewManualClock(time.Now())
	ticker := clock.NewTicker(time.Millisecond)
	ticker.Stop()

	clock.Advance(time.Second)
	select {
	case <-ticker.C():
		t.Fatal("Stopped ticker should not fire")
	default:
	}
	if clock.Tickers() != 1 {
		t.Errorf("Expected 1 ticker created, got %d", clock.Tickers())
	}
}

func TestRealClock(t *testing.T) {
	ticker := RealClock{}.NewTicker(time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Fatal("RealClock ticker did not fire")
	}
}
