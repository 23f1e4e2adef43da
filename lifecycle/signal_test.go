package lifecycle

import (
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestBroadcaster_SubscribeRaiseCancel(t *testing.T) {
	t.Parallel()

	var b Broadcaster
	var got []Signal
	cancel := b.Subscribe(func(s Signal) { got = append(got, s) })

	b.Raise(MemoryPressure)
	b.Raise(EnteredBackground)
	cancel()
	cancel() // second call is harmless
	b.Raise(MemoryPressure)

	if len(got) != 2 || got[0] != MemoryPressure || got[1] != EnteredBackground {
		t.Fatalf("got %v", got)
	}
	if b.Subscribers() != 0 {
		t.Fatalf("subscribers=%d after cancel", b.Subscribers())
	}
}

// Pressure is raised once per upward crossing, not on every sample.
func TestWatcher_EdgeTriggered(t *testing.T) {
	t.Parallel()

	var b Broadcaster
	raised := 0
	b.Subscribe(func(s Signal) {
		if s == MemoryPressure {
			raised++
		}
	})

	heap := uint64(10)
	w := NewWatcher(&b, WatcherConfig{
		HeapLimit: 100,
		Logger:    zaptest.NewLogger(t),
		readHeap:  func() uint64 { return heap },
	})

	w.sample()
	heap = 200
	w.sample()
	w.sample()
	heap = 50
	w.sample()
	heap = 150
	w.sample()

	if raised != 2 {
		t.Fatalf("raised %d times, want 2", raised)
	}
}

func TestSignal_String(t *testing.T) {
	t.Parallel()

	if MemoryPressure.String() != "memory_pressure" || EnteredBackground.String() != "entered_background" {
		t.Fatal("unexpected signal labels")
	}
	if Signal(0).String() != "unknown" {
		t.Fatal("zero signal must be unknown")
	}
}
