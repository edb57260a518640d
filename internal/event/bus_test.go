package event

import (
	"io"
	"log/slog"
	"sync"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus(testLogger(), 16)
	go bus.Start()

	var (
		mu       sync.Mutex
		received []Event
	)
	bus.Subscribe(RunPartial, func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e)
	})

	bus.Publish(Event{Type: RunPartial, Data: map[string]any{"failures": 1}})
	bus.Publish(Event{Type: RunSucceeded})
	bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("got %d events, want 1", len(received))
	}
	if received[0].Data["failures"] != 1 {
		t.Errorf("data[failures] = %v, want 1", received[0].Data["failures"])
	}
	if received[0].Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestStopDrainsBuffer(t *testing.T) {
	bus := NewBus(testLogger(), 16)

	var count int
	bus.Subscribe(RunFailed, func(Event) { count++ })
	for range 5 {
		bus.Publish(Event{Type: RunFailed})
	}

	go bus.Start()
	bus.Stop()

	if count != 5 {
		t.Errorf("handled %d events, want 5", count)
	}

	// Publishing after Stop is a no-op.
	bus.Publish(Event{Type: RunFailed})
	if count != 5 {
		t.Errorf("handled %d events after stop, want 5", count)
	}
}

func TestPanickingHandlerDoesNotStopBus(t *testing.T) {
	bus := NewBus(testLogger(), 16)
	go bus.Start()

	var got bool
	bus.Subscribe(RunFailed, func(Event) { panic("boom") })
	bus.Subscribe(RunFailed, func(Event) { got = true })

	bus.Publish(Event{Type: RunFailed})
	bus.Stop()

	if !got {
		t.Error("second handler not called after first panicked")
	}
}

func TestFullBufferDrops(t *testing.T) {
	bus := NewBus(testLogger(), 1)
	var count int
	bus.Subscribe(RunSucceeded, func(Event) { count++ })

	bus.Publish(Event{Type: RunSucceeded})
	bus.Publish(Event{Type: RunSucceeded})

	go bus.Start()
	bus.Stop()
	if count != 1 {
		t.Errorf("handled %d events, want 1", count)
	}
}

func TestTypeValid(t *testing.T) {
	for _, ty := range Types() {
		if !ty.Valid() {
			t.Errorf("%s not valid", ty)
		}
	}
	if Type("scan.completed").Valid() {
		t.Error("unknown type reported valid")
	}
}
