package event

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/agentsync/internal/logging"
)

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus(nil)

	called := false
	id := bus.Subscribe(TypeSessionRegistered, func(e Event) { called = true })

	if id == "" {
		t.Error("Subscribe should return a non-empty ID")
	}
	if bus.SubscriptionCount() != 1 {
		t.Errorf("Expected 1 subscription, got %d", bus.SubscriptionCount())
	}
	if called {
		t.Error("Handler should not be called until an event is published")
	}
}

func TestBus_Publish(t *testing.T) {
	bus := NewBus(nil)

	var received Event
	bus.Subscribe(TypeTaskAssigned, func(e Event) { received = e })

	bus.Publish(NewTaskAssignedEvent("T1", "s2", "backend", true))

	assigned, ok := received.(TaskAssignedEvent)
	if !ok {
		t.Fatalf("expected TaskAssignedEvent, got %T", received)
	}
	if assigned.SessionID != "s2" || !assigned.RoleMatched {
		t.Errorf("unexpected event payload: %+v", assigned)
	}
}

func TestBus_PublishOrder(t *testing.T) {
	bus := NewBus(nil)

	var order []string
	bus.SubscribeAll(func(Event) { order = append(order, "wildcard") })
	bus.Subscribe(TypeSessionDead, func(Event) { order = append(order, "first") })
	bus.Subscribe(TypeSessionDead, func(Event) { order = append(order, "second") })
	bus.Subscribe(TypeSessionRegistered, func(Event) { order = append(order, "other") })

	bus.Publish(NewSessionDeadEvent("s1", time.Now()))

	if got := strings.Join(order, ","); got != "first,second,wildcard" {
		t.Errorf("dispatch order = %s", got)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)

	calls := 0
	id := bus.Subscribe(TypeContextChanged, func(Event) { calls++ })
	keep := bus.Subscribe(TypeContextChanged, func(Event) { calls += 10 })

	if !bus.Unsubscribe(id) {
		t.Fatal("Unsubscribe should find the subscription")
	}
	if bus.Unsubscribe(id) {
		t.Error("second Unsubscribe should report not found")
	}

	bus.Publish(NewContextChangedEvent("s1", []string{"phase"}, 3))
	if calls != 10 {
		t.Errorf("calls = %d, want only the remaining handler", calls)
	}
	if !bus.Unsubscribe(keep) || bus.SubscriptionCount() != 0 {
		t.Error("expected no subscriptions left")
	}
}

func TestBus_HandlerPanicIsIsolated(t *testing.T) {
	var buf bytes.Buffer
	bus := NewBus(logging.NewWriterLogger(&buf, logging.LevelDebug))

	reached := false
	bus.Subscribe(TypeSessionDead, func(Event) { panic("boom") })
	bus.Subscribe(TypeSessionDead, func(Event) { reached = true })

	bus.Publish(NewSessionDeadEvent("s1", time.Now()))

	if !reached {
		t.Error("handler after a panicking handler should still run")
	}
	if !strings.Contains(buf.String(), "event handler panicked") {
		t.Errorf("panic was not logged: %s", buf.String())
	}
}

func TestBus_NilPublish(t *testing.T) {
	var bus *Bus
	bus.Publish(NewDocumentWrittenEvent("s1", 1, "init"))
}

func TestBus_Clear(t *testing.T) {
	bus := NewBus(nil)
	bus.Subscribe(TypeSessionRegistered, func(Event) {})
	bus.SubscribeAll(func(Event) {})
	bus.Clear()
	if bus.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after Clear", bus.SubscriptionCount())
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus(nil)

	var mu sync.Mutex
	count := 0
	bus.SubscribeAll(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(NewSessionRegisteredEvent("s", "a", "backend"))
			bus.Subscribe(TypeTaskAssigned, func(Event) {})
		}()
	}
	wg.Wait()

	if count != 20 {
		t.Errorf("count = %d, want 20", count)
	}
}

func TestEventTypes(t *testing.T) {
	tests := []struct {
		event Event
		want  string
	}{
		{NewSessionRegisteredEvent("s", "a", "frontend"), TypeSessionRegistered},
		{NewSessionDeregisteredEvent("s", "cleanup"), TypeSessionDeregistered},
		{NewSessionDeadEvent("s", time.Now()), TypeSessionDead},
		{NewTaskAssignedEvent("T", "s", "", false), TypeTaskAssigned},
		{NewContextChangedEvent("s", nil, 1), TypeContextChanged},
		{NewContextConflictEvent("s", "phase", "contradiction", false), TypeContextConflict},
		{NewDocumentWrittenEvent("s", 1, "d"), TypeDocumentWritten},
	}
	for _, tt := range tests {
		if tt.event.EventType() != tt.want {
			t.Errorf("EventType() = %q, want %q", tt.event.EventType(), tt.want)
		}
		if tt.event.Timestamp().IsZero() {
			t.Errorf("%s has zero timestamp", tt.want)
		}
	}
}
