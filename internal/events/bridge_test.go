package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/domain"
)

type recordingSub struct {
	events []domain.Event
}

func (r *recordingSub) HandleEvent(e domain.Event) { r.events = append(r.events, e) }

type recordingPub struct {
	events []domain.Event
}

func (r *recordingPub) Publish(e domain.Event) { r.events = append(r.events, e) }

func TestBridgeFanOut(t *testing.T) {
	pub := &recordingPub{}
	b := NewBridge(pub, nil)
	sub1 := &recordingSub{}
	sub2 := &recordingSub{}
	b.Subscribe(sub1)
	b.Subscribe(sub2)

	b.Emit(domain.NewEvent(domain.EventTaskCreated, "t1", map[string]string{"id": "t1"}))
	b.Emit(domain.NewEvent(domain.EventTaskUpdated, "t1", map[string]string{"id": "t1"}))

	for i, sub := range []*recordingSub{sub1, sub2} {
		if len(sub.events) != 2 {
			t.Fatalf("sub%d got %d events, want 2", i+1, len(sub.events))
		}
	}
	if len(pub.events) != 2 {
		t.Fatalf("publisher got %d events, want 2", len(pub.events))
	}
	// Delivery order matches emission order.
	if sub1.events[0].Type != domain.EventTaskCreated || sub1.events[1].Type != domain.EventTaskUpdated {
		t.Errorf("order = %s, %s", sub1.events[0].Type, sub1.events[1].Type)
	}
	if b.Emitted() != 2 {
		t.Errorf("Emitted = %d", b.Emitted())
	}
}

func TestBridgeHistoryRing(t *testing.T) {
	b := NewBridge(nil, nil)

	for i := 0; i < 3; i++ {
		b.Emit(domain.NewEvent(domain.EventExecutionStep, "t1", i))
	}
	got := b.History()
	if len(got) != 3 {
		t.Fatalf("history = %d events, want 3", len(got))
	}
	if got[0].Payload != 0 || got[2].Payload != 2 {
		t.Errorf("history not oldest-first: %v, %v", got[0].Payload, got[2].Payload)
	}

	// Overflow keeps only the newest window, still oldest-first.
	for i := 3; i < defaultHistorySize+10; i++ {
		b.Emit(domain.NewEvent(domain.EventExecutionStep, "t1", i))
	}
	got = b.History()
	if len(got) != defaultHistorySize {
		t.Fatalf("history after overflow = %d, want %d", len(got), defaultHistorySize)
	}
	if got[0].Payload != 10 {
		t.Errorf("oldest retained = %v, want 10", got[0].Payload)
	}
	if got[len(got)-1].Payload != defaultHistorySize+9 {
		t.Errorf("newest retained = %v", got[len(got)-1].Payload)
	}
}

func TestBridgeNilPublisher(t *testing.T) {
	b := NewBridge(nil, nil)
	// Must not panic.
	b.Emit(domain.NewEvent(domain.EventAlert, "", nil))
}

func TestRedisPublisherSwallowsBrokerFailure(t *testing.T) {
	// Nothing listens on this port; the publish must fail quietly.
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	p := NewRedisPublisher(client, "commandcenter", 100*time.Millisecond, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Publish(domain.NewEvent(domain.EventTaskCompleted, "t1", map[string]string{"id": "t1"}))
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked past its deadline")
	}
}

func TestEventTimestamps(t *testing.T) {
	before := time.Now()
	e := domain.NewEvent(domain.EventTaskCreated, "t1", nil)
	if e.Timestamp.Before(before) {
		t.Errorf("timestamp %v before creation", e.Timestamp)
	}
	if e.TaskID != "t1" {
		t.Errorf("task id = %q", e.TaskID)
	}
}

func BenchmarkBridgeEmit(b *testing.B) {
	bridge := NewBridge(nil, nil)
	bridge.Subscribe(SubscriberFunc(func(domain.Event) {}))
	event := domain.NewEvent(domain.EventExecutionStep, "t1", fmt.Sprintf("%d", 1))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bridge.Emit(event)
	}
}
