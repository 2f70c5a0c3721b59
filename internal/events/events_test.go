package events

import (
	"context"
	"sync"
	"testing"
	"time"
)

func receiveEvent(t *testing.T, ch <-chan RunEvent) RunEvent {
	t.Helper()

	timer := time.NewTimer(500 * time.Millisecond)
	defer timer.Stop()

	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("channel closed before receive")
		}
		return ev
	case <-timer.C:
		t.Fatal("timed out waiting for event")
	}

	return RunEvent{}
}

func waitForClosed(t *testing.T, ch <-chan RunEvent) {
	t.Helper()

	timer := time.NewTimer(500 * time.Millisecond)
	defer timer.Stop()

	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-timer.C:
			t.Fatal("timed out waiting for channel close")
		}
	}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())

	ch := b.Subscribe(ctx, "run-1")
	b.mu.RLock()
	count := len(b.subscribers["run-1"])
	b.mu.RUnlock()
	if count != 1 {
		t.Fatalf("expected 1 subscriber, got %d", count)
	}

	cancel()
	waitForClosed(t, ch)

	b.mu.RLock()
	_, exists := b.subscribers["run-1"]
	b.mu.RUnlock()
	if exists {
		t.Fatal("subscriber not removed")
	}
}

func TestPublishAssignsSequenceAndNormalizesType(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx, "run-1")
	b.Publish("run-1", " Phase ", map[string]string{"to": "planning"})
	b.Publish("run-2", "phase", nil)
	b.Publish("run-1", "progress", nil)

	first := receiveEvent(t, ch)
	second := receiveEvent(t, ch)
	if first.Seq != 1 || first.Type != "phase" || second.Seq != 2 || second.Type != "progress" {
		t.Fatalf("unexpected events %+v %+v", first, second)
	}
	if first.Ts == "" || first.RunID != "run-1" {
		t.Fatalf("expected stamped event, got %+v", first)
	}
}

func TestPublishDropsWhenSubscriberIsFull(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx, "run-1")
	for i := 0; i < subscriberBuffer+5; i++ {
		b.Publish("run-1", "token", i)
	}
	if len(ch) != subscriberBuffer {
		t.Fatalf("expected full buffer of %d, got %d", subscriberBuffer, len(ch))
	}
	if got := len(b.History("run-1", 0)); got != subscriberBuffer+5 {
		t.Fatalf("expected history to keep every event, got %d", got)
	}
}

func TestHistoryIsBoundedAndFiltered(t *testing.T) {
	b := NewBroker()
	b.historySize = 3
	for i := 0; i < 5; i++ {
		b.Publish("run-1", "progress", i)
	}

	history := b.History("run-1", 0)
	if len(history) != 3 || history[0].Seq != 3 || history[2].Seq != 5 {
		t.Fatalf("unexpected history %+v", history)
	}
	if after := b.History("run-1", 4); len(after) != 1 || after[0].Seq != 5 {
		t.Fatalf("unexpected filtered history %+v", after)
	}

	b.Forget("run-1")
	if len(b.History("run-1", 0)) != 0 {
		t.Fatal("expected history dropped")
	}
	if event := b.Publish("run-1", "phase", nil); event.Seq != 1 {
		t.Fatalf("expected sequence reset, got %d", event.Seq)
	}
}

func TestConcurrentSubscribePublish(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	var mu sync.Mutex
	chans := make([]<-chan RunEvent, 0, 16)

	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ch := b.Subscribe(ctx, "run-1")
			mu.Lock()
			chans = append(chans, ch)
			mu.Unlock()
		}()
		go func(seq int) {
			defer wg.Done()
			b.Publish("run-1", "chunk", seq)
		}(i)
	}
	wg.Wait()
	cancel()

	for _, ch := range chans {
		waitForClosed(t, ch)
	}
	if len(b.History("run-1", 0)) != 16 {
		t.Fatal("expected every publish retained")
	}
}
