package events

import (
	"context"
	"strings"
	"sync"
	"time"
)

const (
	subscriberBuffer   = 64
	defaultHistorySize = 512
)

type RunEvent struct {
	RunID   string `json:"runId"`
	Seq     int64  `json:"seq"`
	Type    string `json:"type"`
	Ts      string `json:"ts"`
	Payload any    `json:"payload,omitempty"`
}

// Broker fans run events out to live subscribers and keeps a bounded history
// per run so late subscribers can catch up.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan RunEvent]struct{}
	history     map[string][]RunEvent
	seq         map[string]int64
	historySize int
	now         func() time.Time
}

func NormalizeType(eventType string) string {
	return strings.TrimSpace(strings.ToLower(eventType))
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: map[string]map[chan RunEvent]struct{}{},
		history:     map[string][]RunEvent{},
		seq:         map[string]int64{},
		historySize: defaultHistorySize,
		now:         time.Now,
	}
}

// Subscribe returns a channel of live events for runID. The channel is closed
// once ctx is done.
func (b *Broker) Subscribe(ctx context.Context, runID string) <-chan RunEvent {
	ch := make(chan RunEvent, subscriberBuffer)

	b.mu.Lock()
	if b.subscribers[runID] == nil {
		b.subscribers[runID] = map[chan RunEvent]struct{}{}
	}
	b.subscribers[runID][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if b.subscribers[runID] != nil {
			delete(b.subscribers[runID], ch)
			if len(b.subscribers[runID]) == 0 {
				delete(b.subscribers, runID)
			}
		}
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

// Publish stamps the event with the run's next sequence number and delivers it
// without blocking; subscribers with a full buffer miss it.
func (b *Broker) Publish(runID, eventType string, payload any) RunEvent {
	b.mu.Lock()
	b.seq[runID]++
	event := RunEvent{
		RunID:   runID,
		Seq:     b.seq[runID],
		Type:    NormalizeType(eventType),
		Ts:      b.now().UTC().Format(time.RFC3339Nano),
		Payload: payload,
	}
	history := append(b.history[runID], event)
	if len(history) > b.historySize {
		history = history[len(history)-b.historySize:]
	}
	b.history[runID] = history

	for ch := range b.subscribers[runID] {
		select {
		case ch <- event:
		default:
		}
	}
	b.mu.Unlock()
	return event
}

// History returns retained events of runID with a sequence above afterSeq.
func (b *Broker) History(runID string, afterSeq int64) []RunEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]RunEvent, 0, len(b.history[runID]))
	for _, event := range b.history[runID] {
		if event.Seq > afterSeq {
			out = append(out, event)
		}
	}
	return out
}

// Forget drops the retained history of runID.
func (b *Broker) Forget(runID string) {
	b.mu.Lock()
	delete(b.history, runID)
	delete(b.seq, runID)
	b.mu.Unlock()
}
