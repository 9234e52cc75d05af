package task

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantaalpha/triald/internal/classify"
)

func TestBroadcaster_ReplayWindow(t *testing.T) {
	b := NewBroadcaster()
	tk := New(KindMining, nil, Progress{Phase: classify.PhasePlanning})

	// 25 lines produced before anyone attaches.
	for i := 0; i < 25; i++ {
		tk.AppendLog(classify.LevelInfo, fmt.Sprintf("line %d", i))
	}

	sub := b.Subscribe(tk)
	defer b.Unsubscribe(sub)

	// First the progress snapshot.
	first := <-sub.Events()
	require.Equal(t, EventProgress, first.Type)

	// Then exactly the last 20 log entries, in order.
	for i := 0; i < ReplayLogEntries; i++ {
		ev := <-sub.Events()
		require.Equal(t, EventLog, ev.Type)
		entry, ok := ev.Data.(LogEntry)
		require.True(t, ok, "replay data should be a LogEntry")
		assert.Equal(t, fmt.Sprintf("line %d", 5+i), entry.Message)
	}

	// Live events follow with none skipped.
	entry := tk.AppendLog(classify.LevelInfo, "line 25")
	b.Publish(NewEvent(EventLog, tk.ID(), entry))

	live := <-sub.Events()
	require.Equal(t, EventLog, live.Type)
	assert.Equal(t, "line 25", live.Data.(LogEntry).Message)
}

func TestBroadcaster_ReplayShortHistory(t *testing.T) {
	b := NewBroadcaster()
	tk := New(KindBacktest, nil, Progress{Phase: classify.PhaseBacktesting})
	tk.AppendLog(classify.LevelInfo, "only line")

	sub := b.Subscribe(tk)
	defer b.Unsubscribe(sub)

	first := <-sub.Events()
	assert.Equal(t, EventProgress, first.Type)
	second := <-sub.Events()
	assert.Equal(t, EventLog, second.Type)

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected extra replay event: %+v", ev)
	default:
	}
}

func TestBroadcaster_PublishFanOut(t *testing.T) {
	b := NewBroadcaster()
	tk := New(KindMining, nil, Progress{})

	sub1 := b.Subscribe(tk)
	sub2 := b.Subscribe(tk)
	drainReplay(t, sub1)
	drainReplay(t, sub2)

	b.Publish(NewEvent(EventMetrics, tk.ID(), map[string]float64{"rankIc": 0.0016}))

	for _, sub := range []*Subscriber{sub1, sub2} {
		ev := <-sub.Events()
		assert.Equal(t, EventMetrics, ev.Type)
		assert.Equal(t, tk.ID(), ev.TaskID)
	}
}

func TestBroadcaster_PruneOnFailedDelivery(t *testing.T) {
	b := NewBroadcaster()
	tk := New(KindMining, nil, Progress{})

	sub := b.Subscribe(tk)
	require.Equal(t, 1, b.SubscriberCount(tk.ID()))

	// Fill the subscriber's queue without draining it. The replay
	// already queued one progress event.
	for i := 0; i < subscriberBuffer; i++ {
		b.Publish(NewEvent(EventLog, tk.ID(), nil))
	}

	// The first undeliverable event prunes the subscriber immediately.
	assert.Equal(t, 0, b.SubscriberCount(tk.ID()))

	// Channel is closed after draining the queued events.
	drained := 0
	for range sub.Events() {
		drained++
	}
	assert.Equal(t, subscriberBuffer, drained)
}

func TestBroadcaster_Heartbeat(t *testing.T) {
	b := NewBroadcaster()
	tk := New(KindMining, nil, Progress{})

	sub := b.Subscribe(tk)
	drainReplay(t, sub)

	b.Heartbeat(sub)
	ev := <-sub.Events()
	assert.Equal(t, EventHeartbeat, ev.Type)
}

func TestBroadcaster_SubscribersAreTaskScoped(t *testing.T) {
	b := NewBroadcaster()
	tk1 := New(KindMining, nil, Progress{})
	tk2 := New(KindMining, nil, Progress{})

	sub := b.Subscribe(tk1)
	drainReplay(t, sub)

	b.Publish(NewEvent(EventLog, tk2.ID(), nil))

	select {
	case ev := <-sub.Events():
		t.Fatalf("subscriber of task %s received event for %s: %+v", tk1.ID(), tk2.ID(), ev)
	default:
	}
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := NewBroadcaster()
	tk := New(KindMining, nil, Progress{})

	sub := b.Subscribe(tk)
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount(tk.ID()))

	// Publishing after unsubscribe must not panic.
	b.Publish(NewEvent(EventLog, tk.ID(), nil))

	// Double unsubscribe is safe.
	b.Unsubscribe(sub)
}

func TestBroadcaster_HeartbeatAfterUnsubscribe(t *testing.T) {
	b := NewBroadcaster()
	tk := New(KindMining, nil, Progress{})

	sub := b.Subscribe(tk)
	b.Unsubscribe(sub)

	// A stale heartbeat must be a no-op, not a send on a closed channel.
	b.Heartbeat(sub)
	b.Publish(NewEvent(EventLog, tk.ID(), nil))
	assert.Equal(t, 0, b.SubscriberCount(tk.ID()))
}

func TestBroadcaster_ConcurrentPublishAndDetach(t *testing.T) {
	b := NewBroadcaster()
	tk := New(KindMining, nil, Progress{})

	subs := make([]*Subscriber, 16)
	for i := range subs {
		subs[i] = b.Subscribe(tk)
	}

	var wg sync.WaitGroup
	wg.Add(len(subs) + 2)
	for _, sub := range subs {
		sub := sub
		go func() {
			defer wg.Done()
			b.Heartbeat(sub)
			b.Unsubscribe(sub)
			b.Heartbeat(sub)
		}()
	}
	for g := 0; g < 2; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				b.Publish(NewEvent(EventLog, tk.ID(), nil))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, b.SubscriberCount(tk.ID()))
}

func TestBroadcaster_AttachDuringStreamLosesNothing(t *testing.T) {
	const total = 30

	b := NewBroadcaster()
	tk := New(KindMining, nil, Progress{})

	// Writer streams entries while the subscriber attaches mid-stream.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total; i++ {
			entry := tk.AppendLog(classify.LevelInfo, fmt.Sprintf("line %d", i))
			b.Publish(NewEvent(EventLog, tk.ID(), entry))
		}
	}()

	sub := b.Subscribe(tk)
	defer b.Unsubscribe(sub)
	<-done

	// Everything from the earliest received entry to the last must be
	// present: replay plus live coverage leaves no gap (duplicates in
	// the attach window are fine).
	seen := make(map[string]bool)
	deadline := time.After(5 * time.Second)
	last := fmt.Sprintf("line %d", total-1)
	for !seen[last] {
		select {
		case ev := <-sub.Events():
			if entry, ok := ev.Data.(LogEntry); ok {
				seen[entry.Message] = true
			}
		case <-deadline:
			t.Fatal("final entry never delivered")
		}
	}

	first := 0
	for ; first < total; first++ {
		if seen[fmt.Sprintf("line %d", first)] {
			break
		}
	}
	for i := first; i < total; i++ {
		assert.True(t, seen[fmt.Sprintf("line %d", i)], "line %d missing from replay+live stream", i)
	}
}

// drainReplay consumes the attach-time replay (progress + any log
// entries queued before live streaming).
func drainReplay(t *testing.T, sub *Subscriber) {
	t.Helper()
	ev := <-sub.Events()
	require.Equal(t, EventProgress, ev.Type)
	for {
		select {
		case ev := <-sub.Events():
			require.Equal(t, EventLog, ev.Type)
		default:
			return
		}
	}
}
