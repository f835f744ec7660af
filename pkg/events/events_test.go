package events

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDelivers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(&Event{Type: EventActionSucceeded, Outcome: OutcomeOK, WorkloadID: "wl"})

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case ev := <-sub:
			assert.Equal(t, EventActionSucceeded, ev.Type)
			assert.NotEmpty(t, ev.ID)
			assert.False(t, ev.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}

	b.Unsubscribe(sub1)
	b.Unsubscribe(sub1)
	assert.Equal(t, 1, b.SubscriberCount())
}

func TestPublishNeverBlocks(t *testing.T) {
	b := NewBroker()
	// not started: the buffer fills and further events are dropped
	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			b.Publish(&Event{Type: EventActionFailed})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked")
	}

	b.Stop()
	b.Stop()
	b.Publish(&Event{Type: EventActionFailed})
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestLogTo(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	out := &syncBuffer{}
	stop := b.LogTo(zerolog.New(out))

	b.Publish(&Event{Type: EventActionFailed, Outcome: OutcomeFailed, WorkloadID: "wl-9", Message: "start failed"})

	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte(`"workload_id":"wl-9"`))
	}, time.Second, 10*time.Millisecond)
	stop()

	assert.Contains(t, out.String(), `"outcome":"FAILED"`)
	assert.Contains(t, out.String(), `"message":"start failed"`)
	assert.Equal(t, 0, b.SubscriberCount())
}
