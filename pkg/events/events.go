package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventType represents the type of event
type EventType string

const (
	EventActionSucceeded      EventType = "action.succeeded"
	EventActionFailed         EventType = "action.failed"
	EventActionRejected       EventType = "action.rejected"
	EventWorkloadStateChanged EventType = "workload.state_changed"
	EventWorkloadVanished     EventType = "workload.vanished"
	EventReconcileReissued    EventType = "reconcile.reissued"
	EventReconcileExhausted   EventType = "reconcile.exhausted"
)

// Outcome tags an event for the collaborator's audit trail
type Outcome string

const (
	OutcomeOK     Outcome = "OK"
	OutcomeFailed Outcome = "FAILED"
)

// Event represents a workload lifecycle event
type Event struct {
	ID         string
	Type       EventType
	Outcome    Outcome
	WorkloadID string
	Tenant     string
	ActionID   string
	Timestamp  time.Time
	Message    string
	Metadata   map[string]string
}

// Publisher is implemented by anything that accepts events
type Publisher interface {
	Publish(event *Event)
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

var _ Publisher = (*Broker)(nil)

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish queues an event for all subscribers. It never blocks the caller:
// when the broker is stopped or its buffer is full the event is dropped.
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case <-b.stopCh:
		return
	default:
	}

	select {
	case b.eventCh <- event:
	default:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// LogTo writes every event to logger until the returned func is called
func (b *Broker) LogTo(logger zerolog.Logger) func() {
	sub := b.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range sub {
			logger.Info().
				Str("event", string(event.Type)).
				Str("outcome", string(event.Outcome)).
				Str("workload_id", event.WorkloadID).
				Str("tenant", event.Tenant).
				Str("action_id", event.ActionID).
				Msg(event.Message)
		}
	}()
	return func() {
		b.Unsubscribe(sub)
		<-done
	}
}
