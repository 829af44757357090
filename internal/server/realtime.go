package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/gravity-edits/backend/internal/edits"
	"go.uber.org/zap"
)

const (
	realtimeEventHeartbeat = "heartbeat"
	realtimeSourceBackend  = "edits-backend"
	realtimeRelayQueueSize = 64
	realtimeRelayTimeout   = 2 * time.Second
)

// RealtimeMessage is a proposal event addressed to the subscribers of one record.
type RealtimeMessage struct {
	Topic      string    `json:"topic"`
	EventType  string    `json:"event"`
	ProposalID string    `json:"proposal_id"`
	Field      string    `json:"field"`
	Status     string    `json:"status"`
	Upvotes    int64     `json:"upvotes"`
	Downvotes  int64     `json:"downvotes"`
	NetScore   int64     `json:"net_score"`
	ResolvedBy string    `json:"resolved_by,omitempty"`
	Source     string    `json:"source"`
	Timestamp  time.Time `json:"timestamp"`
}

// RealtimeRelay forwards messages to other instances; they come back through Publish.
type RealtimeRelay interface {
	Relay(ctx context.Context, message RealtimeMessage) error
}

// RealtimeDispatcher fans proposal events out to SSE subscribers per record topic.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
	relay       RealtimeRelay
	relayQueue  chan RealtimeMessage
	relayOnce   sync.Once
	logger      *zap.Logger
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

var _ edits.EventSink = (*RealtimeDispatcher)(nil)

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
		relayQueue:  make(chan RealtimeMessage, realtimeRelayQueueSize),
		logger:      zap.NewNop(),
	}
}

// UseRelay routes published proposal events through relay instead of delivering them locally.
// Relaying happens on a background goroutine in publish order.
func (d *RealtimeDispatcher) UseRelay(relay RealtimeRelay, logger *zap.Logger) {
	d.mu.Lock()
	d.relay = relay
	if logger != nil {
		d.logger = logger
	}
	d.mu.Unlock()
	if relay != nil {
		d.relayOnce.Do(func() {
			go d.drainRelayQueue()
		})
	}
}

// TopicFor returns the topic used for a record.
func TopicFor(ref edits.EntityRef) string {
	return ref.Key()
}

func (d *RealtimeDispatcher) Subscribe(ctx context.Context, topic string) (<-chan RealtimeMessage, func()) {
	if topic == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(topic, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(topic, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers a message to local subscribers of its topic. Slow subscribers drop messages.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.Topic == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.Topic]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// PublishProposalEvent implements edits.EventSink.
func (d *RealtimeDispatcher) PublishProposalEvent(event edits.ProposalEvent) {
	message := messageFromEvent(event)

	d.mu.RLock()
	relay := d.relay
	logger := d.logger
	d.mu.RUnlock()

	if relay == nil {
		d.Publish(message)
		return
	}
	select {
	case d.relayQueue <- message:
	default:
		logger.Warn("realtime relay queue full, delivering locally",
			zap.String("topic", message.Topic),
			zap.String("event", message.EventType))
		d.Publish(message)
	}
}

func (d *RealtimeDispatcher) drainRelayQueue() {
	for message := range d.relayQueue {
		d.mu.RLock()
		relay := d.relay
		logger := d.logger
		d.mu.RUnlock()

		if relay == nil {
			d.Publish(message)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), realtimeRelayTimeout)
		err := relay.Relay(ctx, message)
		cancel()
		if err != nil {
			logger.Warn("realtime relay failed, delivering locally",
				zap.String("topic", message.Topic),
				zap.String("event", message.EventType),
				zap.Error(err))
			d.Publish(message)
		}
	}
}

// SubscriberCount reports the number of local subscribers on a topic.
func (d *RealtimeDispatcher) SubscriberCount(topic string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[topic])
}

func messageFromEvent(event edits.ProposalEvent) RealtimeMessage {
	proposal := event.Proposal
	message := RealtimeMessage{
		Topic:      TopicFor(proposal.EntityRef()),
		EventType:  string(event.Type),
		ProposalID: proposal.ProposalID,
		Field:      proposal.Field,
		Status:     proposal.Status.String(),
		Upvotes:    proposal.Upvotes,
		Downvotes:  proposal.Downvotes,
		NetScore:   proposal.NetScore(),
		Source:     realtimeSourceBackend,
		Timestamp:  event.OccurredAt,
	}
	if proposal.ResolvedBy != nil {
		message.ResolvedBy = *proposal.ResolvedBy
	}
	return message
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(topic string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[topic]; !ok {
		d.subscribers[topic] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[topic][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(topic string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[topic]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, topic)
		}
	}
	d.mu.Unlock()
}
