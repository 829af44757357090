package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRealtimeChannel is the Redis channel shared by every API instance.
const DefaultRealtimeChannel = "edits:realtime"

var errMissingRedisClient = errors.New("redis bridge: client required")

// RedisBridge relays realtime messages through Redis pub/sub so subscribers on every
// instance receive events committed on any instance.
type RedisBridge struct {
	client     *redis.Client
	channel    string
	dispatcher *RealtimeDispatcher
	logger     *zap.Logger
	pubsub     *redis.PubSub
	done       chan struct{}
}

// NewRedisBridge builds a bridge that delivers received messages into dispatcher.
func NewRedisBridge(client *redis.Client, channel string, dispatcher *RealtimeDispatcher, logger *zap.Logger) (*RedisBridge, error) {
	if client == nil {
		return nil, errMissingRedisClient
	}
	if dispatcher == nil {
		return nil, errors.New("redis bridge: dispatcher required")
	}
	if strings.TrimSpace(channel) == "" {
		channel = DefaultRealtimeChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBridge{
		client:     client,
		channel:    channel,
		dispatcher: dispatcher,
		logger:     logger,
		done:       make(chan struct{}),
	}, nil
}

// Start subscribes to the channel, waits for the subscription to be confirmed and begins
// forwarding messages. It also installs the bridge as the dispatcher's relay.
func (b *RedisBridge) Start(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	b.pubsub = pubsub
	b.dispatcher.UseRelay(b, b.logger)

	go b.forward(pubsub.Channel())
	b.logger.Info("realtime redis bridge started", zap.String("channel", b.channel))
	return nil
}

func (b *RedisBridge) forward(messages <-chan *redis.Message) {
	defer close(b.done)
	for payload := range messages {
		var message RealtimeMessage
		if err := json.Unmarshal([]byte(payload.Payload), &message); err != nil {
			b.logger.Warn("realtime redis payload rejected", zap.Error(err))
			continue
		}
		b.dispatcher.Publish(message)
	}
}

// Relay implements RealtimeRelay.
func (b *RedisBridge) Relay(ctx context.Context, message RealtimeMessage) error {
	encoded, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, encoded).Err()
}

// Close stops forwarding and detaches the relay.
func (b *RedisBridge) Close() error {
	b.dispatcher.UseRelay(nil, nil)
	if b.pubsub == nil {
		return nil
	}
	err := b.pubsub.Close()
	<-b.done
	return err
}
