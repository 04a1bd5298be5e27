package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	publishTimeout = 2 * time.Second
	pingTimeout    = 2 * time.Second
)

// RedisOptions configures the redis fan-out bridge.
type RedisOptions struct {
	Address  string
	Channel  string
	Password string
	DB       int
}

type pubSubClient interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// RedisBridge publishes messages to the local dispatcher and to a redis
// channel, and relays messages published by other processes back into the
// local dispatcher.
type RedisBridge struct {
	client     pubSubClient
	channel    string
	origin     string
	dispatcher *Dispatcher
	logger     *zap.Logger
}

// ConnectRedis opens a client and verifies it with a ping.
func ConnectRedis(ctx context.Context, options RedisOptions, logger *zap.Logger) (*redis.Client, error) {
	if options.Address == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     options.Address,
		Password: options.Password,
		DB:       options.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis unavailable at %s: %w", options.Address, err)
	}
	if logger != nil {
		logger.Info("connected to redis", zap.String("addr", options.Address))
	}
	return client, nil
}

func NewRedisBridge(client pubSubClient, channel string, dispatcher *Dispatcher, logger *zap.Logger) (*RedisBridge, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if channel == "" {
		return nil, errors.New("redis channel is required")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBridge{
		client:     client,
		channel:    channel,
		origin:     uuid.NewString(),
		dispatcher: dispatcher,
		logger:     logger,
	}, nil
}

// Publish delivers the message locally and forwards it to redis. Redis
// failures are logged and do not affect local delivery.
func (b *RedisBridge) Publish(message Message) {
	b.dispatcher.Publish(message)

	message.Origin = b.origin
	payload, err := json.Marshal(message)
	if err != nil {
		b.logger.Warn("encode event for redis", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.logger.Warn("publish event to redis", zap.String("channel", b.channel), zap.Error(err))
	}
}

// Run relays messages from the redis channel until ctx ends.
func (b *RedisBridge) Run(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", b.channel, err)
	}
	b.logger.Info("relaying redis events", zap.String("channel", b.channel))

	stream := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case received, ok := <-stream:
			if !ok {
				return nil
			}
			b.relay(received.Payload)
		}
	}
}

func (b *RedisBridge) relay(payload string) {
	var message Message
	if err := json.Unmarshal([]byte(payload), &message); err != nil {
		b.logger.Warn("discard malformed redis event", zap.Error(err))
		return
	}
	if message.Origin == b.origin {
		return
	}
	b.dispatcher.Publish(message)
}
