package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/storefront/clientsync/internal/infrastructure/config"
	"go.uber.org/zap"

	domainsync "github.com/storefront/clientsync/internal/domain/sync"
)

const defaultCloseTimeout = 5 * time.Second

// RedisChannel implements Channel over Redis Pub/Sub so sibling contexts in
// separate processes can reach each other.
type RedisChannel struct {
	client     *redis.Client
	ownsClient bool // true if we created the client and should close it
	channel    string
	logger     *zap.Logger

	mu        sync.Mutex
	cancelFn  context.CancelFunc
	running   bool
	doneCh    chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
}

// RedisChannelOption is a functional option for configuring the channel
type RedisChannelOption func(*RedisChannel)

// WithChannelName sets the Pub/Sub channel name
func WithChannelName(name string) RedisChannelOption {
	return func(c *RedisChannel) {
		c.channel = name
	}
}

// WithLogger sets the logger for the channel
func WithLogger(logger *zap.Logger) RedisChannelOption {
	return func(c *RedisChannel) {
		c.logger = logger
	}
}

// NewRedisChannel creates a channel with its own Redis client
func NewRedisChannel(cfg config.RedisConfig, opts ...RedisChannelOption) (*RedisChannel, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	ch := &RedisChannel{
		client:     client,
		ownsClient: true,
		channel:    cfg.Channel,
		logger:     zap.NewNop(),
		doneCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ch)
	}
	return ch, nil
}

// NewRedisChannelWithClient creates a channel with an existing Redis client.
// The caller retains ownership of the client and is responsible for closing it.
func NewRedisChannelWithClient(client *redis.Client, channel string, opts ...RedisChannelOption) *RedisChannel {
	ch := &RedisChannel{
		client:  client,
		channel: channel,
		logger:  zap.NewNop(),
		doneCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ch)
	}
	return ch
}

// Publish sends the envelope to all sibling subscribers
func (c *RedisChannel) Publish(ctx context.Context, envelope domainsync.Envelope) error {
	data, err := envelope.Encode()
	if err != nil {
		c.logger.Error("failed to encode envelope",
			zap.String("kind", string(envelope.Kind)),
			zap.Error(err))
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	if err := c.client.Publish(ctx, c.channel, data).Err(); err != nil {
		c.logger.Error("failed to publish envelope",
			zap.String("channel", c.channel),
			zap.Error(err))
		return fmt.Errorf("failed to publish envelope: %w", err)
	}

	c.logger.Debug("published envelope",
		zap.String("kind", string(envelope.Kind)),
		zap.String("id", envelope.ID.String()))
	return nil
}

// Subscribe starts listening for envelopes. It returns once the subscription
// is confirmed; delivery runs in the background until ctx is done or the
// channel is closed.
func (c *RedisChannel) Subscribe(ctx context.Context, handler Handler) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("subscription already running")
	}
	c.running = true
	c.mu.Unlock()

	subCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelFn = cancel
	c.mu.Unlock()

	pubsub := c.client.Subscribe(subCtx, c.channel)

	// Wait for subscription confirmation
	if _, err := pubsub.Receive(subCtx); err != nil {
		pubsub.Close()
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return fmt.Errorf("failed to subscribe to channel: %w", err)
	}

	c.logger.Info("subscribed to broadcast channel", zap.String("channel", c.channel))

	go c.receiveLoop(subCtx, pubsub, handler)
	return nil
}

func (c *RedisChannel) receiveLoop(ctx context.Context, pubsub *redis.PubSub, handler Handler) {
	defer pubsub.Close()
	defer c.markDone()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("broadcast subscription stopped")
			c.mu.Lock()
			c.running = false
			c.mu.Unlock()
			return
		case msg, ok := <-ch:
			if !ok {
				c.logger.Warn("broadcast channel closed")
				c.mu.Lock()
				c.running = false
				c.mu.Unlock()
				return
			}

			envelope, err := domainsync.Decode([]byte(msg.Payload))
			if err != nil {
				// A malformed envelope must never crash a sibling context
				c.logger.Error("dropping malformed envelope",
					zap.String("payload", msg.Payload),
					zap.Error(err))
				continue
			}

			func() {
				defer func() {
					if r := recover(); r != nil {
						c.logger.Error("envelope handler panicked",
							zap.String("kind", string(envelope.Kind)),
							zap.Any("panic", r))
					}
				}()
				handler(envelope)
			}()
		}
	}
}

func (c *RedisChannel) markDone() {
	c.doneOnce.Do(func() {
		close(c.doneCh)
	})
}

// Close stops the subscription and releases the client if owned
func (c *RedisChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		cancelFn := c.cancelFn
		running := c.running
		c.mu.Unlock()

		if cancelFn != nil {
			cancelFn()
			if running {
				select {
				case <-c.doneCh:
				case <-time.After(defaultCloseTimeout):
					c.logger.Warn("timeout waiting for subscription to stop")
				}
			}
		}

		if c.ownsClient {
			err = c.client.Close()
		}
	})
	return err
}

var _ Channel = (*RedisChannel)(nil)
