package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tOgg1/yfeed/internal/models"
)

// PostsChannel is the redis pub/sub channel shared by ynotd instances.
const PostsChannel = "yfeed:posts"

// Fanout distributes newly created posts to every connected client.
type Fanout interface {
	Publish(ctx context.Context, post models.Post) error
	// Run blocks relaying posts from peers until ctx is done.
	Run(ctx context.Context) error
}

// LocalFanout delivers straight to this instance's hub.
type LocalFanout struct {
	hub *Hub
}

func NewLocalFanout(hub *Hub) *LocalFanout {
	return &LocalFanout{hub: hub}
}

func (f *LocalFanout) Publish(_ context.Context, post models.Post) error {
	f.hub.Broadcast(post)
	return nil
}

func (f *LocalFanout) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// redisClient is the slice of go-redis the fanout needs.
type redisClient interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// RedisFanout publishes posts to a redis channel and relays everything on
// that channel, including its own posts, to the local hub.
type RedisFanout struct {
	client  redisClient
	channel string
	hub     *Hub
	logger  zerolog.Logger
}

func NewRedisFanout(client redisClient, hub *Hub, logger zerolog.Logger) (*RedisFanout, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	return &RedisFanout{
		client:  client,
		channel: PostsChannel,
		hub:     hub,
		logger:  logger.With().Str("channel", PostsChannel).Logger(),
	}, nil
}

func (f *RedisFanout) Publish(ctx context.Context, post models.Post) error {
	payload, err := json.Marshal(post)
	if err != nil {
		return fmt.Errorf("failed to marshal post: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish post: %w", err)
	}
	return nil
}

func (f *RedisFanout) Run(ctx context.Context) error {
	pubsub := f.client.Subscribe(ctx, f.channel)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed so posts published right
	// after Run starts are not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to subscribe to %s: %w", f.channel, err)
	}
	f.logger.Info().Msg("subscribed to redis channel")

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return nil
			}
			f.logger.Warn().Err(err).Msg("error receiving from redis")
			continue
		}

		var post models.Post
		if err := json.Unmarshal([]byte(msg.Payload), &post); err != nil {
			f.logger.Warn().Err(err).Msg("dropping undecodable post from redis")
			continue
		}
		f.hub.Broadcast(post)
	}
}
