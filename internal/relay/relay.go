// Package relay fans task pushes out across server instances over Redis pub/sub.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Config configures the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// Sink receives frames published by other instances.
type Sink interface {
	DeliverRemote(ctx context.Context, userID int64, frame []byte) error
}

// envelope is the pub/sub message body.
type envelope struct {
	Node   string          `json:"node"`
	UserID int64           `json:"userId"`
	Frame  json.RawMessage `json:"frame"`
}

// Relay publishes local pushes and delivers remote ones.
type Relay struct {
	client  *redis.Client
	channel string
	node    string
	log     *zerolog.Logger
}

// New connects to Redis and checks the connection.
func New(ctx context.Context, cfg Config, logger *zerolog.Logger) (*Relay, error) {
	if cfg.Channel == "" {
		cfg.Channel = "wiretask:pushes"
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	return &Relay{
		client:  client,
		channel: cfg.Channel,
		node:    uuid.NewString(),
		log:     logger,
	}, nil
}

// Node returns this instance's id.
func (r *Relay) Node() string { return r.node }

// Publish sends frame to other instances.
func (r *Relay) Publish(ctx context.Context, userID int64, frame []byte) error {
	payload, err := encode(r.node, userID, frame)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Run subscribes to the channel and hands remote frames to sink until ctx ends.
func (r *Relay) Run(ctx context.Context, sink Sink) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}
	r.log.Info().Str("channel", r.channel).Str("node", r.node).Msg("relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, sink, []byte(msg.Payload))
		}
	}
}

func (r *Relay) handle(ctx context.Context, sink Sink, payload []byte) {
	env, err := decode(payload)
	if err != nil {
		r.log.Warn().Err(err).Msg("relay: bad message")
		return
	}
	if env.Node == r.node {
		return
	}
	if err := sink.DeliverRemote(ctx, env.UserID, env.Frame); err != nil {
		r.log.Warn().Err(err).Int64("user_id", env.UserID).Msg("relay: deliver failed")
	}
}

// Close releases the Redis client.
func (r *Relay) Close() error {
	return r.client.Close()
}

func encode(node string, userID int64, frame []byte) ([]byte, error) {
	b, err := json.Marshal(envelope{Node: node, UserID: userID, Frame: frame})
	if err != nil {
		return nil, fmt.Errorf("encode relay message: %w", err)
	}
	return b, nil
}

func decode(payload []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return envelope{}, fmt.Errorf("decode relay message: %w", err)
	}
	if env.UserID == 0 || len(env.Frame) == 0 {
		return envelope{}, fmt.Errorf("decode relay message: missing user or frame")
	}
	return env, nil
}
