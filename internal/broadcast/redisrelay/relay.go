// Package redisrelay forwards frames between server instances over Redis
// pub/sub. Every instance subscribes to its own channel; a publish that no
// subscriber receives means the owning instance is gone.
package redisrelay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Tyrowin/socialchat/internal/broadcast"
)

const defaultPrefix = "socialchat:"

type envelope struct {
	ConnectionID string `json:"connectionId"`
	Payload      []byte `json:"payload"`
}

// Relay publishes to and subscribes from per-instance channels.
type Relay struct {
	client     redis.UniversalClient
	prefix     string
	instanceID string
	logger     *zap.Logger
}

// New returns a Relay for instanceID. Channels are named
// <prefix>relay:<instanceID>.
func New(client redis.UniversalClient, prefix, instanceID string, logger *zap.Logger) *Relay {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{client: client, prefix: prefix, instanceID: instanceID, logger: logger}
}

func (r *Relay) channel(instanceID string) string {
	return r.prefix + "relay:" + instanceID
}

// Forward publishes payload for connectionID on instanceID's channel. It
// returns broadcast.ErrNoSubscriber when no process received it.
func (r *Relay) Forward(ctx context.Context, instanceID, connectionID string, payload []byte) error {
	data, err := json.Marshal(envelope{ConnectionID: connectionID, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode relay frame: %w", err)
	}
	receivers, err := r.client.Publish(ctx, r.channel(instanceID), data).Result()
	if err != nil {
		return fmt.Errorf("relay publish: %w", err)
	}
	if receivers == 0 {
		return broadcast.ErrNoSubscriber
	}
	return nil
}

// Run subscribes to this instance's channel and hands every frame to conns
// until ctx is done. ready, when non-nil, is closed once the subscription is
// active.
func (r *Relay) Run(ctx context.Context, conns broadcast.Connections, ready chan<- struct{}) error {
	sub := r.client.Subscribe(ctx, r.channel(r.instanceID))
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("relay subscribe: %w", err)
	}
	if ready != nil {
		close(ready)
	}
	r.logger.Info("Relay subscribed", zap.String("channel", r.channel(r.instanceID)))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("relay subscription closed")
			}
			r.handle(conns, msg.Payload)
		}
	}
}

func (r *Relay) handle(conns broadcast.Connections, raw string) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		r.logger.Warn("Dropping malformed relay frame", zap.Error(err))
		return
	}
	if err := conns.Deliver(env.ConnectionID, env.Payload); err != nil {
		r.logger.Info("Relayed write failed; dropping connection",
			zap.String("connection_id", env.ConnectionID), zap.Error(err))
		conns.Disconnect(env.ConnectionID)
	}
}

var _ broadcast.Relay = (*Relay)(nil)
