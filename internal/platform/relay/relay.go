// Package relay fans realtime emissions out across server instances over
// Redis pub/sub. Each instance delivers locally first and publishes what it
// cannot finish on its own: every channel emission, and direct emissions
// whose connection lives elsewhere.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/platform/metrics"
	"github.com/telecare/telecare/internal/platform/realtime"
	"github.com/telecare/telecare/internal/platform/websocket"
)

// Local delivers encoded frames to connections attached to this instance.
type Local interface {
	Deliver(to realtime.Target, frame []byte) (int, error)
}

// Publisher is satisfied by *redis.Client.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Subscriber is satisfied by *redis.Client.
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

type message struct {
	Origin string          `json:"origin"`
	To     realtime.Target `json:"to"`
	Event  string          `json:"event"`
	Frame  json.RawMessage `json:"frame"`
}

// Relay implements realtime.Notifier.
type Relay struct {
	local      Local
	pub        Publisher
	channel    string
	instanceID string
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

func New(local Local, pub Publisher, channel string, m *metrics.Metrics, logger zerolog.Logger) *Relay {
	id := uuid.NewString()
	return &Relay{
		local:      local,
		pub:        pub,
		channel:    channel,
		instanceID: id,
		metrics:    m,
		logger:     logger.With().Str("component", "relay").Str("instance", id).Logger(),
	}
}

// InstanceID identifies this instance in published messages.
func (r *Relay) InstanceID() string { return r.instanceID }

func (r *Relay) Emit(ctx context.Context, to realtime.Target, event string, payload interface{}) error {
	frame, err := realtime.Encode(event, payload)
	if err != nil {
		return err
	}

	_, err = r.local.Deliver(to, frame)
	if to.ConnID != "" {
		switch {
		case err == nil:
			r.metrics.Emission(event, "conn")
			return nil
		case !errors.Is(err, websocket.ErrConnNotFound):
			return err
		}
	} else {
		r.metrics.Emission(event, "channel")
	}
	return r.publish(ctx, to, event, frame)
}

func (r *Relay) publish(ctx context.Context, to realtime.Target, event string, frame []byte) error {
	data, err := json.Marshal(message{Origin: r.instanceID, To: to, Event: event, Frame: frame})
	if err != nil {
		return fmt.Errorf("marshal relay message: %w", err)
	}
	if err := r.pub.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", event, to, err)
	}
	r.metrics.Relay("out")
	return nil
}

// Run consumes the relay channel until ctx is done.
func (r *Relay) Run(ctx context.Context, sub Subscriber) error {
	ps := sub.Subscribe(ctx, r.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info().Str("channel", r.channel).Msg("relay subscribed")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle([]byte(msg.Payload))
		}
	}
}

// handle delivers a message published by another instance.
func (r *Relay) handle(payload []byte) {
	var m message
	if err := json.Unmarshal(payload, &m); err != nil {
		r.logger.Warn().Err(err).Msg("discarding malformed relay message")
		return
	}
	if m.Origin == r.instanceID {
		return
	}
	r.metrics.Relay("in")
	if _, err := r.local.Deliver(m.To, m.Frame); err != nil && !errors.Is(err, websocket.ErrConnNotFound) {
		r.logger.Debug().Err(err).Str("event", m.Event).Str("target", m.To.String()).Msg("relay delivery failed")
	}
}
