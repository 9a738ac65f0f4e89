package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mossy-p/roomcall/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const pubsubPrefix = "relay:"

// Publish fans a frame out to every relay instance subscribed to its channel.
func (c *Client) Publish(ctx context.Context, frame models.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if err := c.rdb.Publish(ctx, pubsubPrefix+frame.Channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", frame.Channel, err)
	}
	return nil
}

// Subscription delivers frames published to any room channel, in the order
// Redis delivered them.
type Subscription struct {
	ps     *redis.PubSub
	frames chan models.Frame
}

// Subscribe listens on all room channels. It returns once Redis has
// confirmed the subscription, so frames published afterwards are not lost.
func (c *Client) Subscribe(ctx context.Context) (*Subscription, error) {
	ps := c.rdb.PSubscribe(ctx, pubsubPrefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	s := &Subscription{ps: ps, frames: make(chan models.Frame, 256)}
	go s.pump()
	return s, nil
}

func (s *Subscription) pump() {
	defer close(s.frames)
	for msg := range s.ps.Channel() {
		var frame models.Frame
		if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
			log.Warn().Err(err).Str("channel", msg.Channel).Msg("Dropping undecodable frame")
			continue
		}
		if frame.Channel == "" {
			frame.Channel = strings.TrimPrefix(msg.Channel, pubsubPrefix)
		}
		s.frames <- frame
	}
}

// Frames returns the delivery channel. It is closed after Close.
func (s *Subscription) Frames() <-chan models.Frame {
	return s.frames
}

// Close ends the subscription.
func (s *Subscription) Close() error {
	return s.ps.Close()
}
