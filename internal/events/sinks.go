package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// ErrChannelFull is returned by ChannelSink when the receiver is not keeping up.
var ErrChannelFull = errors.New("event channel full")

// Sink receives delivered events.
type Sink interface {
	Deliver(ctx context.Context, envelope Envelope) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, envelope Envelope) error

func (f SinkFunc) Deliver(ctx context.Context, envelope Envelope) error {
	return f(ctx, envelope)
}

// ChannelSink forwards envelopes to a caller-owned channel without blocking.
type ChannelSink chan<- Envelope

func (c ChannelSink) Deliver(_ context.Context, envelope Envelope) error {
	select {
	case c <- envelope:
		return nil
	default:
		return ErrChannelFull
	}
}

// NATSSink publishes JSON envelopes on <subjectBase>.<kind>.
type NATSSink struct {
	conn        *nats.Conn
	subjectBase string
}

// NewNATSSink builds a NATS sink; channelBase uses ':' or '.' separators.
func NewNATSSink(conn *nats.Conn, channelBase string) *NATSSink {
	return &NATSSink{conn: conn, subjectBase: strings.ReplaceAll(channelBase, ":", ".")}
}

func (s *NATSSink) Deliver(_ context.Context, envelope Envelope) error {
	if s.conn == nil {
		return nil
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return s.conn.Publish(s.subjectBase+"."+string(envelope.Kind), payload)
}

// RedisSink publishes JSON envelopes on the <channelBase>:grading pub/sub channel.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink builds a Redis pub/sub sink.
func NewRedisSink(client *redis.Client, channelBase string) *RedisSink {
	return &RedisSink{client: client, channel: channelBase + ":grading"}
}

// Channel returns the pub/sub channel events are written to.
func (s *RedisSink) Channel() string {
	return s.channel
}

func (s *RedisSink) Deliver(ctx context.Context, envelope Envelope) error {
	if s.client == nil {
		return nil
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.channel, payload).Err()
}
