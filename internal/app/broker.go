package app

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

// DeliverFunc fans a frame out to the local connections of a meeting.
type DeliverFunc func(meeting domain.MeetingID, frame core.Frame)

// Broker carries published frames to every hub instance serving a meeting.
type Broker interface {
	Publish(ctx context.Context, meeting domain.MeetingID, frame core.Frame) error
	// Run delivers frames published anywhere until ctx is done.
	Run(ctx context.Context, deliver DeliverFunc) error
	Close() error
}

type published struct {
	meeting domain.MeetingID
	frame   core.Frame
}

// MemoryBroker serves a single hub instance. Frames are delivered in publish order.
type MemoryBroker struct {
	queue chan published
}

func NewMemoryBroker(buffer int) *MemoryBroker {
	return &MemoryBroker{queue: make(chan published, buffer)}
}

func (b *MemoryBroker) Publish(ctx context.Context, meeting domain.MeetingID, frame core.Frame) error {
	select {
	case b.queue <- published{meeting: meeting, frame: frame}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBroker) Run(ctx context.Context, deliver DeliverFunc) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-b.queue:
			deliver(p.meeting, p.frame)
		}
	}
}

func (b *MemoryBroker) Close() error { return nil }

const redisChannelPrefix = "meet:"

type redisEnvelope struct {
	Meeting domain.MeetingID `json:"meeting"`
	Frame   json.RawMessage  `json:"frame"`
}

// RedisBroker fans out across hub instances over redis pub/sub.
type RedisBroker struct {
	rdb *redis.Client
}

func NewRedisBroker(ctx context.Context, addr, password string, db int) (*RedisBroker, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "redis ping %s", addr)
	}
	log.Info().Str("module", "app.broker").Str("addr", addr).Msg("redis connected")
	return &RedisBroker{rdb: rdb}, nil
}

func redisChannel(meeting domain.MeetingID) string {
	return redisChannelPrefix + string(meeting)
}

func encodeEnvelope(meeting domain.MeetingID, frame core.Frame) ([]byte, error) {
	payload, err := json.Marshal(redisEnvelope{Meeting: meeting, Frame: json.RawMessage(frame)})
	if err != nil {
		return nil, errors.Wrap(err, "encode envelope")
	}
	return payload, nil
}

// decodeEnvelope falls back to the channel name when the envelope names no meeting.
func decodeEnvelope(channel, payload string) (domain.MeetingID, core.Frame, error) {
	var env redisEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return "", nil, errors.Wrap(err, "decode envelope")
	}
	if len(env.Frame) == 0 {
		return "", nil, errors.New("envelope without frame")
	}
	if env.Meeting == "" {
		env.Meeting = domain.MeetingID(strings.TrimPrefix(channel, redisChannelPrefix))
	}
	return env.Meeting, core.Frame(env.Frame), nil
}

func (b *RedisBroker) Publish(ctx context.Context, meeting domain.MeetingID, frame core.Frame) error {
	payload, err := encodeEnvelope(meeting, frame)
	if err != nil {
		return err
	}
	return errors.Wrap(b.rdb.Publish(ctx, redisChannel(meeting), payload).Err(), "redis publish")
}

func (b *RedisBroker) Run(ctx context.Context, deliver DeliverFunc) error {
	sub := b.rdb.PSubscribe(ctx, redisChannelPrefix+"*")
	defer func() { _ = sub.Close() }()

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("redis subscription closed")
			}
			meeting, frame, err := decodeEnvelope(msg.Channel, msg.Payload)
			if err != nil {
				log.Warn().Err(err).Str("module", "app.broker").Str("channel", msg.Channel).Msg("bad envelope")
				continue
			}
			deliver(meeting, frame)
		}
	}
}

func (b *RedisBroker) Close() error {
	return b.rdb.Close()
}
