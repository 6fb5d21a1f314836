package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

// MessagePlane sends over the side-channel and dispatches inbound events to the consumer.
// Inbound messages first hop onto the delivery queue, so consumer code never runs on
// the goroutine that owns the channel.
type MessagePlane struct {
	publisher core.Publisher
	state     func() core.ConnectionState
	delivery  core.Dispatcher
	log       zerolog.Logger

	mu         sync.RWMutex
	dispatcher core.Dispatcher
	consumer   func(domain.InboundMessage)
}

// NewMessagePlane builds a plane delivering through delivery. A nil delivery runs
// callbacks on the receiving goroutine.
func NewMessagePlane(pub core.Publisher, state func() core.ConnectionState, delivery core.Dispatcher) *MessagePlane {
	if delivery == nil {
		delivery = Inline
	}
	return &MessagePlane{
		publisher:  pub,
		state:      state,
		delivery:   delivery,
		dispatcher: Inline,
		log:        log.With().Str("module", "session.plane").Logger(),
	}
}

// Send publishes body for id. Outside Connected it fails without any I/O.
func (p *MessagePlane) Send(ctx context.Context, id domain.Identity, body string) error {
	if st := p.state(); st != core.Connected {
		return core.NotConnected(st)
	}
	return p.publisher.Publish(ctx, domain.OutboundMessage{
		MeetingID: id.MeetingID,
		UserID:    id.UserID,
		Body:      body,
	})
}

// OnMessage replaces the consumer. fn is always invoked through d, from the
// delivery goroutine; Inline runs it there directly.
func (p *MessagePlane) OnMessage(d core.Dispatcher, fn func(domain.InboundMessage)) {
	if d == nil {
		d = Inline
	}
	p.mu.Lock()
	p.dispatcher = d
	p.consumer = fn
	p.mu.Unlock()
}

func (p *MessagePlane) handle(ctx context.Context, f domain.Frame) {
	msg, ok := f.Message()
	if !ok {
		p.log.Warn().Str("event", f.Event).Int("args", len(f.Args)).Msg("malformed event dropped")
		return
	}
	p.mu.RLock()
	d, fn := p.dispatcher, p.consumer
	p.mu.RUnlock()
	if fn == nil {
		p.log.Debug().Str("sender", string(msg.SenderID)).Msg("no consumer, message dropped")
		return
	}
	err := p.delivery.Dispatch(ctx, func() {
		// Messages queued before a leave are dropped.
		if ctx.Err() != nil {
			return
		}
		if err := d.Dispatch(ctx, func() { fn(msg) }); err != nil {
			p.log.Warn().Err(err).Str("sender", string(msg.SenderID)).Msg("dispatch failed")
		}
	})
	if err != nil {
		p.log.Debug().Err(err).Str("sender", string(msg.SenderID)).Msg("delivery queue rejected message")
	}
}
