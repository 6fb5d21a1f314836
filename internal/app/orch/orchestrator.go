// Package orch wires hub state together: membership, live connections and fan-out.
package orch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

var ErrRateLimited = errors.New("rate limited")

type Orchestrator struct {
	Registry  *app.Registry
	Meetings  core.MeetingManager
	Policy    app.Policy
	Broker    app.Broker
	Tokens    *app.TokenIssuer
	Limiter   *app.SendRateLimiter
	EventName string
}

// Run delivers broker traffic to local connections and prunes limiter state until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return o.Broker.Run(ctx, o.Deliver)
	})
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				o.Limiter.Forget()
			}
		}
	})
	return g.Wait()
}

// Close releases the broker connection.
func (o *Orchestrator) Close() error {
	return o.Broker.Close()
}

// Publish sends body from id.UserID to every member of id.MeetingID.
func (o *Orchestrator) Publish(ctx context.Context, id domain.Identity, body string) error {
	if !o.Limiter.Allow(id.UserID) {
		return ErrRateLimited
	}
	frame, err := json.Marshal(domain.NewEventFrame(o.eventName(), id.UserID, body))
	if err != nil {
		return errors.Wrap(err, "encode frame")
	}
	return o.Broker.Publish(ctx, id.MeetingID, frame)
}

// Deliver fans frame out to every live connection of every member.
func (o *Orchestrator) Deliver(mid domain.MeetingID, frame core.Frame) {
	meeting, ok := o.Meetings.Get(mid)
	if !ok {
		return
	}
	res := core.PublishResult{}
	for _, uid := range meeting.Members() {
		for _, snap := range o.Registry.SessionsOf(uid) {
			if err := snap.Session.Signal().TrySend(frame); err != nil {
				res.Dropped = append(res.Dropped, snap.SID)
				continue
			}
			res.SendTo++
		}
	}
	log.Debug().Str("module", "orch").Str("meeting", string(mid)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("deliver result")

	if o.Policy == nil {
		return
	}
	for _, sid := range res.Dropped {
		sess, ok := o.Registry.GetSession(sid)
		if !ok {
			continue
		}
		switch o.Policy.OnBackPressure(meeting, sid, sess) {
		case app.KickMember:
			o.KickBySID(sid)
		case app.DropFrame, app.NoAction:
		}
	}
}

func (o *Orchestrator) eventName() string {
	if o.EventName == "" {
		return domain.DefaultEventName
	}
	return o.EventName
}
