// Package session is the client-side connection manager: it negotiates a
// channel, keeps it supervised and in sync with group membership, and
// dispatches inbound messages to a consumer.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

type Options struct {
	Negotiator core.Negotiator
	Membership core.Membership
	Publisher  core.Publisher
	Transports []core.Transport

	Reconnect    ReconnectPolicy
	EventName    string
	LeaveTimeout time.Duration
	// DispatchBuffer sizes the delivery queue.
	DispatchBuffer int
}

// Session is the single entry point a shell uses.
// Join while a session is active returns core.ErrAlreadyActive.
type Session struct {
	sup      *Supervisor
	plane    *MessagePlane
	members  core.Membership
	delivery *SerialDispatcher
	log      zerolog.Logger

	mu       sync.RWMutex
	identity domain.Identity
}

func New(opts Options) *Session {
	if opts.DispatchBuffer <= 0 {
		opts.DispatchBuffer = 64
	}
	sup := NewSupervisor(opts.Negotiator, SupervisorConfig{
		Transports:     opts.Transports,
		Reconnect:      opts.Reconnect,
		EventName:      opts.EventName,
		ReleaseTimeout: opts.LeaveTimeout,
	})
	delivery := NewSerialDispatcher(opts.DispatchBuffer)
	s := &Session{
		sup:      sup,
		plane:    NewMessagePlane(opts.Publisher, sup.State, delivery),
		members:  opts.Membership,
		delivery: delivery,
		log:      log.With().Str("module", "session").Logger(),
	}
	sup.OnEvent(s.plane.handle)
	return s
}

// Join connects to meetingID as userID and returns once the session is Connected
// or the attempt has failed and settled in Disconnected.
func (s *Session) Join(ctx context.Context, meetingID, userID string) error {
	id, err := domain.NewIdentity(meetingID, userID)
	if err != nil {
		return err
	}
	err = s.sup.Connect(ctx, id.UserID, Lifecycle{
		Start: func() {
			s.mu.Lock()
			s.identity = id
			s.mu.Unlock()
		},
		Ready: func(ctx context.Context) error {
			return s.members.Join(ctx, id)
		},
		Release: func(ctx context.Context) error {
			return s.members.Leave(ctx, id)
		},
	})
	if err != nil {
		if !errors.Is(err, core.ErrAlreadyActive) {
			s.log.Warn().Err(err).Str("meeting", meetingID).Str("user", userID).Msg("join failed")
		}
		return err
	}
	s.log.Info().Str("meeting", meetingID).Str("user", userID).Msg("joined")
	return nil
}

// Leave revokes membership and closes the channel. It is a no-op when
// Disconnected. A failed membership leave is returned after teardown completes.
func (s *Session) Leave(ctx context.Context) error {
	err := s.sup.Close(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("leave completed with membership error")
	}
	return err
}

func (s *Session) Send(ctx context.Context, body string) error {
	return s.plane.Send(ctx, s.Identity(), body)
}

// OnMessage registers the single consumer. Callbacks run on the session's
// delivery goroutine (a nil d or Inline) or are handed to d from there, so fn
// may call Leave.
func (s *Session) OnMessage(d core.Dispatcher, fn func(domain.InboundMessage)) {
	s.plane.OnMessage(d, fn)
}

// OnStatusChange registers the status listener; see Supervisor.OnStatus.
func (s *Session) OnStatusChange(fn func(core.StatusChange)) {
	s.sup.OnStatus(fn)
}

func (s *Session) State() core.ConnectionState {
	return s.sup.State()
}

// Identity is the meeting and user of the current join; zero while Disconnected.
func (s *Session) Identity() domain.Identity {
	if !s.sup.State().Active() {
		return domain.Identity{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// Close leaves and stops the delivery goroutine. The session is unusable afterwards.
func (s *Session) Close(ctx context.Context) error {
	err := s.Leave(ctx)
	s.delivery.stopAsync()
	return err
}
