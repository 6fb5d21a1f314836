package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

var (
	// ErrLeft is returned by a Connect that was interrupted by Close.
	ErrLeft = errors.New("session left")

	errChannelEnded = errors.New("channel ended")
	errNoTransports = errors.New("no transports configured")
)

// Lifecycle hooks bind the channel to out-of-band state.
type Lifecycle struct {
	// Start runs under the state lock as Connect leaves Disconnected. It must not block.
	Start func()
	// Ready runs once after the first channel opens and before the session is Connected.
	Ready func(ctx context.Context) error
	// Release runs once when a session whose Ready ran is torn down.
	Release func(ctx context.Context) error
}

type SupervisorConfig struct {
	Transports     []core.Transport
	Reconnect      ReconnectPolicy
	EventName      string
	ReleaseTimeout time.Duration
}

// Supervisor owns the connection state machine and the single channel of a session.
type Supervisor struct {
	negotiator     core.Negotiator
	transports     []core.Transport
	policy         ReconnectPolicy
	eventName      string
	releaseTimeout time.Duration
	log            zerolog.Logger

	opMu     sync.Mutex // serializes Connect and Close
	notifyMu sync.Mutex // keeps status callbacks in transition order

	mu       sync.Mutex
	state    core.ConnectionState
	userID   domain.UserID
	channel  core.Channel
	cancel   context.CancelCauseFunc
	closing  bool
	lc       Lifecycle
	readyRan bool
	onStatus func(core.StatusChange)
	onEvent  func(context.Context, domain.Frame)

	wg sync.WaitGroup
}

func NewSupervisor(n core.Negotiator, cfg SupervisorConfig) *Supervisor {
	if cfg.EventName == "" {
		cfg.EventName = domain.DefaultEventName
	}
	if cfg.ReleaseTimeout <= 0 {
		cfg.ReleaseTimeout = 5 * time.Second
	}
	return &Supervisor{
		negotiator:     n,
		transports:     cfg.Transports,
		policy:         cfg.Reconnect.normalized(),
		eventName:      cfg.EventName,
		releaseTimeout: cfg.ReleaseTimeout,
		log:            log.With().Str("module", "session.supervisor").Logger(),
	}
}

func (s *Supervisor) State() core.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnStatus registers the status listener. It is called synchronously from the
// goroutine performing the transition and must not call Connect or Close.
func (s *Supervisor) OnStatus(fn func(core.StatusChange)) {
	s.mu.Lock()
	s.onStatus = fn
	s.mu.Unlock()
}

// OnEvent registers the handler for the named inbound event.
func (s *Supervisor) OnEvent(fn func(context.Context, domain.Frame)) {
	s.mu.Lock()
	s.onEvent = fn
	s.mu.Unlock()
}

// Connect negotiates, opens a channel and runs lc.Ready. On success the session
// is Connected and supervised until Close or until reconnects are exhausted.
func (s *Supervisor) Connect(ctx context.Context, userID domain.UserID, lc Lifecycle) error {
	if s.State().Active() {
		return core.ErrAlreadyActive
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	lifeCtx, cancel := context.WithCancelCause(context.Background())
	started := s.transition(core.Negotiating, nil, func() bool {
		if s.state != core.Disconnected {
			return false
		}
		s.userID = userID
		s.cancel = cancel
		s.closing = false
		s.lc = lc
		s.readyRan = false
		if lc.Start != nil {
			lc.Start()
		}
		return true
	})
	if !started {
		cancel(nil)
		return core.ErrAlreadyActive
	}

	attemptCtx, cancelAttempt := context.WithCancelCause(ctx)
	stop := context.AfterFunc(lifeCtx, func() { cancelAttempt(context.Cause(lifeCtx)) })
	defer func() {
		stop()
		cancelAttempt(nil)
	}()

	res, err := s.negotiator.Negotiate(attemptCtx, userID)
	if err != nil {
		return s.abort(lifeCtx, err)
	}
	if !s.transition(core.Connecting, nil, s.notClosing) {
		return ErrLeft
	}

	ch, err := s.open(attemptCtx, res)
	if err != nil {
		return s.abort(lifeCtx, err)
	}

	if lc.Ready != nil {
		s.mu.Lock()
		s.readyRan = true
		s.mu.Unlock()
		if err := lc.Ready(attemptCtx); err != nil {
			s.closeChannel(ch)
			return s.abort(lifeCtx, err)
		}
	}

	connected := s.transition(core.Connected, nil, func() bool {
		if s.closing {
			return false
		}
		s.channel = ch
		return true
	})
	if !connected {
		s.closeChannel(ch)
		return ErrLeft
	}

	s.wg.Add(1)
	go s.supervise(lifeCtx, ch)
	return nil
}

// Close cancels any pending attempt or backoff, runs Release, closes the
// channel and settles in Disconnected. The returned error is the Release error;
// teardown completes regardless.
func (s *Supervisor) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.state == core.Disconnected {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel(ErrLeft)
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.wg.Wait()

	s.mu.Lock()
	if s.state == core.Disconnected {
		s.mu.Unlock()
		return nil
	}
	lc, readyRan := s.lc, s.readyRan
	s.mu.Unlock()

	s.transition(core.Closing, nil, nil)

	var relErr error
	if readyRan {
		relErr = s.release(ctx, lc)
	}

	s.mu.Lock()
	ch := s.channel
	s.channel = nil
	s.mu.Unlock()
	if ch != nil {
		s.closeChannel(ch)
	}

	s.transition(core.Disconnected, nil, s.reset)
	return relErr
}

// abort settles a failed Connect. When Close interrupted the attempt, Close owns teardown.
func (s *Supervisor) abort(lifeCtx context.Context, cause error) error {
	if lifeCtx.Err() != nil {
		return errors.Wrap(context.Cause(lifeCtx), "connect")
	}
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if !s.transition(core.Disconnected, cause, func() bool {
		if s.closing {
			return false
		}
		s.reset()
		return true
	}) {
		return ErrLeft
	}
	if cancel != nil {
		cancel(cause)
	}
	s.log.Warn().Err(cause).Str("user", string(s.userID)).Msg("connect failed")
	return cause
}

func (s *Supervisor) supervise(lifeCtx context.Context, ch core.Channel) {
	defer s.wg.Done()
	for {
		err := s.pump(lifeCtx, ch)
		if lifeCtx.Err() != nil {
			return
		}
		if err == nil {
			err = errChannelEnded
		}
		s.log.Warn().Err(err).Str("transport", ch.Transport()).Msg("channel dropped")

		if !s.transition(core.Reconnecting, err, func() bool {
			if s.closing {
				return false
			}
			s.channel = nil
			return true
		}) {
			return
		}
		s.closeChannel(ch)

		next, attempts, rerr := s.reconnect(lifeCtx)
		if rerr != nil {
			if lifeCtx.Err() != nil {
				return
			}
			s.lost(&core.ConnectionLostError{Attempts: attempts, Err: rerr})
			return
		}

		if !s.transition(core.Connected, nil, func() bool {
			if s.closing {
				return false
			}
			s.channel = next
			return true
		}) {
			s.closeChannel(next)
			return
		}
		s.log.Info().Str("transport", next.Transport()).Int("attempts", attempts).Msg("reconnected")
		ch = next
	}
}

// pump routes inbound frames until the channel ends (returning its error) or ctx is done.
func (s *Supervisor) pump(ctx context.Context, ch core.Channel) error {
	events := ch.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-events:
			if !ok {
				return ch.Err()
			}
			if f.Type != domain.FrameEvent || f.Event != s.eventName {
				s.log.Debug().Str("type", f.Type).Str("event", f.Event).Msg("ignored frame")
				continue
			}
			s.mu.Lock()
			h := s.onEvent
			s.mu.Unlock()
			if h != nil {
				h(ctx, f)
			}
		}
	}
}

func (s *Supervisor) reconnect(ctx context.Context) (core.Channel, int, error) {
	b := s.policy.backOff()
	var lastErr error
	attempts := 0
	for !s.policy.exhausted(attempts) {
		timer := time.NewTimer(b.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, attempts, context.Cause(ctx)
		case <-timer.C:
		}

		attempts++
		ch, err := s.dial(ctx)
		if err == nil {
			return ch, attempts, nil
		}
		lastErr = err
		s.log.Warn().Err(err).Int("attempt", attempts).Msg("reconnect attempt failed")
	}
	return nil, attempts, lastErr
}

func (s *Supervisor) dial(ctx context.Context) (core.Channel, error) {
	s.mu.Lock()
	uid := s.userID
	s.mu.Unlock()
	res, err := s.negotiator.Negotiate(ctx, uid)
	if err != nil {
		return nil, err
	}
	return s.open(ctx, res)
}

// open tries each transport in priority order.
func (s *Supervisor) open(ctx context.Context, res domain.NegotiateResult) (core.Channel, error) {
	var errs error
	names := make([]string, 0, len(s.transports))
	for _, t := range s.transports {
		names = append(names, t.Name())
		ch, err := t.Open(ctx, res.URL, res.AccessToken)
		if err == nil {
			s.log.Info().Str("transport", t.Name()).Msg("channel open")
			return ch, nil
		}
		s.log.Debug().Err(err).Str("transport", t.Name()).Msg("transport failed")
		errs = multierr.Append(errs, errors.Wrap(err, t.Name()))
		if ctx.Err() != nil {
			break
		}
	}
	if errs == nil {
		errs = errNoTransports
	}
	return nil, &core.ConnectError{Transports: names, Err: errs}
}

// lost ends a session whose reconnects are exhausted, unless Close got there first.
func (s *Supervisor) lost(cause *core.ConnectionLostError) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	lc, readyRan, cancel := s.lc, s.readyRan, s.cancel
	s.mu.Unlock()

	s.log.Error().Err(cause).Msg("connection lost")
	if readyRan {
		_ = s.release(context.Background(), lc)
	}
	s.transition(core.Disconnected, cause, s.reset)
	if cancel != nil {
		cancel(cause)
	}
}

func (s *Supervisor) release(ctx context.Context, lc Lifecycle) error {
	if lc.Release == nil {
		return nil
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.releaseTimeout)
	defer cancel()
	if err := lc.Release(rctx); err != nil {
		s.log.Warn().Err(err).Msg("release failed")
		return err
	}
	return nil
}

func (s *Supervisor) closeChannel(ch core.Channel) {
	if err := ch.Close(); err != nil {
		s.log.Debug().Err(err).Str("transport", ch.Transport()).Msg("channel close")
	}
}

// notClosing and reset run under s.mu from transition guards.
func (s *Supervisor) notClosing() bool { return !s.closing }

func (s *Supervisor) reset() bool {
	s.cancel = nil
	s.closing = false
	s.channel = nil
	s.readyRan = false
	s.lc = Lifecycle{}
	return true
}

// transition moves to state `to` if guard (run under s.mu) allows it, then
// notifies the status listener. Callbacks are never coalesced or reordered.
func (s *Supervisor) transition(to core.ConnectionState, cause error, guard func() bool) bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if guard != nil && !guard() {
		s.mu.Unlock()
		return false
	}
	from := s.state
	s.state = to
	cb := s.onStatus
	s.mu.Unlock()

	ev := s.log.Info().Str("from", from.String()).Str("to", to.String())
	if cause != nil {
		ev = ev.AnErr("cause", cause)
	}
	ev.Msg("state")
	if cb != nil {
		cb(core.StatusChange{State: to, Err: cause})
	}
	return true
}
