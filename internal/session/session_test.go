package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/mocks"
)

type fakeChannel struct {
	name   string
	events chan domain.Frame

	mu     sync.Mutex
	err    error
	ended  bool
	closes int
}

func newFakeChannel(name string) *fakeChannel {
	return &fakeChannel{name: name, events: make(chan domain.Frame, 16)}
}

func (c *fakeChannel) Transport() string           { return c.name }
func (c *fakeChannel) Events() <-chan domain.Frame { return c.events }

func (c *fakeChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	if !c.ended {
		c.ended = true
		close(c.events)
	}
	return nil
}

func (c *fakeChannel) drop(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
	if !c.ended {
		c.ended = true
		close(c.events)
	}
}

func (c *fakeChannel) closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes > 0
}

type statusRecorder struct {
	mu      sync.Mutex
	changes []core.StatusChange
}

func (r *statusRecorder) record(sc core.StatusChange) {
	r.mu.Lock()
	r.changes = append(r.changes, sc)
	r.mu.Unlock()
}

func (r *statusRecorder) states() []core.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.ConnectionState, 0, len(r.changes))
	for _, c := range r.changes {
		out = append(out, c.State)
	}
	return out
}

func (r *statusRecorder) last() core.StatusChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.changes[len(r.changes)-1]
}

func (r *statusRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes)
}

type harness struct {
	neg  *mocks.MockNegotiator
	mem  *mocks.MockMembership
	pub  *mocks.MockPublisher
	ws   *mocks.MockTransport
	lp   *mocks.MockTransport
	sess *Session
	rec  *statusRecorder
}

var (
	alice      = domain.Identity{MeetingID: "mtg1", UserID: "alice"}
	negotiated = domain.NegotiateResult{URL: "http://hub.test/api/hub", AccessToken: "tok"}
)

func fastPolicy(attempts int) ReconnectPolicy {
	return ReconnectPolicy{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
		MaxAttempts:  attempts,
	}
}

func newHarness(t *testing.T, policy ReconnectPolicy) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	h := &harness{
		neg: mocks.NewMockNegotiator(ctrl),
		mem: mocks.NewMockMembership(ctrl),
		pub: mocks.NewMockPublisher(ctrl),
		ws:  mocks.NewMockTransport(ctrl),
		lp:  mocks.NewMockTransport(ctrl),
		rec: &statusRecorder{},
	}
	h.ws.EXPECT().Name().Return("websocket").AnyTimes()
	h.lp.EXPECT().Name().Return("longpolling").AnyTimes()
	h.sess = New(Options{
		Negotiator:   h.neg,
		Membership:   h.mem,
		Publisher:    h.pub,
		Transports:   []core.Transport{h.ws, h.lp},
		Reconnect:    policy,
		LeaveTimeout: time.Second,
	})
	h.sess.OnStatusChange(h.rec.record)
	t.Cleanup(func() { _ = h.sess.Close(context.Background()) })
	return h
}

// joinVia expects one successful connect through the websocket transport.
func (h *harness) joinVia(t *testing.T, ch *fakeChannel) {
	t.Helper()
	h.neg.EXPECT().Negotiate(gomock.Any(), alice.UserID).Return(negotiated, nil)
	h.ws.EXPECT().Open(gomock.Any(), negotiated.URL, negotiated.AccessToken).Return(ch, nil)
	h.mem.EXPECT().Join(gomock.Any(), alice).Return(nil).Times(1)
	require.NoError(t, h.sess.Join(context.Background(), "mtg1", "alice"))
	require.Equal(t, core.Connected, h.sess.State())
}

func TestJoinSendLeaveScenario(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, fastPolicy(3))
	ch := newFakeChannel("websocket")

	h.joinVia(t, ch)
	req.Equal(alice, h.sess.Identity())

	h.pub.EXPECT().Publish(gomock.Any(), domain.OutboundMessage{MeetingID: "mtg1", UserID: "alice", Body: "hello"}).Return(nil).Times(1)
	req.NoError(h.sess.Send(context.Background(), "hello"))

	h.mem.EXPECT().Leave(gomock.Any(), alice).DoAndReturn(func(context.Context, domain.Identity) error {
		req.False(ch.closed(), "membership leave must precede channel close")
		return nil
	}).Times(1)
	req.NoError(h.sess.Leave(context.Background()))

	req.True(ch.closed())
	req.Equal(core.Disconnected, h.sess.State())
	req.Equal([]core.ConnectionState{
		core.Negotiating, core.Connecting, core.Connected, core.Closing, core.Disconnected,
	}, h.rec.states())
}

func TestLeaveWhileDisconnectedIsNoop(t *testing.T) {
	h := newHarness(t, fastPolicy(3))

	require.NoError(t, h.sess.Leave(context.Background()))
	require.Equal(t, core.Disconnected, h.sess.State())
	require.Zero(t, h.rec.len())
}

func TestJoinLeaveRepeatedly(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, fastPolicy(3))

	for i := 0; i < 3; i++ {
		ch := newFakeChannel("websocket")
		h.joinVia(t, ch)
		h.mem.EXPECT().Leave(gomock.Any(), alice).Return(nil).Times(1)
		req.NoError(h.sess.Leave(context.Background()))
		req.NoError(h.sess.Leave(context.Background()))
		req.Equal(core.Disconnected, h.sess.State())
		req.True(ch.closed())
	}
}

func TestJoinWhileActive(t *testing.T) {
	h := newHarness(t, fastPolicy(3))
	h.joinVia(t, newFakeChannel("websocket"))

	err := h.sess.Join(context.Background(), "mtg1", "alice")
	require.ErrorIs(t, err, core.ErrAlreadyActive)
	require.Equal(t, core.Connected, h.sess.State())

	h.mem.EXPECT().Leave(gomock.Any(), alice).Return(nil)
}

func TestJoinRejectsEmptyIdentity(t *testing.T) {
	h := newHarness(t, fastPolicy(3))

	require.ErrorIs(t, h.sess.Join(context.Background(), "", "alice"), domain.ErrMeetingIDEmpty)
	require.ErrorIs(t, h.sess.Join(context.Background(), "mtg1", ""), domain.ErrUserIDEmpty)
	require.Zero(t, h.rec.len())
}

func TestSendRequiresConnected(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, ReconnectPolicy{InitialDelay: time.Hour, MaxAttempts: 1})

	// No Publish expectation: any network call fails the test.
	req.ErrorIs(h.sess.Send(context.Background(), "early"), core.ErrNotConnected)

	ch := newFakeChannel("websocket")
	h.joinVia(t, ch)

	ch.drop(errors.New("network gone"))
	req.Eventually(func() bool { return h.sess.State() == core.Reconnecting }, time.Second, time.Millisecond)
	req.ErrorIs(h.sess.Send(context.Background(), "during reconnect"), core.ErrNotConnected)

	h.mem.EXPECT().Leave(gomock.Any(), alice).Return(nil).Times(1)
	req.NoError(h.sess.Leave(context.Background()))
	req.ErrorIs(h.sess.Send(context.Background(), "late"), core.ErrNotConnected)
}

func TestDropAndRecover(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, fastPolicy(3))
	first, second := newFakeChannel("websocket"), newFakeChannel("websocket")

	h.neg.EXPECT().Negotiate(gomock.Any(), alice.UserID).Return(negotiated, nil).Times(2)
	gomock.InOrder(
		h.ws.EXPECT().Open(gomock.Any(), negotiated.URL, negotiated.AccessToken).Return(first, nil),
		h.ws.EXPECT().Open(gomock.Any(), negotiated.URL, negotiated.AccessToken).Return(second, nil),
	)
	h.mem.EXPECT().Join(gomock.Any(), alice).Return(nil).Times(1)
	req.NoError(h.sess.Join(context.Background(), "mtg1", "alice"))

	first.drop(errors.New("reset by peer"))
	req.Eventually(func() bool { return h.rec.len() == 5 }, time.Second, time.Millisecond)
	req.Equal(core.Connected, h.sess.State())
	req.Equal([]core.ConnectionState{core.Connected, core.Reconnecting, core.Connected}, h.rec.states()[2:])
	req.True(first.closed())
	req.False(second.closed())

	h.mem.EXPECT().Leave(gomock.Any(), alice).Return(nil).Times(1)
	req.NoError(h.sess.Leave(context.Background()))
	req.True(second.closed())
}

func TestReconnectNeverSpins(t *testing.T) {
	cases := []struct {
		name       string
		policy     ReconnectPolicy
		maxRetries int32
	}{
		{name: "zero value uses defaults", policy: ReconnectPolicy{}, maxRetries: 0},
		{name: "unlimited without delay", policy: ReconnectPolicy{MaxAttempts: -1}, maxRetries: 12},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := require.New(t)
			h := newHarness(t, tc.policy)
			ch := newFakeChannel("websocket")

			var calls atomic.Int32
			h.neg.EXPECT().Negotiate(gomock.Any(), alice.UserID).DoAndReturn(
				func(context.Context, domain.UserID) (domain.NegotiateResult, error) {
					if calls.Add(1) == 1 {
						return negotiated, nil
					}
					return domain.NegotiateResult{}, &core.NegotiationError{Status: 503, Err: errors.New("unavailable")}
				}).AnyTimes()
			h.ws.EXPECT().Open(gomock.Any(), negotiated.URL, negotiated.AccessToken).Return(ch, nil)
			h.mem.EXPECT().Join(gomock.Any(), alice).Return(nil)
			req.NoError(h.sess.Join(context.Background(), "mtg1", "alice"))

			ch.drop(errors.New("reset by peer"))
			time.Sleep(100 * time.Millisecond)
			req.LessOrEqual(calls.Load()-1, tc.maxRetries)

			h.mem.EXPECT().Leave(gomock.Any(), alice).Return(nil)
			req.NoError(h.sess.Leave(context.Background()))
			req.Equal(core.Disconnected, h.sess.State())
		})
	}
}

func TestReconnectExhausted(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, fastPolicy(2))
	ch := newFakeChannel("websocket")

	gomock.InOrder(
		h.neg.EXPECT().Negotiate(gomock.Any(), alice.UserID).Return(negotiated, nil),
		h.neg.EXPECT().Negotiate(gomock.Any(), alice.UserID).Return(domain.NegotiateResult{}, &core.NegotiationError{Status: 503}).Times(2),
	)
	h.ws.EXPECT().Open(gomock.Any(), gomock.Any(), gomock.Any()).Return(ch, nil)
	h.mem.EXPECT().Join(gomock.Any(), alice).Return(nil).Times(1)
	h.mem.EXPECT().Leave(gomock.Any(), alice).Return(nil).Times(1)
	req.NoError(h.sess.Join(context.Background(), "mtg1", "alice"))

	ch.drop(errors.New("gone"))
	req.Eventually(func() bool { return h.rec.len() == 5 }, time.Second, time.Millisecond)

	req.Equal([]core.ConnectionState{core.Connected, core.Reconnecting, core.Disconnected}, h.rec.states()[2:])
	var lost *core.ConnectionLostError
	req.ErrorAs(h.rec.last().Err, &lost)
	req.Equal(2, lost.Attempts)
	req.Equal(core.Disconnected, h.sess.State())

	// Already torn down: no second membership leave.
	req.NoError(h.sess.Leave(context.Background()))
	req.Equal(5, h.rec.len())
}

func TestNegotiationFailure(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, fastPolicy(3))

	h.neg.EXPECT().Negotiate(gomock.Any(), alice.UserID).
		Return(domain.NegotiateResult{}, &core.NegotiationError{Status: 500, Err: errors.New("internal")})
	// No Open or Join expectations: either call fails the test.

	err := h.sess.Join(context.Background(), "mtg1", "alice")
	var negErr *core.NegotiationError
	req.ErrorAs(err, &negErr)
	req.Equal(500, negErr.Status)
	req.Equal(core.Disconnected, h.sess.State())
	req.Equal([]core.ConnectionState{core.Negotiating, core.Disconnected}, h.rec.states())
	req.ErrorAs(h.rec.last().Err, &negErr)
}

func TestTransportFallbackOrder(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, fastPolicy(3))
	ch := newFakeChannel("longpolling")

	h.neg.EXPECT().Negotiate(gomock.Any(), alice.UserID).Return(negotiated, nil)
	gomock.InOrder(
		h.ws.EXPECT().Open(gomock.Any(), negotiated.URL, negotiated.AccessToken).Return(nil, errors.New("upgrade refused")),
		h.lp.EXPECT().Open(gomock.Any(), negotiated.URL, negotiated.AccessToken).Return(ch, nil),
	)
	h.mem.EXPECT().Join(gomock.Any(), alice).Return(nil)
	req.NoError(h.sess.Join(context.Background(), "mtg1", "alice"))

	h.mem.EXPECT().Leave(gomock.Any(), alice).Return(nil)
	req.NoError(h.sess.Leave(context.Background()))
	req.True(ch.closed())
}

func TestAllTransportsFail(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, fastPolicy(3))

	h.neg.EXPECT().Negotiate(gomock.Any(), alice.UserID).Return(negotiated, nil)
	h.ws.EXPECT().Open(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("refused"))
	h.lp.EXPECT().Open(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("404"))

	err := h.sess.Join(context.Background(), "mtg1", "alice")
	var connErr *core.ConnectError
	req.ErrorAs(err, &connErr)
	req.Equal([]string{"websocket", "longpolling"}, connErr.Transports)
	req.Equal([]core.ConnectionState{core.Negotiating, core.Connecting, core.Disconnected}, h.rec.states())
}

func TestMembershipJoinFailureIsFatal(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, fastPolicy(3))
	ch := newFakeChannel("websocket")

	h.neg.EXPECT().Negotiate(gomock.Any(), alice.UserID).Return(negotiated, nil)
	h.ws.EXPECT().Open(gomock.Any(), gomock.Any(), gomock.Any()).Return(ch, nil)
	h.mem.EXPECT().Join(gomock.Any(), alice).Return(&core.MembershipError{Op: core.OpJoin, Status: 403})

	err := h.sess.Join(context.Background(), "mtg1", "alice")
	var memErr *core.MembershipError
	req.ErrorAs(err, &memErr)
	req.True(ch.closed())
	req.Equal(core.Disconnected, h.sess.State())
	req.NotContains(h.rec.states(), core.Connected)
}

func TestLeaveFailureStillTearsDown(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, fastPolicy(3))
	ch := newFakeChannel("websocket")
	h.joinVia(t, ch)

	h.mem.EXPECT().Leave(gomock.Any(), alice).Return(&core.MembershipError{Op: core.OpLeave, Err: context.DeadlineExceeded})
	err := h.sess.Leave(context.Background())

	var memErr *core.MembershipError
	req.ErrorAs(err, &memErr)
	req.Equal(core.Disconnected, h.sess.State())
	req.True(ch.closed())
}

func TestLeaveCancelsPendingNegotiate(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, fastPolicy(3))

	h.neg.EXPECT().Negotiate(gomock.Any(), alice.UserID).DoAndReturn(
		func(ctx context.Context, _ domain.UserID) (domain.NegotiateResult, error) {
			<-ctx.Done()
			return domain.NegotiateResult{}, &core.NegotiationError{Err: ctx.Err()}
		})

	joined := make(chan error, 1)
	go func() { joined <- h.sess.Join(context.Background(), "mtg1", "alice") }()
	req.Eventually(func() bool { return h.sess.State() == core.Negotiating }, time.Second, time.Millisecond)

	req.NoError(h.sess.Leave(context.Background()))
	req.ErrorIs(<-joined, ErrLeft)
	req.Equal(core.Disconnected, h.sess.State())
	req.Equal([]core.ConnectionState{core.Negotiating, core.Closing, core.Disconnected}, h.rec.states())
}

func TestInboundDispatchOrder(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, fastPolicy(3))
	ch := newFakeChannel("websocket")

	var mu sync.Mutex
	var got []domain.InboundMessage
	h.sess.OnMessage(nil, func(m domain.InboundMessage) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	})
	h.joinVia(t, ch)

	ch.events <- domain.NewEventFrame(domain.DefaultEventName, "A", "hi")
	ch.events <- domain.Frame{Type: domain.FrameEvent, Event: "SomethingElse", Args: []string{"X", "ignored"}}
	ch.events <- domain.Frame{Type: domain.FrameEvent, Event: domain.DefaultEventName, Args: []string{"broken"}}
	ch.events <- domain.NewEventFrame(domain.DefaultEventName, "B", "yo")

	req.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, time.Millisecond)
	mu.Lock()
	req.Equal([]domain.InboundMessage{{SenderID: "A", Body: "hi"}, {SenderID: "B", Body: "yo"}}, got)
	mu.Unlock()

	h.mem.EXPECT().Leave(gomock.Any(), alice).Return(nil)
}

func TestInboundUsesConsumerDispatcher(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, fastPolicy(3))
	ch := newFakeChannel("websocket")

	loop := make(ChanDispatcher)
	h.sess.OnMessage(loop, func(m domain.InboundMessage) {})
	h.joinVia(t, ch)

	ch.events <- domain.NewEventFrame(domain.DefaultEventName, "A", "hi")
	select {
	case fn := <-loop:
		fn()
	case <-time.After(time.Second):
		req.Fail("message was not funnelled through the consumer dispatcher")
	}

	h.mem.EXPECT().Leave(gomock.Any(), alice).Return(nil)
}

func TestLeaveFromInlineConsumer(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, fastPolicy(3))
	ch := newFakeChannel("websocket")

	left := make(chan error, 1)
	h.sess.OnMessage(Inline, func(domain.InboundMessage) {
		left <- h.sess.Leave(context.Background())
	})
	h.joinVia(t, ch)
	h.mem.EXPECT().Leave(gomock.Any(), alice).Return(nil).Times(1)

	ch.events <- domain.NewEventFrame(domain.DefaultEventName, "host", "meeting ended")
	select {
	case err := <-left:
		req.NoError(err)
	case <-time.After(2 * time.Second):
		req.FailNow("leave from the message callback did not return")
	}
	req.Equal(core.Disconnected, h.sess.State())
	req.True(ch.closed())
	req.Equal([]core.ConnectionState{core.Closing, core.Disconnected}, h.rec.states()[3:])
}

func TestIdentityFollowsSession(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, fastPolicy(3))
	req.Zero(h.sess.Identity())

	var mu sync.Mutex
	seen := map[core.ConnectionState]domain.Identity{}
	h.sess.OnStatusChange(func(sc core.StatusChange) {
		id := h.sess.Identity()
		mu.Lock()
		seen[sc.State] = id
		mu.Unlock()
	})
	h.joinVia(t, newFakeChannel("websocket"))
	h.mem.EXPECT().Leave(gomock.Any(), alice).Return(nil)
	req.NoError(h.sess.Leave(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	req.Equal(alice, seen[core.Negotiating])
	req.Equal(alice, seen[core.Connecting])
	req.Equal(alice, seen[core.Closing])
	req.Zero(seen[core.Disconnected])
	req.Zero(h.sess.Identity())
}
