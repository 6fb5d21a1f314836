package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

type recordedCall struct {
	Method string
	Path   string
	Query  map[string]string
}

type stubHub struct {
	mu     sync.Mutex
	calls  []recordedCall
	status map[string]int
	body   map[string]string
}

func newStubHub(t *testing.T) (*stubHub, *Client) {
	t.Helper()
	h := &stubHub{status: map[string]int{}, body: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(h.serve))
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BaseURL: srv.URL + "/api"}, srv.Client())
	require.NoError(t, err)
	return h, c
}

func (h *stubHub) serve(w http.ResponseWriter, r *http.Request) {
	q := map[string]string{}
	for k := range r.URL.Query() {
		q[k] = r.URL.Query().Get(k)
	}
	h.mu.Lock()
	h.calls = append(h.calls, recordedCall{Method: r.Method, Path: r.URL.Path, Query: q})
	status, ok := h.status[r.URL.Path]
	body := h.body[r.URL.Path]
	h.mu.Unlock()
	if !ok {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (h *stubHub) set(path string, status int, body string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status[path] = status
	h.body[path] = body
}

func (h *stubHub) recorded() []recordedCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]recordedCall(nil), h.calls...)
}

func TestNegotiate(t *testing.T) {
	req := require.New(t)
	hub, c := newStubHub(t)
	hub.set("/api/negotiate", http.StatusOK, `{"url":"/api/hub","accessToken":"tok-1"}`)

	res, err := c.Negotiate(context.Background(), "alice")
	req.NoError(err)
	req.Equal("tok-1", res.AccessToken)
	req.Contains(res.URL, "/api/hub")
	req.Contains(res.URL, "http://")

	calls := hub.recorded()
	req.Len(calls, 1)
	req.Equal(http.MethodGet, calls[0].Method)
	req.Equal("alice", calls[0].Query["userId"])
}

func TestNegotiateFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: "boom"},
		{name: "malformed json", status: http.StatusOK, body: `{"url":`},
		{name: "missing token", status: http.StatusOK, body: `{"url":"ws://x"}`},
		{name: "missing url", status: http.StatusOK, body: `{"accessToken":"t"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hub, c := newStubHub(t)
			hub.set("/api/negotiate", tc.status, tc.body)

			_, err := c.Negotiate(context.Background(), "alice")
			var negErr *core.NegotiationError
			require.ErrorAs(t, err, &negErr)
			require.Equal(t, tc.status, negErr.Status)
		})
	}
}

func TestNegotiateUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := NewClient(Config{BaseURL: base}, nil)
	require.NoError(t, err)
	_, err = c.Negotiate(context.Background(), "alice")

	var negErr *core.NegotiationError
	require.ErrorAs(t, err, &negErr)
	require.Zero(t, negErr.Status)
}

func TestMembership(t *testing.T) {
	req := require.New(t)
	hub, c := newStubHub(t)
	id := domain.Identity{MeetingID: "mtg1", UserID: "alice"}

	req.NoError(c.Join(context.Background(), id))
	req.NoError(c.Leave(context.Background(), id))

	calls := hub.recorded()
	req.Len(calls, 2)
	req.Equal(recordedCall{Method: http.MethodPost, Path: "/api/JoinGroup", Query: map[string]string{"meetingId": "mtg1", "userId": "alice"}}, calls[0])
	req.Equal(recordedCall{Method: http.MethodPost, Path: "/api/LeaveGroup", Query: map[string]string{"meetingId": "mtg1", "userId": "alice"}}, calls[1])
}

func TestMembershipFailure(t *testing.T) {
	hub, c := newStubHub(t)
	hub.set("/api/JoinGroup", http.StatusForbidden, "")

	err := c.Join(context.Background(), domain.Identity{MeetingID: "mtg1", UserID: "alice"})
	var memErr *core.MembershipError
	require.ErrorAs(t, err, &memErr)
	require.Equal(t, core.OpJoin, memErr.Op)
	require.Equal(t, http.StatusForbidden, memErr.Status)
	require.Equal(t, "mtg1", memErr.MeetingID)
}

func TestPublishEncodesBody(t *testing.T) {
	req := require.New(t)
	hub, c := newStubHub(t)

	body := "hello & goodbye? 100%"
	req.NoError(c.Publish(context.Background(), domain.OutboundMessage{MeetingID: "mtg1", UserID: "alice", Body: body}))

	calls := hub.recorded()
	req.Len(calls, 1)
	req.Equal(http.MethodGet, calls[0].Method)
	req.Equal("/api/MessageSignalR", calls[0].Path)
	req.Equal(body, calls[0].Query["message"])
	req.Equal("mtg1", calls[0].Query["meetingId"])
}

func TestPublishWithPost(t *testing.T) {
	hub := &stubHub{status: map[string]int{}, body: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(hub.serve))
	defer srv.Close()
	c, err := NewClient(Config{BaseURL: srv.URL, SendMethod: "post"}, srv.Client())
	require.NoError(t, err)

	require.NoError(t, c.Publish(context.Background(), domain.OutboundMessage{MeetingID: "m", UserID: "u", Body: "x"}))
	require.Equal(t, http.MethodPost, hub.recorded()[0].Method)
}

func TestPublishFailure(t *testing.T) {
	hub, c := newStubHub(t)
	hub.set("/api/MessageSignalR", http.StatusTooManyRequests, "")

	err := c.Publish(context.Background(), domain.OutboundMessage{MeetingID: "m", UserID: "u", Body: "x"})
	require.ErrorContains(t, err, "429")
}

func TestNewClientRejectsRelativeBase(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "/api"}, nil)
	require.Error(t, err)
}
