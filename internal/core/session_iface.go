package core

//go:generate go run go.uber.org/mock/mockgen -source=session_iface.go -destination=../mocks/mock_session.go -package=mocks

import (
	"context"

	"github.com/dkeye/Meet/internal/domain"
)

// Negotiator exchanges a user identity for a channel endpoint and credential.
type Negotiator interface {
	Negotiate(ctx context.Context, userID domain.UserID) (domain.NegotiateResult, error)
}

// Membership issues join/leave calls over the side-channel.
type Membership interface {
	Join(ctx context.Context, id domain.Identity) error
	Leave(ctx context.Context, id domain.Identity) error
}

// Publisher sends one outbound message over the side-channel.
type Publisher interface {
	Publish(ctx context.Context, msg domain.OutboundMessage) error
}

// Transport opens a streaming channel to a negotiated endpoint.
type Transport interface {
	Name() string
	Open(ctx context.Context, endpoint, token string) (Channel, error)
}

// Channel is an open streaming connection.
// Events is closed when the channel ends; Err then reports why (nil after Close).
type Channel interface {
	Transport() string
	Events() <-chan domain.Frame
	Err() error
	Close() error
}

// Dispatcher runs fn in the consumer's delivery context, in submission order.
type Dispatcher interface {
	Dispatch(ctx context.Context, fn func()) error
}
