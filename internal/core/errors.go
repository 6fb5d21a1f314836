package core

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrNotConnected  = errors.New("not connected")
	ErrAlreadyActive = errors.New("session already active")
)

// NegotiationError reports a failed discovery call. Status is zero when no response was received.
type NegotiationError struct {
	Status int
	Err    error
}

func (e *NegotiationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("negotiate: status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("negotiate: %v", e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// ConnectError reports that no transport could open the channel.
type ConnectError struct {
	Transports []string
	Err        error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect via [%s]: %v", strings.Join(e.Transports, ","), e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ConnectionLostError is surfaced once when reconnect attempts are exhausted.
type ConnectionLostError struct {
	Attempts int
	Err      error
}

func (e *ConnectionLostError) Error() string {
	return fmt.Sprintf("connection lost after %d reconnect attempts: %v", e.Attempts, e.Err)
}

func (e *ConnectionLostError) Unwrap() error { return e.Err }

const (
	OpJoin  = "join"
	OpLeave = "leave"
)

// MembershipError reports a failed join or leave side-channel call.
type MembershipError struct {
	Op        string
	MeetingID string
	UserID    string
	Status    int
	Err       error
}

func (e *MembershipError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s/%s: status %d: %v", e.Op, e.MeetingID, e.UserID, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s/%s: %v", e.Op, e.MeetingID, e.UserID, e.Err)
}

func (e *MembershipError) Unwrap() error { return e.Err }

// NotConnected wraps ErrNotConnected with the state the operation was attempted in.
func NotConnected(state ConnectionState) error {
	return errors.Wrapf(ErrNotConnected, "state %s", state)
}
