// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
)

const MaxIDLen = 64

var (
	ErrUserIDEmpty    = errors.New("user id empty")
	ErrMeetingIDEmpty = errors.New("meeting id empty")
	ErrIDTooLong      = errors.New("id too long")
)

type (
	UserID    string
	MeetingID string
)

type User struct {
	ID UserID `json:"id"`
}

// Identity names one participant of one meeting. It does not change for the lifetime of a session.
type Identity struct {
	MeetingID MeetingID `json:"meetingId"`
	UserID    UserID    `json:"userId"`
}

func NewIdentity(meetingID, userID string) (Identity, error) {
	id := Identity{MeetingID: MeetingID(meetingID), UserID: UserID(userID)}
	return id, id.Validate()
}

func (id Identity) Validate() error {
	if len(id.MeetingID) == 0 {
		return ErrMeetingIDEmpty
	}
	if len(id.UserID) == 0 {
		return ErrUserIDEmpty
	}
	if len(id.MeetingID) > MaxIDLen || len(id.UserID) > MaxIDLen {
		return ErrIDTooLong
	}
	return nil
}

func ValidateUserID(uid string) error {
	if len(uid) == 0 {
		return ErrUserIDEmpty
	}
	if len(uid) > MaxIDLen {
		return ErrIDTooLong
	}
	return nil
}
