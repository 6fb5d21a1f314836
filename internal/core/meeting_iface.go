package core

import (
	"github.com/dkeye/Meet/internal/domain"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []SessionID
}

// MeetingService is the core-facing API of a meeting group.
// It owns the membership set but never touches transport resources.
type MeetingService interface {
	Meeting() *domain.Meeting
	MemberCount() int
	Members() []domain.UserID
	Has(uid domain.UserID) bool

	// AddMember reports whether uid was newly added.
	AddMember(uid domain.UserID) bool
	// RemoveMember reports whether uid was present.
	RemoveMember(uid domain.UserID) bool
}

type MeetingInfo struct {
	ID          domain.MeetingID `json:"id"`
	MemberCount int              `json:"member_count"`
}

type MeetingManager interface {
	GetOrCreate(id domain.MeetingID) MeetingService
	Get(id domain.MeetingID) (MeetingService, bool)
	List() []MeetingInfo
	StopMeeting(id domain.MeetingID)
}
