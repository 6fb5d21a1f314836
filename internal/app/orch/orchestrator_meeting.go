package orch

import (
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

// JoinGroup is idempotent; it reports whether the user was newly added.
func (o *Orchestrator) JoinGroup(id domain.Identity) bool {
	added := o.Meetings.GetOrCreate(id.MeetingID).AddMember(id.UserID)
	log.Info().Str("module", "orch").Str("user", string(id.UserID)).Str("meeting", string(id.MeetingID)).Bool("added", added).Msg("join group")
	return added
}

// LeaveGroup tolerates absent members and stops meetings that become empty.
func (o *Orchestrator) LeaveGroup(id domain.Identity) bool {
	meeting, ok := o.Meetings.Get(id.MeetingID)
	if !ok {
		return false
	}
	removed := meeting.RemoveMember(id.UserID)
	if meeting.MemberCount() == 0 {
		o.Meetings.StopMeeting(id.MeetingID)
	}
	log.Info().Str("module", "orch").Str("user", string(id.UserID)).Str("meeting", string(id.MeetingID)).Bool("removed", removed).Msg("leave group")
	return removed
}

func (o *Orchestrator) EvictMeeting(mid domain.MeetingID) {
	meeting, ok := o.Meetings.Get(mid)
	if !ok {
		return
	}
	for _, uid := range meeting.Members() {
		meeting.RemoveMember(uid)
	}
	o.Meetings.StopMeeting(mid)
}

func (o *Orchestrator) ListMeetings() []core.MeetingInfo {
	return o.Meetings.List()
}
