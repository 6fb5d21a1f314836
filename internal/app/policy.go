package app

import "github.com/dkeye/Meet/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

type Policy interface {
	OnBackPressure(meeting core.MeetingService, sid core.SessionID, member core.MemberSession) BackpressureAction
}

// SimplePolicy disconnects a connection that cannot keep up; the client reconnects and catches up live.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.MeetingService, core.SessionID, core.MemberSession) BackpressureAction {
	return KickMember
}
