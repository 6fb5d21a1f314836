package core

import (
	"sort"
	"sync"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

// meetingImpl is a threadsafe in-memory membership set.
type meetingImpl struct {
	meeting *domain.Meeting
	mu      sync.RWMutex
	members map[domain.UserID]struct{}
}

func NewMeetingService(m *domain.Meeting) MeetingService {
	return &meetingImpl{
		meeting: m,
		members: make(map[domain.UserID]struct{}),
	}
}

func (m *meetingImpl) Meeting() *domain.Meeting { return m.meeting }

func (m *meetingImpl) MemberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.members)
}

func (m *meetingImpl) Has(uid domain.UserID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.members[uid]
	return ok
}

func (m *meetingImpl) AddMember(uid domain.UserID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[uid]; ok {
		return false
	}
	m.members[uid] = struct{}{}
	log.Info().Str("module", "core.meeting").Str("meeting", string(m.meeting.ID)).Str("user", string(uid)).Msg("member added")
	return true
}

func (m *meetingImpl) RemoveMember(uid domain.UserID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[uid]; !ok {
		return false
	}
	delete(m.members, uid)
	log.Info().Str("module", "core.meeting").Str("meeting", string(m.meeting.ID)).Str("user", string(uid)).Msg("member removed")
	return true
}

func (m *meetingImpl) Members() []domain.UserID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.UserID, 0, len(m.members))
	for uid := range m.members {
		out = append(out, uid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
