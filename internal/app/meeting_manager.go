package app

import (
	"sort"
	"sync"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

type MeetingManagerImpl struct {
	mu       sync.RWMutex
	meetings map[domain.MeetingID]core.MeetingService
}

func NewMeetingManager() core.MeetingManager {
	return &MeetingManagerImpl{meetings: make(map[domain.MeetingID]core.MeetingService)}
}

func (f *MeetingManagerImpl) GetOrCreate(id domain.MeetingID) core.MeetingService {
	f.mu.RLock()
	m, ok := f.meetings[id]
	f.mu.RUnlock()
	if ok {
		return m
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok = f.meetings[id]; ok {
		return m
	}
	m = core.NewMeetingService(&domain.Meeting{ID: id})
	f.meetings[id] = m
	return m
}

func (f *MeetingManagerImpl) Get(id domain.MeetingID) (core.MeetingService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, ok := f.meetings[id]
	return m, ok
}

func (f *MeetingManagerImpl) List() []core.MeetingInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]core.MeetingInfo, 0, len(f.meetings))
	for id, m := range f.meetings {
		out = append(out, core.MeetingInfo{ID: id, MemberCount: m.MemberCount()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StopMeeting drops an empty meeting. Meetings that gained a member meanwhile are kept.
func (f *MeetingManagerImpl) StopMeeting(id domain.MeetingID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.meetings[id]; ok && m.MemberCount() == 0 {
		delete(f.meetings, id)
	}
}
