package repository

import (
	"context"
	"sync"
	"time"
)

type nudgeKey struct {
	tgID, challengeID int64
}

// Memory is a process-local Store used when no DATABASE_URL is configured.
type Memory struct {
	mu       sync.Mutex
	sessions map[int64]Session
	nudges   map[nudgeKey]map[int64]time.Time
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[int64]Session),
		nudges:   make(map[nudgeKey]map[int64]time.Time),
		now:      time.Now,
	}
}

func (m *Memory) GetSession(_ context.Context, tgID int64) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[tgID]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *Memory) SaveSession(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.UpdatedAt = m.now()
	m.sessions[s.TelegramID] = s
	return nil
}

func (m *Memory) DeleteSession(_ context.Context, tgID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, tgID)
	return nil
}

func (m *Memory) SaveNudge(_ context.Context, tgID, challengeID, participantID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := nudgeKey{tgID, challengeID}
	entries, ok := m.nudges[key]
	if !ok {
		entries = make(map[int64]time.Time)
		m.nudges[key] = entries
	}
	if cur, ok := entries[participantID]; !ok || at.After(cur) {
		entries[participantID] = at
	}
	return nil
}

func (m *Memory) LoadNudges(_ context.Context, tgID, challengeID int64) (map[int64]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]time.Time)
	for id, at := range m.nudges[nudgeKey{tgID, challengeID}] {
		out[id] = at
	}
	return out, nil
}

func (m *Memory) DeleteNudges(_ context.Context, tgID, challengeID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nudges, nudgeKey{tgID, challengeID})
	return nil
}
