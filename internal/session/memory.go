package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore 以内存方式保存会话，主要用于测试和单机部署。
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session), now: time.Now}
}

// Create 铸造一个新的会话。
func (m *MemoryStore) Create(context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	s := &Session{
		ID:        uuid.NewString(),
		Status:    StatusNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.sessions[s.ID] = s
	return cloneSession(s), nil
}

// Get 返回会话副本。
func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(s), nil
}

// AppendTurn 追加一条轮次并分配序号。
func (m *MemoryStore) AppendTurn(_ context.Context, id string, role Role, content string) (Turn, error) {
	if err := ValidateTurn(role, content); err != nil {
		return Turn{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Turn{}, ErrNotFound
	}
	now := m.now().UTC()
	turn := Turn{
		Seq:       int64(len(s.Turns)) + 1,
		Role:      role,
		Content:   content,
		CreatedAt: now,
	}
	s.Turns = append(s.Turns, turn)
	s.Status = NextStatus(s.Status)
	s.UpdatedAt = now
	return turn, nil
}

// UpdateIntent 按序号保护写入最新意图。
func (m *MemoryStore) UpdateIntent(_ context.Context, id string, intent Intent, status Status, seq int64) (UpdateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return UpdateResult{}, ErrNotFound
	}
	result := UpdateResult{Previous: s.Status, Current: s.Status}
	if seq < s.AnalyzedSeq {
		return result, nil
	}
	copied := intent.Normalized()
	s.LatestIntent = &copied
	s.Status = status
	s.AnalyzedSeq = seq
	s.UpdatedAt = m.now().UTC()
	result.Applied = true
	result.Current = status
	return result, nil
}

// Close 实现 Store。
func (m *MemoryStore) Close() error { return nil }

func cloneSession(s *Session) *Session {
	clone := *s
	clone.Turns = append([]Turn(nil), s.Turns...)
	if s.LatestIntent != nil {
		intent := *s.LatestIntent
		intent.KeyNeeds = append([]string(nil), s.LatestIntent.KeyNeeds...)
		clone.LatestIntent = &intent
	}
	return &clone
}

var _ Store = (*MemoryStore)(nil)
