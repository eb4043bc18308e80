package conversation

import (
	"context"
	"sync"
)

// MemoryStore 进程内会话存储，单进程使用，重启后历史丢失
type MemoryStore struct {
	mu         sync.RWMutex
	sessions   map[string][]Turn
	maxHistory int
}

// NewMemoryStore 创建内存会话存储
func NewMemoryStore(maxHistory int) *MemoryStore {
	if maxHistory <= 0 {
		maxHistory = 10
	}
	return &MemoryStore{
		sessions:   make(map[string][]Turn),
		maxHistory: maxHistory,
	}
}

func (s *MemoryStore) Append(ctx context.Context, conversantID string, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session := append(s.sessions[conversantID], turns...)
	// 超出上限时先淘汰最旧的消息
	if len(session) > s.maxHistory {
		session = session[len(session)-s.maxHistory:]
	}
	s.sessions[conversantID] = session
	return nil
}

func (s *MemoryStore) History(ctx context.Context, conversantID string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session := s.sessions[conversantID]
	result := make([]Turn, len(session))
	copy(result, session)
	return result, nil
}

func (s *MemoryStore) Clear(ctx context.Context, conversantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, conversantID)
	return nil
}
