package dispatch

import (
	"sync"

	"context"
)

type seenKey struct {
	jobID  int64
	memoID int64
}

// MemoryStore 在内存里维护去重集合，进程重启后丢失。回调本身是
// 幂等的（状态机会拒绝重复转移），丢失只会带来多余的只读请求。
type MemoryStore struct {
	mu   sync.Mutex
	seen map[seenKey]struct{}
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[seenKey]struct{})}
}

// MarkSeen 实现 SeenStore。
func (m *MemoryStore) MarkSeen(_ context.Context, jobID, memoID int64) (bool, error) {
	key := seenKey{jobID: jobID, memoID: memoID}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[key]; ok {
		return false, nil
	}
	m.seen[key] = struct{}{}
	return true, nil
}

// Seen 实现 SeenStore。
func (m *MemoryStore) Seen(_ context.Context, jobID, memoID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[seenKey{jobID: jobID, memoID: memoID}]
	return ok, nil
}

// Close 实现 SeenStore。
func (m *MemoryStore) Close() error {
	return nil
}
