package storage

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore 是进程内实现，适合测试与无持久化需求的部署。
type MemoryStore struct {
	mu        sync.RWMutex
	kv        map[string]map[string]string
	approvals map[int64]*Approval
	nextID    int64
	now       func() time.Time
}

// NewMemoryStore 创建内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		kv:        make(map[string]map[string]string),
		approvals: make(map[int64]*Approval),
		now:       time.Now,
	}
}

// Get 实现 KV。
func (s *MemoryStore) Get(_ context.Context, user, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.kv[user][key]
	return v, ok, nil
}

// Set 实现 KV。
func (s *MemoryStore) Set(_ context.Context, user, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.kv[user]
	if !ok {
		bucket = make(map[string]string)
		s.kv[user] = bucket
	}
	bucket[key] = value
	return nil
}

// List 实现 KV。
func (s *MemoryStore) List(_ context.Context, user, prefix string) ([]KVEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]KVEntry, 0)
	for k, v := range s.kv[user] {
		if strings.HasPrefix(k, prefix) {
			entries = append(entries, KVEntry{Key: k, Value: v})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// Reset 实现 KV。
func (s *MemoryStore) Reset(_ context.Context, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kv, user)
	return nil
}

// InsertApproval 实现 Ledger。
func (s *MemoryStore) InsertApproval(_ context.Context, user, action, summary string, payload json.RawMessage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.approvals[s.nextID] = &Approval{
		ID:        s.nextID,
		User:      user,
		Action:    action,
		Summary:   summary,
		Payload:   NormalizePayload(payload),
		CreatedAt: s.now().UTC(),
	}
	return s.nextID, nil
}

// ListApprovals 实现 Ledger。
func (s *MemoryStore) ListApprovals(_ context.Context, user string, approved bool) ([]Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Approval, 0)
	for _, a := range s.approvals {
		if a.User == user && a.Approved == approved {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetApproval 实现 Ledger。
func (s *MemoryStore) GetApproval(_ context.Context, id int64) (*Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.approvals[id]
	if !ok {
		return nil, ApprovalNotFound(id)
	}
	clone := *a
	return &clone, nil
}

// MarkApproved 实现 Ledger。
func (s *MemoryStore) MarkApproved(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[id]
	if !ok {
		return false, ApprovalNotFound(id)
	}
	if a.Approved {
		return false, nil
	}
	a.Approved = true
	return true, nil
}

// DeletePending 实现 Ledger。
func (s *MemoryStore) DeletePending(_ context.Context, user string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, a := range s.approvals {
		if a.User == user && !a.Approved {
			delete(s.approvals, id)
			n++
		}
	}
	return n, nil
}

// Close 实现 io.Closer。
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
