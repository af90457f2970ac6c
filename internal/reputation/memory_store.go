package reputation

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local dev.
type MemoryStore struct {
	mu        sync.RWMutex
	receivers map[string]*Receiver
	flags     map[string]*Flag // userID|receiverID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		receivers: make(map[string]*Receiver),
		flags:     make(map[string]*Flag),
	}
}

func flagKey(userID, receiverID string) string {
	return userID + "|" + receiverID
}

func (s *MemoryStore) Get(ctx context.Context, receiverID string) (*Receiver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.receivers[receiverID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) Report(ctx context.Context, receiverID string, fraud bool, at time.Time) (*Receiver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receivers[receiverID]
	if !ok {
		r = &Receiver{ID: receiverID}
		s.receivers[receiverID] = r
	}
	r.TotalReports++
	if fraud {
		r.FraudReports++
	}
	r.UpdatedAt = at
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) AddFlag(ctx context.Context, f *Flag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := flagKey(f.UserID, f.ReceiverID)
	if _, ok := s.flags[key]; ok {
		return nil
	}
	cp := *f
	s.flags[key] = &cp
	return nil
}

func (s *MemoryStore) RemoveFlag(ctx context.Context, userID, receiverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flags, flagKey(userID, receiverID))
	return nil
}

func (s *MemoryStore) HasFlag(ctx context.Context, userID, receiverID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.flags[flagKey(userID, receiverID)]
	return ok, nil
}

func (s *MemoryStore) ListFlags(ctx context.Context, userID string) ([]*Flag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Flag
	for _, f := range s.flags {
		if f.UserID != userID {
			continue
		}
		cp := *f
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
