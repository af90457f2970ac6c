package identity

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for demo/test use.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewMemoryStore creates an empty in-memory profile store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]*Profile)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	cp.KnownDevices = append([]string(nil), p.KnownDevices...)
	return &cp, nil
}

func (s *MemoryStore) Create(_ context.Context, p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	cp.TrustScore = clampTrust(cp.TrustScore)
	cp.KnownDevices = append([]string(nil), p.KnownDevices...)
	s.profiles[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) AdjustTrust(_ context.Context, id string, delta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[id]
	if !ok {
		return ErrNotFound
	}
	p.TrustScore = clampTrust(p.TrustScore + delta)
	return nil
}

func (s *MemoryStore) AddDevice(_ context.Context, id, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[id]
	if !ok {
		return ErrNotFound
	}
	if deviceID == "" || p.KnowsDevice(deviceID) {
		return nil
	}
	p.KnownDevices = append(p.KnownDevices, deviceID)
	return nil
}
