package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local dev.
type MemoryStore struct {
	mu     sync.RWMutex
	txns   []*Transaction
	byID   map[string]*Transaction
	events []*RiskEvent
	pairs  map[string]*PairRecord // senderID|receiverID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[string]*Transaction),
		pairs: make(map[string]*PairRecord),
	}
}

func pairKey(senderID, receiverID string) string {
	return senderID + "|" + receiverID
}

func (s *MemoryStore) Insert(ctx context.Context, t *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.txns = append(s.txns, &cp)
	s.byID[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) SetStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = status
	return nil
}

func (s *MemoryStore) ListBySender(ctx context.Context, senderID string, since time.Time) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Transaction
	for _, t := range s.txns {
		if t.SenderID != senderID {
			continue
		}
		if !since.IsZero() && t.CreatedAt.Before(since) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sortByCreatedAt(out)
	return out, nil
}

func (s *MemoryStore) ListByPair(ctx context.Context, senderID, receiverID string) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Transaction
	for _, t := range s.txns {
		if t.SenderID != senderID || t.ReceiverID != receiverID {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sortByCreatedAt(out)
	return out, nil
}

func (s *MemoryStore) LastBySender(ctx context.Context, senderID string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last *Transaction
	for _, t := range s.txns {
		if t.SenderID != senderID {
			continue
		}
		if last == nil || t.CreatedAt.After(last.CreatedAt) {
			last = t
		}
	}
	if last == nil {
		return nil, ErrNotFound
	}
	cp := *last
	return &cp, nil
}

func (s *MemoryStore) RecordEvent(ctx context.Context, ev *RiskEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ev
	cp.Flags = append([]string(nil), ev.Flags...)
	s.events = append(s.events, &cp)
	return nil
}

func (s *MemoryStore) GetPair(ctx context.Context, senderID, receiverID string) (*PairRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pairs[pairKey(senderID, receiverID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) BumpPair(ctx context.Context, senderID, receiverID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(senderID, receiverID)
	p, ok := s.pairs[key]
	if !ok {
		p = &PairRecord{SenderID: senderID, ReceiverID: receiverID}
		s.pairs[key] = p
	}
	p.PaymentCount++
	if at.After(p.LastPaidAt) {
		p.LastPaidAt = at
	}
	return nil
}

// Events returns all recorded risk events, oldest first. Test helper.
func (s *MemoryStore) Events() []*RiskEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*RiskEvent, len(s.events))
	copy(out, s.events)
	return out
}

func sortByCreatedAt(txns []*Transaction) {
	sort.Slice(txns, func(i, j int) bool {
		return txns[i].CreatedAt.Before(txns[j].CreatedAt)
	})
}
