// Package memstore adalah fast-path store in-process dengan semantik claim
// yang sama persis dengan redisx.Store. Dipakai untuk test dan mode dev
// tanpa Redis (STORE=memory).
package memstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ariefcatur/go-flash-sale/internal/flashsale"
	"github.com/google/uuid"
)

var ErrNotInitialized = errors.New("memstore: sale state not initialized")

type saleState struct {
	remaining int
	total     int
	start     time.Time
	end       time.Time
	claims    map[string]string // buyer_id -> claim_id
}

type Store struct {
	mu sync.Mutex
	m  map[string]*saleState

	// Now bisa di-override di test untuk kontrol window.
	Now func() time.Time
}

func New() *Store {
	return &Store{m: make(map[string]*saleState), Now: time.Now}
}

// Claim: satu critical section = satu langkah indivisible.
// Urutan cek sama dengan script Redis: duplicate -> window -> stok.
func (s *Store) Claim(_ context.Context, saleID, buyerID string) (flashsale.ClaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.m[saleID]
	if !ok {
		return flashsale.ClaimResult{}, ErrNotInitialized
	}
	if prior, dup := st.claims[buyerID]; dup {
		return flashsale.ClaimResult{ClaimID: prior, Reason: flashsale.ReasonAlreadyClaimed}, nil
	}
	now := s.Now()
	if now.Before(st.start) || !now.Before(st.end) {
		return flashsale.ClaimResult{Reason: flashsale.ReasonNotActive}, nil
	}
	if st.remaining < 1 {
		return flashsale.ClaimResult{Reason: flashsale.ReasonSoldOut}, nil
	}

	claimID := uuid.NewString()
	st.remaining--
	st.claims[buyerID] = claimID
	return flashsale.ClaimResult{Accepted: true, ClaimID: claimID}, nil
}

func (s *Store) Status(_ context.Context, saleID string) (flashsale.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.m[saleID]
	if !ok {
		return flashsale.Status{}, ErrNotInitialized
	}
	return flashsale.Status{
		Phase:     flashsale.PhaseOf(s.Now(), st.start, st.end, st.remaining),
		Remaining: st.remaining,
		Total:     st.total,
		StartTime: st.start,
		EndTime:   st.end,
	}, nil
}

func (s *Store) HasPurchased(_ context.Context, saleID, buyerID string) (bool, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.m[saleID]
	if !ok {
		return false, "", nil
	}
	claimID, ok := st.claims[buyerID]
	return ok, claimID, nil
}

func (s *Store) Reset(_ context.Context, sale flashsale.Sale) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.m[sale.ID] = &saleState{
		remaining: sale.Remaining,
		total:     sale.TotalStock,
		start:     sale.StartTime,
		end:       sale.EndTime,
		claims:    make(map[string]string),
	}
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }
