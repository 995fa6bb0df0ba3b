// Package checkout adalah Transaction Coordinator: satu pintu masuk untuk
// "attempt purchase". Alur per attempt:
// received -> eligibility-checked -> claimed|rejected -> event-published -> responded.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ariefcatur/go-flash-sale/internal/flashsale"
	kafkax "github.com/ariefcatur/go-flash-sale/internal/kafka"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

// ErrUnavailable: failure ambiguous (timeout / store unreachable). Claim-nya
// mungkin terjadi, mungkin tidak. Jangan tebak, jangan auto-retry; caller
// harus resubmit eksplisit.
var ErrUnavailable = errors.New("checkout: store unavailable, outcome unknown")

// Store adalah fast-path store: authority untuk admission control.
type Store interface {
	Claim(ctx context.Context, saleID, buyerID string) (flashsale.ClaimResult, error)
	Status(ctx context.Context, saleID string) (flashsale.Status, error)
	HasPurchased(ctx context.Context, saleID, buyerID string) (bool, string, error)
	Reset(ctx context.Context, sale flashsale.Sale) error
}

// Ledger: authority untuk audit/durability, read-only dari sisi coordinator
// kecuali reset.
type Ledger interface {
	GetActiveSale(ctx context.Context) (flashsale.Sale, error)
	Snapshot(ctx context.Context, saleID string) (flashsale.Status, error)
	ResetSale(ctx context.Context, saleID string, newTotal int) (flashsale.Sale, error)
	HasPurchase(ctx context.Context, saleID, buyerID string) (bool, string, error)
}

// Capability adalah kolaborator eksternal can-purchase.
type Capability interface {
	CanPurchase(ctx context.Context, identifier string) (buyerID string, allowed bool, reason string, err error)
}

type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header)
}

// Pesan penolakan stabil, dipetakan 1:1 dari reason.
const (
	MsgNotStarted  = "flash sale has not started yet"
	MsgEnded       = "flash sale has ended"
	MsgSoldOut     = "flash sale is sold out"
	MsgAlready     = "user has already purchased"
	MsgNotEligible = "user is not eligible to purchase"
)

type PurchaseResult struct {
	Success   bool             `json:"success"`
	Message   string           `json:"message"`
	Reason    flashsale.Reason `json:"reason,omitempty"`
	ClaimID   string           `json:"claim_id,omitempty"`
	BuyerID   string           `json:"buyer_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

type PurchaseCheck struct {
	HasPurchased bool   `json:"has_purchased"`
	ClaimID      string `json:"claim_id,omitempty"`
	// "fast-path" (low latency) atau "ledger" (durability-confirmed).
	Source string `json:"source"`
}

type Service struct {
	Store        Store
	Ledger       Ledger
	Users        Capability
	Producer     Publisher
	SaleID       string
	ServiceName  string
	ClaimTimeout time.Duration
}

// AttemptPurchase menjalankan satu purchase attempt sampai responded.
// Rejection bisnis dikembalikan sebagai result (bukan error); error berarti
// ambiguous dan dibungkus ErrUnavailable.
func (s *Service) AttemptPurchase(ctx context.Context, identifier, traceID string) (PurchaseResult, error) {
	now := time.Now().UTC()

	// Eligibility dulu: buyer yang gagal di sini tidak pernah menyentuh
	// store, stok tidak tersentuh.
	buyerID, allowed, reason, err := s.Users.CanPurchase(ctx, identifier)
	if err != nil {
		return PurchaseResult{}, fmt.Errorf("%w: capability check: %v", ErrUnavailable, err)
	}
	if !allowed {
		msg := MsgNotEligible
		if reason != "" {
			msg = reason
		}
		return PurchaseResult{
			Message: msg, Reason: flashsale.ReasonNotEligible,
			BuyerID: buyerID, Timestamp: now,
		}, nil
	}

	// Claim atomik dengan timeout bounded. Timeout = ambiguous, fail closed.
	cctx, cancel := context.WithTimeout(ctx, s.ClaimTimeout)
	defer cancel()
	res, err := s.Store.Claim(cctx, s.SaleID, buyerID)
	if err != nil {
		return PurchaseResult{}, fmt.Errorf("%w: claim: %v", ErrUnavailable, err)
	}

	if !res.Accepted {
		return PurchaseResult{
			Message: s.rejectionMessage(ctx, res.Reason),
			Reason:  res.Reason,
			ClaimID: res.ClaimID, // terisi pada ALREADY_CLAIMED
			BuyerID: buyerID, Timestamp: now,
		}, nil
	}

	// Claim sudah permanen; publish tidak boleh membatalkannya dan response
	// tidak menunggu rekonsiliasi.
	s.publishCommitted(buyerID, res.ClaimID, now, traceID)

	return PurchaseResult{
		Success: true, Message: "purchase successful",
		ClaimID: res.ClaimID, BuyerID: buyerID, Timestamp: now,
	}, nil
}

func (s *Service) publishCommitted(buyerID, claimID string, claimedAt time.Time, traceID string) {
	ev := flashsale.Envelope{
		EventID:       uuid.NewString(),
		EventType:     flashsale.EventPurchaseCommitted,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		TraceID:       traceID,
		CorrelationID: claimID,
		Payload: kafkax.MustMarshal(flashsale.PurchaseCommittedPayload{
			SaleID:    s.SaleID,
			BuyerID:   buyerID,
			ClaimID:   claimID,
			Qty:       1,
			ClaimedAt: claimedAt,
		}),
	}
	s.Producer.Publish(flashsale.TopicPurchaseCommitted, flashsale.PartitionKey(buyerID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(flashsale.EventPurchaseCommitted)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

// rejectionMessage: NOT_ACTIVE dipecah jadi "belum mulai" vs "sudah selesai"
// pakai status turunan; kalau status tidak kebaca, pesan generik saja.
func (s *Service) rejectionMessage(ctx context.Context, reason flashsale.Reason) string {
	switch reason {
	case flashsale.ReasonSoldOut:
		return MsgSoldOut
	case flashsale.ReasonAlreadyClaimed:
		return MsgAlready
	case flashsale.ReasonNotActive:
		st, err := s.Status(ctx)
		if err == nil && st.Phase == flashsale.PhaseUpcoming {
			return MsgNotStarted
		}
		return MsgEnded
	}
	return string(reason)
}

// Status: fast path dulu; kalau tidak bisa dihubungi, fallback snapshot
// ledger yang ditandai degraded. Derivasi fase dua-duanya lewat PhaseOf.
func (s *Service) Status(ctx context.Context) (flashsale.Status, error) {
	st, err := s.Store.Status(ctx, s.SaleID)
	if err == nil {
		return st, nil
	}
	log.Printf("checkout: fast-path status failed, falling back to ledger: %v", err)
	return s.Ledger.Snapshot(ctx, s.SaleID)
}

// CheckPurchase: durable=false baca dedupe set fast path (cepat, belum tentu
// ter-audit); durable=true baca ledger (sudah direkonsiliasi).
func (s *Service) CheckPurchase(ctx context.Context, identifier string, durable bool) (PurchaseCheck, error) {
	buyerID, _, _, err := s.Users.CanPurchase(ctx, identifier)
	if err != nil {
		return PurchaseCheck{}, err
	}
	if buyerID == "" {
		buyerID = identifier
	}

	if durable {
		has, claimID, err := s.Ledger.HasPurchase(ctx, s.SaleID, buyerID)
		if err != nil {
			return PurchaseCheck{}, err
		}
		return PurchaseCheck{HasPurchased: has, ClaimID: claimID, Source: "ledger"}, nil
	}
	has, claimID, err := s.Store.HasPurchased(ctx, s.SaleID, buyerID)
	if err != nil {
		return PurchaseCheck{}, err
	}
	return PurchaseCheck{HasPurchased: has, ClaimID: claimID, Source: "fast-path"}, nil
}

// Reset: ledger direset dulu (source of truth), lalu fast path di-reinit
// dari hasilnya. Jalur ini diserialisasi di API layer; tidak aman jalan
// bersamaan dengan claim in-flight.
func (s *Service) Reset(ctx context.Context, newTotal int) (flashsale.Sale, error) {
	if newTotal <= 0 {
		sale, err := s.Ledger.GetActiveSale(ctx)
		if err != nil {
			return flashsale.Sale{}, err
		}
		newTotal = sale.TotalStock
	}
	sale, err := s.Ledger.ResetSale(ctx, s.SaleID, newTotal)
	if err != nil {
		return flashsale.Sale{}, fmt.Errorf("ledger reset: %w", err)
	}
	if err := s.Store.Reset(ctx, sale); err != nil {
		return flashsale.Sale{}, fmt.Errorf("fast-path reset: %w", err)
	}

	// Siarkan reset supaya consumer lain (dashboard, cache eksternal) tahu
	// state lama sudah tidak berlaku.
	ev := flashsale.Envelope{
		EventID:      uuid.NewString(),
		EventType:    flashsale.EventSaleReset,
		EventVersion: 1,
		OccurredAt:   time.Now().UTC(),
		Producer:     s.ServiceName,
		Payload: kafkax.MustMarshal(flashsale.SaleResetPayload{
			SaleID:   sale.ID,
			NewTotal: sale.TotalStock,
		}),
	}
	s.Producer.Publish(flashsale.TopicSaleReset, []byte(sale.ID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(flashsale.EventSaleReset)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
	return sale, nil
}
