// Package reconciler menguras event channel dan membuat ledger merefleksikan
// setiap claim yang commit, exactly-once-in-effect, toleran redelivery.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/ariefcatur/go-flash-sale/internal/flashsale"
	kafkax "github.com/ariefcatur/go-flash-sale/internal/kafka"
	"github.com/ariefcatur/go-flash-sale/internal/ledger"
	"github.com/ariefcatur/go-flash-sale/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
)

// Ledger adalah sisi tulis rekonsiliasi.
type Ledger interface {
	ApplyPurchase(ctx context.Context, ev flashsale.PurchaseCommittedPayload) error
	ParkEvent(ctx context.Context, eventID, topic, reason string, payload []byte) error
}

type Service struct {
	Ledger      Ledger
	Redis       *redis.Client // optional: dedup cepat; nil = andalkan idempotensi ledger
	ServiceName string
}

// HandlePurchaseCommitted dipasang sebagai handler consumer.
// Return nil = offset boleh maju. Return error = transient, event akan
// di-redeliver. ErrConsistency TIDAK dikembalikan sebagai error: event-nya
// diparkir + offset maju, supaya satu event rusak tidak menyumbat partisi.
func (s *Service) HandlePurchaseCommitted(ctx context.Context, m kafkago.Message) error {
	// 1) decode envelope
	var env flashsale.Envelope
	if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
		log.Printf("reconciler: skip undecodable message at offset %d: %v", m.Offset, err)
		return nil // racun, redelivery tidak akan menolong
	}
	if env.EventType != flashsale.EventPurchaseCommitted {
		return nil // ignore
	}

	// 2) dedup cepat via Redis (event_id). Murni short-circuit; kebenaran
	// idempotensi tetap di transaksi ledger.
	dkey := fmt.Sprintf(redisx.KeyDedup, "reconciler", env.EventID)
	if s.Redis != nil {
		if exists, _ := redisx.Exists(ctx, s.Redis, dkey); exists {
			return nil
		}
	}

	// 3) decode payload
	p, err := kafkax.UnwrapPayload[flashsale.PurchaseCommittedPayload](env.Payload)
	if err != nil {
		log.Printf("reconciler: skip event %s with bad payload: %v", env.EventID, err)
		return nil
	}

	// 4) terapkan dalam satu transaksi ledger
	err = s.Ledger.ApplyPurchase(ctx, p)
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrConsistency):
		// Alarm keras + parkir, jangan di-clamp diam-diam.
		log.Printf("reconciler: CONSISTENCY ALARM event=%s buyer=%s claim=%s: %v",
			env.EventID, p.BuyerID, p.ClaimID, err)
		if perr := s.Ledger.ParkEvent(ctx, env.EventID, flashsale.TopicPurchaseCommitted, err.Error(), m.Value); perr != nil {
			return fmt.Errorf("park event %s: %w", env.EventID, perr)
		}
	default:
		return fmt.Errorf("apply purchase %s: %w", env.EventID, err) // transient -> redeliver
	}

	// 5) tandai dedup SETELAH apply sukses; kalau set duluan lalu apply
	// gagal, redelivery berikutnya bakal di-skip padahal belum diterapkan.
	if s.Redis != nil {
		_ = s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
	}
	return nil
}
