package flashsale

import (
	"encoding/json"
	"time"
)

const (
	EventPurchaseCommitted = "PurchaseCommitted"
	EventSaleReset         = "SaleReset"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "checkout-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // biasanya claim_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- Payload tipe per event ----

// PurchaseCommittedPayload: satu claim sukses = tepat satu event ini.
// Qty selalu 1 dari API, tapi protokolnya amount-generic.
type PurchaseCommittedPayload struct {
	SaleID    string    `json:"sale_id"`
	BuyerID   string    `json:"buyer_id"`
	ClaimID   string    `json:"claim_id"`
	Qty       int       `json:"qty"`
	ClaimedAt time.Time `json:"claimed_at"`
}

type SaleResetPayload struct {
	SaleID   string `json:"sale_id"`
	NewTotal int    `json:"new_total"`
}
