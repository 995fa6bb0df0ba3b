package flashsale

import "time"

// Sale adalah satu flash sale: stok tetap + window waktu.
type Sale struct {
	ID         string
	Product    ProductInfo
	TotalStock int
	Remaining  int
	StartTime  time.Time
	EndTime    time.Time
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ProductInfo: field katalog bertipe eksplisit + Extra sebagai extension map
// terbatas (bukan dictionary bebas).
type ProductInfo struct {
	Name          string            `json:"name"`
	Description   string            `json:"description,omitempty"`
	Condition     string            `json:"condition,omitempty"`
	Warranty      string            `json:"warranty,omitempty"`
	PriceCents    int               `json:"price_cents"`
	DiscountCents int               `json:"discount_cents,omitempty"`
	CurrencyCode  string            `json:"currency_code,omitempty"`
	Images        []string          `json:"images,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// BuyerClaim: satu reservasi unit per (sale, buyer). Immutable setelah dibuat.
type BuyerClaim struct {
	SaleID    string
	BuyerID   string
	ClaimID   string
	ClaimedAt time.Time
}

// LedgerRow adalah claim yang sudah direkonsiliasi ke ledger.
type LedgerRow struct {
	SaleID      string
	BuyerID     string
	ClaimID     string
	CommittedAt time.Time
}

type User struct {
	ID          string
	Username    string
	Email       string
	CanPurchase bool
	CreatedAt   time.Time
}
