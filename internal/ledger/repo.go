package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-flash-sale/internal/flashsale"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) GetActiveSale(ctx context.Context) (flashsale.Sale, error) {
	row := r.DB.QueryRow(ctx, `
		SELECT id, product, total_stock, current_stock, start_time, end_time, is_active, created_at, updated_at
		FROM flash_sales WHERE is_active ORDER BY created_at DESC LIMIT 1`)
	return scanSale(row)
}

func (r *Repo) CreateSale(ctx context.Context, sale flashsale.Sale) (string, error) {
	if sale.ID == "" {
		sale.ID = uuid.NewString()
	}
	product, err := json.Marshal(sale.Product)
	if err != nil {
		return "", fmt.Errorf("marshal product: %w", err)
	}
	_, err = r.DB.Exec(ctx, `
		INSERT INTO flash_sales (id, product, total_stock, current_stock, start_time, end_time, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sale.ID, product, sale.TotalStock, sale.Remaining, sale.StartTime, sale.EndTime, sale.IsActive,
	)
	if err != nil {
		return "", fmt.Errorf("insert sale: %w", err)
	}
	return sale.ID, nil
}

// ApplyPurchase menerapkan satu PurchaseCommitted ke ledger, exactly-once-
// in-effect. Redelivery dengan claim id sama = no-op. Baris lama dengan
// claim id BEDA, atau stok ledger yang bakal negatif = ErrConsistency
// (jangan di-retry, parkir).
func (r *Repo) ApplyPurchase(ctx context.Context, ev flashsale.PurchaseCommittedPayload) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var existing string
	err = tx.QueryRow(ctx,
		`SELECT claim_id FROM purchases WHERE flash_sale_id=$1 AND buyer_id=$2`,
		ev.SaleID, ev.BuyerID).Scan(&existing)
	if err == nil {
		if existing != ev.ClaimID {
			return fmt.Errorf("%w: buyer %s has row with claim %s, event carries %s",
				ErrConsistency, ev.BuyerID, existing, ev.ClaimID)
		}
		return nil // redelivery, sudah diterapkan
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO purchases (id, flash_sale_id, buyer_id, claim_id, committed_at)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), ev.SaleID, ev.BuyerID, ev.ClaimID, ev.ClaimedAt,
	); err != nil {
		return fmt.Errorf("insert purchase: %w", err)
	}

	// Conditional update: stok ledger tidak boleh lewat nol. Zero rows =
	// divergensi fast-path/ledger, bukan race biasa.
	ct, err := tx.Exec(ctx, `
		UPDATE flash_sales SET current_stock = current_stock - $2, updated_at = now()
		WHERE id = $1 AND current_stock >= $2`,
		ev.SaleID, ev.Qty,
	)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: decrement of %d would drive sale %s below zero",
			ErrConsistency, ev.Qty, ev.SaleID)
	}

	return tx.Commit(ctx)
}

// ResetSale: stok kembali ke newTotal dan seluruh purchase sale itu dihapus.
// Satu transaksi supaya pembaca tidak melihat state setengah jadi.
func (r *Repo) ResetSale(ctx context.Context, saleID string, newTotal int) (flashsale.Sale, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return flashsale.Sale{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM purchases WHERE flash_sale_id=$1`, saleID); err != nil {
		return flashsale.Sale{}, fmt.Errorf("clear purchases: %w", err)
	}
	row := tx.QueryRow(ctx, `
		UPDATE flash_sales
		SET total_stock=$2, current_stock=$2, updated_at=now()
		WHERE id=$1
		RETURNING id, product, total_stock, current_stock, start_time, end_time, is_active, created_at, updated_at`,
		saleID, newTotal)
	sale, err := scanSale(row)
	if err != nil {
		return flashsale.Sale{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return flashsale.Sale{}, err
	}
	return sale, nil
}

// Snapshot: status turunan dari sisi ledger, dipakai jalur degraded saat
// fast path tidak bisa dihubungi. Derivasinya fungsi yang sama persis.
func (r *Repo) Snapshot(ctx context.Context, saleID string) (flashsale.Status, error) {
	var total, remaining int
	var start, end time.Time
	err := r.DB.QueryRow(ctx, `
		SELECT total_stock, current_stock, start_time, end_time
		FROM flash_sales WHERE id=$1`, saleID).
		Scan(&total, &remaining, &start, &end)
	if errors.Is(err, pgx.ErrNoRows) {
		return flashsale.Status{}, ErrNoActiveSale
	}
	if err != nil {
		return flashsale.Status{}, err
	}
	return flashsale.Status{
		Phase:     flashsale.PhaseOf(time.Now(), start, end, remaining),
		Remaining: remaining,
		Total:     total,
		StartTime: start,
		EndTime:   end,
		Degraded:  true,
	}, nil
}

// HasPurchase: pembacaan durability-confirmed (baris sudah direkonsiliasi).
func (r *Repo) HasPurchase(ctx context.Context, saleID, buyerID string) (bool, string, error) {
	var claimID string
	err := r.DB.QueryRow(ctx,
		`SELECT claim_id FROM purchases WHERE flash_sale_id=$1 AND buyer_id=$2`,
		saleID, buyerID).Scan(&claimID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	return true, claimID, nil
}

func (r *Repo) CountPurchases(ctx context.Context, saleID string) (int, error) {
	var n int
	err := r.DB.QueryRow(ctx,
		`SELECT COUNT(*) FROM purchases WHERE flash_sale_id=$1`, saleID).Scan(&n)
	return n, err
}

// ParkEvent menyimpan event yang kena ErrConsistency untuk inspeksi operator.
// ON CONFLICT DO NOTHING: redelivery event yang sudah diparkir bukan error.
func (r *Repo) ParkEvent(ctx context.Context, eventID, topic, reason string, payload []byte) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO parked_events (event_id, topic, reason, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING`,
		eventID, topic, reason, payload)
	return err
}

func scanSale(row pgx.Row) (flashsale.Sale, error) {
	var s flashsale.Sale
	var product []byte
	err := row.Scan(&s.ID, &product, &s.TotalStock, &s.Remaining,
		&s.StartTime, &s.EndTime, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return flashsale.Sale{}, ErrNoActiveSale
	}
	if err != nil {
		return flashsale.Sale{}, err
	}
	if len(product) > 0 {
		if err := json.Unmarshal(product, &s.Product); err != nil {
			return flashsale.Sale{}, fmt.Errorf("decode product: %w", err)
		}
	}
	return s, nil
}
