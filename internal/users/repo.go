// Package users adalah kolaborator eksternal "buyer capability": flag
// can_purchase per user. Coordinator cuma butuh jawaban boolean; detail
// akun tetap di sini.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ariefcatur/go-flash-sale/internal/flashsale"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("users: not found")

type Repo struct{ DB *pgxpool.Pool }

// Resolve mencari user via username atau email (identifier ber-'@' = email).
func (r *Repo) Resolve(ctx context.Context, identifier string) (flashsale.User, error) {
	col := "username"
	if strings.Contains(identifier, "@") {
		col = "email"
	}
	var u flashsale.User
	err := r.DB.QueryRow(ctx,
		`SELECT id, username, email, can_purchase, created_at FROM users WHERE `+col+`=$1`,
		identifier).Scan(&u.ID, &u.Username, &u.Email, &u.CanPurchase, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return flashsale.User{}, ErrNotFound
	}
	if err != nil {
		return flashsale.User{}, err
	}
	return u, nil
}

// CanPurchase: capability check untuk coordinator. Mengembalikan buyer id
// kanonik (username) supaya claim selalu ter-key konsisten, identifier-nya
// username ataupun email. reason diisi kalau tidak boleh.
func (r *Repo) CanPurchase(ctx context.Context, identifier string) (buyerID string, allowed bool, reason string, err error) {
	u, err := r.Resolve(ctx, identifier)
	if errors.Is(err, ErrNotFound) {
		return "", false, "user not found", nil
	}
	if err != nil {
		return "", false, "", err
	}
	if !u.CanPurchase {
		return u.Username, false, "user is not authorized to make purchases", nil
	}
	return u.Username, true, "", nil
}

type UserView struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	CanPurchase  bool   `json:"can_purchase"`
	HasPurchased bool   `json:"has_purchased"`
	ClaimID      string `json:"claim_id,omitempty"`
}

// List mengembalikan semua user + status purchase mereka di sale aktif
// (join ke ledger, jadi "has_purchased" di listing ini durability-confirmed).
func (r *Repo) List(ctx context.Context, saleID string) ([]UserView, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT u.id, u.username, u.email, u.can_purchase, COALESCE(p.claim_id, '')
		FROM users u
		LEFT JOIN purchases p ON p.buyer_id = u.username AND p.flash_sale_id = $1
		ORDER BY u.created_at`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UserView
	for rows.Next() {
		var v UserView
		if err := rows.Scan(&v.ID, &v.Username, &v.Email, &v.CanPurchase, &v.ClaimID); err != nil {
			return nil, err
		}
		v.HasPurchased = v.ClaimID != ""
		out = append(out, v)
	}
	return out, rows.Err()
}

// SeedDemo membuat user demo (campuran boleh/tidak boleh beli). Idempotent.
func (r *Repo) SeedDemo(ctx context.Context) (int, error) {
	demo := []struct {
		username string
		email    string
		can      bool
	}{
		{"john_doe", "john.doe@example.com", true},
		{"jane_smith", "jane.smith@example.com", true},
		{"bob_wilson", "bob.wilson@example.com", false},
		{"alice_brown", "alice.brown@example.com", true},
		{"charlie_davis", "charlie.davis@example.com", false},
		{"diana_miller", "diana.miller@example.com", true},
		{"edward_garcia", "edward.garcia@example.com", true},
		{"fiona_rodriguez", "fiona.rodriguez@example.com", false},
		{"george_martinez", "george.martinez@example.com", true},
		{"helen_anderson", "helen.anderson@example.com", true},
	}

	created := 0
	for _, d := range demo {
		ct, err := r.DB.Exec(ctx, `
			INSERT INTO users (id, username, email, can_purchase)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (username) DO NOTHING`,
			uuid.NewString(), d.username, d.email, d.can)
		if err != nil {
			return created, fmt.Errorf("seed user %s: %w", d.username, err)
		}
		created += int(ct.RowsAffected())
	}
	return created, nil
}

// ResetAll menghapus semua user beserta purchase-nya (FK duluan).
func (r *Repo) ResetAll(ctx context.Context) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM purchases`); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM users`); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
