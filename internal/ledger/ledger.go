// Package ledger adalah source of truth yang durable: definisi sale +
// satu baris purchase per buyer per sale. Hanya ditulis oleh reconciler
// (single writer per partition key); semua pihak lain read-only.
package ledger

import "errors"

// ErrConsistency: fast path dan ledger divergen (stok bakal negatif, atau
// baris lama punya claim id berbeda). Ini alarm fatal, BUKAN untuk retry;
// event-nya diparkir untuk inspeksi operator.
var ErrConsistency = errors.New("ledger: consistency violation")

var ErrNoActiveSale = errors.New("ledger: no active sale")
