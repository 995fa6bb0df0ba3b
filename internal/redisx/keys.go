package redisx

import "time"

const (
	// Stok tersisa (counter skalar): flash_sale:stock:{sale_id}
	KeyStock = "flash_sale:stock:%s"

	// Stok total (immutable): flash_sale:max_stock:{sale_id}
	KeyMaxStock = "flash_sale:max_stock:%s"

	// Window dalam unix milli: flash_sale:start:{sale_id} / flash_sale:end:{sale_id}
	KeyStartTime = "flash_sale:start:%s"
	KeyEndTime   = "flash_sale:end:%s"

	// Dedupe set per sale (hash buyer_id -> claim_id): flash_sale:claims:{sale_id}
	KeyClaims = "flash_sale:claims:%s"

	// Sale aktif saat ini: flash_sale:current_id
	KeyCurrentSale = "flash_sale:current_id"

	// Status blob ber-TTL pendek: flash_sale:status_cache:{sale_id}
	KeyStatusCache = "flash_sale:status_cache:%s"

	// Dedup event processing reconciler: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var TTLDedup = 48 * time.Hour
