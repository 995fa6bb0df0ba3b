package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ariefcatur/go-flash-sale/internal/flashsale"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotInitialized: state sale belum ada di Redis (belum di-seed / habis flush).
var ErrNotInitialized = errors.New("redisx: sale state not initialized")

// claimScript adalah satu-satunya jalur mutasi stok. Urutan cek fixed:
// duplicate dulu, baru window, baru stok: buyer yang sudah beli selalu
// dapat "already claimed", bukan "sold out". Semuanya satu EVALSHA, jadi
// tidak ada read-modify-write dari sisi aplikasi.
var claimScript = redis.NewScript(`
local prior = redis.call('HGET', KEYS[1], ARGV[1])
if prior then return {'dup', prior} end
local start = tonumber(redis.call('GET', KEYS[3]))
local fin   = tonumber(redis.call('GET', KEYS[4]))
local now   = tonumber(ARGV[2])
if not start or not fin or now < start or now >= fin then return {'inactive', ''} end
local stock = tonumber(redis.call('GET', KEYS[2]))
local qty   = tonumber(ARGV[4])
if not stock or stock < qty then return {'soldout', ''} end
redis.call('DECRBY', KEYS[2], qty)
redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
redis.call('DEL', KEYS[5])
return {'ok', ARGV[3]}
`)

type Store struct {
	RDB      *redis.Client
	CacheTTL time.Duration
}

// Claim: reservasi atomik satu unit untuk satu buyer.
// Claim id dibuat di sini lalu direkam di dalam script, jadi pada failure
// ambiguous tidak ada claim id yang "bocor" ke caller.
func (s *Store) Claim(ctx context.Context, saleID, buyerID string) (flashsale.ClaimResult, error) {
	claimID := uuid.NewString()
	keys := []string{
		fmt.Sprintf(KeyClaims, saleID),
		fmt.Sprintf(KeyStock, saleID),
		fmt.Sprintf(KeyStartTime, saleID),
		fmt.Sprintf(KeyEndTime, saleID),
		fmt.Sprintf(KeyStatusCache, saleID),
	}
	res, err := claimScript.Run(ctx, s.RDB, keys,
		buyerID, time.Now().UnixMilli(), claimID, 1,
	).Result()
	if err != nil {
		return flashsale.ClaimResult{}, fmt.Errorf("claim script: %w", err)
	}

	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return flashsale.ClaimResult{}, fmt.Errorf("claim script: unexpected reply %v", res)
	}
	code, _ := arr[0].(string)
	id, _ := arr[1].(string)

	switch code {
	case "ok":
		return flashsale.ClaimResult{Accepted: true, ClaimID: id}, nil
	case "dup":
		return flashsale.ClaimResult{ClaimID: id, Reason: flashsale.ReasonAlreadyClaimed}, nil
	case "soldout":
		return flashsale.ClaimResult{Reason: flashsale.ReasonSoldOut}, nil
	case "inactive":
		return flashsale.ClaimResult{Reason: flashsale.ReasonNotActive}, nil
	}
	return flashsale.ClaimResult{}, fmt.Errorf("claim script: unknown code %q", code)
}

// Status membaca snapshot sale. Blob cache ber-TTL pendek menyerap read burst;
// staleness-nya bounded oleh CacheTTL dan tidak pernah dipakai jalur claim.
func (s *Store) Status(ctx context.Context, saleID string) (flashsale.Status, error) {
	ckey := fmt.Sprintf(KeyStatusCache, saleID)
	if raw, err := s.RDB.Get(ctx, ckey).Result(); err == nil && raw != "" {
		var st flashsale.Status
		if json.Unmarshal([]byte(raw), &st) == nil {
			return st, nil
		}
	}

	vals, err := s.RDB.MGet(ctx,
		fmt.Sprintf(KeyStock, saleID),
		fmt.Sprintf(KeyMaxStock, saleID),
		fmt.Sprintf(KeyStartTime, saleID),
		fmt.Sprintf(KeyEndTime, saleID),
	).Result()
	if err != nil {
		return flashsale.Status{}, fmt.Errorf("status mget: %w", err)
	}
	remaining, err1 := toInt(vals[0])
	total, err2 := toInt(vals[1])
	startMs, err3 := toInt64(vals[2])
	endMs, err4 := toInt64(vals[3])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return flashsale.Status{}, ErrNotInitialized
	}

	start := time.UnixMilli(startMs).UTC()
	end := time.UnixMilli(endMs).UTC()
	st := flashsale.Status{
		Phase:     flashsale.PhaseOf(time.Now(), start, end, remaining),
		Remaining: remaining,
		Total:     total,
		StartTime: start,
		EndTime:   end,
	}

	if b, err := json.Marshal(st); err == nil {
		_ = s.RDB.Set(ctx, ckey, b, s.CacheTTL).Err()
	}
	return st, nil
}

// HasPurchased membaca dedupe set, low latency tapi belum tentu sudah
// durable di ledger.
func (s *Store) HasPurchased(ctx context.Context, saleID, buyerID string) (bool, string, error) {
	claimID, err := s.RDB.HGet(ctx, fmt.Sprintf(KeyClaims, saleID), buyerID).Result()
	if errors.Is(err, redis.Nil) {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("claims hget: %w", err)
	}
	return true, claimID, nil
}

// Reset re-inisialisasi state fast path dari definisi sale dan menghapus
// seluruh dedupe set. Tidak aman dipanggil bersamaan dengan claim in-flight;
// caller wajib serialize (sale non-aktif dulu, atau lewat satu jalur admin).
func (s *Store) Reset(ctx context.Context, sale flashsale.Sale) error {
	pipe := s.RDB.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(KeyStock, sale.ID), strconv.Itoa(sale.Remaining), 0)
	pipe.Set(ctx, fmt.Sprintf(KeyMaxStock, sale.ID), strconv.Itoa(sale.TotalStock), 0)
	pipe.Set(ctx, fmt.Sprintf(KeyStartTime, sale.ID), strconv.FormatInt(sale.StartTime.UnixMilli(), 10), 0)
	pipe.Set(ctx, fmt.Sprintf(KeyEndTime, sale.ID), strconv.FormatInt(sale.EndTime.UnixMilli(), 10), 0)
	pipe.Set(ctx, KeyCurrentSale, sale.ID, 0)
	pipe.Del(ctx, fmt.Sprintf(KeyClaims, sale.ID))
	pipe.Del(ctx, fmt.Sprintf(KeyStatusCache, sale.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("reset pipeline: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.RDB.Ping(ctx).Err()
}

func toInt(v interface{}) (int, error) {
	i, err := toInt64(v)
	return int(i), err
}

func toInt64(v interface{}) (int64, error) {
	str, ok := v.(string)
	if !ok {
		return 0, errors.New("nil value")
	}
	return strconv.ParseInt(str, 10, 64)
}
