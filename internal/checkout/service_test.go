package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-flash-sale/internal/flashsale"
	"github.com/ariefcatur/go-flash-sale/internal/memstore"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const saleID = "sale-1"

// ---- fakes ----

type fakeUsers struct {
	allowed map[string]bool
	err     error
}

func (f *fakeUsers) CanPurchase(_ context.Context, id string) (string, bool, string, error) {
	if f.err != nil {
		return "", false, "", f.err
	}
	allowed, known := f.allowed[id]
	if !known {
		return "", false, "user not found", nil
	}
	if !allowed {
		return id, false, "user is not authorized to make purchases", nil
	}
	return id, true, "", nil
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []kafkago.Message
}

func (f *fakePublisher) Publish(topic string, key, value []byte, headers ...kafkago.Header) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, kafkago.Message{Topic: topic, Key: key, Value: value, Headers: headers})
}

func (f *fakePublisher) published() []kafkago.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kafkago.Message(nil), f.msgs...)
}

type countingStore struct {
	Store
	claims int
}

func (c *countingStore) Claim(ctx context.Context, saleID, buyerID string) (flashsale.ClaimResult, error) {
	c.claims++
	return c.Store.Claim(ctx, saleID, buyerID)
}

// slowStore menggantung di Claim sampai deadline caller lewat.
type slowStore struct{ Store }

func (s *slowStore) Claim(ctx context.Context, _, _ string) (flashsale.ClaimResult, error) {
	<-ctx.Done()
	return flashsale.ClaimResult{}, ctx.Err()
}

type erroringStore struct{ err error }

func (e *erroringStore) Claim(context.Context, string, string) (flashsale.ClaimResult, error) {
	return flashsale.ClaimResult{}, e.err
}
func (e *erroringStore) Status(context.Context, string) (flashsale.Status, error) {
	return flashsale.Status{}, e.err
}
func (e *erroringStore) HasPurchased(context.Context, string, string) (bool, string, error) {
	return false, "", e.err
}
func (e *erroringStore) Reset(context.Context, flashsale.Sale) error { return e.err }

type fakeLedger struct {
	sale      flashsale.Sale
	snapshot  flashsale.Status
	purchases map[string]string
	resets    []int
}

func (f *fakeLedger) GetActiveSale(context.Context) (flashsale.Sale, error) { return f.sale, nil }
func (f *fakeLedger) Snapshot(context.Context, string) (flashsale.Status, error) {
	return f.snapshot, nil
}
func (f *fakeLedger) ResetSale(_ context.Context, _ string, newTotal int) (flashsale.Sale, error) {
	f.resets = append(f.resets, newTotal)
	sale := f.sale
	sale.TotalStock, sale.Remaining = newTotal, newTotal
	return sale, nil
}
func (f *fakeLedger) HasPurchase(_ context.Context, _, buyerID string) (bool, string, error) {
	id, ok := f.purchases[buyerID]
	return ok, id, nil
}

// ---- helpers ----

func activeSale(stock int) flashsale.Sale {
	now := time.Now()
	return flashsale.Sale{
		ID: saleID, TotalStock: stock, Remaining: stock,
		StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour), IsActive: true,
	}
}

func newService(t *testing.T, stock int) (*Service, *memstore.Store, *fakePublisher) {
	t.Helper()
	store := memstore.New()
	require.NoError(t, store.Reset(context.Background(), activeSale(stock)))
	pub := &fakePublisher{}
	svc := &Service{
		Store:  store,
		Ledger: &fakeLedger{sale: activeSale(stock), purchases: map[string]string{}},
		Users: &fakeUsers{allowed: map[string]bool{
			"alice": true, "bob": true, "carol": true, "dave": true,
			"erin": true, "frank": true, "grace": true, "mallory": false,
		}},
		Producer:     pub,
		SaleID:       saleID,
		ServiceName:  "checkout-test",
		ClaimTimeout: time.Second,
	}
	return svc, store, pub
}

func decodeCommitted(t *testing.T, m kafkago.Message) flashsale.PurchaseCommittedPayload {
	t.Helper()
	var env flashsale.Envelope
	require.NoError(t, json.Unmarshal(m.Value, &env))
	require.Equal(t, flashsale.EventPurchaseCommitted, env.EventType)
	var p flashsale.PurchaseCommittedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	return p
}

// ---- tests ----

func TestPurchasePublishesExactlyOneEvent(t *testing.T) {
	svc, _, pub := newService(t, 5)

	res, err := svc.AttemptPurchase(context.Background(), "alice", "trace-1")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.NotEmpty(t, res.ClaimID)

	msgs := pub.published()
	require.Len(t, msgs, 1)
	assert.Equal(t, flashsale.TopicPurchaseCommitted, msgs[0].Topic)
	assert.Equal(t, flashsale.PartitionKey("alice"), msgs[0].Key)

	p := decodeCommitted(t, msgs[0])
	assert.Equal(t, saleID, p.SaleID)
	assert.Equal(t, "alice", p.BuyerID)
	assert.Equal(t, res.ClaimID, p.ClaimID)
	assert.Equal(t, 1, p.Qty)
}

func TestIneligibleBuyerNeverReachesStore(t *testing.T) {
	svc, store, pub := newService(t, 5)
	counting := &countingStore{Store: store}
	svc.Store = counting

	res, err := svc.AttemptPurchase(context.Background(), "mallory", "")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, flashsale.ReasonNotEligible, res.Reason)
	assert.Zero(t, counting.claims, "claim must not be attempted")
	assert.Empty(t, pub.published())

	st, err := svc.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, st.Remaining, "stock untouched")
}

func TestUnknownBuyerRejected(t *testing.T) {
	svc, _, _ := newService(t, 5)
	res, err := svc.AttemptPurchase(context.Background(), "nobody", "")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "user not found", res.Message)
}

func TestRepeatPurchaseAlreadyClaimed(t *testing.T) {
	svc, _, pub := newService(t, 5)

	first, err := svc.AttemptPurchase(context.Background(), "alice", "")
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := svc.AttemptPurchase(context.Background(), "alice", "")
	require.NoError(t, err)
	assert.False(t, second.Success)
	assert.Equal(t, flashsale.ReasonAlreadyClaimed, second.Reason)
	assert.Equal(t, MsgAlready, second.Message)
	assert.Equal(t, first.ClaimID, second.ClaimID)

	assert.Len(t, pub.published(), 1, "rejection must not publish")

	st, _ := svc.Status(context.Background())
	assert.Equal(t, 4, st.Remaining, "second attempt leaves stock unchanged")
}

func TestConcurrentBuyersExactlyStockSucceed(t *testing.T) {
	const stock = 5
	buyers := []string{"alice", "bob", "carol", "dave", "erin", "frank", "grace"}
	svc, _, pub := newService(t, stock)

	results := make([]PurchaseResult, len(buyers))
	var g errgroup.Group
	for i, b := range buyers {
		i, b := i, b
		g.Go(func() error {
			res, err := svc.AttemptPurchase(context.Background(), b, "")
			results[i] = res
			return err
		})
	}
	require.NoError(t, g.Wait())

	var ok, soldOut int
	for _, r := range results {
		if r.Success {
			ok++
		} else {
			require.Equal(t, flashsale.ReasonSoldOut, r.Reason)
			soldOut++
		}
	}
	assert.Equal(t, stock, ok)
	assert.Equal(t, len(buyers)-stock, soldOut)
	assert.Len(t, pub.published(), stock, "one event per accepted claim")

	st, err := svc.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, flashsale.PhaseSoldOut, st.Phase)
	assert.Equal(t, 0, st.Remaining)
}

func TestNotActiveMessages(t *testing.T) {
	svc, store, _ := newService(t, 5)

	// Belum mulai.
	sale := activeSale(5)
	sale.StartTime = time.Now().Add(time.Hour)
	sale.EndTime = time.Now().Add(2 * time.Hour)
	require.NoError(t, store.Reset(context.Background(), sale))

	res, err := svc.AttemptPurchase(context.Background(), "alice", "")
	require.NoError(t, err)
	assert.Equal(t, flashsale.ReasonNotActive, res.Reason)
	assert.Equal(t, MsgNotStarted, res.Message)

	// Sudah selesai.
	sale.StartTime = time.Now().Add(-2 * time.Hour)
	sale.EndTime = time.Now().Add(-time.Hour)
	require.NoError(t, store.Reset(context.Background(), sale))

	res, err = svc.AttemptPurchase(context.Background(), "alice", "")
	require.NoError(t, err)
	assert.Equal(t, flashsale.ReasonNotActive, res.Reason)
	assert.Equal(t, MsgEnded, res.Message)
}

func TestStoreFailureIsAmbiguousNotRejection(t *testing.T) {
	svc, _, pub := newService(t, 5)
	svc.Store = &erroringStore{err: errors.New("connection refused")}

	_, err := svc.AttemptPurchase(context.Background(), "alice", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable, "must be ambiguous, never a rejection")
	assert.Empty(t, pub.published(), "no event on ambiguous failure")
}

func TestClaimTimeoutIsAmbiguous(t *testing.T) {
	svc, store, pub := newService(t, 5)
	svc.Store = &slowStore{Store: store}
	svc.ClaimTimeout = 20 * time.Millisecond

	_, err := svc.AttemptPurchase(context.Background(), "alice", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable, "deadline expiry is ambiguous, not a rejection")
	assert.Empty(t, pub.published(), "no event when the claim outcome is unknown")
}

func TestStatusFallsBackToLedgerDegraded(t *testing.T) {
	svc, _, _ := newService(t, 5)
	svc.Store = &erroringStore{err: errors.New("redis down")}
	svc.Ledger = &fakeLedger{snapshot: flashsale.Status{
		Phase: flashsale.PhaseActive, Remaining: 3, Total: 5, Degraded: true,
	}}

	st, err := svc.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Degraded)
	assert.Equal(t, 3, st.Remaining)
}

func TestResetReinitializesBothSides(t *testing.T) {
	svc, store, pub := newService(t, 1)
	led := &fakeLedger{sale: activeSale(1), purchases: map[string]string{}}
	svc.Ledger = led

	res, err := svc.AttemptPurchase(context.Background(), "alice", "")
	require.NoError(t, err)
	require.True(t, res.Success)

	sale, err := svc.Reset(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []int{10}, led.resets)
	assert.Equal(t, 10, sale.Remaining)

	msgs := pub.published()
	require.NotEmpty(t, msgs)
	assert.Equal(t, flashsale.TopicSaleReset, msgs[len(msgs)-1].Topic)

	st, err := store.Status(context.Background(), saleID)
	require.NoError(t, err)
	assert.Equal(t, flashsale.PhaseActive, st.Phase)
	assert.Equal(t, 10, st.Remaining)

	// Dedupe set bersih: alice bisa claim lagi.
	res2, err := svc.AttemptPurchase(context.Background(), "alice", "")
	require.NoError(t, err)
	assert.True(t, res2.Success)
	assert.NotEqual(t, res.ClaimID, res2.ClaimID)
}

func TestResetDefaultsToCurrentTotal(t *testing.T) {
	svc, _, _ := newService(t, 7)
	led := &fakeLedger{sale: activeSale(7)}
	svc.Ledger = led

	_, err := svc.Reset(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []int{7}, led.resets)
}

func TestCheckPurchaseSources(t *testing.T) {
	svc, _, _ := newService(t, 5)
	led := &fakeLedger{sale: activeSale(5), purchases: map[string]string{}}
	svc.Ledger = led

	res, err := svc.AttemptPurchase(context.Background(), "alice", "")
	require.NoError(t, err)
	require.True(t, res.Success)

	// Fast path langsung kelihatan.
	chk, err := svc.CheckPurchase(context.Background(), "alice", false)
	require.NoError(t, err)
	assert.True(t, chk.HasPurchased)
	assert.Equal(t, res.ClaimID, chk.ClaimID)
	assert.Equal(t, "fast-path", chk.Source)

	// Ledger belum direkonsiliasi.
	chk, err = svc.CheckPurchase(context.Background(), "alice", true)
	require.NoError(t, err)
	assert.False(t, chk.HasPurchased)
	assert.Equal(t, "ledger", chk.Source)

	// Setelah rekonsiliasi "selesai".
	led.purchases["alice"] = res.ClaimID
	chk, err = svc.CheckPurchase(context.Background(), "alice", true)
	require.NoError(t, err)
	assert.True(t, chk.HasPurchased)
	assert.Equal(t, res.ClaimID, chk.ClaimID)
}

func TestRejectionMessagesAreStable(t *testing.T) {
	// Guard: client membedakan reason dari string ini.
	svc, store, _ := newService(t, 1)
	ctx := context.Background()

	res, _ := svc.AttemptPurchase(ctx, "alice", "")
	require.True(t, res.Success)
	res, _ = svc.AttemptPurchase(ctx, "bob", "")
	assert.Equal(t, MsgSoldOut, res.Message)
	res, _ = svc.AttemptPurchase(ctx, "alice", "")
	assert.Equal(t, MsgAlready, res.Message)

	sale := activeSale(1)
	sale.StartTime = time.Now().Add(time.Minute)
	sale.EndTime = time.Now().Add(time.Hour)
	require.NoError(t, store.Reset(ctx, sale))
	res, _ = svc.AttemptPurchase(ctx, "carol", "")
	assert.Equal(t, MsgNotStarted, res.Message)

	distinct := map[string]bool{MsgSoldOut: true, MsgAlready: true, MsgNotStarted: true, MsgEnded: true, MsgNotEligible: true}
	assert.Len(t, distinct, 5, "messages must be distinguishable")
}
