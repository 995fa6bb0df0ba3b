package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-flash-sale/internal/checkout"
	"github.com/ariefcatur/go-flash-sale/internal/config"
	"github.com/ariefcatur/go-flash-sale/internal/flashsale"
	"github.com/ariefcatur/go-flash-sale/internal/httpx"
	kafkax "github.com/ariefcatur/go-flash-sale/internal/kafka"
	"github.com/ariefcatur/go-flash-sale/internal/ledger"
	"github.com/ariefcatur/go-flash-sale/internal/memstore"
	"github.com/ariefcatur/go-flash-sale/internal/postgres"
	"github.com/ariefcatur/go-flash-sale/internal/redisx"
	"github.com/ariefcatur/go-flash-sale/internal/users"
	"github.com/joho/godotenv"
	kafkago "github.com/segmentio/kafka-go"
)

type pingable interface {
	checkout.Store
	Ping(ctx context.Context) error
}

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()
	if err := ledger.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("schema: %v", err)
	}

	ledgerRepo := &ledger.Repo{DB: db}
	userRepo := &users.Repo{DB: db}

	sale, err := bootstrapSale(ctx, ledgerRepo, cfg)
	if err != nil {
		log.Fatalf("sale bootstrap: %v", err)
	}
	if n, err := userRepo.SeedDemo(ctx); err != nil {
		log.Printf("user seed: %v", err)
	} else if n > 0 {
		log.Printf("seeded %d demo users", n)
	}

	// Fast-path store
	var store pingable
	switch cfg.StoreBackend {
	case "memory":
		store = memstore.New()
	default:
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		store = &redisx.Store{RDB: rdb, CacheTTL: cfg.StatusCacheTTL}
	}
	// Prime state sale kalau store masih kosong (boot pertama / habis flush).
	// Store yang sudah terisi dibiarkan: jangan hapus dedupe set sale live.
	if _, err := store.Status(ctx, sale.ID); err != nil {
		if err := store.Reset(ctx, sale); err != nil {
			log.Printf("fast-path prime failed (degraded until reachable): %v", err)
		} else {
			log.Printf("fast path primed: sale=%s stock=%d", sale.ID, sale.Remaining)
		}
	}

	// Kafka producer. Event yang gagal publish setelah retry diparkir di
	// ledger supaya bisa di-replay, bukan cuma hilang di log.
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024)
	prod.OnDrop = func(m kafkago.Message) {
		var env flashsale.Envelope
		if err := json.Unmarshal(m.Value, &env); err != nil {
			log.Printf("dropped message undecodable, cannot park: %v", err)
			return
		}
		pctx, pcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer pcancel()
		if err := ledgerRepo.ParkEvent(pctx, env.EventID, m.Topic, "publish failed after retries", m.Value); err != nil {
			log.Printf("park dropped event %s: %v", env.EventID, err)
		}
	}
	prod.Start(ctx)

	// Coordinator & handler
	svc := &checkout.Service{
		Store:        store,
		Ledger:       ledgerRepo,
		Users:        userRepo,
		Producer:     prod,
		SaleID:       sale.ID,
		ServiceName:  cfg.ServiceName,
		ClaimTimeout: cfg.ClaimTimeout,
	}
	router := httpx.NewRouter()
	h := &httpx.FlashSaleHandler{
		Checkout: svc,
		Ledger:   ledgerRepo,
		Users:    userRepo,
		Pingers: map[string]func(context.Context) error{
			"store":    store.Ping,
			"postgres": db.Ping,
			"kafka": func(ctx context.Context) error {
				conn, err := kafkago.DialContext(ctx, "tcp", cfg.KafkaBrokers[0])
				if err != nil {
					return err
				}
				return conn.Close()
			},
		},
	}
	h.Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	// graceful shutdown
	go func() {
		log.Printf("HTTP listening at %s (sale=%s)", cfg.HTTPAddr, sale.ID)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // tutup inbox -> flush & close writer
	cancel()          // stop producer loop
	prod.WaitClosed() // drain
}

// bootstrapSale: pakai sale aktif yang ada; kalau belum ada, buat demo sale
// dari config (stok kecil, window start sekarang).
func bootstrapSale(ctx context.Context, repo *ledger.Repo, cfg config.Config) (flashsale.Sale, error) {
	sale, err := repo.GetActiveSale(ctx)
	if err == nil {
		return sale, nil
	}
	if !errors.Is(err, ledger.ErrNoActiveSale) {
		return flashsale.Sale{}, err
	}

	now := time.Now().UTC()
	sale = flashsale.Sale{
		Product: flashsale.ProductInfo{
			Name:          "AirPods 3 Pro Release Edition",
			Description:   "Limited release with active noise cancellation and 30-hour battery life.",
			Condition:     "New",
			Warranty:      "2 years",
			PriceCents:    49900,
			DiscountCents: 20000,
			CurrencyCode:  "USD",
			Images:        []string{"/images/airpods-1.jpeg", "/images/airpods-2.jpeg"},
			Extra: map[string]string{
				"bluetooth":    "5.2",
				"battery_life": "30 hours",
				"shipping":     "free worldwide shipping",
			},
		},
		TotalStock: cfg.SaleStock,
		Remaining:  cfg.SaleStock,
		StartTime:  now,
		EndTime:    now.Add(cfg.SaleDuration),
		IsActive:   true,
	}
	id, err := repo.CreateSale(ctx, sale)
	if err != nil {
		return flashsale.Sale{}, err
	}
	sale.ID = id
	log.Printf("created demo sale %s: stock=%d window=[%s, %s)", id, sale.TotalStock,
		sale.StartTime.Format(time.RFC3339), sale.EndTime.Format(time.RFC3339))
	return sale, nil
}
