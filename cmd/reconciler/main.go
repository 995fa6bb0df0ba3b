package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-flash-sale/internal/config"
	"github.com/ariefcatur/go-flash-sale/internal/flashsale"
	kafkax "github.com/ariefcatur/go-flash-sale/internal/kafka"
	"github.com/ariefcatur/go-flash-sale/internal/ledger"
	"github.com/ariefcatur/go-flash-sale/internal/postgres"
	"github.com/ariefcatur/go-flash-sale/internal/reconciler"
	"github.com/ariefcatur/go-flash-sale/internal/redisx"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()
	if err := ledger.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("schema: %v", err)
	}

	// Redis (dedup cepat; ledger tetap sumber kebenaran idempotensi)
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &reconciler.Service{
		Ledger:      &ledger.Repo{DB: db},
		Redis:       rdb,
		ServiceName: cfg.ServiceName + "-reconciler",
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ReconcilerGroup,
		flashsale.TopicPurchaseCommitted, cfg.ReconcilerWorkers)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("reconciler started: group=%s topic=%s workers=%d",
			cfg.ReconcilerGroup, flashsale.TopicPurchaseCommitted, cfg.ReconcilerWorkers)
		return cons.Start(gctx, svc.HandlePurchaseCommitted)
	})
	g.Go(func() error {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sig:
			log.Println("shutting down reconciler...")
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("reconciler exit: %v", err)
	}
}
