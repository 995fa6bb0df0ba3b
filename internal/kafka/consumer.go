package kafka

import (
	"context"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Handler harus return nil hanya jika proses sukses & boleh commit offset.
// Return error = transient; message yang SAMA dicoba ulang sampai sukses,
// offset tidak pernah maju melewati message yang belum diterapkan.
type Handler func(ctx context.Context, m kafka.Message) error

type Consumer struct {
	r       *kafka.Reader
	workers int
}

func NewConsumer(brokers []string, group, topic string, workers int) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers}
}

// Start membaca lalu membagi message ke worker berdasarkan hash key: semua
// event dengan key sama selalu jatuh ke worker yang sama, urutan per key
// tetap terjaga walau workers > 1. Message yang gagal memblokir shard-nya
// (retry + backoff di tempat), BUKAN di-skip: commit hanya terjadi untuk
// message yang sudah diterapkan, jadi tidak ada offset yang "lompat" dan
// menandai message gagal sebagai consumed.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make([]chan kafka.Message, c.workers)
	for i := range jobs {
		jobs[i] = make(chan kafka.Message, 256)
	}
	closeAll := func() {
		for _, ch := range jobs {
			close(ch)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func(ch <-chan kafka.Message) {
			defer wg.Done()
			for m := range ch {
				if err := handleUntilDone(ctx, m, h, 200*time.Millisecond); err != nil {
					return // shutdown di tengah retry: tanpa commit, message di-redeliver
				}
				if err := c.r.CommitMessages(ctx, m); err != nil {
					log.Printf("commit offset %d: %v", m.Offset, err)
				}
			}
		}(jobs[i])
	}

	for {
		m, err := c.r.ReadMessage(ctx)
		if err != nil {
			closeAll()
			wg.Wait()
			// kecilkan noise saat shutdown
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		select {
		case jobs[shard(m.Key, c.workers)] <- m:
		case <-ctx.Done():
			closeAll()
			wg.Wait()
			return nil
		}
	}
}

// handleUntilDone menjalankan handler untuk satu message sampai sukses.
// Error transient = tunggu backoff lalu coba message yang sama lagi.
// Hanya berhenti kalau ctx selesai; error yang dikembalikan selalu ctx.Err().
func handleUntilDone(ctx context.Context, m kafka.Message, h Handler, backoff time.Duration) error {
	for {
		err := h(ctx, m)
		if err == nil {
			return nil
		}
		log.Printf("handler failed at offset %d, retrying in %s: %v", m.Offset, backoff, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func shard(key []byte, n int) int {
	h := fnv.New32a()
	_, _ = h.Write(key)
	return int(h.Sum32() % uint32(n))
}
