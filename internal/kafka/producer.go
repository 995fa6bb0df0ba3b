package kafka

import (
	"context"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer menulis lewat satu goroutine dengan inbox buffered, jadi caller
// tidak pernah nunggu broker. Topic dibawa per message: satu producer bisa
// melayani beberapa topic.
type Producer struct {
	w       *kafka.Writer
	inbox   chan kafka.Message
	closeCh chan struct{}

	// OnDrop dipanggil saat retry habis dan message menyerah. Pasang sink
	// durable di sini (mis. tabel parkir) supaya event bisa di-replay;
	// nil = cuma log.
	OnDrop func(m kafka.Message)

	write   func(ctx context.Context, m kafka.Message) error
	backoff time.Duration
}

func NewProducer(brokers []string, buf int) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return &Producer{
		w:       w,
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
		write: func(ctx context.Context, m kafka.Message) error {
			return w.WriteMessages(ctx, m)
		},
		backoff: 200 * time.Millisecond,
	}
}

// Start menjalankan loop penulis. Close() adalah satu-satunya yang menutup
// inbox; ctx cancel cuma memotong drain supaya shutdown tidak menggantung.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		defer p.w.Close()
		for {
			select {
			case <-ctx.Done():
				for {
					select {
					case m, ok := <-p.inbox:
						if !ok {
							return
						}
						p.writeWithRetry(m)
					default:
						return
					}
				}
			case m, ok := <-p.inbox:
				if !ok {
					return
				}
				p.writeWithRetry(m)
			}
		}
	}()
}

// writeWithRetry: publish failure tidak boleh membatalkan claim yang sudah
// commit di fast path. Retry dengan backoff; kalau tetap gagal, log keras
// lalu serahkan ke OnDrop supaya event tidak hilang begitu saja.
func (p *Producer) writeWithRetry(m kafka.Message) {
	backoff := p.backoff
	for attempt := 1; ; attempt++ {
		err := p.write(context.Background(), m)
		if err == nil {
			return
		}
		if attempt >= 5 {
			log.Printf("producer: giving up on message topic=%s key=%s after %d attempts: %v (ledger drift risk)",
				m.Topic, m.Key, attempt, err)
			if p.OnDrop != nil {
				p.OnDrop(m)
			}
			return
		}
		log.Printf("producer: write failed (attempt %d): %v", attempt, err)
		time.Sleep(backoff)
		if backoff < 5*time.Second {
			backoff *= 2
		}
	}
}

// Publish fire-and-forget dari sisi caller; response HTTP tidak menunggu
// broker ack.
func (p *Producer) Publish(topic string, key, value []byte, headers ...kafka.Header) {
	p.inbox <- kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
}

// Tutup channel supaya goroutine nge-flush sisa pesan lalu exit rapi.
func (p *Producer) Close() { close(p.inbox) }

// Tunggu sampai goroutine selesai.
func (p *Producer) WaitClosed() { <-p.closeCh }
