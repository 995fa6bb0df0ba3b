package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleUntilDoneRetriesSameMessage(t *testing.T) {
	msg := kafka.Message{Offset: 5, Key: []byte("alice")}
	attempts := 0
	h := func(_ context.Context, m kafka.Message) error {
		attempts++
		require.Equal(t, int64(5), m.Offset, "retry must target the failed message, not the next one")
		if attempts < 3 {
			return errors.New("db connection lost")
		}
		return nil
	}

	require.NoError(t, handleUntilDone(context.Background(), msg, h, time.Millisecond))
	assert.Equal(t, 3, attempts)
}

func TestHandleUntilDoneStopsOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := func(context.Context, kafka.Message) error { return errors.New("still failing") }

	err := handleUntilDone(ctx, kafka.Message{Offset: 9}, h, time.Millisecond)
	require.Error(t, err, "shutdown mid-retry must not look like success, offset stays uncommitted")
}

func TestShardIsStablePerKey(t *testing.T) {
	for _, key := range []string{"alice", "bob", "carol", ""} {
		first := shard([]byte(key), 4)
		assert.Equal(t, first, shard([]byte(key), 4), "key %q must always land on the same worker", key)
		assert.Less(t, first, 4)
	}
}

func TestProducerFlushesOnClose(t *testing.T) {
	p := NewProducer([]string{"unused:9092"}, 4)
	var got []kafka.Message
	p.write = func(_ context.Context, m kafka.Message) error {
		got = append(got, m)
		return nil
	}

	p.Start(context.Background())
	p.Publish("orders", []byte("k1"), []byte("v1"))
	p.Publish("resets", []byte("k2"), []byte("v2"))
	p.Close()
	p.WaitClosed()

	require.Len(t, got, 2)
	assert.Equal(t, "orders", got[0].Topic)
	assert.Equal(t, "resets", got[1].Topic)
}

func TestProducerHandsExhaustedMessageToOnDrop(t *testing.T) {
	p := NewProducer([]string{"unused:9092"}, 4)
	p.backoff = time.Millisecond
	attempts := 0
	p.write = func(context.Context, kafka.Message) error {
		attempts++
		return errors.New("broker unreachable")
	}
	var dropped []kafka.Message
	p.OnDrop = func(m kafka.Message) { dropped = append(dropped, m) }

	p.Start(context.Background())
	p.Publish("orders", []byte("alice"), []byte("payload"))
	p.Close()
	p.WaitClosed()

	assert.Equal(t, 5, attempts)
	require.Len(t, dropped, 1)
	assert.Equal(t, []byte("alice"), dropped[0].Key)
	assert.Equal(t, []byte("payload"), dropped[0].Value)
}
