package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/safepay/escrow-gateway/internal/model"
	"github.com/safepay/escrow-gateway/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	// Use unique connection name per test to avoid global adapter caching issues
	connName := t.Name() + "-" + mr.Addr()
	adapter, err := redis.NewRedisAdapter(connName, "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, adapter
}

func testEvent(eventType string) TransactionEvent {
	return NewTransactionEvent(eventType, &model.Transaction{
		ID:             7,
		TransactionRef: "TXN-TEST-REF",
		Status:         model.TransactionStatusPending,
		Amount:         model.Money(10000),
		TotalAmount:    model.Money(10200),
	}, 1)
}

func streamConfig(name string) StreamConfig {
	return StreamConfig{
		Name:              name,
		ConsumerGroup:     "test-group",
		ConsumerName:      "test-consumer",
		MaxRetries:        3,
		VisibilityTimeout: 5 * time.Second,
		PollInterval:      100 * time.Millisecond,
		BatchSize:         10,
		MaxLen:            1000,
		EnableDLQ:         true,
	}
}

func TestStream_PublishAndConsume(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	stream, err := NewStream(adapter, streamConfig("test:events"))
	require.NoError(t, err)

	ctx := context.Background()
	published := testEvent(TypeTransactionCreated)

	id, err := stream.Publish(ctx, published)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	received := make(chan TransactionEvent, 1)
	handler := func(ctx context.Context, ev TransactionEvent, attempts int) error {
		received <- ev
		return nil
	}

	require.NoError(t, stream.Consume(handler))
	defer stream.Stop()

	select {
	case ev := <-received:
		assert.Equal(t, published.ID, ev.ID)
		assert.Equal(t, TypeTransactionCreated, ev.Type)
		assert.Equal(t, "TXN-TEST-REF", ev.TransactionRef)
		assert.Equal(t, "100.00", ev.Amount)
		assert.Equal(t, "102.00", ev.TotalAmount)
	case <-time.After(2 * time.Second):
		t.Fatal("event not received")
	}
}

func TestStream_Len(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	stream, err := NewStream(adapter, streamConfig("test:len:events"))
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := stream.Publish(ctx, testEvent(TypeTransactionCreated))
		require.NoError(t, err)
	}

	n, err := stream.Len()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestStream_FailedHandlerLeavesMessagePending(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	cfg := streamConfig("test:retry:events")
	stream, err := NewStream(adapter, cfg)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = stream.Publish(ctx, testEvent(TypeTransactionCompleted))
	require.NoError(t, err)

	var mu sync.Mutex
	calls := 0
	handler := func(ctx context.Context, ev TransactionEvent, attempts int) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("delivery endpoint down")
	}

	require.NoError(t, stream.Consume(handler))
	defer stream.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 1
	}, 2*time.Second, 50*time.Millisecond)

	// the message was never acked, so it stays in the pending list
	pending, err := adapter.XPendingExt(cfg.Name, cfg.ConsumerGroup, "-", "+", 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestStream_MalformedPayloadIsDropped(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	cfg := streamConfig("test:malformed:events")
	stream, err := NewStream(adapter, cfg)
	require.NoError(t, err)

	_, err = adapter.XAdd(cfg.Name, map[string]interface{}{
		"type": "transaction.created",
		"data": "{not json",
	})
	require.NoError(t, err)

	handled := make(chan struct{}, 1)
	handler := func(ctx context.Context, ev TransactionEvent, attempts int) error {
		handled <- struct{}{}
		return nil
	}

	require.NoError(t, stream.Consume(handler))
	defer stream.Stop()

	select {
	case <-handled:
		t.Fatal("malformed payload should never reach the handler")
	case <-time.After(500 * time.Millisecond):
	}

	// malformed entries are acked away, not retried forever
	pending, err := adapter.XPendingExt(cfg.Name, cfg.ConsumerGroup, "-", "+", 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestNewStream_Validation(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	_, err := NewStream(adapter, StreamConfig{})
	assert.Error(t, err)

	s, err := NewStream(adapter, StreamConfig{Name: "test:defaults"})
	require.NoError(t, err)
	assert.NotNil(t, s)
}
