package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/hospital-api/pkg/messaging"
)

func newBroker(t *testing.T) (messaging.Broker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewClient(context.Background(), Config{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return NewRedisBroker(client, zerolog.Nop()), mr
}

func TestRedisBroker_PublishSubscribe(t *testing.T) {
	broker, _ := newBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := broker.Subscribe(ctx, "security.alerts")
	require.NoError(t, err)

	require.NoError(t, broker.Publish(ctx, "security.alerts", map[string]string{"action": "ACCOUNT_LOCKED"}))

	select {
	case msg := <-msgs:
		var got map[string]string
		require.NoError(t, json.Unmarshal(msg, &got))
		assert.Equal(t, "ACCOUNT_LOCKED", got["action"])
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}

	cancel()
	select {
	case _, ok := <-msgs:
		assert.False(t, ok, "channel closes after cancel")
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}
}

func TestConsumeRunsHandlerUntilCancelled(t *testing.T) {
	broker, _ := newBroker(t)
	ctx, cancel := context.WithCancel(context.Background())

	received := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- messaging.Consume(ctx, broker, "alerts", func(_ context.Context, payload []byte) error {
			select {
			case received <- string(payload):
			default:
			}
			return nil
		}, nil)
	}()

	// Publish until the subscriber is attached.
	deadline := time.After(2 * time.Second)
	for delivered := false; !delivered; {
		require.NoError(t, broker.Publish(context.Background(), "alerts", "ping"))
		select {
		case got := <-received:
			assert.Equal(t, `"ping"`, got)
			delivered = true
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("handler never ran")
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("consume did not return")
	}
}

func TestNewClientUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewClient(context.Background(), Config{URL: "redis://" + addr})
	assert.Error(t, err)
}
