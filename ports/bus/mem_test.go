package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = WithBackoff(Backoff{Min: time.Millisecond, Max: 5 * time.Millisecond})

func TestInMemory_DeliversInOrderAndCommits(t *testing.T) {
	b := NewInMemory(nil)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	require.NoError(t, b.Publish(ctx,
		Message{Topic: "t", Key: []byte("a"), Value: []byte("1")},
		Message{Topic: "t", Key: []byte("a"), Value: []byte("2")},
		Message{Topic: "other", Value: []byte("x")},
	))

	var (
		mu   sync.Mutex
		seen []string
	)
	done := make(chan error, 1)
	c := b.Consumer("g", "t", fastRetry)
	go func() {
		done <- c.Run(ctx, func(_ context.Context, m Message) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, string(m.Value))
			return nil
		})
	}()

	require.NoError(t, b.Publish(ctx, Message{Topic: "t", Value: []byte("3")}))
	require.Eventually(t, func() bool { return b.Committed("g", "t") == 3 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []string{"1", "2", "3"}, seen)
	assert.Equal(t, int64(0), b.Committed("other-group", "t"))
}

func TestInMemory_RetriesUntilSuccess(t *testing.T) {
	b := NewInMemory(nil)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	require.NoError(t, b.Publish(ctx, Message{Topic: "t", Value: []byte("1")}))

	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- b.Consumer("g", "t", fastRetry).Run(ctx, func(context.Context, Message) error {
			attempts++
			if attempts < 3 {
				return errors.New("transient")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool { return b.Committed("g", "t") == 1 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 3, attempts)
}

func TestInMemory_PoisonStopsWithoutCommit(t *testing.T) {
	b := NewInMemory(nil)
	require.NoError(t, b.Publish(t.Context(), Message{Topic: "t", Value: []byte("bad")}))

	err := b.Consumer("g", "t", fastRetry).Run(t.Context(), func(context.Context, Message) error {
		return Poison(errors.New("undecodable"))
	})
	require.ErrorIs(t, err, ErrPoison)
	assert.Equal(t, int64(0), b.Committed("g", "t"))
}

func TestInMemory_Closed(t *testing.T) {
	b := NewInMemory(nil)
	require.NoError(t, b.Close())
	require.ErrorIs(t, b.Publish(t.Context(), Message{Topic: "t"}), ErrClosed)
	require.ErrorIs(t, b.Consumer("g", "t").Run(t.Context(), nil), ErrClosed)
}

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Min: 10 * time.Millisecond, Max: 50 * time.Millisecond}
	assert.Equal(t, 10*time.Millisecond, b.delay(1))
	assert.Equal(t, 20*time.Millisecond, b.delay(2))
	assert.Equal(t, 40*time.Millisecond, b.delay(3))
	assert.Equal(t, 50*time.Millisecond, b.delay(4))
	assert.Equal(t, 50*time.Millisecond, b.delay(30))
}
