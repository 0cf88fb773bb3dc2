package kafka

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/inventory-es/ports/bus"
)

// brokers returns the brokers of a running cluster from KAFKA_BROKERS and
// skips the test when none is configured.
func brokers(t *testing.T) []string {
	t.Helper()
	v := os.Getenv("KAFKA_BROKERS")
	if v == "" || testing.Short() {
		t.Skip("KAFKA_BROKERS not set")
	}
	return strings.Split(v, ",")
}

func TestKafka_PublishConsume(t *testing.T) {
	addrs := brokers(t)
	topic := "test_" + gonanoid.MustGenerate("abcdefghijklmnopqrstuvwxyz", 10)

	p := NewProducer(ProducerConfig{Brokers: addrs, ClientID: "test"})
	defer p.Close()

	var msgs []bus.Message
	for i := range 5 {
		msgs = append(msgs, bus.Message{
			Topic:   topic,
			Key:     []byte("item-1"),
			Value:   []byte(fmt.Sprintf("%d", i)),
			Headers: map[string]string{"n": fmt.Sprintf("%d", i)},
		})
	}
	require.Eventually(t, func() bool { return p.Publish(t.Context(), msgs...) == nil }, 30*time.Second, time.Second)

	c := NewConsumer(ConsumerConfig{Brokers: addrs, Topic: topic, GroupID: topic})
	defer c.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Second)
	defer cancel()

	var got []string
	err := c.Run(ctx, func(_ context.Context, m bus.Message) error {
		got = append(got, string(m.Value))
		assert.Equal(t, string(m.Value), m.Headers["n"])
		if len(got) == len(msgs) {
			cancel()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, got)
}
