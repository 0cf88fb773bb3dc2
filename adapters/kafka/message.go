package kafka

import (
	"strings"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/codewandler/inventory-es/ports/bus"
)

func toKafka(m bus.Message) kafkago.Message {
	km := kafkago.Message{
		Topic: m.Topic,
		Key:   m.Key,
		Value: m.Value,
	}
	for k, v := range m.Headers {
		km.Headers = append(km.Headers, kafkago.Header{Key: k, Value: []byte(v)})
	}
	return km
}

func fromKafka(km kafkago.Message) bus.Message {
	m := bus.Message{
		Topic:     km.Topic,
		Key:       km.Key,
		Value:     km.Value,
		Partition: km.Partition,
		Offset:    km.Offset,
	}
	if len(km.Headers) > 0 {
		m.Headers = make(map[string]string, len(km.Headers))
		for _, h := range km.Headers {
			m.Headers[h.Key] = string(h.Value)
		}
	}
	return m
}

// shouldReset reports network and metadata failures after which the
// client is recreated.
func shouldReset(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	for _, sub := range []string{
		"dial tcp",
		"connection refused",
		"i/o timeout",
		"eof",
		"broken pipe",
		"not leader",
		"unknown broker",
		"failed to dial",
	} {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
