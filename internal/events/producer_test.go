package events

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKafkaHeaderCarrier(t *testing.T) {
	headers := make([]kafka.Header, 0)
	carrier := &kafkaHeaderCarrier{headers: &headers}

	t.Run("get_missing_key", func(t *testing.T) {
		assert.Equal(t, "", carrier.Get("traceparent"))
	})

	t.Run("set_and_get", func(t *testing.T) {
		carrier.Set("traceparent", "00-abc-def-01")
		assert.Equal(t, "00-abc-def-01", carrier.Get("traceparent"))
	})

	t.Run("keys", func(t *testing.T) {
		carrier.Set("baggage", "shopper=alice")
		keys := carrier.Keys()
		require.Len(t, keys, 2)
		assert.Contains(t, keys, "traceparent")
		assert.Contains(t, keys, "baggage")
	})
}

func TestNewKafkaProducer(t *testing.T) {
	producer := NewKafkaProducer([]string{"localhost:9092"}, "quickmart.orders")

	assert.NotNil(t, producer.writer)
	assert.NotNil(t, producer.tracer)
	assert.Equal(t, "quickmart.orders", producer.topic)
	assert.Equal(t, kafka.RequireOne, producer.writer.RequiredAcks)

	require.NoError(t, producer.Close())
}
