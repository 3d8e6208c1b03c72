package kafka

import (
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSaramaProducerConfig(t *testing.T) {
	cfg := DefaultProducerConfig([]string{"localhost:9092"})
	sc := newSaramaProducerConfig(cfg)

	assert.Equal(t, sarama.WaitForLocal, sc.Producer.RequiredAcks)
	assert.Equal(t, sarama.CompressionSnappy, sc.Producer.Compression)
	assert.Equal(t, 100*time.Millisecond, sc.Producer.Flush.Frequency)
	assert.Equal(t, 100, sc.Producer.Flush.Messages)
	assert.Equal(t, 3, sc.Producer.Retry.Max)
	assert.True(t, sc.Producer.Return.Errors)
	assert.False(t, sc.Producer.Return.Successes)

	tests := []struct {
		acks        int
		compression string
		wantAcks    sarama.RequiredAcks
		wantCodec   sarama.CompressionCodec
	}{
		{0, "gzip", sarama.NoResponse, sarama.CompressionGZIP},
		{-1, "zstd", sarama.WaitForAll, sarama.CompressionZSTD},
		{7, "lz4", sarama.WaitForLocal, sarama.CompressionLZ4},
		{1, "brotli", sarama.WaitForLocal, sarama.CompressionNone},
	}
	for _, tt := range tests {
		cfg.RequiredAcks = tt.acks
		cfg.Compression = tt.compression
		sc := newSaramaProducerConfig(cfg)
		assert.Equal(t, tt.wantAcks, sc.Producer.RequiredAcks, "acks=%d", tt.acks)
		assert.Equal(t, tt.wantCodec, sc.Producer.Compression, "compression=%s", tt.compression)
	}
}

func TestNewSaramaConsumerConfig(t *testing.T) {
	cfg := DefaultConsumerConfig([]string{"localhost:9092"}, "recorder", []string{"valuation_reports"})
	sc := newSaramaConsumerConfig(cfg)

	assert.Equal(t, sarama.OffsetNewest, sc.Consumer.Offsets.Initial)
	assert.True(t, sc.Consumer.Offsets.AutoCommit.Enable)
	require.Len(t, sc.Consumer.Group.Rebalance.GroupStrategies, 1)
	assert.Equal(t, sarama.RoundRobinBalanceStrategyName, sc.Consumer.Group.Rebalance.GroupStrategies[0].Name())
}

type sample struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

func TestJSONHandler(t *testing.T) {
	var got *sample
	h := JSONHandler(func(v *sample) error {
		got = v
		return nil
	})

	require.NoError(t, h("valuation_reports", 0, 1, []byte("k"), []byte(`{"symbol":"BTC","price":1.5}`)))
	require.NotNil(t, got)
	assert.Equal(t, "BTC", got.Symbol)
	assert.Equal(t, 1.5, got.Price)

	err := h("valuation_reports", 2, 9, nil, []byte(`not json`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "valuation_reports[2]@9")

	boom := errors.New("boom")
	h = JSONHandler(func(*sample) error { return boom })
	assert.ErrorIs(t, h("t", 0, 0, nil, []byte(`{}`)), boom)
}

type testMessage struct{ key string }

func (m testMessage) Topic() string          { return "pricer_test" }
func (m testMessage) Key() string            { return m.key }
func (m testMessage) Value() ([]byte, error) { return []byte(`{"symbol":"` + m.key + `"}`), nil }

func TestProducer_SendAfterClose(t *testing.T) {
	p, err := NewProducer(DefaultProducerConfig([]string{"localhost:9092"}))
	if err != nil {
		t.Skipf("skipping test; kafka not available: %v", err)
	}

	var _ Sender = p
	require.NoError(t, p.Send(testMessage{key: "BTC"}))
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	assert.ErrorIs(t, p.Send(testMessage{key: "BTC"}), ErrProducerClosed)
	assert.Equal(t, int64(1), p.Stats().SentCount)
}
