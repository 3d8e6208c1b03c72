package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupNATS 假设本地 NATS 运行在 localhost:4222，不可用时跳过
func setupNATS(t *testing.T) *Publisher {
	t.Helper()
	p, err := NewPublisher(nats.DefaultURL)
	if err != nil {
		t.Skipf("skipping test; nats not available: %v", err)
	}
	t.Cleanup(p.Close)
	return p
}

type ping struct {
	N int `json:"n"`
}

func TestRequestReply(t *testing.T) {
	p := setupNATS(t)

	sub, err := NewSubscriber(nats.DefaultURL, nil)
	require.NoError(t, err)
	defer sub.Close()

	subject := "pricer.test.ping"
	err = sub.SubscribeReply(subject, "test", func(_ string, data []byte) ([]byte, error) {
		in, err := UnmarshalJSON[ping](data)
		if err != nil {
			return nil, err
		}
		return json.Marshal(ping{N: in.N * 2})
	})
	require.NoError(t, err)
	require.NoError(t, sub.conn.Flush())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var out ping
	require.NoError(t, p.Request(ctx, subject, ping{N: 21}, &out))
	assert.Equal(t, 42, out.N)
}

func TestPublishSubscribe(t *testing.T) {
	p := setupNATS(t)

	got := make(chan ping, 1)
	sub, err := NewSubscriber(nats.DefaultURL, func(_ string, data []byte) error {
		v, err := UnmarshalJSON[ping](data)
		if err != nil {
			return err
		}
		got <- *v
		return nil
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, sub.SubscribeQueue("pricer.test.events", "test"))
	require.NoError(t, sub.conn.Flush())
	require.NoError(t, p.Publish("pricer.test.events", ping{N: 7}))

	select {
	case v := <-got:
		assert.Equal(t, 7, v.N)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestUnmarshalJSON(t *testing.T) {
	v, err := UnmarshalJSON[ping]([]byte(`{"n":3}`))
	require.NoError(t, err)
	assert.Equal(t, 3, v.N)

	_, err = UnmarshalJSON[ping]([]byte(`{`))
	var syntaxErr *json.SyntaxError
	assert.True(t, errors.As(err, &syntaxErr))
}
