package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestNewProducer_RequiresBrokers(t *testing.T) {
	_, err := NewProducer()
	require.Error(t, err)
}

func TestProducer_Publish(t *testing.T) {
	w := &recordingWriter{}
	p, err := NewProducer(WithWriter(w))
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), "verdicts", []byte("BTC"), map[string]string{"action": "BUY"}))
	require.NoError(t, p.Publish(context.Background(), "verdicts", nil, []byte(`raw`)))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "verdicts", w.msgs[0].Topic)
	assert.Equal(t, []byte("BTC"), w.msgs[0].Key)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &body))
	assert.Equal(t, "BUY", body["action"])
	assert.Equal(t, []byte("raw"), w.msgs[1].Value)
}

func TestProducer_PublishWrapsWriterError(t *testing.T) {
	boom := errors.New("leader not available")
	p, err := NewProducer(WithWriter(&recordingWriter{err: boom}))
	require.NoError(t, err)

	err = p.Publish(context.Background(), "verdicts", nil, "x")
	assert.ErrorIs(t, err, boom)
}

func TestParseCompression(t *testing.T) {
	assert.Equal(t, kafka.Gzip, parseCompression("gzip"))
	assert.Equal(t, kafka.Lz4, parseCompression("lz4"))
	assert.Equal(t, kafka.Zstd, parseCompression("zstd"))
	assert.Equal(t, kafka.Snappy, parseCompression("unknown"))
}

func TestProducer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewProducer(WithWriter(&recordingWriter{}), WithRegisterer(reg), WithCompression("zstd"))
	require.NoError(t, err)
	require.NoError(t, p.Publish(context.Background(), "verdicts", nil, "abc"))

	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.messages.WithLabelValues("verdicts", "zstd", "ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.metrics.bytes.WithLabelValues("verdicts", "zstd")))

	// a second producer on the same registry shares the collectors
	p2, err := NewProducer(WithWriter(&recordingWriter{}), WithRegisterer(reg), WithCompression("zstd"))
	require.NoError(t, err)
	require.NoError(t, p2.Publish(context.Background(), "verdicts", nil, "x"))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.metrics.messages.WithLabelValues("verdicts", "zstd", "ok")))
}
