package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mselser95/polymarket-hedge/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeReader replays queued results, then blocks until ctx ends.
type fakeReader struct {
	mu      sync.Mutex
	queue   []fakeRead
	closed  bool
	reading chan struct{}
}

type fakeRead struct {
	msg kafka.Message
	err error
}

func (f *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.queue) > 0 {
		next := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()
		return next.msg, next.err
	}
	f.mu.Unlock()

	if f.reading != nil {
		select {
		case f.reading <- struct{}{}:
		default:
		}
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func value(s string) fakeRead {
	return fakeRead{msg: kafka.Message{Value: []byte(s)}}
}

func TestDecodeTicks(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    int
		wantErr bool
	}{
		{name: "single-object", in: `{"venue":"v","market_id":"m","side":"YES","best_ask":0.4}`, want: 1},
		{name: "array", in: `[{"venue":"v","market_id":"m","side":"YES"},{"venue":"v","market_id":"m","side":"NO"}]`, want: 2},
		{name: "whitespace-array", in: "  \n[]", want: 0},
		{name: "empty", in: "   ", wantErr: true},
		{name: "garbage", in: `{"venue":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeTicks([]byte(tt.in))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestKafkaSourceForwardsTicks(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	reader := &fakeReader{queue: []fakeRead{
		value(`{"venue":"polymarket","market_id":"m1","side":"YES","best_ask":0.42}`),
		value(`not json`),
		{err: errors.New("broker unavailable")},
		value(`[{"venue":"polymarket","market_id":"m1","side":"NO","best_ask":0.57}]`),
	}}

	src, err := NewKafkaSource(&KafkaConfig{Reader: reader, RetryDelay: time.Millisecond, Logger: logger})
	require.NoError(t, err)

	invalidBefore := testutil.ToFloat64(MessagesTotal.WithLabelValues("invalid"))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, src.Start(ctx))

	var got []*types.FeedTick
	for len(got) < 2 {
		select {
		case tick := <-src.Ticks():
			got = append(got, tick)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d ticks", len(got))
		}
	}

	assert.Equal(t, types.SideYes, got[0].Side)
	assert.Equal(t, 0.57, got[1].BestAsk)
	assert.Equal(t, invalidBefore+1, testutil.ToFloat64(MessagesTotal.WithLabelValues("invalid")))

	cancel()
	require.NoError(t, src.Close())
	assert.True(t, reader.closed)

	_, open := <-src.Ticks()
	assert.False(t, open, "tick channel closes with the consume loop")
}

func TestKafkaSourceDropsWhenFull(t *testing.T) {
	reader := &fakeReader{
		queue: []fakeRead{
			value(`[{"venue":"v","market_id":"m","side":"YES"},{"venue":"v","market_id":"m","side":"YES"},{"venue":"v","market_id":"m","side":"YES"}]`),
		},
		reading: make(chan struct{}, 1),
	}
	src, err := NewKafkaSource(&KafkaConfig{Reader: reader, BufferSize: 2})
	require.NoError(t, err)

	before := testutil.ToFloat64(TicksDroppedTotal)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, src.Start(ctx))

	select {
	case <-reader.reading:
	case <-time.After(2 * time.Second):
		t.Fatal("consume loop never drained the queue")
	}

	assert.Len(t, src.ticks, 2)
	assert.Equal(t, before+1, testutil.ToFloat64(TicksDroppedTotal))
}

func TestNewKafkaSourceValidation(t *testing.T) {
	_, err := NewKafkaSource(&KafkaConfig{Topic: "ticks"})
	assert.Error(t, err)

	src, err := NewKafkaSource(&KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "ticks", GroupID: "hedge"})
	require.NoError(t, err)
	assert.NotNil(t, src.reader)
	assert.NoError(t, src.Close())
}

func TestParseBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, ParseBrokers(" a:9092, ,b:9092 "))
	assert.Empty(t, ParseBrokers(""))
}
