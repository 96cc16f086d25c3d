package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	fetched   int
	committed []int64
	onCommit  func(committed []int64)
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if r.fetched < len(r.messages) {
		msg := r.messages[r.fetched]
		r.fetched++
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	committed := append([]int64(nil), r.committed...)
	r.mu.Unlock()
	if r.onCommit != nil {
		r.onCommit(committed)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func messages(n int) []kafka.Message {
	out := make([]kafka.Message, n)
	for i := range out {
		out[i] = kafka.Message{Offset: int64(i), Key: []byte{byte('a' + i)}}
	}
	return out
}

func TestConsumerRetriesFailedMessageBeforeMovingOn(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reader := &fakeReader{messages: messages(3)}
	reader.onCommit = func(committed []int64) {
		if len(committed) == 3 {
			cancel()
		}
	}
	var handled []int64
	failures := 2
	c := newConsumer(reader, "resources", func(_ context.Context, key, _ []byte) error {
		offset := int64(key[0] - 'a')
		handled = append(handled, offset)
		if offset == 1 && failures > 0 {
			failures--
			return errors.New("index unavailable")
		}
		return nil
	})
	c.retryDelay = time.Millisecond
	c.maxDelay = 2 * time.Millisecond

	require.NoError(t, c.Start(ctx))
	assert.Equal(t, []int64{0, 1, 1, 1, 2}, handled)
	assert.Equal(t, []int64{0, 1, 2}, reader.committed)
}

func TestConsumerStopsWhileRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reader := &fakeReader{messages: messages(2)}
	attempts := 0
	c := newConsumer(reader, "resources", func(context.Context, []byte, []byte) error {
		attempts++
		if attempts == 3 {
			cancel()
		}
		return errors.New("index unavailable")
	})
	c.retryDelay = time.Millisecond

	require.NoError(t, c.Start(ctx))
	assert.Empty(t, reader.committed)
	assert.Equal(t, 1, reader.fetched)
}
