package queue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWorkerDefaults(t *testing.T) {
	q := NewQueue(nil, "worker-defaults", DefaultMaxReceives)

	w := NewWorker(q, func(context.Context, []*Message) []string { return nil }, 0, 0)
	assert.Equal(t, 1, w.batchSize)
	assert.Equal(t, 5*time.Second, w.wait)
}

func TestWorkerRedeliversFailedBatchInOrder(t *testing.T) {
	q := newTestQueue(t, "test-worker-order", DefaultMaxReceives)
	ctx := context.Background()

	for _, body := range []string{"first", "second", "third"} {
		_, err := q.Send(ctx, []byte(body), nil)
		require.NoError(t, err)
	}

	batches := make(chan []string, 4)
	var calls int32
	handler := func(_ context.Context, msgs []*Message) []string {
		batches <- bodiesOf(msgs)
		if atomic.AddInt32(&calls, 1) > 1 {
			return nil
		}
		ids := make([]string, 0, len(msgs))
		for _, m := range msgs {
			ids = append(ids, m.ID)
		}
		return ids
	}

	w := NewWorker(q, handler, 3, time.Second)
	w.Start()
	defer w.Stop()

	readBatch := func() []string {
		select {
		case batch := <-batches:
			return batch
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for a batch")
			return nil
		}
	}

	first := readBatch()
	require.Equal(t, []string{"first", "second", "third"}, first)

	// The failed batch comes back complete and in the original order
	second := readBatch()
	assert.Equal(t, []string{"first", "second", "third"}, second)
}

func TestWorkerReportsBatchCounts(t *testing.T) {
	q := newTestQueue(t, "test-worker-counts", DefaultMaxReceives)
	ctx := context.Background()

	_, err := q.Send(ctx, []byte("ok"), nil)
	require.NoError(t, err)
	failing, err := q.Send(ctx, []byte("broken"), nil)
	require.NoError(t, err)

	counts := make(chan [2]int, 4)
	w := NewWorker(q, func(_ context.Context, msgs []*Message) []string {
		var failed []string
		for _, m := range msgs {
			if m.ID == failing.ID {
				failed = append(failed, m.ID)
			}
		}
		return failed
	}, 2, time.Second)
	w.OnBatch(func(acked, failedCount int) {
		counts <- [2]int{acked, failedCount}
	})
	w.Start()
	defer w.Stop()

	select {
	case got := <-counts:
		assert.Equal(t, [2]int{1, 1}, got)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for batch counts")
	}
}
