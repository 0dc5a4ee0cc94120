package queue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// BatchHandler processes a batch of messages and returns the IDs of the
// messages that failed. Every other message in the batch is acknowledged:
// partial-batch acknowledgment. Handlers must not panic past their own
// message; each message is judged independently unless the handler itself
// chooses to fail trailing messages (the ordered billing stage does).
type BatchHandler func(ctx context.Context, msgs []*Message) []string

// Worker drives a stage handler from a queue. Stages are stateless between
// invocations; all coordination happens through idempotent record writes and
// the queue's redelivery policy.
type Worker struct {
	queue     *Queue
	handler   BatchHandler
	batchSize int
	wait      time.Duration

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	onBatch func(acked, failed int)
}

// Queue returns the queue this worker consumes.
func (w *Worker) Queue() *Queue {
	return w.queue
}

// OnBatch registers an observer invoked after each batch with the number of
// acknowledged and failed messages. Set before Start.
func (w *Worker) OnBatch(fn func(acked, failed int)) {
	w.onBatch = fn
}

// NewWorker creates a worker that receives up to batchSize messages per
// invocation, waiting up to wait for the first.
func NewWorker(q *Queue, handler BatchHandler, batchSize int, wait time.Duration) *Worker {
	if batchSize <= 0 {
		batchSize = 1
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &Worker{
		queue:     q,
		handler:   handler,
		batchSize: batchSize,
		wait:      wait,
		stopCh:    make(chan struct{}),
	}
}

// Start begins consuming in a background goroutine.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})

	log.Infof("[Worker %s] Starting (batch=%d, wait=%s)", w.queue.Name(), w.batchSize, w.wait)
	w.wg.Add(1)
	go w.loop()
}

// Stop halts consumption and waits for the in-flight batch to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)
	w.wg.Wait()
	log.Infof("[Worker %s] Stopped", w.queue.Name())
}

func (w *Worker) loop() {
	defer w.wg.Done()

	ctx := context.Background()
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		msgs, err := w.queue.ReceiveBatch(ctx, w.batchSize, w.wait)
		if err != nil {
			log.Errorf("[Worker %s] Receive error: %v", w.queue.Name(), err)
			time.Sleep(time.Second)
			continue
		}
		if len(msgs) == 0 {
			continue
		}

		failed := w.handler(ctx, msgs)
		failedSet := make(map[string]struct{}, len(failed))
		for _, id := range failed {
			failedSet[id] = struct{}{}
		}

		for _, msg := range msgs {
			if _, ok := failedSet[msg.ID]; !ok {
				w.queue.Ack(ctx, msg)
			}
		}
		// Requeue failures newest-first: Fail pushes onto the consuming end,
		// so walking backwards lands the earliest failure at the front and
		// redelivery keeps the original batch order.
		for i := len(msgs) - 1; i >= 0; i-- {
			if _, ok := failedSet[msgs[i].ID]; ok {
				w.queue.Fail(ctx, msgs[i])
			}
		}

		if w.onBatch != nil {
			w.onBatch(len(msgs)-len(failedSet), len(failedSet))
		}
	}
}
