package actor

import (
	"context"
	"time"

	"github.com/haasonsaas/ema/pkg/models"
)

const (
	writeQueueSize = 128
	noteQueueSize  = 16

	writeTimeout = 30 * time.Second
)

// bufferWrite is one pending conversation persistence. The optional ack
// channel receives the outcome once the write has settled.
type bufferWrite struct {
	msg models.BufferMessage
	ack chan error
}

// enqueueWriteLocked hands a buffer message to the single-consumer write
// pipeline. Enqueue order equals persisted order; callers hold w.mu so
// enqueues are serialized with the state transitions that produced them.
// The send may block when the pipeline is saturated; the consumer drains
// without touching w.mu, so this cannot deadlock.
func (w *Worker) enqueueWriteLocked(msg models.BufferMessage) chan error {
	ack := make(chan error, 1)
	w.writes <- bufferWrite{msg: msg, ack: ack}
	return ack
}

// consumeWrites is the pipeline consumer. A failed write is logged and
// reported on its ack channel, and the next write proceeds only after
// its predecessor settled, so persistence never reorders.
func (w *Worker) consumeWrites() {
	defer w.writeWG.Done()
	for bw := range w.writes {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := w.stores.Conversations.Append(ctx, w.cfg.Key.ConversationID, &bw.msg)
		cancel()
		if err != nil {
			w.logger.Error("buffer write failed",
				"kind", bw.msg.Kind, "time", bw.msg.Time, "error", err)
		}
		bw.ack <- err
		close(bw.ack)
	}
}
