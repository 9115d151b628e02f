package logstream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/irgordon/slipway/internal/core/domain"
)

const (
	flushThreshold = 50
	flushInterval  = time.Second
)

// Store is the durable sink for log batches.
type Store interface {
	InsertBatch(ctx context.Context, deploymentID int64, entries []domain.LogEntry) error
}

// Writer accumulates log entries for one deployment and flushes them to the
// store in batches: whenever the pending batch reaches flushThreshold, every
// flushInterval, and unconditionally on Close. A failed flush is logged to
// the process log and the batch is discarded; the live stream already
// delivered the entries.
type Writer struct {
	deploymentID int64
	store        Store
	logger       *slog.Logger

	mu      sync.Mutex
	pending []domain.LogEntry

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewWriter(deploymentID int64, store Store, logger *slog.Logger) *Writer {
	w := &Writer{
		deploymentID: deploymentID,
		store:        store,
		logger:       logger,
		done:         make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// Append queues an entry for persistence, flushing if the batch is full.
func (w *Writer) Append(e domain.LogEntry) {
	w.mu.Lock()
	w.pending = append(w.pending, e)
	shouldFlush := len(w.pending) >= flushThreshold
	w.mu.Unlock()
	if shouldFlush {
		w.flush()
	}
}

// Close stops the ticker and performs a final synchronous flush so the
// durable log is complete before the deployment is marked terminal.
func (w *Writer) Close() {
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
	w.flush()
}

func (w *Writer) loop() {
	defer w.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.flush()
		case <-w.done:
			return
		}
	}
}

func (w *Writer) flush() {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.store.InsertBatch(ctx, w.deploymentID, batch); err != nil {
		w.logger.Error("failed to persist deployment log batch",
			"deployment_id", w.deploymentID,
			"batch_size", len(batch),
			"error", err)
	}
}
