package autoreply

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/haulops-crm/internal/events"
	"github.com/wolfman30/haulops-crm/pkg/logging"
)

// Handler runs the pipeline for one inbound message.
type Handler interface {
	HandleInboundAutoReply(ctx context.Context, messageID string) (Result, error)
}

type processedEventStore interface {
	AlreadyProcessed(ctx context.Context, source, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, source, eventID string) (bool, error)
}

// processedSource namespaces event ids in the processed-events table.
const processedSource = "autoreply"

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 10
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
	defaultHandleTimeout = 30 * time.Second
)

// Worker consumes inbound-message-created events and invokes the handler.
// Queue messages are deleted once a result (or error) is produced; retried
// deliveries are absorbed by the pipeline's idempotency.
type Worker struct {
	handler Handler
	queue   events.QueueClient
	logger  *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	handleTimeout    time.Duration
	processed        processedEventStore
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait for each receive.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize overrides how many messages each poll returns.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithHandleTimeout bounds a single pipeline invocation.
func WithHandleTimeout(d time.Duration) WorkerOption {
	return func(cfg *workerConfig) {
		if d > 0 {
			cfg.handleTimeout = d
		}
	}
}

// WithProcessedEventsStore skips events whose id was already handled.
func WithProcessedEventsStore(store processedEventStore) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.processed = store
	}
}

// NewWorker wires a queue consumer around handler.
func NewWorker(handler Handler, queue events.QueueClient, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if handler == nil {
		panic("autoreply: handler cannot be nil")
	}
	if queue == nil {
		panic("autoreply: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
		handleTimeout:    defaultHandleTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{
		handler: handler,
		queue:   queue,
		logger:  logger,
		cfg:     cfg,
	}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("auto reply worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("auto reply worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive inbound events", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg events.QueueMessage) {
	defer w.deleteMessage(context.Background(), msg.ReceiptHandle)

	evt, err := events.DecodeInboundMessageCreated(msg.Body)
	if err != nil {
		w.logger.Error("failed to decode inbound event", "error", err, "queue_message_id", msg.ID)
		return
	}

	if w.cfg.processed != nil && evt.EventID != "" {
		done, err := w.cfg.processed.AlreadyProcessed(ctx, processedSource, evt.EventID)
		if err != nil {
			w.logger.Warn("processed event lookup failed", "error", err, "event_id", evt.EventID)
		} else if done {
			w.logger.Info("skipping already processed inbound event", "event_id", evt.EventID, "message_id", evt.MessageID)
			return
		}
	}

	handleCtx, cancel := context.WithTimeout(ctx, w.cfg.handleTimeout)
	defer cancel()

	res, err := w.handler.HandleInboundAutoReply(handleCtx, evt.MessageID)
	if err != nil {
		w.logger.Error("auto reply failed",
			"error", err,
			"event_id", evt.EventID,
			"message_id", evt.MessageID,
			"receive_count", msg.ReceiveCount,
		)
		return
	}
	w.logger.Info("auto reply handled",
		"event_id", evt.EventID,
		"message_id", evt.MessageID,
		"status", res.Status,
		"reason", res.Reason,
	)

	if w.cfg.processed != nil && evt.EventID != "" {
		if _, err := w.cfg.processed.MarkProcessed(ctx, processedSource, evt.EventID); err != nil {
			w.logger.Warn("failed to mark inbound event processed", "error", err, "event_id", evt.EventID)
		}
	}
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}

	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeoutSeconds*time.Second)
	defer cancel()

	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete inbound event", "error", err)
	}
}
