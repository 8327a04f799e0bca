package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
	"github.com/alexisbeaulieu97/pipewright/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/pipewright/internal/ports"
)

const (
	// DefaultPollInterval is how long an idle worker waits before polling again.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultMaxAttempts bounds re-deliveries of a message whose handling failed.
	DefaultMaxAttempts = 5
)

// Worker polls the queue and hands messages to the handler.
type Worker struct {
	queue        Queue
	handler      *Handler
	logger       ports.Logger
	metrics      ports.MetricsCollector
	parallelism  int
	pollInterval time.Duration
	maxAttempts  int
	retryDelay   time.Duration
}

// WorkerOption configures a worker instance.
type WorkerOption func(*Worker)

// WithWorkerLogger injects a logger.
func WithWorkerLogger(logger ports.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

// WithWorkerMetrics injects a metrics collector used for the queue depth gauge.
func WithWorkerMetrics(metrics ports.MetricsCollector) WorkerOption {
	return func(w *Worker) {
		w.metrics = metrics
	}
}

// WithWorkerParallelism overrides how many messages are handled at once.
func WithWorkerParallelism(parallelism int) WorkerOption {
	return func(w *Worker) {
		w.parallelism = parallelism
	}
}

// WithPollInterval overrides the idle poll interval.
func WithPollInterval(interval time.Duration) WorkerOption {
	return func(w *Worker) {
		w.pollInterval = interval
	}
}

// WithMaxAttempts overrides how often a failing message is re-delivered.
func WithMaxAttempts(attempts int) WorkerOption {
	return func(w *Worker) {
		w.maxAttempts = attempts
	}
}

// NewWorker constructs a worker.
func NewWorker(queue Queue, handler *Handler, opts ...WorkerOption) *Worker {
	w := &Worker{
		queue:        queue,
		handler:      handler,
		logger:       logging.NewNoOpLogger(),
		parallelism:  1,
		pollInterval: DefaultPollInterval,
		maxAttempts:  DefaultMaxAttempts,
		retryDelay:   handler.retryDelay,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logging.NewNoOpLogger()
	}
	if w.parallelism <= 0 {
		w.parallelism = 1
	}
	w.logger = w.logger.With("component", "worker")
	return w
}

// Run processes messages until ctx is done, then waits for in-flight
// messages to finish.
func (w *Worker) Run(ctx context.Context) error {
	sem := make(chan struct{}, w.parallelism)
	var wg sync.WaitGroup
	defer wg.Wait()

	w.logger.Info(ctx, "worker started", "parallelism", w.parallelism)
	for {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return nil
		}

		msg, err := w.poll(ctx)
		if err != nil || msg == nil {
			<-sem
			if err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Warn(ctx, "queue poll failed", "error", err)
			}
			select {
			case <-time.After(w.pollInterval):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		wg.Add(1)
		go func(m Message) {
			defer wg.Done()
			defer func() { <-sem }()
			w.process(context.WithoutCancel(ctx), m)
		}(*msg)
	}
}

// ProcessNext handles a single due message synchronously and reports
// whether one was available.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	msg, err := w.poll(ctx)
	if err != nil || msg == nil {
		return false, err
	}
	w.process(ctx, *msg)
	return true, nil
}

// Drain processes due messages until none remain or limit messages were
// handled, returning how many were processed.
func (w *Worker) Drain(ctx context.Context, limit int) (int, error) {
	processed := 0
	for limit <= 0 || processed < limit {
		ok, err := w.ProcessNext(ctx)
		if err != nil {
			return processed, err
		}
		if !ok {
			break
		}
		processed++
	}
	return processed, nil
}

func (w *Worker) poll(ctx context.Context) (*Message, error) {
	msg, err := w.queue.Poll(ctx)
	if err != nil {
		return nil, err
	}
	if w.metrics != nil {
		if size, err := w.queue.Size(ctx); err == nil {
			w.metrics.SetGauge(ctx, ports.MetricQueueDepth, float64(size), nil)
		}
	}
	return msg, nil
}

func (w *Worker) process(ctx context.Context, msg Message) {
	err := w.handler.Handle(ctx, msg)
	if err == nil {
		return
	}
	if permanent(err) {
		w.logger.Warn(ctx, "dropping message", "kind", string(msg.Kind), "execution_id", msg.ExecutionID, "error", err)
		return
	}
	if msg.Attempts+1 >= w.maxAttempts {
		w.logger.Error(ctx, "message failed too often, dropping", "kind", string(msg.Kind), "execution_id", msg.ExecutionID,
			"attempts", msg.Attempts+1, "error", err)
		return
	}
	msg.Attempts++
	msg.ID = ""
	w.logger.Warn(ctx, "message failed, retrying", "kind", string(msg.Kind), "execution_id", msg.ExecutionID,
		"attempt", msg.Attempts, "error", err)
	if pushErr := w.queue.Push(ctx, msg, w.retryDelay); pushErr != nil {
		w.logger.Error(ctx, "failed to re-queue message", "kind", string(msg.Kind), "error", pushErr)
	}
}

// permanent reports errors that a retry cannot fix.
func permanent(err error) bool {
	for _, code := range []execution.ErrorCode{
		execution.ErrCodeNotFound,
		execution.ErrCodeValidation,
		execution.ErrCodeIllegalState,
		execution.ErrCodeInvalidConfig,
		execution.ErrCodeUnsupported,
	} {
		if execution.HasCode(err, code) {
			return true
		}
	}
	return false
}
