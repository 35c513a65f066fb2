package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dialware/dialer-engine/internal/domain"
	"github.com/dialware/dialer-engine/internal/observability"
	"github.com/dialware/dialer-engine/internal/queue"
	"github.com/dialware/dialer-engine/internal/repository"
	"github.com/dialware/dialer-engine/internal/signaling"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minDialConcurrency = 1

// DialWorker consumes dial jobs from per-trunk queues and originates the
// calls through the signaling gateway. Signaling callbacks, not the worker,
// drive the attempt through RINGING and beyond; the worker only owns
// QUEUED -> DIALING and the failure paths.
type DialWorker struct {
	trunks      repository.TrunkRepository
	consumer    queue.Consumer
	gateway     signaling.Provider
	attempts    *AttemptService
	metrics     *observability.Metrics
	logger      *zap.Logger
	concurrency int
	now         func() time.Time
}

func NewDialWorker(
	trunks repository.TrunkRepository,
	consumer queue.Consumer,
	gateway signaling.Provider,
	attempts *AttemptService,
	concurrency int,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*DialWorker, error) {
	if trunks == nil {
		return nil, fmt.Errorf("trunk repository is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("signaling gateway is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempt service is required")
	}
	if concurrency < minDialConcurrency {
		concurrency = minDialConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DialWorker{
		trunks:      trunks,
		consumer:    consumer,
		gateway:     gateway,
		attempts:    attempts,
		metrics:     metrics,
		logger:      logger,
		concurrency: concurrency,
		now:         time.Now,
	}, nil
}

// Start consumes every enabled trunk's queue until context cancellation.
func (w *DialWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	trunks, err := w.trunks.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("failed to list enabled trunks: %w", err)
	}
	if len(trunks) == 0 {
		return fmt.Errorf("no enabled trunks configured")
	}

	queueNames := make([]string, 0, len(trunks))
	for i := range trunks {
		queueNames = append(queueNames, queue.DialQueueName(trunks[i].ID))
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("dial worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			err := w.consumer.Consume(groupCtx, queueName, w.processMessage)
			if err != nil {
				w.logger.Error("dial worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("dial worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

func (w *DialWorker) processMessage(ctx context.Context, msg queue.DialJobMessage) error {
	ctx = observability.WithAttemptID(ctx, msg.AttemptID)
	logger := observability.WithContextLogger(w.logger, ctx)

	trunkLabel := strings.ToLower(msg.TrunkID)
	w.metrics.IncWorkerInFlight(trunkLabel)
	defer w.metrics.DecWorkerInFlight(trunkLabel)

	_, err := w.attempts.Transition(ctx, msg.AttemptID, domain.StateDialing, "worker picked up")
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("attempt missing for dial job, skipping")
			return nil
		}
		if errors.Is(err, domain.ErrTerminalState) || errors.Is(err, domain.ErrInvalidTransition) {
			// Cancelled or already settled while queued; consume the job.
			logger.Info("attempt no longer dialable, skipping", zap.Error(err))
			return nil
		}
		return fmt.Errorf("failed to move attempt to dialing: %w", err)
	}

	dialStart := w.now()
	resp, dialErr := w.gateway.PlaceCall(ctx, signaling.DialRequest{
		AttemptID:     msg.AttemptID,
		TrunkID:       msg.TrunkID,
		Phone:         msg.Phone,
		CorrelationID: msg.CorrelationID,
	})
	w.metrics.ObserveDialDuration(trunkLabel, w.now().Sub(dialStart))

	if dialErr == nil {
		if resp != nil && strings.TrimSpace(resp.CallID) != "" {
			if err := w.attempts.SetCorrelationID(ctx, msg.AttemptID, resp.CallID); err != nil {
				logger.Error("failed to bind gateway call id", zap.Error(err))
			}
		}
		logger.Info("call originated", zap.String("trunkId", msg.TrunkID))
		return nil
	}

	if signaling.IsTransient(dialErr) {
		// Nack path: the broker redelivers, or dead-letters after exhaustion.
		logger.Warn("transient gateway failure, requeueing dial job", zap.Error(dialErr))
		return fmt.Errorf("gateway originate failed: %w", dialErr)
	}

	logger.Error("permanent gateway failure", zap.Error(dialErr))
	if _, err := w.attempts.Transition(ctx, msg.AttemptID, domain.StateFailed, "gateway rejected originate"); err != nil {
		logger.Error("failed to fail attempt after gateway rejection", zap.Error(err))
	}
	return nil
}
