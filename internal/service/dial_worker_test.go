package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dialware/dialer-engine/internal/domain"
	"github.com/dialware/dialer-engine/internal/queue"
	"github.com/dialware/dialer-engine/internal/signaling"
)

func newTestDialWorker(t *testing.T, attempts *fakeAttemptRepo, gateway *fakeGateway) *DialWorker {
	t.Helper()

	attemptSvc := newTestAttemptService(t, attempts, &fakeEventRepo{}, &fakeTimerRepo{})
	worker, err := NewDialWorker(&fakeTrunkRepo{}, &fakeConsumer{}, gateway, attemptSvc, 1, nil, nil)
	if err != nil {
		t.Fatalf("NewDialWorker() error = %v", err)
	}
	return worker
}

func dialJob() queue.DialJobMessage {
	return queue.DialJobMessage{
		AttemptID:  "a1",
		CampaignID: "camp-1",
		TrunkID:    "trunk-east-1",
		Phone:      "+15551230001",
		DialMode:   domain.DialModePredictive,
	}
}

func TestDialWorkerOriginatesAndBindsCallID(t *testing.T) {
	t.Parallel()

	var transitionedTo domain.AttemptState
	var boundCorrelation string
	attempts := &fakeAttemptRepo{
		transitionFn: func(ctx context.Context, id string, to domain.AttemptState, event *domain.AttemptEvent) error {
			transitionedTo = to
			return nil
		},
		setCorrelationIDFn: func(ctx context.Context, id string, correlationID string) error {
			boundCorrelation = correlationID
			return nil
		},
		getByIDFn: func(ctx context.Context, id string) (*domain.CallAttempt, error) {
			return &domain.CallAttempt{ID: id, State: domain.StateDialing}, nil
		},
	}

	gateway := &fakeGateway{
		placeCallFn: func(ctx context.Context, req signaling.DialRequest) (*signaling.DialResponse, error) {
			if req.AttemptID != "a1" || req.Phone != "+15551230001" {
				t.Fatalf("unexpected dial request: %+v", req)
			}
			return &signaling.DialResponse{StatusCode: 202, CallID: "sip-call-9"}, nil
		},
	}

	worker := newTestDialWorker(t, attempts, gateway)

	if err := worker.processMessage(context.Background(), dialJob()); err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}
	if transitionedTo != domain.StateDialing {
		t.Fatalf("transitioned to %s, want DIALING", transitionedTo)
	}
	if boundCorrelation != "sip-call-9" {
		t.Fatalf("correlation = %s, want sip-call-9", boundCorrelation)
	}
}

func TestDialWorkerSkipsSettledAttempt(t *testing.T) {
	t.Parallel()

	attempts := &fakeAttemptRepo{
		transitionFn: func(ctx context.Context, id string, to domain.AttemptState, event *domain.AttemptEvent) error {
			return fmt.Errorf("%w: CANCELLED cannot move to %s", domain.ErrTerminalState, to)
		},
		getByIDFn: func(ctx context.Context, id string) (*domain.CallAttempt, error) {
			return &domain.CallAttempt{ID: id, State: domain.StateCancelled}, nil
		},
	}
	gateway := &fakeGateway{
		placeCallFn: func(ctx context.Context, req signaling.DialRequest) (*signaling.DialResponse, error) {
			t.Fatal("gateway must not be called for a settled attempt")
			return nil, nil
		},
	}

	worker := newTestDialWorker(t, attempts, gateway)

	// Acked (nil) so the broker drops the job.
	if err := worker.processMessage(context.Background(), dialJob()); err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}
}

func TestDialWorkerSkipsMissingAttempt(t *testing.T) {
	t.Parallel()

	attempts := &fakeAttemptRepo{
		transitionFn: func(ctx context.Context, id string, to domain.AttemptState, event *domain.AttemptEvent) error {
			return domain.ErrNotFound
		},
	}
	worker := newTestDialWorker(t, attempts, &fakeGateway{})

	if err := worker.processMessage(context.Background(), dialJob()); err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}
}

func TestDialWorkerTransientGatewayFailureRequeues(t *testing.T) {
	t.Parallel()

	attempts := &fakeAttemptRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.CallAttempt, error) {
			return &domain.CallAttempt{ID: id, State: domain.StateDialing}, nil
		},
	}
	gateway := &fakeGateway{
		placeCallFn: func(ctx context.Context, req signaling.DialRequest) (*signaling.DialResponse, error) {
			return nil, &signaling.ProviderError{StatusCode: 503, Transient: true}
		},
	}

	worker := newTestDialWorker(t, attempts, gateway)

	if err := worker.processMessage(context.Background(), dialJob()); err == nil {
		t.Fatal("transient failure must return an error so the broker redelivers")
	}
}

func TestDialWorkerPermanentGatewayFailureFailsAttempt(t *testing.T) {
	t.Parallel()

	transitions := make([]domain.AttemptState, 0, 2)
	attempts := &fakeAttemptRepo{
		transitionFn: func(ctx context.Context, id string, to domain.AttemptState, event *domain.AttemptEvent) error {
			transitions = append(transitions, to)
			return nil
		},
		getByIDFn: func(ctx context.Context, id string) (*domain.CallAttempt, error) {
			return &domain.CallAttempt{ID: id, State: domain.StateDialing}, nil
		},
	}
	gateway := &fakeGateway{
		placeCallFn: func(ctx context.Context, req signaling.DialRequest) (*signaling.DialResponse, error) {
			return nil, &signaling.ProviderError{StatusCode: 400, Transient: false}
		},
	}

	worker := newTestDialWorker(t, attempts, gateway)

	if err := worker.processMessage(context.Background(), dialJob()); err != nil {
		t.Fatalf("processMessage() error = %v, permanent failures are consumed", err)
	}
	if len(transitions) != 2 || transitions[0] != domain.StateDialing || transitions[1] != domain.StateFailed {
		t.Fatalf("transitions = %v, want [DIALING FAILED]", transitions)
	}
}

func TestDialWorkerStartRequiresTrunks(t *testing.T) {
	t.Parallel()

	attemptSvc := newTestAttemptService(t, &fakeAttemptRepo{}, &fakeEventRepo{}, &fakeTimerRepo{})
	worker, err := NewDialWorker(&fakeTrunkRepo{}, &fakeConsumer{}, &fakeGateway{}, attemptSvc, 2, nil, nil)
	if err != nil {
		t.Fatalf("NewDialWorker() error = %v", err)
	}

	if err := worker.Start(context.Background()); err == nil {
		t.Fatal("expected error when no trunks are enabled")
	}
}

func TestDialWorkerStartConsumesTrunkQueues(t *testing.T) {
	t.Parallel()

	trunks := &fakeTrunkRepo{
		listEnabledFn: func(ctx context.Context) ([]domain.TrunkConfig, error) {
			return []domain.TrunkConfig{
				{ID: "trunk-east-1", MaxCPS: 10, Enabled: true},
				{ID: "trunk-west-2", MaxCPS: 5, Enabled: true},
			}, nil
		},
	}

	consumed := make(chan string, 4)
	consumer := &fakeConsumer{
		consumeFn: func(ctx context.Context, queueName string, handler queue.MessageHandler) error {
			consumed <- queueName
			<-ctx.Done()
			return nil
		},
	}

	attemptSvc := newTestAttemptService(t, &fakeAttemptRepo{}, &fakeEventRepo{}, &fakeTimerRepo{})
	worker, err := NewDialWorker(trunks, consumer, &fakeGateway{}, attemptSvc, 2, nil, nil)
	if err != nil {
		t.Fatalf("NewDialWorker() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Start(ctx) }()

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		seen[<-consumed] = true
	}
	if !seen["dial.trunk-east-1"] || !seen["dial.trunk-west-2"] {
		t.Fatalf("consumed queues = %v, want both trunk queues", seen)
	}

	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("Start() error = %v", err)
	}
}
