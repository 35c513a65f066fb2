package service

import (
	"context"
	"errors"
	"testing"

	"github.com/dialware/dialer-engine/internal/domain"
	"github.com/dialware/dialer-engine/internal/queue"
	"github.com/dialware/dialer-engine/internal/ratelimit"
)

func newTestOrchestrator(
	t *testing.T,
	campaigns *fakeCampaignRepo,
	leads *fakeLeadRepo,
	attempts *fakeAttemptRepo,
	timers *fakeTimerRepo,
	limiter *fakeLimiter,
	publisher *fakePublisher,
) *Orchestrator {
	t.Helper()

	attemptSvc := newTestAttemptService(t, attempts, &fakeEventRepo{}, timers)
	timerSvc, err := NewTimerService(timers, &fakeEventRepo{}, attemptSvc, nil, nil)
	if err != nil {
		t.Fatalf("NewTimerService() error = %v", err)
	}

	orch, err := NewOrchestrator(
		campaigns, leads, &fakeTrunkRepo{}, attemptSvc, timerSvc,
		limiter, publisher, RatioPacingAdvisor{}, OrchestratorConfig{}, nil, nil,
	)
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}
	return orch
}

func activeCampaign() *domain.Campaign {
	return &domain.Campaign{
		ID:              "camp-1",
		AccountID:       "acct-1",
		Name:            "q3-renewals",
		DialMode:        domain.DialModePredictive,
		TrunkID:         "trunk-east-1",
		TargetDialRatio: 2,
		Status:          domain.CampaignActive,
	}
}

func TestOrchestratorDialReservedAdmitted(t *testing.T) {
	t.Parallel()

	var createdAttempt *domain.CallAttempt
	attempts := &fakeAttemptRepo{
		createFn: func(ctx context.Context, a *domain.CallAttempt, event *domain.AttemptEvent) error {
			createdAttempt = a
			return nil
		},
	}

	var armed bool
	timers := &fakeTimerRepo{
		armFn: func(ctx context.Context, timer *domain.AttemptTimer) error {
			armed = true
			if timer.Type != domain.TimerRingTimeout {
				t.Fatalf("timer type = %s, want RING_TIMEOUT", timer.Type)
			}
			return nil
		},
	}

	var marked string
	leads := &fakeLeadRepo{
		markAttemptedFn: func(ctx context.Context, leadID string) error {
			marked = leadID
			return nil
		},
		releaseFn: func(ctx context.Context, leadIDs []string) error {
			t.Fatal("admitted dial must not release the lead")
			return nil
		},
	}

	var published queue.DialJobMessage
	var publishedQueue string
	publisher := &fakePublisher{
		publishFn: func(ctx context.Context, queueName string, msg queue.DialJobMessage) error {
			publishedQueue = queueName
			published = msg
			return nil
		},
	}

	orch := newTestOrchestrator(t, &fakeCampaignRepo{}, leads, attempts, timers, &fakeLimiter{
		tryConsumeFn: func(ctx context.Context, trunkID string, tokens float64) (ratelimit.Decision, error) {
			if trunkID != "trunk-east-1" {
				t.Fatalf("trunk = %s, want trunk-east-1", trunkID)
			}
			if tokens != 1 {
				t.Fatalf("tokens = %v, want 1", tokens)
			}
			return ratelimit.Decision{Allowed: true, Remaining: 4}, nil
		},
	}, publisher)

	lead := domain.Lead{ID: "lead-1", CampaignID: "camp-1", Phone: "+15551230001"}
	result := orch.DialReserved(context.Background(), activeCampaign(), lead)

	if result.Err != nil {
		t.Fatalf("DialReserved() err = %v", result.Err)
	}
	if !result.Admitted {
		t.Fatal("expected admission")
	}
	if result.Remaining != 4 {
		t.Fatalf("remaining = %v, want 4", result.Remaining)
	}
	if createdAttempt == nil || createdAttempt.LeadID != "lead-1" {
		t.Fatalf("attempt = %+v, want lead-1", createdAttempt)
	}
	if marked != "lead-1" {
		t.Fatalf("marked lead = %s, want lead-1", marked)
	}
	if !armed {
		t.Fatal("expected no-answer timer armed")
	}
	if publishedQueue != "dial.trunk-east-1" {
		t.Fatalf("queue = %s, want dial.trunk-east-1", publishedQueue)
	}
	if published.AttemptID != createdAttempt.ID {
		t.Fatalf("message attempt id = %s, want %s", published.AttemptID, createdAttempt.ID)
	}
	if published.DialMode != domain.DialModePredictive {
		t.Fatalf("message dial mode = %s, want PREDICTIVE", published.DialMode)
	}
}

func TestOrchestratorDialReservedDeniedReleasesLead(t *testing.T) {
	t.Parallel()

	attempts := &fakeAttemptRepo{
		createFn: func(ctx context.Context, a *domain.CallAttempt, event *domain.AttemptEvent) error {
			t.Fatal("denied dial must not create an attempt")
			return nil
		},
	}

	var released []string
	leads := &fakeLeadRepo{
		releaseFn: func(ctx context.Context, leadIDs []string) error {
			released = leadIDs
			return nil
		},
	}

	publisher := &fakePublisher{
		publishFn: func(ctx context.Context, queueName string, msg queue.DialJobMessage) error {
			t.Fatal("denied dial must not publish")
			return nil
		},
	}

	orch := newTestOrchestrator(t, &fakeCampaignRepo{}, leads, attempts, &fakeTimerRepo{}, &fakeLimiter{
		tryConsumeFn: func(ctx context.Context, trunkID string, tokens float64) (ratelimit.Decision, error) {
			return ratelimit.Decision{Allowed: false, Remaining: 0.4}, nil
		},
	}, publisher)

	lead := domain.Lead{ID: "lead-1", CampaignID: "camp-1", Phone: "+15551230001"}
	result := orch.DialReserved(context.Background(), activeCampaign(), lead)

	if result.Admitted {
		t.Fatal("expected denial")
	}
	if !errors.Is(result.Err, domain.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", result.Err)
	}
	if len(released) != 1 || released[0] != "lead-1" {
		t.Fatalf("released = %v, want [lead-1]", released)
	}
}

func TestOrchestratorDialReservedPublishFailureFailsAttempt(t *testing.T) {
	t.Parallel()

	transitions := make([]domain.AttemptState, 0, 1)
	attempts := &fakeAttemptRepo{
		transitionFn: func(ctx context.Context, id string, to domain.AttemptState, event *domain.AttemptEvent) error {
			transitions = append(transitions, to)
			return nil
		},
		getByIDFn: func(ctx context.Context, id string) (*domain.CallAttempt, error) {
			return &domain.CallAttempt{ID: id, State: domain.StateFailed}, nil
		},
	}

	publisher := &fakePublisher{
		publishFn: func(ctx context.Context, queueName string, msg queue.DialJobMessage) error {
			return errors.New("broker down")
		},
	}

	orch := newTestOrchestrator(t, &fakeCampaignRepo{}, &fakeLeadRepo{}, attempts, &fakeTimerRepo{}, &fakeLimiter{}, publisher)

	lead := domain.Lead{ID: "lead-1", CampaignID: "camp-1", Phone: "+15551230001"}
	result := orch.DialReserved(context.Background(), activeCampaign(), lead)

	if result.Err == nil {
		t.Fatal("expected publish error")
	}
	if len(transitions) != 1 || transitions[0] != domain.StateFailed {
		t.Fatalf("transitions = %v, want [FAILED]", transitions)
	}
}

func TestOrchestratorReserveLeadsRejectsInactiveCampaign(t *testing.T) {
	t.Parallel()

	campaigns := &fakeCampaignRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Campaign, error) {
			c := activeCampaign()
			c.Status = domain.CampaignPaused
			return c, nil
		},
	}
	orch := newTestOrchestrator(t, campaigns, &fakeLeadRepo{}, &fakeAttemptRepo{}, &fakeTimerRepo{}, &fakeLimiter{}, &fakePublisher{})

	if _, err := orch.ReserveLeads(context.Background(), "camp-1", 5); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("error = %v, want ErrConflict", err)
	}
}

func TestOrchestratorDialBatchOutsideWindow(t *testing.T) {
	t.Parallel()

	campaigns := &fakeCampaignRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Campaign, error) {
			c := activeCampaign()
			// A one-minute window is effectively always closed.
			c.WindowStartMin = 1
			c.WindowEndMin = 2
			return c, nil
		},
	}
	leads := &fakeLeadRepo{
		reserveFn: func(ctx context.Context, campaignID string, accountID string, limit int) ([]domain.Lead, error) {
			t.Fatal("no reservation outside the window")
			return nil, nil
		},
	}
	orch := newTestOrchestrator(t, campaigns, leads, &fakeAttemptRepo{}, &fakeTimerRepo{}, &fakeLimiter{}, &fakePublisher{})

	_, err := orch.DialBatch(context.Background(), "camp-1", 5)
	if !errors.Is(err, domain.ErrConflict) {
		// The clock could legitimately sit inside 00:01-00:02 UTC; tolerate it.
		t.Skipf("clock inside test window, err = %v", err)
	}
}

func TestOrchestratorCancelCampaignCancelsActiveAttempts(t *testing.T) {
	t.Parallel()

	var cancelledCampaign string
	campaigns := &fakeCampaignRepo{
		cancelFn: func(ctx context.Context, id string) error {
			cancelledCampaign = id
			return nil
		},
	}

	cancelled := make([]string, 0, 2)
	attempts := &fakeAttemptRepo{
		listActiveFn: func(ctx context.Context, campaignID string) ([]domain.CallAttempt, error) {
			return []domain.CallAttempt{
				{ID: "a1", State: domain.StateRinging},
				{ID: "a2", State: domain.StateConnected},
			}, nil
		},
		transitionFn: func(ctx context.Context, id string, to domain.AttemptState, event *domain.AttemptEvent) error {
			if to != domain.StateCancelled {
				t.Fatalf("transition to %s, want CANCELLED", to)
			}
			cancelled = append(cancelled, id)
			return nil
		},
		getByIDFn: func(ctx context.Context, id string) (*domain.CallAttempt, error) {
			return &domain.CallAttempt{ID: id, State: domain.StateCancelled}, nil
		},
	}

	orch := newTestOrchestrator(t, campaigns, &fakeLeadRepo{}, attempts, &fakeTimerRepo{}, &fakeLimiter{}, &fakePublisher{})

	if err := orch.CancelCampaign(context.Background(), "camp-1"); err != nil {
		t.Fatalf("CancelCampaign() error = %v", err)
	}
	if cancelledCampaign != "camp-1" {
		t.Fatalf("cancelled campaign = %s, want camp-1", cancelledCampaign)
	}
	if len(cancelled) != 2 {
		t.Fatalf("cancelled attempts = %v, want 2", cancelled)
	}
}

func TestRatioPacingAdvisorRecommend(t *testing.T) {
	t.Parallel()

	advisor := RatioPacingAdvisor{MaxPerTick: 5}

	testCases := []struct {
		name   string
		ratio  float64
		mode   domain.DialMode
		active int
		want   int
	}{
		{name: "shortfall", ratio: 3, mode: domain.DialModePredictive, active: 1, want: 2},
		{name: "saturated", ratio: 2, mode: domain.DialModePredictive, active: 4, want: 0},
		{name: "capped by tick burst", ratio: 20, mode: domain.DialModePredictive, active: 0, want: 5},
		{name: "power floor", ratio: 0, mode: domain.DialModePower, active: 0, want: 1},
		{name: "fractional ratio rounds up", ratio: 1.5, mode: domain.DialModePredictive, active: 0, want: 2},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			campaign := domain.Campaign{TargetDialRatio: tc.ratio, DialMode: tc.mode}
			if got := advisor.Recommend(campaign, tc.active); got != tc.want {
				t.Fatalf("Recommend() = %d, want %d", got, tc.want)
			}
		})
	}
}
