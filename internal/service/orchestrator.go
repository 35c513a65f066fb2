package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dialware/dialer-engine/internal/domain"
	"github.com/dialware/dialer-engine/internal/observability"
	"github.com/dialware/dialer-engine/internal/queue"
	"github.com/dialware/dialer-engine/internal/ratelimit"
	"github.com/dialware/dialer-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultOrchestratorTick = 2 * time.Second
	defaultReserveBatch     = 10
	defaultRingTimeout      = 30 * time.Second
)

// PacingAdvisor recommends how many calls a campaign should place this tick.
type PacingAdvisor interface {
	Recommend(campaign domain.Campaign, activeCalls int) int
}

// RatioPacingAdvisor paces on the campaign's target dial ratio: it aims to
// keep roughly ratio calls in flight and recommends the shortfall.
type RatioPacingAdvisor struct {
	// MaxPerTick bounds a single tick's burst regardless of the ratio.
	MaxPerTick int
}

func (a RatioPacingAdvisor) Recommend(campaign domain.Campaign, activeCalls int) int {
	target := int(math.Ceil(campaign.TargetDialRatio))
	if campaign.DialMode == domain.DialModePower && target < 1 {
		target = 1
	}

	want := target - activeCalls
	if want < 0 {
		want = 0
	}

	maxPerTick := a.MaxPerTick
	if maxPerTick <= 0 {
		maxPerTick = defaultReserveBatch
	}
	if want > maxPerTick {
		want = maxPerTick
	}
	return want
}

// DialResult is the outcome for one reserved lead pushed through the dial
// pipeline.
type DialResult struct {
	Lead      domain.Lead
	Attempt   *domain.CallAttempt
	Admitted  bool
	Remaining float64
	Err       error
}

// Orchestrator runs the dial pipeline: reserve a lead, pass trunk admission,
// create the attempt, arm its safety timer, and hand the job to a worker
// queue. A denied admission releases the lead and leaves no attempt behind.
type Orchestrator struct {
	campaigns repository.CampaignRepository
	leads     repository.LeadRepository
	trunks    repository.TrunkRepository
	attempts  *AttemptService
	timers    *TimerService
	limiter   ratelimit.TrunkLimiter
	publisher queue.Publisher
	pacing    PacingAdvisor
	metrics   *observability.Metrics
	logger    *zap.Logger

	tick         time.Duration
	reserveBatch int
	ringTimeout  time.Duration
}

type OrchestratorConfig struct {
	Tick         time.Duration
	ReserveBatch int
	RingTimeout  time.Duration
}

func NewOrchestrator(
	campaigns repository.CampaignRepository,
	leads repository.LeadRepository,
	trunks repository.TrunkRepository,
	attempts *AttemptService,
	timers *TimerService,
	limiter ratelimit.TrunkLimiter,
	publisher queue.Publisher,
	pacing PacingAdvisor,
	cfg OrchestratorConfig,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if campaigns == nil {
		return nil, fmt.Errorf("campaign repository is required")
	}
	if leads == nil {
		return nil, fmt.Errorf("lead repository is required")
	}
	if trunks == nil {
		return nil, fmt.Errorf("trunk repository is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempt service is required")
	}
	if timers == nil {
		return nil, fmt.Errorf("timer service is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("trunk limiter is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if pacing == nil {
		pacing = RatioPacingAdvisor{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.Tick <= 0 {
		cfg.Tick = defaultOrchestratorTick
	}
	if cfg.ReserveBatch <= 0 {
		cfg.ReserveBatch = defaultReserveBatch
	}
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = defaultRingTimeout
	}

	return &Orchestrator{
		campaigns:    campaigns,
		leads:        leads,
		trunks:       trunks,
		attempts:     attempts,
		timers:       timers,
		limiter:      limiter,
		publisher:    publisher,
		pacing:       pacing,
		metrics:      metrics,
		logger:       logger,
		tick:         cfg.Tick,
		reserveBatch: cfg.ReserveBatch,
		ringTimeout:  cfg.RingTimeout,
	}, nil
}

// ReserveLeads claims up to limit NEW leads for the campaign. Each returned
// lead is reserved for this caller only.
func (o *Orchestrator) ReserveLeads(ctx context.Context, campaignID string, limit int) ([]domain.Lead, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		return nil, fmt.Errorf("%w: campaign id is required", domain.ErrValidation)
	}
	if limit <= 0 {
		limit = o.reserveBatch
	}

	campaign, err := o.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != domain.CampaignActive {
		return nil, fmt.Errorf("%w: campaign %s is %s", domain.ErrConflict, campaignID, campaign.Status)
	}

	return o.leads.Reserve(ctx, campaignID, campaign.AccountID, limit)
}

// DialReserved pushes one already-reserved lead through admission and, if
// admitted, creates the attempt, arms the ring timer, and enqueues the dial
// job. Denied admission releases the lead; the decision is reported, not an
// error.
func (o *Orchestrator) DialReserved(ctx context.Context, campaign *domain.Campaign, lead domain.Lead) DialResult {
	if ctx == nil {
		ctx = context.Background()
	}

	result := DialResult{Lead: lead}
	logger := observability.WithContextLogger(o.logger, ctx).With(
		zap.String("campaignId", campaign.ID),
		zap.String("leadId", lead.ID),
		zap.String("trunkId", campaign.TrunkID),
	)

	decision, err := o.limiter.TryConsume(ctx, campaign.TrunkID, 1)
	if err != nil {
		result.Err = fmt.Errorf("admission check failed: %w", err)
		o.releaseLead(ctx, logger, lead.ID)
		return result
	}

	o.metrics.IncDialAdmission(campaign.TrunkID, decision.Allowed)
	result.Remaining = decision.Remaining

	if !decision.Allowed {
		result.Err = fmt.Errorf("%w: trunk %s", domain.ErrRateLimited, campaign.TrunkID)
		o.releaseLead(ctx, logger, lead.ID)
		logger.Info("dial denied by trunk admission", zap.Float64("remaining", decision.Remaining))
		return result
	}
	result.Admitted = true

	attempt, err := o.attempts.Create(ctx, &domain.CallAttempt{
		CampaignID: campaign.ID,
		AccountID:  campaign.AccountID,
		LeadID:     lead.ID,
		TrunkID:    campaign.TrunkID,
		Phone:      lead.Phone,
	})
	if err != nil {
		result.Err = fmt.Errorf("failed to create attempt: %w", err)
		o.releaseLead(ctx, logger, lead.ID)
		return result
	}
	result.Attempt = attempt

	if err := o.leads.MarkAttempted(ctx, lead.ID); err != nil {
		logger.Error("failed to mark lead attempted", zap.Error(err))
	}

	if _, err := o.timers.Arm(ctx, attempt.ID, domain.TimerRingTimeout, time.Now().UTC().Add(o.ringTimeout)); err != nil {
		logger.Error("failed to arm ring-timeout timer",
			zap.String("attemptId", attempt.ID),
			zap.Error(err),
		)
	}

	msg := queue.DialJobMessage{
		AttemptID:     attempt.ID,
		CampaignID:    campaign.ID,
		TrunkID:       campaign.TrunkID,
		Phone:         lead.Phone,
		CorrelationID: attempt.CorrelationID,
		DialMode:      campaign.DialMode,
	}
	if err := o.publisher.Publish(ctx, queue.DialQueueName(campaign.TrunkID), msg); err != nil {
		logger.Error("failed to enqueue dial job",
			zap.String("attemptId", attempt.ID),
			zap.Error(err),
		)
		if _, failErr := o.attempts.Transition(ctx, attempt.ID, domain.StateFailed, "enqueue failed"); failErr != nil {
			logger.Error("failed to fail attempt after enqueue error",
				zap.String("attemptId", attempt.ID),
				zap.Error(failErr),
			)
		}
		result.Err = fmt.Errorf("failed to enqueue dial job: %w", err)
		return result
	}

	logger.Info("dial job enqueued",
		zap.String("attemptId", attempt.ID),
		zap.Float64("tokensRemaining", decision.Remaining),
	)
	return result
}

func (o *Orchestrator) releaseLead(ctx context.Context, logger *zap.Logger, leadID string) {
	if err := o.leads.Release(ctx, []string{leadID}); err != nil {
		logger.Error("failed to release reserved lead", zap.String("leadId", leadID), zap.Error(err))
	}
}

// DialBatch reserves up to count leads for the campaign and dials each one.
func (o *Orchestrator) DialBatch(ctx context.Context, campaignID string, count int) ([]DialResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	campaign, err := o.campaigns.GetByID(ctx, strings.TrimSpace(campaignID))
	if err != nil {
		return nil, err
	}
	if campaign.Status != domain.CampaignActive {
		return nil, fmt.Errorf("%w: campaign %s is %s", domain.ErrConflict, campaign.ID, campaign.Status)
	}
	if !campaign.InWindow(time.Now()) {
		return nil, fmt.Errorf("%w: campaign %s is outside its dialing window", domain.ErrConflict, campaign.ID)
	}

	if count <= 0 {
		count = o.reserveBatch
	}
	leads, err := o.leads.Reserve(ctx, campaign.ID, campaign.AccountID, count)
	if err != nil {
		return nil, err
	}

	results := make([]DialResult, 0, len(leads))
	for _, lead := range leads {
		results = append(results, o.DialReserved(ctx, campaign, lead))
	}
	return results, nil
}

// CancelCampaign stops a campaign: marks it cancelled, cancels every active
// attempt, and returns its reserved leads to the pool.
func (o *Orchestrator) CancelCampaign(ctx context.Context, campaignID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		return fmt.Errorf("%w: campaign id is required", domain.ErrValidation)
	}

	if err := o.campaigns.Cancel(ctx, campaignID); err != nil {
		return err
	}

	logger := observability.WithContextLogger(o.logger, ctx).With(zap.String("campaignId", campaignID))

	active, err := o.attempts.ListActive(ctx, campaignID)
	if err != nil {
		logger.Error("failed to list active attempts for cancelled campaign", zap.Error(err))
		return nil
	}

	for i := range active {
		if _, err := o.attempts.Transition(ctx, active[i].ID, domain.StateCancelled, "campaign cancelled"); err != nil &&
			!errors.Is(err, domain.ErrTerminalState) {
			logger.Error("failed to cancel attempt",
				zap.String("attemptId", active[i].ID),
				zap.Error(err),
			)
		}
	}

	logger.Info("campaign cancelled", zap.Int("attemptsCancelled", len(active)))
	return nil
}

// Start runs the pacing loop until the context ends. Each tick walks the
// dialable campaigns, asks the advisor for a recommendation, and dials that
// many leads.
func (o *Orchestrator) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(o.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := o.runTick(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				o.logger.Error("orchestrator tick failed", zap.Error(err))
			}
		}
	}
}

func (o *Orchestrator) runTick(ctx context.Context) error {
	campaigns, err := o.campaigns.ListDialable(ctx)
	if err != nil {
		return fmt.Errorf("failed to list dialable campaigns: %w", err)
	}

	now := time.Now()
	for i := range campaigns {
		campaign := campaigns[i]
		if !campaign.InWindow(now) {
			continue
		}

		active, err := o.attempts.ListActive(ctx, campaign.ID)
		if err != nil {
			o.logger.Error("failed to count active attempts",
				zap.String("campaignId", campaign.ID),
				zap.Error(err),
			)
			continue
		}

		want := o.pacing.Recommend(campaign, len(active))
		if want <= 0 {
			continue
		}

		leads, err := o.leads.Reserve(ctx, campaign.ID, campaign.AccountID, want)
		if err != nil {
			o.logger.Error("failed to reserve leads",
				zap.String("campaignId", campaign.ID),
				zap.Error(err),
			)
			continue
		}

		for _, lead := range leads {
			o.DialReserved(ctx, &campaign, lead)
		}
	}

	return nil
}
