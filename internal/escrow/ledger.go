package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fundverse/backend/internal/models"
)

// Service is the escrow engine surface consumed by handlers, rail adapters and jobs.
type Service interface {
	RecordContribution(ctx context.Context, in NewContribution) (uint64, error)
	Contribution(ctx context.Context, id uint64) (models.Contribution, error)
	ContributionsByCampaign(ctx context.Context, campaignID uint64) ([]models.Contribution, error)
	ContributionsByBacker(ctx context.Context, backer uuid.UUID) ([]models.Contribution, error)

	Confirm(ctx context.Context, id uint64, amount uint64) error
	Release(ctx context.Context, id uint64) error
	Refund(ctx context.Context, id uint64) error
	AttachRailReference(ctx context.Context, id uint64, ref string) error
	RecordRailFailure(ctx context.Context, id uint64, reason string) error

	EscrowSummary(ctx context.Context, campaignID uint64) (models.EscrowSummary, error)
	UnifiedFunding(ctx context.Context, campaignID uint64) (models.UnifiedFunding, error)
	ReconcileSummary(ctx context.Context, campaignID uint64) (models.EscrowSummary, bool, error)

	SettleCampaign(ctx context.Context, campaignID uint64) (models.SettlementReport, error)
}

// NewContribution is the input of RecordContribution.
type NewContribution struct {
	CampaignID  uint64
	Backer      uuid.UUID
	Amount      uint64
	Method      models.Method
	MethodLabel string
}

type Config struct {
	// RequireRegisteredBackers rejects contributions from backers the
	// directory does not know. When false anonymous backers are accepted.
	RequireRegisteredBackers bool
	// SettlementWorkers bounds per-campaign settlement fan-out.
	SettlementWorkers int
	// UnitExponents maps each rail to the decimal exponent of its smallest
	// unit. Rails missing from the map are not normalized.
	UnitExponents map[models.Rail]int32
}

type Option func(*Engine)

func WithBackerDirectory(d BackerDirectory) Option { return func(e *Engine) { e.backers = d } }

func WithReverser(rail models.Rail, r Reverser) Option {
	return func(e *Engine) { e.reversers[rail] = r }
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifiers = append(e.notifiers, n) }
}

func WithMetrics(m *Metrics) Option { return func(e *Engine) { e.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithCampaignLocker(l CampaignLocker) Option { return func(e *Engine) { e.locker = l } }

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// Engine implements the contribution ledger, the escrow state machine, the
// funding aggregator and the settlement orchestrator over a Store.
type Engine struct {
	store     Store
	campaigns CampaignService
	backers   BackerDirectory
	reversers map[models.Rail]Reverser
	notifiers []Notifier
	locker    CampaignLocker
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
	cfg       Config

	mu     sync.Mutex
	states map[uint64]*campaignState

	// outbox holds applied transitions until the locks are released.
	outMu     sync.Mutex
	outbox    []transition
	deliverMu sync.Mutex
}

var _ Service = (*Engine)(nil)

func NewEngine(store Store, campaigns CampaignService, cfg Config, opts ...Option) *Engine {
	if cfg.SettlementWorkers <= 0 {
		cfg.SettlementWorkers = 8
	}
	e := &Engine{
		store:     store,
		campaigns: campaigns,
		reversers: make(map[models.Rail]Reverser),
		metrics:   NopMetrics(),
		logger:    slog.Default(),
		now:       time.Now,
		cfg:       cfg,
		states:    make(map[uint64]*campaignState),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddNotifier registers n after construction, for collaborators that need the
// engine themselves.
func (e *Engine) AddNotifier(n Notifier) {
	e.mu.Lock()
	e.notifiers = append(e.notifiers, n)
	e.mu.Unlock()
}

// RecordContribution creates a Pending contribution. Validation failures never
// create a row.
func (e *Engine) RecordContribution(ctx context.Context, in NewContribution) (uint64, error) {
	if in.Amount == 0 {
		return 0, ErrInvalidAmount
	}
	rail := in.Method.Rail()
	if rail == "" {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedMethod, in.Method)
	}
	if e.cfg.RequireRegisteredBackers {
		if in.Backer == uuid.Nil || e.backers == nil {
			return 0, ErrUnknownBacker
		}
		ok, err := e.backers.IsRegistered(ctx, in.Backer)
		if err != nil {
			return 0, fmt.Errorf("check backer: %w", err)
		}
		if !ok {
			return 0, ErrUnknownBacker
		}
	}

	// With other processes writing the same store, the overflow bound needs
	// a fresh fold, which only the exclusive section takes.
	enter := e.shared
	if e.locker != nil {
		enter = e.exclusive
	}
	st, unlock, err := enter(ctx, in.CampaignID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	campaign, err := e.campaigns.Campaign(ctx, in.CampaignID)
	if err != nil {
		return 0, err
	}
	now := e.now()
	if !campaign.AcceptsContributions(now) {
		return 0, ErrCampaignClosed
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.settled {
		return 0, fmt.Errorf("%w: campaign %d already settled", ErrCampaignClosed, in.CampaignID)
	}
	committed, err := checkedAdd(st.committed, in.Amount)
	if err != nil {
		return 0, err
	}
	pending, err := checkedAdd(st.summary.TotalPending, in.Amount)
	if err != nil {
		return 0, err
	}

	c := &models.Contribution{
		CampaignID:  in.CampaignID,
		Backer:      in.Backer,
		Amount:      in.Amount,
		Method:      in.Method,
		MethodLabel: in.MethodLabel,
		Status:      models.StatusPending,
		CreatedAt:   now,
	}
	if err := e.store.Insert(ctx, c); err != nil {
		return 0, fmt.Errorf("insert contribution: %w", err)
	}
	st.committed = committed
	st.summary.TotalPending = pending
	st.summary.CountPending++

	e.metrics.ContributionsRecorded.With("rail", string(rail)).Add(1)
	e.logger.Info("contribution recorded",
		"contribution_id", c.ID, "campaign_id", c.CampaignID, "backer", c.Backer,
		"amount", c.Amount, "method", c.Method)
	return c.ID, nil
}

func (e *Engine) Contribution(ctx context.Context, id uint64) (models.Contribution, error) {
	c, err := e.store.Get(ctx, id)
	if err != nil {
		return models.Contribution{}, err
	}
	return *c, nil
}

func (e *Engine) ContributionsByCampaign(ctx context.Context, campaignID uint64) ([]models.Contribution, error) {
	return e.store.ListByCampaign(ctx, campaignID)
}

func (e *Engine) ContributionsByBacker(ctx context.Context, backer uuid.UUID) ([]models.Contribution, error) {
	return e.store.ListByBacker(ctx, backer)
}

func (e *Engine) ContributionsByMethod(ctx context.Context, method models.Method) ([]models.Contribution, error) {
	return e.store.ListByMethod(ctx, method)
}

// OpenCampaigns lists campaigns with contributions not yet settled.
func (e *Engine) OpenCampaigns(ctx context.Context) ([]uint64, error) {
	return e.store.OpenCampaigns(ctx)
}

// AwaitingConfirmation lists Pending contributions with a rail reference.
func (e *Engine) AwaitingConfirmation(ctx context.Context, limit int) ([]models.Contribution, error) {
	return e.store.ListAwaitingConfirmation(ctx, limit)
}

func (e *Engine) state(campaignID uint64) *campaignState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[campaignID]
	if !ok {
		st = newCampaignState(campaignID)
		e.states[campaignID] = st
	}
	return st
}

// shared enters the campaign's shared section, loading the summary cache
// first if this process has not folded the campaign yet.
func (e *Engine) shared(ctx context.Context, campaignID uint64) (*campaignState, func(), error) {
	st := e.state(campaignID)
	if !st.isLoaded() {
		_, unlock, err := e.exclusive(ctx, campaignID)
		if err != nil {
			return nil, nil, err
		}
		unlock()
	}

	var release func()
	if e.locker != nil {
		var err error
		if release, err = e.locker.LockShared(ctx, campaignID); err != nil {
			return nil, nil, fmt.Errorf("lock campaign %d: %w", campaignID, err)
		}
	}
	st.rw.RLock()
	return st, func() {
		st.rw.RUnlock()
		if release != nil {
			release()
		}
	}, nil
}

// exclusive enters the campaign's exclusive section and makes sure the
// summary cache is loaded. With a CampaignLocker other processes change the
// store too, so the cache is refolded on every entry.
func (e *Engine) exclusive(ctx context.Context, campaignID uint64) (*campaignState, func(), error) {
	st := e.state(campaignID)
	var release func()
	if e.locker != nil {
		var err error
		if release, err = e.locker.LockExclusive(ctx, campaignID); err != nil {
			return nil, nil, fmt.Errorf("lock campaign %d: %w", campaignID, err)
		}
	}
	st.rw.Lock()
	unlock := func() {
		st.rw.Unlock()
		if release != nil {
			release()
		}
	}
	if !st.isLoaded() || e.locker != nil {
		cs, err := e.store.ListByCampaign(ctx, campaignID)
		if err != nil {
			unlock()
			return nil, nil, fmt.Errorf("load campaign %d: %w", campaignID, err)
		}
		sum, committed, err := foldSummary(campaignID, cs)
		if err != nil {
			unlock()
			return nil, nil, err
		}
		st.load(sum, committed)
	}
	return st, unlock, nil
}
