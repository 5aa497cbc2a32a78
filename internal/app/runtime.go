package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	stdsync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/osscampus/contrib-board/internal/config"
	"github.com/osscampus/contrib-board/internal/githubapi"
	"github.com/osscampus/contrib-board/internal/health"
	"github.com/osscampus/contrib-board/internal/leaderboard"
	"github.com/osscampus/contrib-board/internal/metrics"
	"github.com/osscampus/contrib-board/internal/scoring"
	"github.com/osscampus/contrib-board/internal/store"
	"github.com/osscampus/contrib-board/internal/sync"
	"github.com/osscampus/contrib-board/internal/webhook"
)

// ErrGitHubCooldown is returned when syncs are paused after repeated
// upstream failures.
var ErrGitHubCooldown = errors.New("github upstream in cooldown, sync refused")

const (
	githubFailureThreshold = 3
	githubRecoverThreshold = 1
	githubCooldownPeriod   = time.Minute
)

// Syncer runs a full repository sync.
type Syncer interface {
	SyncRepository(ctx context.Context, rawRef string) (sync.Summary, error)
}

// Runtime wires configuration into the store, the GitHub client, the sync
// orchestrator, and the HTTP surface.
type Runtime struct {
	cfg          *config.Config
	logger       *zap.Logger
	metrics      *metrics.Metrics
	backend      store.Store
	locker       store.Locker
	lockerClose  func() error
	rebuilder    *leaderboard.Rebuilder
	orchestrator Syncer
	evaluator    *health.StatusEvaluator

	githubConfigured bool

	mu                  stdsync.RWMutex
	githubHealthy       bool
	githubFailureStreak int
	githubRecoverStreak int
	githubCooldownUntil time.Time

	// Now is injected for deterministic tests.
	Now func() time.Time
}

// NewRuntime creates a runtime instance from validated configuration.
func NewRuntime(cfg *config.Config, logger ...*zap.Logger) (*Runtime, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	baseLogger := zap.NewNop()
	if len(logger) > 0 && logger[0] != nil {
		baseLogger = logger[0]
	}

	backend, err := newStoreBackend(cfg, baseLogger)
	if err != nil {
		return nil, err
	}
	locker, lockerClose := newLocker(cfg, baseLogger)

	httpClient, githubConfigured, err := newGitHubHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	requestClient := githubapi.NewClient(httpClient,
		githubapi.RetryConfig{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: cfg.Retry.InitialBackoff,
			MaxBackoff:     cfg.Retry.MaxBackoff,
		},
		githubapi.RateLimitPolicy{
			MinRemainingThreshold: cfg.RateLimit.MinRemainingThreshold,
			MinResetBuffer:        cfg.RateLimit.MinResetBuffer,
			SecondaryLimitBackoff: cfg.RateLimit.SecondaryLimitBackoff,
		},
	)
	pulls, err := githubapi.NewPullsClient(cfg.GitHub.APIBaseURL, requestClient, cfg.GitHub.PageSize)
	if err != nil {
		return nil, fmt.Errorf("initialize pulls client: %w", err)
	}

	scores := scoring.NewTable(map[string]int{
		cfg.Scoring.Level1Label: cfg.Scoring.Level1Points,
		cfg.Scoring.Level2Label: cfg.Scoring.Level2Points,
		cfg.Scoring.Level3Label: cfg.Scoring.Level3Points,
	})

	m := metrics.New()
	rebuilder := leaderboard.NewRebuilder(backend, locker, cfg.Lock.TTL, baseLogger)

	r := &Runtime{
		cfg:              cfg,
		logger:           baseLogger,
		metrics:          m,
		backend:          backend,
		locker:           locker,
		lockerClose:      lockerClose,
		rebuilder:        rebuilder,
		evaluator:        health.NewStatusEvaluator(),
		githubConfigured: githubConfigured,
		githubHealthy:    true,
		Now:              time.Now,
	}
	r.orchestrator = sync.NewOrchestrator(pulls, backend, scores, rebuilder, m, baseLogger)
	return r, nil
}

func newGitHubHTTPClient(cfg *config.Config) (*http.Client, bool, error) {
	if cfg.GitHub.AppID > 0 {
		client, err := githubapi.NewInstallationHTTPClient(githubapi.InstallationAuthConfig{
			AppID:          cfg.GitHub.AppID,
			InstallationID: cfg.GitHub.InstallationID,
			PrivateKeyPath: cfg.GitHub.PrivateKeyPath,
			Timeout:        cfg.GitHub.RequestTimeout,
		})
		if err != nil {
			return nil, false, fmt.Errorf("initialize github app auth: %w", err)
		}
		return client, true, nil
	}
	client := githubapi.NewTokenHTTPClient(context.Background(), cfg.GitHub.Token, cfg.GitHub.RequestTimeout)
	return client, cfg.GitHub.Token != "", nil
}

// Store exposes the contribution store.
func (r *Runtime) Store() store.Store {
	return r.backend
}

// Metrics exposes the runtime counter set.
func (r *Runtime) Metrics() *metrics.Metrics {
	return r.metrics
}

// Rebuild recomputes the leaderboard outside of a sync run.
func (r *Runtime) Rebuild(ctx context.Context) (int, error) {
	size, err := r.rebuilder.Rebuild(ctx)
	if err != nil {
		r.metrics.Rebuild(metrics.ResultError)
		return 0, err
	}
	r.metrics.Rebuild(metrics.ResultOK)
	return size, nil
}

// SyncRepository runs a full sync, tracking upstream health. Repeated
// upstream failures open a cooldown window during which syncs are refused,
// keeping a flapping API from burning the rate budget.
func (r *Runtime) SyncRepository(ctx context.Context, rawRef string) (sync.Summary, error) {
	now := r.Now()
	r.mu.RLock()
	inCooldown := !r.githubCooldownUntil.IsZero() && now.Before(r.githubCooldownUntil)
	r.mu.RUnlock()
	if inCooldown {
		return sync.Summary{}, ErrGitHubCooldown
	}

	summary, err := r.orchestrator.SyncRepository(ctx, rawRef)

	var upstreamErr *githubapi.UpstreamError
	switch {
	case err == nil:
		r.recordGitHubOutcome(now, true)
	case errors.As(err, &upstreamErr):
		r.recordGitHubOutcome(now, false)
	}
	return summary, err
}

// WebhookHandler builds the inbound webhook handler bound to this runtime.
func (r *Runtime) WebhookHandler() http.Handler {
	return webhook.NewHandler(r.cfg.Webhook.Secret, r, r.metrics, r.logger)
}

func (r *Runtime) recordGitHubOutcome(now time.Time, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if success {
		r.githubFailureStreak = 0
		if r.githubHealthy {
			r.githubRecoverStreak = 0
			r.githubCooldownUntil = time.Time{}
			return
		}
		r.githubRecoverStreak++
		if r.githubRecoverStreak >= githubRecoverThreshold {
			r.githubHealthy = true
			r.githubRecoverStreak = 0
			r.githubCooldownUntil = time.Time{}
			r.logger.Info("github upstream recovered")
		}
		return
	}

	r.githubRecoverStreak = 0
	r.githubFailureStreak++
	if r.githubFailureStreak >= githubFailureThreshold {
		if r.githubHealthy {
			r.logger.Warn("github upstream marked unhealthy",
				zap.Int("failure_streak", r.githubFailureStreak),
				zap.Duration("cooldown", githubCooldownPeriod),
			)
		}
		r.githubHealthy = false
		r.githubCooldownUntil = now.Add(githubCooldownPeriod)
	}
}

// CurrentStatus reports evaluated health for the health endpoints.
func (r *Runtime) CurrentStatus(ctx context.Context) health.Status {
	storeHealthy := r.backend.Ping(ctx) == nil

	r.mu.RLock()
	githubHealthy := r.githubHealthy
	r.mu.RUnlock()

	return r.evaluator.Evaluate(health.Input{
		StoreHealthy:       storeHealthy,
		LockerHealthy:      r.locker != nil,
		GitHubClientUsable: r.githubConfigured,
		GitHubHealthy:      githubHealthy,
	})
}

// Close releases the store and lock backends.
func (r *Runtime) Close() error {
	var errs error
	if err := r.backend.Close(); err != nil {
		errs = errors.Join(errs, err)
	}
	if r.lockerClose != nil {
		if err := r.lockerClose(); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}
