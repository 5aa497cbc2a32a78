// Package webhook authenticates and dispatches inbound GitHub pull-request
// events.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/go-github/v75/github"
	"go.uber.org/zap"

	"github.com/osscampus/contrib-board/internal/metrics"
	"github.com/osscampus/contrib-board/internal/sync"
)

const (
	eventTypeHeader = "X-GitHub-Event"
	signatureHeader = "X-Hub-Signature-256"
	signaturePrefix = "sha256="

	pullRequestEvent = "pull_request"

	maxBodyBytes = 1 << 20
)

// VerifySignature checks an HMAC-SHA256 signature over the raw request body.
// The signature carries a "sha256=" prefix and a hex digest; comparison is
// constant-time. An empty secret verifies trivially, which is insecure and
// intended only for local development. Malformed input yields false, never an
// error.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" {
		return true
	}
	encoded, ok := strings.CutPrefix(signature, signaturePrefix)
	if !ok {
		return false
	}
	provided, err := hex.DecodeString(encoded)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}

// Syncer runs a full repository sync.
type Syncer interface {
	SyncRepository(ctx context.Context, rawRef string) (sync.Summary, error)
}

// Handler processes webhook deliveries. A delivery moves from received to
// authenticated, then either to ignored (not a pull-request event) or to
// dispatched (full resync of the event's repository).
type Handler struct {
	secret  string
	syncer  Syncer
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewHandler creates a webhook handler. An empty secret disables signature
// checking.
func NewHandler(secret string, syncer Syncer, m *metrics.Metrics, logger ...*zap.Logger) *Handler {
	baseLogger := zap.NewNop()
	if len(logger) > 0 && logger[0] != nil {
		baseLogger = logger[0]
	}
	if secret == "" {
		baseLogger.Warn("webhook secret not configured, accepting unsigned deliveries")
	}
	return &Handler{
		secret:  secret,
		syncer:  syncer,
		metrics: m,
		logger:  baseLogger,
	}
}

type webhookResponse struct {
	Status  string        `json:"status"`
	Summary *sync.Summary `json:"summary,omitempty"`
}

// ServeHTTP implements the delivery state machine. Signature failures return
// 401, malformed pull-request payloads 400, ignored event types 200 with an
// ignored marker, and dispatched events 200 with the sync summary. Internal
// detail never leaks to the sender.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.metrics.WebhookEvent(metrics.WebhookOutcomeMalformed)
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	if !VerifySignature(h.secret, body, r.Header.Get(signatureHeader)) {
		h.metrics.WebhookEvent(metrics.WebhookOutcomeRejected)
		h.logger.Warn("webhook signature rejected")
		http.Error(w, "signature verification failed", http.StatusUnauthorized)
		return
	}

	eventType := r.Header.Get(eventTypeHeader)
	if eventType != pullRequestEvent {
		h.metrics.WebhookEvent(metrics.WebhookOutcomeIgnored)
		writeJSON(w, http.StatusOK, webhookResponse{Status: "ignored"})
		return
	}

	var event github.PullRequestEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.metrics.WebhookEvent(metrics.WebhookOutcomeMalformed)
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}
	repository := event.GetRepo().GetFullName()
	prNumber := event.GetPullRequest().GetNumber()
	if repository == "" || prNumber <= 0 {
		h.metrics.WebhookEvent(metrics.WebhookOutcomeMalformed)
		http.Error(w, "missing repository or pull request number", http.StatusBadRequest)
		return
	}

	// A single PR event resyncs its whole repository. The full pass keeps
	// every record consistent with remote state at the cost of extra
	// fetches.
	summary, err := h.syncer.SyncRepository(r.Context(), repository)
	if err != nil {
		h.metrics.WebhookEvent(metrics.WebhookOutcomeFailed)
		h.logger.Error("webhook-triggered sync failed",
			zap.String("repository", repository),
			zap.Int("pr_number", prNumber),
			zap.Error(err),
		)
		http.Error(w, "sync failed", http.StatusBadGateway)
		return
	}

	h.metrics.WebhookEvent(metrics.WebhookOutcomeDispatched)
	h.logger.Info("webhook dispatched",
		zap.String("repository", repository),
		zap.Int("pr_number", prNumber),
		zap.String("action", event.GetAction()),
	)
	writeJSON(w, http.StatusOK, webhookResponse{Status: "dispatched", Summary: &summary})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
