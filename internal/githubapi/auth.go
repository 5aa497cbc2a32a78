package githubapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"golang.org/x/oauth2"
)

// InstallationAuthConfig configures GitHub App installation authentication.
type InstallationAuthConfig struct {
	AppID          int64
	InstallationID int64
	PrivateKeyPath string
	Timeout        time.Duration
	BaseTransport  http.RoundTripper
}

// NewTokenHTTPClient creates an HTTP client that attaches a personal access
// token to every request. An empty token yields a plain client subject to
// unauthenticated rate limits.
func NewTokenHTTPClient(ctx context.Context, token string, timeout time.Duration) *http.Client {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return &http.Client{Timeout: timeout}
	}

	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: trimmed})
	client := oauth2.NewClient(ctx, source)
	client.Timeout = timeout
	return client
}

// NewInstallationHTTPClient creates an authenticated HTTP client for one GitHub App installation.
func NewInstallationHTTPClient(cfg InstallationAuthConfig) (*http.Client, error) {
	if cfg.AppID <= 0 {
		return nil, fmt.Errorf("app id must be > 0")
	}
	if cfg.InstallationID <= 0 {
		return nil, fmt.Errorf("installation id must be > 0")
	}
	if strings.TrimSpace(cfg.PrivateKeyPath) == "" {
		return nil, fmt.Errorf("private key path is required")
	}

	baseTransport := cfg.BaseTransport
	if baseTransport == nil {
		baseTransport = http.DefaultTransport
	}

	transport, err := ghinstallation.NewKeyFromFile(baseTransport, cfg.AppID, cfg.InstallationID, cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("create github app transport: %w", err)
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}, nil
}
