package githubapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultGitHubAPIBaseURL = "https://api.github.com/"
	defaultPageSize         = 100

	maxErrorBodyBytes = 64 * 1024
)

// UpstreamError is a non-success response from the GitHub API. It carries the
// status code and response body so the caller can decide how to proceed.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("github api status %d", e.StatusCode)
	}
	return fmt.Sprintf("github api status %d: %s", e.StatusCode, body)
}

// PullRequest is one pull request summary normalized from the list endpoint.
type PullRequest struct {
	Number    int
	User      string
	Title     string
	URL       string
	State     string
	Labels    []string
	CreatedAt time.Time
	UpdatedAt time.Time
	MergedAt  time.Time
}

// Merged reports whether the pull request has a merge timestamp.
func (pr PullRequest) Merged() bool {
	return !pr.MergedAt.IsZero()
}

// PullRequestListResult is the typed result for listing all pull requests.
type PullRequestListResult struct {
	PullRequests []PullRequest
	Pages        int
	Metadata     CallMetadata
}

// PullsClient fetches pull-request data over the generic retry/rate-limit
// request client.
type PullsClient struct {
	baseURL       *url.URL
	requestClient *Client
	pageSize      int
}

// NewPullsClient creates a typed pull-request client. pageSize <= 0 selects
// the default of 100.
func NewPullsClient(baseURL string, requestClient *Client, pageSize int) (*PullsClient, error) {
	if requestClient == nil {
		return nil, fmt.Errorf("request client is required")
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > 100 {
		return nil, fmt.Errorf("page size must be <= 100")
	}

	parsed, err := parseAPIBaseURL(baseURL)
	if err != nil {
		return nil, err
	}

	return &PullsClient{
		baseURL:       parsed,
		requestClient: requestClient,
		pageSize:      pageSize,
	}, nil
}

// ListAllPullRequests lists every pull request for a repository regardless of
// state, paging at the configured page size until a short page signals the
// end. Any non-success response fails with an *UpstreamError. On failure the
// returned result still carries the attempt metadata accumulated so far, so
// the caller can account for the requests a failed listing consumed.
func (c *PullsClient) ListAllPullRequests(ctx context.Context, ref Ref) (PullRequestListResult, error) {
	result := PullRequestListResult{}
	if strings.TrimSpace(ref.Owner) == "" || strings.TrimSpace(ref.Name) == "" {
		return result, fmt.Errorf("repository owner and name are required")
	}

	page := 1
	for {
		reqURL := c.cloneBaseURL()
		reqURL.Path = joinURLPath(reqURL.Path, "repos", url.PathEscape(ref.Owner), url.PathEscape(ref.Name), "pulls")
		query := reqURL.Query()
		query.Set("state", "all")
		query.Set("per_page", strconv.Itoa(c.pageSize))
		query.Set("page", strconv.Itoa(page))
		reqURL.RawQuery = query.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
		if err != nil {
			return result, fmt.Errorf("build list pull requests request: %w", err)
		}
		req.Header.Set("Accept", "application/vnd.github+json")

		resp, metadata, err := c.requestClient.Do(req)
		result.Metadata = mergeMetadata(result.Metadata, metadata)
		if err != nil {
			return result, fmt.Errorf("list pull requests request failed: %w", err)
		}
		if resp == nil {
			return result, fmt.Errorf("list pull requests request failed: nil response")
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return result, upstreamErrorFromResponse(resp)
		}

		var payload []pullRequestPayload
		if err := decodeJSONAndClose(resp, &payload); err != nil {
			return result, fmt.Errorf("decode list pull requests response: %w", err)
		}
		result.Pages++

		for _, pr := range payload {
			typed := PullRequest{
				Number:    pr.Number,
				Title:     pr.Title,
				URL:       pr.HTMLURL,
				State:     pr.State,
				CreatedAt: parseRFC3339(pr.CreatedAt),
				UpdatedAt: parseRFC3339(pr.UpdatedAt),
				MergedAt:  parseNullableRFC3339(pr.MergedAt),
			}
			if pr.User != nil {
				typed.User = pr.User.Login
			}
			for _, label := range pr.Labels {
				if label.Name == "" {
					continue
				}
				typed.Labels = append(typed.Labels, label.Name)
			}
			result.PullRequests = append(result.PullRequests, typed)
		}

		// A page shorter than the page size is the last page.
		if len(payload) < c.pageSize {
			break
		}
		page++
	}

	return result, nil
}

func upstreamErrorFromResponse(resp *http.Response) error {
	defer func() {
		_ = resp.Body.Close()
	}()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return &UpstreamError{
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
}

func parseAPIBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = defaultGitHubAPIBaseURL
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse github api base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("parse github api base url: missing scheme or host")
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}
	return parsed, nil
}

func (c *PullsClient) cloneBaseURL() *url.URL {
	cloned := *c.baseURL
	return &cloned
}

func joinURLPath(base string, segments ...string) string {
	trimmedBase := strings.TrimSuffix(base, "/")
	builder := strings.Builder{}
	builder.WriteString(trimmedBase)
	for _, segment := range segments {
		builder.WriteString("/")
		builder.WriteString(strings.TrimPrefix(segment, "/"))
	}
	return builder.String()
}

func decodeJSONAndClose(resp *http.Response, target any) error {
	defer resp.Body.Close()
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(target); err != nil {
		return err
	}
	return nil
}

func parseRFC3339(raw string) time.Time {
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return parsed.UTC()
}

func parseNullableRFC3339(raw *string) time.Time {
	if raw == nil {
		return time.Time{}
	}
	return parseRFC3339(*raw)
}

func mergeMetadata(current CallMetadata, incoming CallMetadata) CallMetadata {
	current.Attempts += incoming.Attempts
	current.RateLimit = incoming.RateLimit
	return current
}

type pullRequestPayload struct {
	Number    int            `json:"number"`
	Title     string         `json:"title"`
	HTMLURL   string         `json:"html_url"`
	State     string         `json:"state"`
	User      *userPayload   `json:"user"`
	Labels    []labelPayload `json:"labels"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
	MergedAt  *string        `json:"merged_at"`
}

type labelPayload struct {
	Name string `json:"name"`
}

type userPayload struct {
	Login string `json:"login"`
}
