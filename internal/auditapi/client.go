package auditapi

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

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/rewind/internal/interfaces"
	"github.com/ternarybob/rewind/internal/models"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the base URL for a locally running backend.
	DefaultBaseURL = "http://localhost:8000/api"

	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 20
)

// Client is a client for the backend audit API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     arbor.ILogger
	limiter    *rate.Limiter
	validate   *validator.Validate
}

var _ interfaces.AuditAPI = (*Client)(nil)

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets a custom rate limit. Zero or less disables limiting.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// NewClient creates a new audit API client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter:  rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		validate: validator.New(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListJobs returns the jobs known to the backend.
func (c *Client) ListJobs(ctx context.Context) ([]models.JobSummary, error) {
	var jobs []models.JobSummary
	if err := c.get(ctx, "/jobs", nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// GetVersion returns the server-side stream counts of a job.
func (c *Client) GetVersion(ctx context.Context, jobID string) (*models.JobVersion, error) {
	var version models.JobVersion
	if err := c.get(ctx, jobPath(jobID, "/version"), nil, &version); err != nil {
		return nil, err
	}
	if err := c.validate.Struct(&version); err != nil {
		return nil, fmt.Errorf("invalid version response for job %s: %w", jobID, err)
	}
	return &version, nil
}

// GetAuditBulk returns one page of audit entries.
func (c *Client) GetAuditBulk(ctx context.Context, jobID string, offset, limit int) (*models.AuditBulkResponse, error) {
	var resp models.AuditBulkResponse
	if err := c.get(ctx, jobPath(jobID, "/audit/bulk"), pageParams(offset, limit), &resp); err != nil {
		return nil, err
	}
	if err := c.validate.Struct(&resp.PageInfo); err != nil {
		return nil, fmt.Errorf("invalid audit page for job %s: %w", jobID, err)
	}
	return &resp, nil
}

// GetChatBulk returns one page of chat entries.
func (c *Client) GetChatBulk(ctx context.Context, jobID string, offset, limit int) (*models.ChatBulkResponse, error) {
	var resp models.ChatBulkResponse
	if err := c.get(ctx, jobPath(jobID, "/chat/bulk"), pageParams(offset, limit), &resp); err != nil {
		return nil, err
	}
	if err := c.validate.Struct(&resp.PageInfo); err != nil {
		return nil, fmt.Errorf("invalid chat page for job %s: %w", jobID, err)
	}
	return &resp, nil
}

// GetGraphBulk returns one page of graph deltas.
func (c *Client) GetGraphBulk(ctx context.Context, jobID string, offset, limit int) (*models.GraphBulkResponse, error) {
	var resp models.GraphBulkResponse
	if err := c.get(ctx, jobPath(jobID, "/graph/bulk"), pageParams(offset, limit), &resp); err != nil {
		return nil, err
	}
	if err := c.validate.Struct(&resp.PageInfo); err != nil {
		return nil, fmt.Errorf("invalid graph page for job %s: %w", jobID, err)
	}
	return &resp, nil
}

// GetSnapshots returns the server's full graph snapshots of a job.
func (c *Client) GetSnapshots(ctx context.Context, jobID string) ([]models.GraphSnapshot, error) {
	var resp models.SnapshotListResponse
	if err := c.get(ctx, jobPath(jobID, "/graph/snapshots"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Snapshots, nil
}

// GetPageForTimestamp locates the audit page that contains ts.
func (c *Client) GetPageForTimestamp(ctx context.Context, jobID string, ts time.Time, pageSize int, filter models.FilterCategory) (*models.PageForTimestamp, error) {
	params := url.Values{}
	params.Set("timestamp", ts.UTC().Format(time.RFC3339Nano))
	params.Set("pageSize", strconv.Itoa(pageSize))
	if filter != "" && filter != models.FilterAll {
		params.Set("filter", string(filter))
	}

	var resp models.PageForTimestamp
	if err := c.get(ctx, jobPath(jobID, "/audit/page-for-timestamp"), params, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetTimeRange returns the first and last timestamps of a job.
func (c *Client) GetTimeRange(ctx context.Context, jobID string) (*models.TimeRange, error) {
	var resp models.TimeRange
	if err := c.get(ctx, jobPath(jobID, "/audit/timerange"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func jobPath(jobID, suffix string) string {
	return "/jobs/" + url.PathEscape(jobID) + suffix
}

func pageParams(offset, limit int) url.Values {
	params := url.Values{}
	params.Set("offset", strconv.Itoa(offset))
	params.Set("limit", strconv.Itoa(limit))
	return params
}

// get performs a GET request to the API.
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &RateLimitError{RetryAfter: time.Second}
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if c.logger != nil {
		c.logger.Debug().
			Str("url", reqURL).
			Msg("Audit API request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
			Endpoint:   path,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}

	return nil
}
