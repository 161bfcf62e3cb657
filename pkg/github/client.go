package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v45/github"
	"golang.org/x/oauth2"

	"gitsnap/pkg/config"
	"gitsnap/pkg/logger"
	"gitsnap/pkg/retry"
)

// Client talks to the GitHub REST API and to the codeload archive host
type Client struct {
	api            *gh.Client
	httpClient     *http.Client
	archiveBaseURL string
	userAgent      string
	perPage        int
	requestTimeout time.Duration
	listRetry      *retry.Config
	logger         logger.Logger
}

// Option configures a Client
type Option func(*Client)

// WithListRetry overrides the retry policy for listing pages
func WithListRetry(cfg *retry.Config) Option {
	return func(c *Client) {
		c.listRetry = cfg
	}
}

// WithRequestTimeout bounds each API request
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.requestTimeout = d
	}
}

// NewClient creates a client from the GitHub section of the configuration.
// httpClient is shared by API and archive requests; only API requests carry
// the token.
func NewClient(cfg *config.GitHubConfig, httpClient *http.Client, log logger.Logger, opts ...Option) (*Client, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if httpClient == nil {
		httpClient = &http.Client{Transport: http.DefaultTransport}
	}

	apiHTTP := httpClient
	if cfg.Token != "" {
		base := httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		apiHTTP = &http.Client{
			Transport: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}),
				Base:   base,
			},
			Timeout: httpClient.Timeout,
		}
	}

	api := gh.NewClient(apiHTTP)
	apiBase := cfg.APIBaseURL
	if apiBase == "" {
		apiBase = DefaultAPIBaseURL
	}
	if !strings.HasSuffix(apiBase, "/") {
		apiBase += "/"
	}
	baseURL, err := url.Parse(apiBase)
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL: %w", err)
	}
	api.BaseURL = baseURL
	if cfg.UserAgent != "" {
		api.UserAgent = cfg.UserAgent
	}

	archiveBase := cfg.ArchiveBaseURL
	if archiveBase == "" {
		archiveBase = DefaultArchiveBaseURL
	}

	perPage := cfg.PerPage
	if perPage <= 0 || perPage > MaxPerPage {
		perPage = DefaultPerPage
	}

	c := &Client{
		api:            api,
		httpClient:     httpClient,
		archiveBaseURL: archiveBase,
		userAgent:      cfg.UserAgent,
		perPage:        perPage,
		listRetry:      retry.NewConfig(3, time.Second, log),
		logger:         log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ArchiveBaseURL returns the configured codeload base URL
func (c *Client) ArchiveBaseURL() string {
	return c.archiveBaseURL
}

// GetRepository fetches the metadata of a single repository
func (c *Client) GetRepository(ctx context.Context, owner, name string) (*Repository, error) {
	c.logger.DebugWithFields("fetching repository metadata", map[string]interface{}{
		"owner":      owner,
		"repository": name,
	})

	reqCtx, cancel := c.withRequestTimeout(ctx)
	defer cancel()

	start := time.Now()
	repo, resp, err := c.api.Repositories.Get(reqCtx, owner, name)
	logger.LogRequest(http.MethodGet, fmt.Sprintf("repos/%s/%s", owner, name), statusOf(resp), time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		apiErr := classifyAPIError(err, resp)
		apiErr.WithRepository(owner, name)
		return nil, apiErr
	}

	result := repositoryFromAPI(repo, owner)
	return &result, nil
}

func (c *Client) withRequestTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.requestTimeout)
}

func statusOf(resp *gh.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.StatusCode
}
