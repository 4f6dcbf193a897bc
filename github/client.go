// Package github wraps the GitHub API for the orchestrator's quota checks.
// Every remote call goes through the retry policy with rate-limit-aware
// backoff.
package github

import (
	"context"
	"net/http"
	"os"
	"time"

	api "github.com/google/go-github/v66/github"
	"github.com/pkg/errors"

	"untestables/model"
	"untestables/retry"
	"untestables/utils"
)

// Client is the quota collaborator backed by the GitHub REST API.
type Client struct {
	gh     *api.Client
	policy retry.Policy
	logger utils.Logger
}

// NewClient authenticates against GitHub. The token comes from the argument
// or the GITHUB_TOKEN environment variable; a missing token is a fatal
// configuration error and surfaces before any loop starts.
func NewClient(token string, logger utils.Logger) (*Client, error) {
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}
	if token == "" {
		return nil, errors.New("GitHub token is required: set GITHUB_TOKEN or pass a token explicitly")
	}
	if logger == nil {
		logger = utils.NewDefaultLogger()
	}

	policy := retry.DefaultPolicy()
	policy.IsRetryable = IsRetryable
	policy.RateLimitWait = RateLimitWait
	policy.Logger = logger

	return &Client{
		gh:     api.NewClient(nil).WithAuthToken(token),
		policy: policy,
		logger: logger,
	}, nil
}

// GetQuota fetches the current state of one quota bucket.
func (c *Client) GetQuota(ctx context.Context, bucket string) (model.Quota, error) {
	return retry.Do(ctx, c.policy, func() (model.Quota, error) {
		limits, _, err := c.gh.RateLimit.Get(ctx)
		if err != nil {
			return model.Quota{}, errors.Wrap(err, "fetching rate limits")
		}

		var rate *api.Rate
		switch bucket {
		case model.QuotaBucketSearch:
			rate = limits.Search
		default:
			rate = limits.Core
		}
		if rate == nil {
			return model.Quota{}, errors.Errorf("rate limit response is missing the %q bucket", bucket)
		}

		return model.Quota{
			Remaining: rate.Remaining,
			Limit:     rate.Limit,
			ResetAt:   rate.Reset.Time,
		}, nil
	})
}

// TestConnection verifies the token by fetching the authenticated user.
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := retry.Do(ctx, c.policy, func() (struct{}, error) {
		_, _, err := c.gh.Users.Get(ctx, "")
		return struct{}{}, errors.Wrap(err, "fetching authenticated user")
	})
	return err
}

// IsRetryable classifies remote errors: authentication and client-side
// request errors are fatal, everything else (network, 5xx, rate limits) is
// worth another attempt.
func IsRetryable(err error) bool {
	var errResp *api.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		switch errResp.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusNotFound, http.StatusUnprocessableEntity:
			return false
		}
	}
	return true
}

// RateLimitWait extracts the wait hint from GitHub rate-limit errors so the
// retry policy can sleep until the quota resets instead of backing off
// blindly.
func RateLimitWait(err error) (time.Duration, bool) {
	var rle *api.RateLimitError
	if errors.As(err, &rle) {
		if wait := time.Until(rle.Rate.Reset.Time); wait > 0 {
			return wait, true
		}
		return 0, false
	}

	var arle *api.AbuseRateLimitError
	if errors.As(err, &arle) && arle.RetryAfter != nil {
		return *arle.RetryAfter, true
	}

	return 0, false
}
