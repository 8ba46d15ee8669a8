// Package crewjobsdk is the HTTP client for the crewjob party, job and verdict services.
// It implements the interfaces the client core consumes and decodes error envelopes back
// into crewjob domain errors.
package crewjobsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"crewjob/internal/domain"
	cjerrors "crewjob/internal/errors"
)

// Client is a minimal crewjob HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// LoginResult is the dev login response.
type LoginResult struct {
	Token     string    `json:"token"`
	PlayerID  string    `json:"player_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Profile is the calling player's profile.
type Profile struct {
	domain.PlayerStats
	RestrictedSeconds int               `json:"restricted_seconds"`
	AutoJobs          map[string]string `json:"auto_jobs,omitempty"`
}

// APIError wraps non-2xx responses. It unwraps to the decoded domain error so callers can
// match with errors.Is and errors.As.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string

	decoded error
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error { return e.decoded }

type envelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

// Login mints a development token for playerID and stores it on the client.
func (c *Client) Login(ctx context.Context, playerID, name string) (LoginResult, error) {
	body := map[string]any{"player_id": playerID}
	if name != "" {
		body["name"] = name
	}
	var resp LoginResult
	if err := c.do(ctx, http.MethodPost, "auth/dev/login", body, &resp); err != nil {
		return LoginResult{}, err
	}
	c.BearerToken = resp.Token
	return resp, nil
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "health", nil, nil)
}

func (c *Client) Me(ctx context.Context) (Profile, error) {
	var resp Profile
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

// ListJobs returns the job catalog.
func (c *Client) ListJobs(ctx context.Context) ([]domain.JobDefinition, error) {
	var resp struct {
		Items []domain.JobDefinition `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "jobs", nil, &resp)
	return resp.Items, err
}

func (c *Client) GetJob(ctx context.Context, jobID string) (domain.JobDefinition, error) {
	var resp domain.JobDefinition
	err := c.do(ctx, http.MethodGet, "jobs/"+url.PathEscape(jobID), nil, &resp)
	return resp, err
}

// ListPartiesForJob returns the parties formed for jobID, newest first.
func (c *Client) ListPartiesForJob(ctx context.Context, jobID string) ([]domain.Party, error) {
	var resp struct {
		Items []domain.Party `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("jobs/%s/parties", url.PathEscape(jobID)), nil, &resp)
	return resp.Items, err
}

func (c *Client) CreateParty(ctx context.Context, jobID string) (domain.Party, error) {
	var resp domain.Party
	err := c.do(ctx, http.MethodPost, "parties", map[string]any{"job_id": jobID}, &resp)
	return resp, err
}

func (c *Client) JoinParty(ctx context.Context, partyID string) (domain.Party, error) {
	var resp domain.Party
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("parties/%s/join", url.PathEscape(partyID)), nil, &resp)
	return resp, err
}

func (c *Client) LeaveParty(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "me/party/leave", nil, nil)
}

func (c *Client) KickMember(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodPost, "me/party/kick", map[string]any{"user_id": userID}, nil)
}

// GetMyParty returns the caller's party, or nil when the caller is in none.
func (c *Client) GetMyParty(ctx context.Context) (*domain.Party, error) {
	var resp domain.Party
	found := false
	err := c.doStatus(ctx, http.MethodGet, "me/party", nil, func(status int, body io.Reader) error {
		if status == http.StatusNoContent {
			return nil
		}
		found = true
		return json.NewDecoder(body).Decode(&resp)
	})
	if err != nil || !found {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ExecuteJob(ctx context.Context, jobID string) (domain.JobResult, error) {
	var resp domain.JobResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("jobs/%s/execute", url.PathEscape(jobID)), nil, &resp)
	return resp, err
}

func (c *Client) ExecutePartyJob(ctx context.Context, jobID string, memberIDs []string) (domain.JobResult, error) {
	var resp domain.JobResult
	body := map[string]any{"member_ids": memberIDs}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("jobs/%s/execute-party", url.PathEscape(jobID)), body, &resp)
	return resp, err
}

// ReportAutomationSuspected records a failed challenge for the caller.
func (c *Client) ReportAutomationSuspected(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "me/automation-report", map[string]any{"reason": "challenge_failed"}, nil)
}

func (c *Client) SetPreferredAutoJob(ctx context.Context, category domain.Category, jobID string) error {
	body := map[string]any{"job_id": jobID, "category": string(category)}
	return c.do(ctx, http.MethodPut, "me/auto-job", body, nil)
}

// Events returns the most recent events, oldest first, after the given id.
func (c *Client) Events(ctx context.Context, afterID int64, limit int) ([]domain.Event, error) {
	q := url.Values{}
	if afterID > 0 {
		q.Set("after", strconv.FormatInt(afterID, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []domain.Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	return c.doStatus(ctx, method, endpoint, body, func(status int, r io.Reader) error {
		if out == nil || status == http.StatusNoContent {
			return nil
		}
		return json.NewDecoder(r).Decode(out)
	})
}

func (c *Client) doStatus(ctx context.Context, method, endpoint string, body any, handle func(int, io.Reader) error) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return cjerrors.Transport(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return decodeError(resp, b)
	}
	if err := handle(resp.StatusCode, resp.Body); err != nil {
		return cjerrors.Transport(err)
	}
	return nil
}

// decodeError turns a non-2xx response into an *APIError carrying the matching domain error.
func decodeError(resp *http.Response, body []byte) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil || env.Error.Code == "" {
		apiErr.decoded = cjerrors.Transport(fmt.Errorf("unexpected status %d", resp.StatusCode))
		return apiErr
	}
	apiErr.Code = env.Error.Code
	apiErr.Message = env.Error.Message
	apiErr.Details = env.Error.Details

	code := cjerrors.Code(env.Error.Code)
	switch code {
	case cjerrors.CodeRateLimited, cjerrors.CodeRestricted:
		apiErr.decoded = &cjerrors.RateLimitError{Code: code, RemainingSeconds: remainingSeconds(resp, env.Error.Details)}
	default:
		decoded := cjerrors.Newf(code, "%s", env.Error.Message)
		if len(env.Error.Details) > 0 {
			decoded = decoded.WithDetails(env.Error.Details)
		}
		apiErr.decoded = decoded
	}
	return apiErr
}

// remainingSeconds prefers details.remaining_seconds and falls back to Retry-After.
func remainingSeconds(resp *http.Response, details map[string]any) int {
	if v, ok := details["remaining_seconds"]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return int(i)
			}
		}
	}
	if h := resp.Header.Get("Retry-After"); h != "" {
		if n, err := strconv.Atoi(h); err == nil {
			return n
		}
	}
	return 0
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
