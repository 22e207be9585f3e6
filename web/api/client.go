// Package api provides a client for communicating with the builds API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/narvanalabs/build-feed/internal/feed"
	"github.com/narvanalabs/build-feed/internal/models"
)

// ErrUnauthorized is returned when the API rejects the credentials or token.
var ErrUnauthorized = errors.New("unauthorized")

// Error is a non-2xx response from the API.
type Error struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
	RequestID  string `json:"request_id"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API error (%d)", e.StatusCode)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Unwrap maps 401 onto ErrUnauthorized.
func (e *Error) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// Client is an API client for the builds service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// NewClient creates a new API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithToken returns a new client with the specified auth token.
func (c *Client) WithToken(token string) *Client {
	return &Client{
		baseURL:    c.baseURL,
		httpClient: c.httpClient,
		token:      token,
	}
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Token returns the bearer token, if any.
func (c *Client) Token() string {
	return c.token
}

// NewJob describes one job of a build to create.
type NewJob struct {
	Image string `json:"image"`
	Env   string `json:"env,omitempty"`
}

// NewBuild is the body of a create build request.
type NewBuild struct {
	Branch  string   `json:"branch"`
	Commit  string   `json:"commit"`
	PR      int      `json:"pr,omitempty"`
	Message string   `json:"message,omitempty"`
	Jobs    []NewJob `json:"jobs"`
}

// JobUpdate is the body of a job update request.
type JobUpdate struct {
	Status    models.JobStatus `json:"status"`
	StartTime *time.Time       `json:"startTime,omitempty"`
	EndTime   *time.Time       `json:"endTime,omitempty"`
}

// User is the signed-in account.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var out loginResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", fmt.Errorf("login: empty token in response")
	}
	return out.Token, nil
}

// GetUserProfile returns the user the token belongs to.
func (c *Client) GetUserProfile(ctx context.Context) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/v1/user/profile", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListBuilds fetches one page of builds for scope, newest first.
func (c *Client) ListBuilds(ctx context.Context, scope feed.Scope, limit, offset int) ([]models.Build, error) {
	q := scope.Values()
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var builds []models.Build
	err := c.do(ctx, http.MethodGet, "/v1/builds?"+q.Encode(), nil, &builds)
	return builds, err
}

// GetBuild fetches a single build by ID.
func (c *Client) GetBuild(ctx context.Context, id uint64) (*models.Build, error) {
	var build models.Build
	if err := c.do(ctx, http.MethodGet, "/v1/builds/"+strconv.FormatUint(id, 10), nil, &build); err != nil {
		return nil, err
	}
	return &build, nil
}

// CreateBuild creates a build with queued jobs.
func (c *Client) CreateBuild(ctx context.Context, b NewBuild) (*models.Build, error) {
	var build models.Build
	if err := c.do(ctx, http.MethodPost, "/v1/builds", b, &build); err != nil {
		return nil, err
	}
	return &build, nil
}

// UpdateJob changes a job's status and times.
func (c *Client) UpdateJob(ctx context.Context, buildID, jobID uint64, u JobUpdate) (*models.Job, error) {
	path := "/v1/builds/" + strconv.FormatUint(buildID, 10) + "/jobs/" + strconv.FormatUint(jobID, 10)
	var job models.Job
	if err := c.do(ctx, http.MethodPatch, path, u, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Ping checks that the API answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// EventsURL returns the websocket URL of the event hub, carrying the token.
func (c *Client) EventsURL() (string, error) {
	u, err := url.Parse(c.baseURL + "/v1/events")
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if c.token != "" {
		u.RawQuery = url.Values{"token": {c.token}}.Encode()
	}
	return u.String(), nil
}

// do performs a request and unmarshals the response into result.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &Error{StatusCode: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}

	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
