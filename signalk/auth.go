package signalk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	loginPath          = "/signalk/v1/auth/login"
	accessRequestsPath = "/signalk/v1/access/requests"
)

var ErrUnauthorized = errors.New("unauthorized")
var ErrAccessDenied = errors.New("access request denied")

// Auth obtains tokens from a Signal K server, either by user login or by
// the device access request flow.
type Auth struct {
	base  *url.URL
	http  *retryablehttp.Client
	poll  time.Duration
	clock clock.Clock
	log   *slog.Logger
}

type AuthOption func(*Auth)

// WithRetry configures the HTTP retry policy.
func WithRetry(attempts int, waitMin, waitMax time.Duration) AuthOption {
	return func(a *Auth) {
		a.http.RetryMax = attempts
		a.http.RetryWaitMin = waitMin
		a.http.RetryWaitMax = waitMax
	}
}

// WithPollInterval sets how often a pending access request is checked.
func WithPollInterval(d time.Duration) AuthOption {
	return func(a *Auth) {
		a.poll = d
	}
}

func WithAuthClock(cl clock.Clock) AuthOption {
	return func(a *Auth) {
		a.clock = cl
	}
}

func WithAuthLogger(log *slog.Logger) AuthOption {
	return func(a *Auth) {
		a.log = log
		a.http.Logger = log
	}
}

// NewAuth creates an authenticator for the server at baseURL (http or https).
func NewAuth(baseURL string, opts ...AuthOption) (*Auth, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("signalk: invalid server url %q", baseURL)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path, u.RawQuery = "", ""
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = time.Second
	client.RetryWaitMax = 30 * time.Second
	client.Logger = nil
	a := &Auth{
		base:  u,
		http:  client,
		poll:  5 * time.Second,
		clock: clock.New(),
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login exchanges user credentials for a token.
func (a *Auth) Login(ctx context.Context, username, password string) (string, error) {
	var res loginResponse
	status, err := a.do(ctx, http.MethodPost, loginPath, loginRequest{Username: username, Password: password}, &res)
	if err != nil {
		return "", err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return "", fmt.Errorf("signalk: login %q: %w", username, ErrUnauthorized)
	}
	if status != http.StatusOK || res.Token == "" {
		return "", fmt.Errorf("signalk: login: unexpected response status %d", status)
	}
	return res.Token, nil
}

// NewClientID returns a fresh identifier for an access request. It must be
// persisted and reused so the server recognizes the device.
func NewClientID() string {
	return uuid.NewString()
}

type accessRequest struct {
	ClientID    string `json:"clientId"`
	Description string `json:"description"`
}

// RequestState is the server's view of a pending request.
type RequestState struct {
	State         string `json:"state"`
	Href          string `json:"href"`
	StatusCode    int    `json:"statusCode"`
	Message       string `json:"message"`
	AccessRequest *struct {
		Permission string `json:"permission"`
		Token      string `json:"token"`
	} `json:"accessRequest"`
}

// RequestAccess submits a device access request and polls until an
// administrator approves or denies it, or ctx is done.
func (a *Auth) RequestAccess(ctx context.Context, clientID, description string) (string, error) {
	if _, err := uuid.Parse(clientID); err != nil {
		return "", fmt.Errorf("signalk: client id must be a uuid: %w", err)
	}
	var state RequestState
	status, err := a.do(ctx, http.MethodPost, accessRequestsPath, accessRequest{ClientID: clientID, Description: description}, &state)
	if err != nil {
		return "", err
	}
	if status != http.StatusAccepted && status != http.StatusOK {
		return "", fmt.Errorf("signalk: access request rejected: status %d: %s", status, state.Message)
	}
	a.log.Info("signalk access request submitted, waiting for approval", "client", clientID, "href", state.Href)
	for {
		if token, done, err := state.result(); done {
			return token, err
		}
		if state.Href == "" {
			return "", fmt.Errorf("signalk: access request has no status href")
		}
		timer := a.clock.Timer(a.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
		href := state.Href
		state = RequestState{}
		if _, err := a.do(ctx, http.MethodGet, href, nil, &state); err != nil {
			return "", err
		}
		if state.Href == "" {
			state.Href = href
		}
	}
}

func (s RequestState) result() (string, bool, error) {
	if s.State != "COMPLETED" {
		return "", false, nil
	}
	if s.AccessRequest == nil {
		return "", true, fmt.Errorf("signalk: completed access request without result")
	}
	switch s.AccessRequest.Permission {
	case "APPROVED":
		return s.AccessRequest.Token, true, nil
	case "DENIED":
		return "", true, fmt.Errorf("signalk: %w", ErrAccessDenied)
	default:
		return "", true, fmt.Errorf("signalk: unknown permission %q", s.AccessRequest.Permission)
	}
}

// do sends body as JSON and decodes a JSON response into out. Non 2xx
// statuses are returned to the caller, not treated as errors.
func (a *Auth) do(ctx context.Context, method, path string, body, out any) (int, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return 0, fmt.Errorf("signalk: invalid path %q: %w", path, err)
	}
	target := a.base.ResolveReference(ref)
	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("signalk: could not encode request: %w", err)
		}
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, target.String(), payload)
	if err != nil {
		return 0, fmt.Errorf("signalk: could not create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("signalk: %s %s: %w", method, target.Path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("signalk: could not read response: %w", err)
	}
	if len(bytes.TrimSpace(data)) > 0 && strings.Contains(resp.Header.Get("Content-Type"), "json") {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("signalk: could not decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
