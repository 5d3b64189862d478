package kumo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/joshp123/kumocloud-golang/internal/backoff"
	"github.com/joshp123/kumocloud-golang/internal/ratelimit"
)

const (
	// DefaultBaseURL is the production Kumo Cloud endpoint.
	DefaultBaseURL = "https://app-prod.kumocloud.com"

	apiVersion = "v3"
	appVersion = "3.0.9"

	// Kumo access tokens live 20 minutes; refresh 5 minutes early so a
	// token never expires mid-request.
	tokenLifetime     = 1200 * time.Second
	tokenExpiryMargin = 300 * time.Second

	requestTimeout        = 10 * time.Second
	retryAttempts         = 3
	maxConcurrentRequests = 2
)

var (
	transientPolicy = backoff.Policy{Base: time.Second, Cap: 16 * time.Second}
	rateLimitPolicy = backoff.Policy{Base: 60 * time.Second, Cap: 300 * time.Second}
)

// TokenUpdateFunc is invoked with the new token pair after every
// successful login or refresh so the host can persist it. A returned error
// is logged and swallowed; persistence failures never fail the operation
// that triggered them.
type TokenUpdateFunc func(accessToken, refreshToken string) error

// Config defines runtime configuration for the Kumo Cloud client.
type Config struct {
	BaseURL  string
	Username string
	Password string
}

// Client talks to the Kumo Cloud REST API. It owns the token pair and the
// request concurrency gate; all callers share one Client per account.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	transient  backoff.Policy

	username string
	password string

	onTokenUpdated TokenUpdateFunc

	// tokenMu guards the token pair; refreshMu serializes refresh
	// attempts so concurrent callers observe a single network refresh.
	tokenMu   sync.Mutex
	token     *oauth2.Token
	refreshMu sync.Mutex
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    ratelimit.NewLimiter(maxConcurrentRequests, rateLimitPolicy),
		transient:  transientPolicy,
		username:   cfg.Username,
		password:   cfg.Password,
	}
}

// OnTokenUpdated registers the persistence callback.
func (c *Client) OnTokenUpdated(fn TokenUpdateFunc) {
	c.onTokenUpdated = fn
}

// SetToken injects a stored token pair, typically at startup.
func (c *Client) SetToken(token *oauth2.Token) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	c.token = token
}

// Token returns a copy of the current token pair, or nil before the first
// login.
func (c *Client) Token() *oauth2.Token {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token == nil {
		return nil
	}
	copied := *c.token
	return &copied
}

// Login exchanges the configured credentials for a fresh token pair.
func (c *Client) Login(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	return c.login(ctx)
}

func (c *Client) login(ctx context.Context) error {
	if c.username == "" || c.password == "" {
		return AuthError{Reason: "no credentials available to re-authenticate"}
	}

	body := map[string]string{
		"username":   c.username,
		"password":   c.password,
		"appVersion": appVersion,
	}
	raw, err := c.attempt(ctx, http.MethodPost, "/login", body, "")
	if err != nil {
		var connErr ConnectionError
		if errors.As(err, &connErr) && connErr.Status == http.StatusForbidden {
			return AuthError{Reason: "invalid username or password"}
		}
		return err
	}

	var result struct {
		Token struct {
			Access  string `json:"access"`
			Refresh string `json:"refresh"`
		} `json:"token"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return ValidationError{Reason: "login payload is not an object"}
	}
	if result.Token.Access == "" || result.Token.Refresh == "" {
		return ValidationError{Reason: "login payload missing token pair"}
	}

	c.storeToken(result.Token.Access, result.Token.Refresh)
	return nil
}

// EnsureValidToken guarantees a usable access token before an
// authenticated call, refreshing when the token is inside the expiry
// margin. Refreshes are mutually exclusive; waiting callers re-check the
// token and observe the winner's result instead of refreshing again.
func (c *Client) EnsureValidToken(ctx context.Context) error {
	if !c.tokenDue(time.Now()) {
		return nil
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	if !c.tokenDue(time.Now()) {
		return nil
	}
	return c.refreshWithRetry(ctx)
}

func (c *Client) tokenDue(now time.Time) bool {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token == nil || c.token.AccessToken == "" {
		return true
	}
	if c.token.Expiry.IsZero() {
		return true
	}
	return !now.Add(tokenExpiryMargin).Before(c.token.Expiry)
}

func (c *Client) refreshWithRetry(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, c.transient.Delay(attempt-1)); err != nil {
				return ConnectionError{Op: "refresh", Err: err}
			}
		}

		err := c.refreshOnce(ctx)
		if err == nil {
			return nil
		}

		var rlErr RateLimitError
		var authErr AuthError
		if errors.As(err, &rlErr) || errors.As(err, &authErr) {
			// A 429 or a definitive auth failure will not get better
			// by asking again.
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (c *Client) refreshOnce(ctx context.Context) error {
	refreshToken := c.refreshTokenValue()
	if refreshToken == "" {
		return c.login(ctx)
	}

	raw, err := c.attempt(ctx, http.MethodPost, "/refresh", map[string]string{"refresh": refreshToken}, "")
	if err != nil {
		var authErr AuthError
		if errors.As(err, &authErr) {
			// Refresh token rejected; fall back to a credentialed login.
			return c.login(ctx)
		}
		return err
	}

	var result struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return ValidationError{Reason: "refresh payload is not an object"}
	}
	if result.Access == "" || result.Refresh == "" {
		return ValidationError{Reason: "refresh payload missing token pair"}
	}

	c.storeToken(result.Access, result.Refresh)
	return nil
}

func (c *Client) refreshTokenValue() string {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token == nil {
		return ""
	}
	return c.token.RefreshToken
}

func (c *Client) accessToken() string {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token == nil {
		return ""
	}
	return c.token.AccessToken
}

// storeToken replaces the token pair atomically and notifies the
// persistence callback.
func (c *Client) storeToken(accessToken, refreshToken string) {
	token := &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(tokenLifetime),
	}

	c.tokenMu.Lock()
	c.token = token
	c.tokenMu.Unlock()

	refreshSuccess.Inc()
	tokenValid.Set(1)

	if c.onTokenUpdated != nil {
		if err := c.onTokenUpdated(accessToken, refreshToken); err != nil {
			tokenPersistFailure.Inc()
			log.Printf("kumo: persist tokens: %v", err)
		}
	}
}

// request executes an authenticated call: ensure the token, then retry
// transient failures with backoff. Auth and rate-limit errors propagate
// immediately; retrying a 401 or 429 would worsen the condition, not fix
// it.
func (c *Client) request(ctx context.Context, method, endpoint string, body any) (json.RawMessage, error) {
	if err := c.EnsureValidToken(ctx); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, c.transient.Delay(attempt-1)); err != nil {
				return nil, ConnectionError{Op: endpoint, Err: err}
			}
		}

		raw, err := c.attempt(ctx, method, endpoint, body, c.accessToken())
		if err == nil {
			return c.decodePayload(method, endpoint, raw)
		}

		var rlErr RateLimitError
		var authErr AuthError
		if errors.As(err, &rlErr) || errors.As(err, &authErr) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// attempt issues a single HTTP call under the concurrency gate. Each
// attempt is bounded by the client timeout and abandoned on expiry; the
// retry loop starts a fresh attempt instead.
func (c *Client) attempt(ctx context.Context, method, endpoint string, body any, accessToken string) ([]byte, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, ConnectionError{Op: endpoint, Err: err}
	}
	defer c.limiter.Release()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	url := c.baseURL + "/" + apiVersion + endpoint
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("x-app-version", appVersion)
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, ConnectionError{Op: endpoint, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ConnectionError{Op: endpoint, Err: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		hint := retryAfterHeader(resp.Header)
		return nil, RateLimitError{RetryAfter: c.limiter.RetryAfter(hint)}
	}
	// Any non-429 response resets the consecutive-429 count.
	c.limiter.RecordSuccess()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		tokenValid.Set(0)
		return nil, AuthError{Reason: "authentication failed"}
	case resp.StatusCode >= 400:
		return nil, ConnectionError{Op: endpoint, Status: resp.StatusCode}
	}

	return payload, nil
}

// decodePayload validates the response body. A write that answers with an
// empty or non-JSON body yields an empty object rather than failing.
func (c *Client) decodePayload(method, endpoint string, payload []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		if method != http.MethodGet {
			return json.RawMessage("{}"), nil
		}
		return nil, ValidationError{Reason: "response for " + endpoint + " is not JSON"}
	}
	return json.RawMessage(trimmed), nil
}

func retryAfterHeader(headers http.Header) time.Duration {
	value := headers.Get("Retry-After")
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// AccountInfo fetches the authenticated account. Setup uses it to probe
// whether stored tokens are still accepted.
func (c *Client) AccountInfo(ctx context.Context) (map[string]any, error) {
	raw, err := c.request(ctx, http.MethodGet, "/accounts/me", nil)
	if err != nil {
		return nil, err
	}
	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, ValidationError{Reason: "account payload is not an object"}
	}
	return result, nil
}

// Sites lists the account's installations.
func (c *Client) Sites(ctx context.Context) ([]Site, error) {
	raw, err := c.request(ctx, http.MethodGet, "/sites/", nil)
	if err != nil {
		return nil, err
	}

	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, ValidationError{Reason: "sites payload is not a list"}
	}

	sites := make([]Site, 0, len(items))
	for _, item := range items {
		sites = append(sites, Site{
			ID:   stringValue(item["id"]),
			Name: stringValue(item["name"]),
		})
	}
	return sites, nil
}

// Zones lists the zones of a site.
func (c *Client) Zones(ctx context.Context, siteID string) ([]Zone, error) {
	raw, err := c.request(ctx, http.MethodGet, "/sites/"+siteID+"/zones", nil)
	if err != nil {
		return nil, err
	}
	return decodeZones(raw)
}

// DeviceDetails fetches the live state of a unit. The payload is opaque to
// the core.
func (c *Client) DeviceDetails(ctx context.Context, serial string) (map[string]any, error) {
	raw, err := c.request(ctx, http.MethodGet, "/devices/"+serial, nil)
	if err != nil {
		return nil, err
	}
	var detail map[string]any
	if err := json.Unmarshal(raw, &detail); err != nil {
		return nil, ValidationError{Reason: "device payload is not an object"}
	}
	return detail, nil
}

// DeviceProfile fetches the static capability description of a unit.
func (c *Client) DeviceProfile(ctx context.Context, serial string) (json.RawMessage, error) {
	return c.request(ctx, http.MethodGet, "/devices/"+serial+"/profile", nil)
}

// SendCommand relays a command payload to a unit.
func (c *Client) SendCommand(ctx context.Context, serial string, commands map[string]any) (map[string]any, error) {
	body := map[string]any{
		"deviceSerial": serial,
		"commands":     commands,
	}
	raw, err := c.request(ctx, http.MethodPost, "/devices/send-command", body)
	if err != nil {
		return nil, err
	}
	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		return map[string]any{}, nil
	}
	return result, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
