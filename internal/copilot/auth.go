package copilot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultAuthBaseURL = "https://api.github.com"
	tokenPath          = "/copilot_internal/v2/token"
	deviceCodePath     = "/login/device/code"
	deviceTokenPath    = "/login/oauth/access_token"
	defaultOAuthHost   = "https://github.com"
	oauthClientID      = "Iv1.b507a08c87ecfe98"
	deviceScope        = "read:user"
)

// ErrAuth is wrapped by all token-refresh failures so callers can classify
// them without inspecting status codes.
var ErrAuth = errors.New("auth failed")

// AccessToken is a short-lived backend bearer token.
type AccessToken struct {
	Token     string
	ExpiresAt time.Time
}

// Expired reports whether the token is unusable within the given margin.
func (t AccessToken) Expired(margin time.Duration) bool {
	if t.Token == "" {
		return true
	}
	return time.Now().Add(margin).After(t.ExpiresAt)
}

// AuthClient exchanges long-lived refresh credentials for short-lived access
// tokens and drives the device-authorization login used to provision new
// accounts.
type AuthClient struct {
	baseURL    string
	oauthURL   string
	httpClient *http.Client
}

// AuthConfig holds configuration for the auth client.
type AuthConfig struct {
	BaseURL        string // token exchange host, defaults to the hosted API
	OAuthURL       string // device-flow host, defaults to the hosted login
	RequestTimeout time.Duration
}

// NewAuthClient creates an auth client.
func NewAuthClient(cfg AuthConfig) *AuthClient {
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultAuthBaseURL
	}
	oauthURL := strings.TrimSuffix(strings.TrimSpace(cfg.OAuthURL), "/")
	if oauthURL == "" {
		oauthURL = defaultOAuthHost
	}
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &AuthClient{
		baseURL:    baseURL,
		oauthURL:   oauthURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// RefreshToken exchanges the account's long-lived refresh credential for a
// fresh access token.
func (a *AuthClient) RefreshToken(ctx context.Context, refreshCredential string) (AccessToken, error) {
	if strings.TrimSpace(refreshCredential) == "" {
		return AccessToken{}, fmt.Errorf("%w: empty refresh credential", ErrAuth)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+tokenPath, nil)
	if err != nil {
		return AccessToken{}, fmt.Errorf("%w: create request: %v", ErrAuth, err)
	}
	httpReq.Header.Set("Authorization", "token "+refreshCredential)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Editor-Version", editorVersion)
	httpReq.Header.Set("User-Agent", userAgentHeader)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return AccessToken{}, fmt.Errorf("%w: send request: %v", ErrAuth, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return AccessToken{}, fmt.Errorf("%w: read response: %v", ErrAuth, err)
	}
	if resp.StatusCode != http.StatusOK {
		return AccessToken{}, fmt.Errorf("%w: http %d: %s", ErrAuth, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		Token     string `json:"token"`
		ExpiresAt int64  `json:"expires_at"`
		RefreshIn int    `json:"refresh_in"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return AccessToken{}, fmt.Errorf("%w: unmarshal response: %v", ErrAuth, err)
	}
	if out.Token == "" {
		return AccessToken{}, fmt.Errorf("%w: response carries no token", ErrAuth)
	}
	token := AccessToken{Token: out.Token}
	switch {
	case out.ExpiresAt > 0:
		token.ExpiresAt = time.Unix(out.ExpiresAt, 0)
	case out.RefreshIn > 0:
		token.ExpiresAt = time.Now().Add(time.Duration(out.RefreshIn) * time.Second)
	default:
		token.ExpiresAt = expiryFromJWT(out.Token)
	}
	return token, nil
}

// expiryFromJWT derives an expiry from the token's exp claim when the
// exchange response omits one. The signature is not verified; only the
// lifetime matters here. Falls back to a 10 minute lifetime.
func expiryFromJWT(token string) time.Time {
	fallback := time.Now().Add(10 * time.Minute)
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return fallback
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return fallback
	}
	return exp.Time
}

// DeviceCode is the pending device-authorization grant shown to the user.
type DeviceCode struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// StartDeviceFlow requests a device-authorization code for provisioning a
// new account.
func (a *AuthClient) StartDeviceFlow(ctx context.Context) (DeviceCode, error) {
	form := url.Values{"client_id": {oauthClientID}, "scope": {deviceScope}}
	var out DeviceCode
	if err := a.postForm(ctx, a.oauthURL+deviceCodePath, form, &out); err != nil {
		return DeviceCode{}, err
	}
	if out.DeviceCode == "" {
		return DeviceCode{}, fmt.Errorf("%w: empty device code", ErrAuth)
	}
	return out, nil
}

// PollDeviceFlow polls the device grant until the user approves, the grant
// expires, or ctx is cancelled. It returns the long-lived refresh credential.
func (a *AuthClient) PollDeviceFlow(ctx context.Context, code DeviceCode) (string, error) {
	interval := time.Duration(code.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadline := time.Now().Add(time.Duration(code.ExpiresIn) * time.Second)
	form := url.Values{
		"client_id":   {oauthClientID},
		"device_code": {code.DeviceCode},
		"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w: device code expired", ErrAuth)
		}
		var out struct {
			AccessToken string `json:"access_token"`
			Error       string `json:"error"`
		}
		if err := a.postForm(ctx, a.oauthURL+deviceTokenPath, form, &out); err != nil {
			return "", err
		}
		switch out.Error {
		case "":
			if out.AccessToken != "" {
				return out.AccessToken, nil
			}
		case "authorization_pending":
			continue
		case "slow_down":
			ticker.Reset(interval + 5*time.Second)
		default:
			return "", fmt.Errorf("%w: device flow: %s", ErrAuth, out.Error)
		}
	}
}

func (a *AuthClient) postForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrAuth, err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: send request: %v", ErrAuth, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<12))
		return fmt.Errorf("%w: http %d: %s", ErrAuth, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: unmarshal response: %v", ErrAuth, err)
	}
	return nil
}
