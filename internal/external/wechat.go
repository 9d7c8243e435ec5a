package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"hydromate/internal/types"
)

const defaultWeChatBaseURL = "https://api.weixin.qq.com"

// WeChat errcodes that mean the cached access token is no longer usable.
const (
	wechatErrInvalidCredential = 40001
	wechatErrTokenExpired      = 42001
)

// WeChatClientConfig holds the configuration for the WeChat Mini Program client.
type WeChatClientConfig struct {
	AppID      string
	AppSecret  string
	TemplateID string
	Logger     *slog.Logger

	// BaseURL overrides the WeChat API host, for testing.
	BaseURL string

	// TokenEarlyExpiry is subtracted from the platform-reported token
	// lifetime so a refresh happens before the upstream deadline.
	TokenEarlyExpiry time.Duration
}

// WeChatClient talks to the WeChat Mini Program platform: code2session login
// exchange, cached access tokens, and subscribe-message reminders.
//
// The access token is process-wide state on the WeChat side (requesting a new
// one can invalidate the old), so refreshes are deduplicated through a
// singleflight group: concurrent callers finding a stale cache share one
// upstream request.
type WeChatClient struct {
	base       *BaseClient
	appID      string
	appSecret  string
	templateID string
	baseURL    string
	early      time.Duration
	logger     *slog.Logger

	mu    sync.Mutex
	token string
	expAt time.Time

	refresh singleflight.Group
	nowFn   func() time.Time
}

// WeChatClientOption is a functional option for configuring a WeChatClient.
type WeChatClientOption func(*WeChatClient)

// WithWeChatNowFunc overrides the clock used for token expiry decisions.
// This is intended for testing.
func WithWeChatNowFunc(fn func() time.Time) WeChatClientOption {
	return func(c *WeChatClient) {
		c.nowFn = fn
	}
}

// NewWeChatClient creates a WeChatClient with the given HTTP client and config.
func NewWeChatClient(httpClient *http.Client, cfg WeChatClientConfig, opts ...WeChatClientOption) *WeChatClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultWeChatBaseURL
	}

	early := cfg.TokenEarlyExpiry
	if early <= 0 {
		early = 5 * time.Minute
	}

	base := NewBaseClient(
		httpClient,
		"wechat-api",
		DefaultRetryPolicy(),
		"HydroMate/1.0",
	)

	c := &WeChatClient{
		base:       base,
		appID:      cfg.AppID,
		appSecret:  cfg.AppSecret,
		templateID: cfg.TemplateID,
		baseURL:    baseURL,
		early:      early,
		logger:     logger,
		nowFn:      time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// NewWeChatClientWithBase creates a WeChatClient with a pre-configured
// BaseClient. This is useful for testing when you want to control the
// BaseClient configuration.
func NewWeChatClientWithBase(base *BaseClient, cfg WeChatClientConfig, opts ...WeChatClientOption) *WeChatClient {
	c := NewWeChatClient(http.DefaultClient, cfg, opts...)
	c.base = base
	return c
}

// SessionInfo is the result of a code2session login exchange.
type SessionInfo struct {
	OpenID     string `json:"openid"`
	SessionKey string `json:"session_key"`
	UnionID    string `json:"unionid"`
}

// wechatError is the error envelope the WeChat API embeds in otherwise-200
// responses. errcode 0 means success.
type wechatError struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

type tokenResponse struct {
	wechatError
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type sessionResponse struct {
	wechatError
	SessionInfo
}

// Code2Session exchanges a Mini Program login code for the user's openid.
// An upstream errcode is reported as auth_wechat_code_invalid since the
// overwhelmingly common cause is an expired or already-used code.
func (c *WeChatClient) Code2Session(ctx context.Context, code string) (*SessionInfo, error) {
	params := url.Values{}
	params.Set("appid", c.appID)
	params.Set("secret", c.appSecret)
	params.Set("js_code", code)
	params.Set("grant_type", "authorization_code")

	endpoint := c.baseURL + "/sns/jscode2session?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create code2session request",
			err,
		)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, wrapWeChatError("code2session", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, handleWeChatHTTPError("code2session", resp)
	}

	var session sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode code2session response",
			err,
		)
	}

	if session.ErrCode != 0 || session.OpenID == "" {
		return nil, types.NewAppError(
			types.ErrCodeAuthWeChatCodeInvalid,
			fmt.Sprintf("code2session rejected (%d): %s", session.ErrCode, session.ErrMsg),
			nil,
		)
	}

	return &session.SessionInfo, nil
}

// AccessToken returns a valid access token, refreshing through the
// singleflight group when the cache is empty or past its early-expiry
// deadline.
func (c *WeChatClient) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && c.nowFn().Before(c.expAt) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	v, err, _ := c.refresh.Do("access_token", func() (any, error) {
		// Re-check under the lock: a concurrent caller may have refreshed
		// between the cache miss and this flight starting.
		c.mu.Lock()
		if c.token != "" && c.nowFn().Before(c.expAt) {
			token := c.token
			c.mu.Unlock()
			return token, nil
		}
		c.mu.Unlock()

		return c.fetchAccessToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// fetchAccessToken performs the upstream token request and updates the cache.
func (c *WeChatClient) fetchAccessToken(ctx context.Context) (string, error) {
	params := url.Values{}
	params.Set("grant_type", "client_credential")
	params.Set("appid", c.appID)
	params.Set("secret", c.appSecret)

	endpoint := c.baseURL + "/cgi-bin/token?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create access token request",
			err,
		)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return "", wrapWeChatError("token", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", handleWeChatHTTPError("token", resp)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode access token response",
			err,
		)
	}

	if tok.ErrCode != 0 || tok.AccessToken == "" {
		return "", types.NewAppError(
			types.ErrCodeUpstreamWeChat,
			fmt.Sprintf("access token request rejected (%d): %s", tok.ErrCode, tok.ErrMsg),
			nil,
		)
	}

	expiresIn := tok.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 7200
	}
	ttl := time.Duration(expiresIn)*time.Second - c.early
	if ttl <= 0 {
		ttl = time.Duration(expiresIn) * time.Second
	}

	c.mu.Lock()
	c.token = tok.AccessToken
	c.expAt = c.nowFn().Add(ttl)
	c.mu.Unlock()

	return tok.AccessToken, nil
}

// InvalidateToken drops the cached access token so the next call refreshes.
func (c *WeChatClient) InvalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.expAt = time.Time{}
	c.mu.Unlock()
}

// subscribeMessage is the request body for the subscribe-message send endpoint.
// The data keys are fixed by the registered template.
type subscribeMessage struct {
	ToUser     string                  `json:"touser"`
	TemplateID string                  `json:"template_id"`
	Page       string                  `json:"page"`
	Data       map[string]templateVal `json:"data"`
}

type templateVal struct {
	Value string `json:"value"`
}

// SendWaterReminder pushes a hydration reminder to one user via the
// subscribe-message API. at is the civil time rendered into the template's
// time field. A stale-token errcode invalidates the cache so the next
// dispatch refreshes; the current send still fails and is retried by the
// next scheduled trigger.
func (c *WeChatClient) SendWaterReminder(ctx context.Context, openid, nickname string, at time.Time) error {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return err
	}

	msg := subscribeMessage{
		ToUser:     openid,
		TemplateID: c.templateID,
		Page:       "pages/index/index",
		Data: map[string]templateVal{
			"time2":  {Value: at.Format("15:04")},
			"thing3": {Value: fmt.Sprintf("%s，该喝水啦！", nickname)},
		},
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to encode subscribe message",
			err,
		)
	}

	endpoint := c.baseURL + "/cgi-bin/message/subscribe/send?access_token=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create subscribe message request",
			err,
		)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return wrapWeChatError("subscribe send", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return handleWeChatHTTPError("subscribe send", resp)
	}

	var result wechatError
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode subscribe message response",
			err,
		)
	}

	if result.ErrCode != 0 {
		if result.ErrCode == wechatErrInvalidCredential || result.ErrCode == wechatErrTokenExpired {
			c.InvalidateToken()
		}
		return types.NewAppError(
			types.ErrCodeUpstreamWeChat,
			fmt.Sprintf("subscribe message rejected (%d): %s", result.ErrCode, result.ErrMsg),
			nil,
		)
	}

	return nil
}

// wrapWeChatError wraps a BaseClient transport error with call context.
func wrapWeChatError(operation string, err error) error {
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamWeChat,
		fmt.Sprintf("WeChat %s request failed: %v", operation, err),
		err,
	)
}

// handleWeChatHTTPError handles non-200 responses from the WeChat API.
func handleWeChatHTTPError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return types.NewAppError(
		types.ErrCodeUpstreamWeChat,
		fmt.Sprintf("WeChat %s: unexpected response (%d): %s", operation, resp.StatusCode, truncateBody(body)),
		nil,
	)
}

// truncateBody returns a string representation of the body, truncated to a
// reasonable length for error messages.
func truncateBody(body []byte) string {
	const maxLen = 200
	s := string(body)
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
