package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hydromate/internal/core"
	"hydromate/internal/external"
	"hydromate/internal/types"
)

// =============================================================================
// Mock Implementations
// =============================================================================

type mockUserStore struct {
	getFn           func(ctx context.Context, openid string) (*types.User, error)
	upsertFn        func(ctx context.Context, u *types.User) error
	setSubscribedFn func(ctx context.Context, openid string, subscribed bool) error
	listFn          func(ctx context.Context, onlySubscribed bool) ([]*types.User, error)

	upserted *types.User
}

func (m *mockUserStore) GetByOpenID(ctx context.Context, openid string) (*types.User, error) {
	if m.getFn != nil {
		return m.getFn(ctx, openid)
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
}

func (m *mockUserStore) Upsert(ctx context.Context, u *types.User) error {
	m.upserted = u
	if m.upsertFn != nil {
		return m.upsertFn(ctx, u)
	}
	return nil
}

func (m *mockUserStore) SetSubscribed(ctx context.Context, openid string, subscribed bool) error {
	if m.setSubscribedFn != nil {
		return m.setSubscribedFn(ctx, openid, subscribed)
	}
	return nil
}

func (m *mockUserStore) List(ctx context.Context, onlySubscribed bool) ([]*types.User, error) {
	if m.listFn != nil {
		return m.listFn(ctx, onlySubscribed)
	}
	return nil, nil
}

type mockSessionExchanger struct {
	code2SessionFn func(ctx context.Context, code string) (*external.SessionInfo, error)
}

func (m *mockSessionExchanger) Code2Session(ctx context.Context, code string) (*external.SessionInfo, error) {
	if m.code2SessionFn != nil {
		return m.code2SessionFn(ctx, code)
	}
	return &external.SessionInfo{OpenID: "oABC", SessionKey: "sk"}, nil
}

type mockTokenProvider struct {
	accessTokenFn func(ctx context.Context) (string, error)
}

func (m *mockTokenProvider) AccessToken(ctx context.Context) (string, error) {
	if m.accessTokenFn != nil {
		return m.accessTokenFn(ctx)
	}
	return "tok-1", nil
}

// =============================================================================
// Test Helpers
// =============================================================================

func newTestUserHandler() (*UserHandler, *mockUserStore, *mockSessionExchanger, *mockTokenProvider) {
	store := &mockUserStore{}
	sessions := &mockSessionExchanger{}
	tokens := &mockTokenProvider{}
	h := NewUserHandler(store, sessions, tokens, core.NewValidator(nil), nil)
	return h, store, sessions, tokens
}

// =============================================================================
// Login
// =============================================================================

func TestUserHandler_LoginCreatesNewUser(t *testing.T) {
	h, store, _, _ := newTestUserHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/login",
		strings.NewReader(`{"code":"c123"}`))
	w := httptest.NewRecorder()

	h.Login(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, store.upserted)
	assert.Equal(t, "oABC", store.upserted.OpenID)
	assert.Equal(t, "用户", store.upserted.Nickname)
	assert.False(t, store.upserted.Subscribed)

	body := decodeEnvelope(t, w)
	assert.Equal(t, "oABC", body["openid"])
	assert.Equal(t, false, body["subscribed"])
	assert.Equal(t, "用户", body["nickname"])
}

func TestUserHandler_LoginExistingUserKeepsSubscription(t *testing.T) {
	h, store, _, _ := newTestUserHandler()

	store.getFn = func(_ context.Context, openid string) (*types.User, error) {
		return &types.User{OpenID: openid, Nickname: "老王", Subscribed: true}, nil
	}
	store.upsertFn = func(_ context.Context, u *types.User) error {
		// The repository scans the merged row back into u.
		if u.Nickname == "" {
			u.Nickname = "老王"
		}
		u.Subscribed = true
		return nil
	}

	req := httptest.NewRequest(http.MethodPost, "/api/login",
		strings.NewReader(`{"code":"c123"}`))
	w := httptest.NewRecorder()

	h.Login(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeEnvelope(t, w)
	assert.Equal(t, true, body["subscribed"])
	assert.Equal(t, "老王", body["nickname"])
}

func TestUserHandler_LoginUpdatesNickname(t *testing.T) {
	h, store, _, _ := newTestUserHandler()

	store.getFn = func(_ context.Context, openid string) (*types.User, error) {
		return &types.User{OpenID: openid, Nickname: "老王"}, nil
	}

	req := httptest.NewRequest(http.MethodPost, "/api/login",
		strings.NewReader(`{"code":"c123","nickname":"小明"}`))
	w := httptest.NewRecorder()

	h.Login(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, store.upserted)
	assert.Equal(t, "小明", store.upserted.Nickname)
}

func TestUserHandler_LoginMissingCode(t *testing.T) {
	h, _, _, _ := newTestUserHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/login",
		strings.NewReader(`{"nickname":"小明"}`))
	w := httptest.NewRecorder()

	h.Login(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeEnvelope(t, w)
	assert.Equal(t, string(types.ErrCodeValidationMissingCode), body["code"])
}

func TestUserHandler_LoginInvalidCode(t *testing.T) {
	h, store, sessions, _ := newTestUserHandler()

	sessions.code2SessionFn = func(context.Context, string) (*external.SessionInfo, error) {
		return nil, types.NewAppError(types.ErrCodeAuthWeChatCodeInvalid, "invalid js_code", nil)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/login",
		strings.NewReader(`{"code":"expired"}`))
	w := httptest.NewRecorder()

	h.Login(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Nil(t, store.upserted)
}

func TestUserHandler_LoginIgnoresProfileFields(t *testing.T) {
	h, _, _, _ := newTestUserHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/login",
		strings.NewReader(`{"code":"c123","avatarUrl":"https://cdn/a.png","gender":1,"country":"CN"}`))
	w := httptest.NewRecorder()

	h.Login(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

// =============================================================================
// Subscribe / Unsubscribe
// =============================================================================

func TestUserHandler_SubscribeCreatesUnknownUser(t *testing.T) {
	h, store, _, _ := newTestUserHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/wechat/subscribe",
		strings.NewReader(`{"openid":"oNEW"}`))
	w := httptest.NewRecorder()

	h.Subscribe(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, store.upserted)
	assert.True(t, store.upserted.Subscribed)
	assert.Equal(t, "用户", store.upserted.Nickname)

	body := decodeEnvelope(t, w)
	assert.Contains(t, body["message"], "oNEW")
	assert.Contains(t, body["message"], "subscribed successfully")
}

func TestUserHandler_SubscribeExistingUser(t *testing.T) {
	h, store, _, _ := newTestUserHandler()

	store.getFn = func(_ context.Context, openid string) (*types.User, error) {
		return &types.User{OpenID: openid, Nickname: "老王", Subscribed: false}, nil
	}
	var flipped bool
	store.setSubscribedFn = func(_ context.Context, openid string, subscribed bool) error {
		flipped = true
		assert.Equal(t, "oABC", openid)
		assert.True(t, subscribed)
		return nil
	}

	req := httptest.NewRequest(http.MethodPost, "/api/wechat/subscribe",
		strings.NewReader(`{"openid":"oABC"}`))
	w := httptest.NewRecorder()

	h.Subscribe(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, flipped)
	body := decodeEnvelope(t, w)
	assert.Contains(t, body["message"], "老王")
}

func TestUserHandler_SubscribeMissingOpenID(t *testing.T) {
	h, _, _, _ := newTestUserHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/wechat/subscribe",
		strings.NewReader(`{}`))
	w := httptest.NewRecorder()

	h.Subscribe(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeEnvelope(t, w)
	assert.Equal(t, string(types.ErrCodeValidationMissingOpenID), body["code"])
}

func TestUserHandler_Unsubscribe(t *testing.T) {
	h, store, _, _ := newTestUserHandler()

	var gotSubscribed = true
	store.setSubscribedFn = func(_ context.Context, openid string, subscribed bool) error {
		gotSubscribed = subscribed
		return nil
	}

	req := httptest.NewRequest(http.MethodPost, "/api/wechat/unsubscribe",
		strings.NewReader(`{"openid":"oABC"}`))
	w := httptest.NewRecorder()

	h.Unsubscribe(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, gotSubscribed)
	body := decodeEnvelope(t, w)
	assert.Contains(t, body["message"], "unsubscribed successfully")
}

func TestUserHandler_UnsubscribeUnknownUser(t *testing.T) {
	h, store, _, _ := newTestUserHandler()

	store.setSubscribedFn = func(context.Context, string, bool) error {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/wechat/unsubscribe",
		strings.NewReader(`{"openid":"oGONE"}`))
	w := httptest.NewRecorder()

	h.Unsubscribe(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// =============================================================================
// User listings
// =============================================================================

func TestUserHandler_SubscribedUsersProjection(t *testing.T) {
	h, store, _, _ := newTestUserHandler()

	reminded := time.Date(2025, 6, 1, 9, 25, 0, 0, handlerLoc)
	store.listFn = func(_ context.Context, onlySubscribed bool) ([]*types.User, error) {
		assert.True(t, onlySubscribed)
		return []*types.User{
			{OpenID: "oA", Nickname: "甲", Subscribed: true, LastReminded: &reminded},
			{OpenID: "oB", Nickname: "乙", Subscribed: true},
		}, nil
	}

	req := httptest.NewRequest(http.MethodGet, "/api/wechat/users", nil)
	w := httptest.NewRecorder()

	h.SubscribedUsers(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeEnvelope(t, w)
	assert.Equal(t, float64(2), body["count"])

	users := body["users"].([]any)
	first := users[0].(map[string]any)
	assert.Equal(t, "oA", first["openid"])
	assert.Equal(t, "2025-06-01 09:25:00", first["lastReminded"])
	// Projection hides the subscription flag.
	_, ok := first["subscribed"]
	assert.False(t, ok)

	second := users[1].(map[string]any)
	assert.Nil(t, second["lastReminded"])
}

func TestUserHandler_AllUsers(t *testing.T) {
	h, store, _, _ := newTestUserHandler()

	store.listFn = func(_ context.Context, onlySubscribed bool) ([]*types.User, error) {
		assert.False(t, onlySubscribed)
		return []*types.User{
			{OpenID: "oA", Nickname: "甲", Subscribed: true, CreatedAt: time.Date(2025, 5, 1, 12, 0, 0, 0, handlerLoc)},
			{OpenID: "oB", Nickname: "乙", Subscribed: false, CreatedAt: time.Date(2025, 5, 2, 12, 0, 0, 0, handlerLoc)},
		}, nil
	}

	req := httptest.NewRequest(http.MethodGet, "/api/wechat/allusers", nil)
	w := httptest.NewRecorder()

	h.AllUsers(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeEnvelope(t, w)
	assert.Equal(t, float64(2), body["count"])

	users := body["users"].([]any)
	second := users[1].(map[string]any)
	assert.Equal(t, false, second["subscribed"])
	assert.Equal(t, "2025-05-02 12:00:00", second["createdAt"])
}

func TestUserHandler_AllUsersEmpty(t *testing.T) {
	h, _, _, _ := newTestUserHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/wechat/allusers", nil)
	w := httptest.NewRecorder()

	h.AllUsers(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"users":[]`)
}

func TestUserHandler_UserByOpenID(t *testing.T) {
	h, store, _, _ := newTestUserHandler()

	store.getFn = func(_ context.Context, openid string) (*types.User, error) {
		return &types.User{OpenID: openid, Nickname: "甲", Subscribed: true}, nil
	}

	req := httptest.NewRequest(http.MethodGet, "/api/wechat/user/oA", nil)
	req = withURLParam(req, "openid", "oA")
	w := httptest.NewRecorder()

	h.User(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeEnvelope(t, w)
	user := body["user"].(map[string]any)
	assert.Equal(t, "oA", user["openid"])
}

func TestUserHandler_UserNotFound(t *testing.T) {
	h, _, _, _ := newTestUserHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/wechat/user/oGONE", nil)
	req = withURLParam(req, "openid", "oGONE")
	w := httptest.NewRecorder()

	h.User(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// =============================================================================
// Token
// =============================================================================

func TestUserHandler_Token(t *testing.T) {
	h, _, _, _ := newTestUserHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/wechat/token", nil)
	w := httptest.NewRecorder()

	h.Token(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeEnvelope(t, w)
	assert.Equal(t, "tok-1", body["token"])
}

func TestUserHandler_TokenUpstreamFailure(t *testing.T) {
	h, _, _, tokens := newTestUserHandler()

	tokens.accessTokenFn = func(context.Context) (string, error) {
		return "", types.NewAppError(types.ErrCodeUpstreamWeChat, "wechat api unavailable", nil)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/wechat/token", nil)
	w := httptest.NewRecorder()

	h.Token(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)
}
