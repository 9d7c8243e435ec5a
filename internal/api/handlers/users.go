package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"hydromate/internal/core"
	"hydromate/internal/external"
	"hydromate/internal/types"
)

// defaultNickname is assigned to accounts created without a nickname.
const defaultNickname = "用户"

// UserStore is the persistence contract for the login and subscription
// endpoints. Implemented by db.UserRepository.
type UserStore interface {
	GetByOpenID(ctx context.Context, openid string) (*types.User, error)
	Upsert(ctx context.Context, u *types.User) error
	SetSubscribed(ctx context.Context, openid string, subscribed bool) error
	List(ctx context.Context, onlySubscribed bool) ([]*types.User, error)
}

// SessionExchanger exchanges a Mini Program login code for a session.
// Implemented by external.WeChatClient.
type SessionExchanger interface {
	Code2Session(ctx context.Context, code string) (*external.SessionInfo, error)
}

// TokenProvider exposes the cached WeChat access token for the debug route.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// LoginRequest is the request body for POST /api/login. The Mini Program
// client also posts profile fields (avatarUrl, gender, ...) which the
// server ignores.
type LoginRequest struct {
	Code     string `json:"code" validate:"required"`
	Nickname string `json:"nickname"`
}

// LoginResponse echoes the resolved identity back to the client. This
// endpoint predates the success envelope and keeps its bare shape for
// client compatibility.
type LoginResponse struct {
	OpenID     string `json:"openid"`
	Subscribed bool   `json:"subscribed"`
	Nickname   string `json:"nickname"`
}

// SubscriptionRequest is the request body for the subscribe and
// unsubscribe endpoints. Nickname is only consulted on subscribe.
type SubscriptionRequest struct {
	OpenID   string `json:"openid" validate:"required"`
	Nickname string `json:"nickname"`
}

// MessageResponse is the generic acknowledgement envelope.
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// subscribedUser is the projected shape returned by GET /api/wechat/users.
type subscribedUser struct {
	OpenID       string  `json:"openid"`
	Nickname     string  `json:"nickname"`
	LastReminded *string `json:"lastReminded"`
}

// SubscribedUsersResponse lists reminder recipients.
type SubscribedUsersResponse struct {
	Success bool             `json:"success"`
	Count   int              `json:"count"`
	Users   []subscribedUser `json:"users"`
}

// AllUsersResponse lists every account with full fields.
type AllUsersResponse struct {
	Success bool          `json:"success"`
	Count   int           `json:"count"`
	Users   []*types.User `json:"users"`
}

// UserResponse carries a single account record.
type UserResponse struct {
	Success bool        `json:"success"`
	User    *types.User `json:"user"`
}

// TokenResponse exposes the current access token.
type TokenResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
}

// UserHandler serves login, subscription, and account lookup endpoints.
type UserHandler struct {
	store     UserStore
	sessions  SessionExchanger
	tokens    TokenProvider
	validator *core.Validator
	logger    *slog.Logger
}

// NewUserHandler creates a UserHandler with the provided dependencies.
func NewUserHandler(store UserStore, sessions SessionExchanger, tokens TokenProvider, v *core.Validator, logger *slog.Logger) *UserHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserHandler{
		store:     store,
		sessions:  sessions,
		tokens:    tokens,
		validator: v,
		logger:    logger,
	}
}

// RegisterRoutes mounts the user endpoints on the given router.
func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/login", h.Login)
	r.Route("/api/wechat", func(r chi.Router) {
		r.Get("/token", h.Token)
		r.Post("/subscribe", h.Subscribe)
		r.Post("/unsubscribe", h.Unsubscribe)
		r.Get("/users", h.SubscribedUsers)
		r.Get("/allusers", h.AllUsers)
		r.Get("/user/{openid}", h.User)
	})
}

// Login handles POST /api/login: it exchanges the Mini Program code for an
// openid and upserts the account. New accounts start unsubscribed; pushing
// reminders requires an explicit subscribe call.
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	sess, err := h.sessions.Code2Session(r.Context(), req.Code)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	user := &types.User{
		OpenID:   sess.OpenID,
		Nickname: req.Nickname,
	}
	if _, err := h.store.GetByOpenID(r.Context(), sess.OpenID); err != nil {
		if !isCode(err, types.ErrCodeNotFoundUser) {
			core.Error(w, r, err)
			return
		}
		if user.Nickname == "" {
			user.Nickname = defaultNickname
		}
	}
	if err := h.store.Upsert(r.Context(), user); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "user logged in",
		"openid", user.OpenID,
		"subscribed", user.Subscribed,
	)

	core.JSON(w, r, http.StatusOK, LoginResponse{
		OpenID:     user.OpenID,
		Subscribed: user.Subscribed,
		Nickname:   user.Nickname,
	})
}

// Subscribe handles POST /api/wechat/subscribe. Unknown openids are
// registered on the spot, already subscribed users are a no-op.
func (h *UserHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscriptionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	user := &types.User{
		OpenID:     req.OpenID,
		Nickname:   req.Nickname,
		Subscribed: true,
	}
	existing, err := h.store.GetByOpenID(r.Context(), req.OpenID)
	switch {
	case err == nil:
		if user.Nickname == "" {
			user.Nickname = existing.Nickname
		}
		if err := h.store.Upsert(r.Context(), user); err != nil {
			core.Error(w, r, err)
			return
		}
		if err := h.store.SetSubscribed(r.Context(), req.OpenID, true); err != nil {
			core.Error(w, r, err)
			return
		}
	case isCode(err, types.ErrCodeNotFoundUser):
		if user.Nickname == "" {
			user.Nickname = defaultNickname
		}
		if err := h.store.Upsert(r.Context(), user); err != nil {
			core.Error(w, r, err)
			return
		}
	default:
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, MessageResponse{
		Success: true,
		Message: fmt.Sprintf("User %s with OpenID %s subscribed successfully", user.Nickname, req.OpenID),
	})
}

// Unsubscribe handles POST /api/wechat/unsubscribe. Unknown openids are a
// 404; unsubscribing stops reminder dispatch but leaves tasks intact.
func (h *UserHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscriptionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.store.SetSubscribed(r.Context(), req.OpenID, false); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, MessageResponse{
		Success: true,
		Message: fmt.Sprintf("User with OpenID %s unsubscribed successfully", req.OpenID),
	})
}

// SubscribedUsers handles GET /api/wechat/users, returning reminder
// recipients in a projected shape without the subscription flag.
func (h *UserHandler) SubscribedUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.List(r.Context(), true)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	projected := make([]subscribedUser, 0, len(users))
	for _, u := range users {
		su := subscribedUser{
			OpenID:   u.OpenID,
			Nickname: u.Nickname,
		}
		if u.LastReminded != nil {
			s := types.FormatCivil(*u.LastReminded)
			su.LastReminded = &s
		}
		projected = append(projected, su)
	}

	core.JSON(w, r, http.StatusOK, SubscribedUsersResponse{
		Success: true,
		Count:   len(projected),
		Users:   projected,
	})
}

// AllUsers handles GET /api/wechat/allusers.
func (h *UserHandler) AllUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.List(r.Context(), false)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if users == nil {
		users = []*types.User{}
	}

	core.JSON(w, r, http.StatusOK, AllUsersResponse{
		Success: true,
		Count:   len(users),
		Users:   users,
	})
}

// User handles GET /api/wechat/user/{openid}.
func (h *UserHandler) User(w http.ResponseWriter, r *http.Request) {
	openid, err := pathOpenID(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	user, err := h.store.GetByOpenID(r.Context(), openid)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, UserResponse{
		Success: true,
		User:    user,
	})
}

// Token handles GET /api/wechat/token, a debug route exposing the cached
// access token.
func (h *UserHandler) Token(w http.ResponseWriter, r *http.Request) {
	token, err := h.tokens.AccessToken(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, TokenResponse{
		Success: true,
		Token:   token,
	})
}

// isCode reports whether err is an AppError with the given code.
func isCode(err error, code types.ErrorCode) bool {
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code == code
}
