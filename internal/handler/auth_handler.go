package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/opsdeck/internal/auth"
	"github.com/hitoshi/opsdeck/internal/middleware"
	"github.com/hitoshi/opsdeck/internal/model"
	"github.com/hitoshi/opsdeck/internal/token"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, in auth.RegisterInput) (*model.User, error)
	Login(ctx context.Context, email, password string) (*model.User, *auth.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*auth.Session, error)
	CurrentUser(ctx context.Context, claims *token.Claims) (*model.User, error)
	Logout(ctx context.Context, sessionID string) error
	UpdateProfile(ctx context.Context, userID string, in auth.UpdateProfileInput) (*model.User, error)
	DeleteAccount(ctx context.Context, userID string) error
}

// AuthMetricsRecorder は認証結果のメトリクスを記録するインターフェース。
// metrics.Collectorの部分集合。
type AuthMetricsRecorder interface {
	RecordLoginSuccess()
	RecordLoginFailure()
	RecordRegistration()
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	metrics AuthMetricsRecorder
}

// NewAuthHandler はAuthHandlerを生成する。recorderはnil可。
func NewAuthHandler(service AuthServiceInterface, recorder AuthMetricsRecorder) *AuthHandler {
	return &AuthHandler{
		service: service,
		metrics: recorder,
	}
}

// Register はユーザー登録を処理する。
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterInput
	if err := decodeJSONBody(r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	user, err := h.service.Register(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordRegistration()
	}

	writeSuccess(w, http.StatusCreated, "Registration successful", map[string]any{
		"user": user,
	})
}

// loginRequest はログインリクエストのボディ。
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login はログインを処理する。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSONBody(r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	user, session, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if h.metrics != nil {
			h.metrics.RecordLoginFailure()
		}
		handleServiceError(w, r, err)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordLoginSuccess()
	}

	writeSuccess(w, http.StatusOK, "Login successful", map[string]any{
		"user":    user,
		"session": session,
	})
}

// refreshRequest はトークン再発行リクエストのボディ。
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh はリフレッシュトークンからアクセストークンを再発行する。
// POST /api/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSONBody(r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if req.RefreshToken == "" {
		handleServiceError(w, r, model.NewNoTokenError())
		return
	}

	session, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, "", map[string]any{
		"session": session,
	})
}

// Me は現在のログインユーザー情報を返す。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, err := middleware.ClaimsFromContext(r.Context())
	if err != nil {
		handleServiceError(w, r, model.NewNoTokenError())
		return
	}

	user, err := h.service.CurrentUser(r.Context(), claims)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, "", map[string]any{
		"user": user,
	})
}

// Logout はセッションを失効させる。
// POST /api/auth/logout
//
// ログアウトは冪等: セッションが既に存在しなくても200を返す。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID := ""
	if claims, err := middleware.ClaimsFromContext(r.Context()); err == nil {
		sessionID = claims.SessionID
	}

	if err := h.service.Logout(r.Context(), sessionID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, "Logout successful", nil)
}

// UpdateProfile はプロフィールを更新する。
// PUT /api/auth/profile
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		handleServiceError(w, r, model.NewNoTokenError())
		return
	}

	var req auth.UpdateProfileInput
	if err := decodeJSONBody(r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	user, err := h.service.UpdateProfile(r.Context(), userID, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, "Profile updated", map[string]any{
		"user": user,
	})
}

// DeleteAccount は自分自身のアカウントを削除する。
// DELETE /api/auth/delete-account
func (h *AuthHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		handleServiceError(w, r, model.NewNoTokenError())
		return
	}

	if err := h.service.DeleteAccount(r.Context(), userID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, "Account deleted", nil)
}
