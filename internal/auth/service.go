// Package auth は登録・ログイン・セッション発行などの認証フローを提供する。
// トークンの検証経路はローカル署名のJWTに一本化している。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/opsdeck/internal/model"
	"github.com/hitoshi/opsdeck/internal/repository"
	"github.com/hitoshi/opsdeck/internal/token"
)

// Session はログイン・リフレッシュ時に発行されるトークンペアのAPIレスポンス。
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"` // アクセストークンの有効秒数
	ExpiresAt    time.Time `json:"expires_at"`
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionTTL time.Duration // セッション（リフレッシュトークン）の有効期間
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	provider repository.IdentityProvider
	profiles repository.ProfileStore
	sessions repository.SessionStore
	tokens   *token.JWTManager
	config   ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	provider repository.IdentityProvider,
	profiles repository.ProfileStore,
	sessions repository.SessionStore,
	tokens *token.JWTManager,
	config ServiceConfig,
) *Service {
	return &Service{
		provider: provider,
		profiles: profiles,
		sessions: sessions,
		tokens:   tokens,
		config:   config,
	}
}

// RegisterInput はユーザー登録の入力。
type RegisterInput struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FullName    string `json:"full_name"`
	CompanyName string `json:"company_name"`
}

// Register はIdentityの作成とプロフィール行のミラー作成を行う。
// プロフィール作成に失敗した場合は補償としてIdentityを削除し、
// 孤児Identityを残さない。補償自体の失敗は結合エラーとして報告する。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	var fields []model.FieldError
	if in.Email == "" {
		fields = append(fields, model.FieldError{Field: "email", Message: "email is required"})
	}
	if in.Password == "" {
		fields = append(fields, model.FieldError{Field: "password", Message: "password is required"})
	}
	if in.FullName == "" {
		fields = append(fields, model.FieldError{Field: "full_name", Message: "full_name is required"})
	}
	if len(fields) > 0 {
		return nil, model.NewValidationError(fields...)
	}

	// 1. IdentityをプロバイダとなるIdentityストアに作成
	identity, err := s.provider.CreateIdentity(ctx, in.Email, in.Password)
	if err != nil {
		return nil, err
	}

	// 2. プロフィール行をIdentityのIDでミラー作成
	now := time.Now()
	user := &model.User{
		ID:          identity.ID,
		Email:       in.Email,
		FullName:    in.FullName,
		CompanyName: in.CompanyName,
		Role:        model.RoleUser,
		Status:      model.StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if insertErr := s.profiles.Insert(ctx, user); insertErr != nil {
		// 補償: 作成済みIdentityを削除する
		if compErr := s.provider.DeleteIdentity(ctx, identity.ID); compErr != nil {
			slog.Error("identity compensation failed, orphaned identity remains",
				slog.String("identity_id", identity.ID),
				slog.String("insert_error", insertErr.Error()),
				slog.String("compensation_error", compErr.Error()),
			)
			return nil, fmt.Errorf("profile insert failed (%w); identity compensation also failed: %v", insertErr, compErr)
		}
		return nil, insertErr
	}

	slog.Info("new user registered",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)

	return user, nil
}

// Login は認証情報をプロバイダで検証し、セッションを発行する。
// プロフィール行の取得はベストエフォート: 失敗してもログインは成功し、
// 最小限のユーザー情報にフォールバックする。
func (s *Service) Login(ctx context.Context, email, password string) (*model.User, *Session, error) {
	var fields []model.FieldError
	if email == "" {
		fields = append(fields, model.FieldError{Field: "email", Message: "email is required"})
	}
	if password == "" {
		fields = append(fields, model.FieldError{Field: "password", Message: "password is required"})
	}
	if len(fields) > 0 {
		return nil, nil, model.NewValidationError(fields...)
	}

	identity, err := s.provider.VerifyCredentials(ctx, email, password)
	if err != nil {
		return nil, nil, err
	}

	user, err := s.profiles.FindByID(ctx, identity.ID)
	if err != nil {
		slog.Error("failed to fetch profile on login",
			slog.String("user_id", identity.ID),
			slog.String("error", err.Error()),
		)
		user = nil
	}
	if user == nil {
		// プロフィール未作成でもログイン自体は成功扱い
		user = &model.User{ID: identity.ID, Email: identity.Email, Role: model.RoleUser}
	}

	session, err := s.createSession(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))
	return user, session, nil
}

// Refresh はリフレッシュトークンからアクセストークンを再発行する。
// セッション行が削除済み（ログアウト済み）の場合は失敗する。
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	claims, err := s.verifyToken(refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != token.TypeRefresh {
		return nil, model.NewTokenInvalidError()
	}

	session, err := s.sessions.FindByID(ctx, claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, model.NewSessionNotFoundError()
	}

	user, err := s.profiles.FindByID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	role := model.RoleUser
	email := ""
	if user != nil {
		role = user.Role
		email = user.Email
	}

	accessToken, err := s.tokens.SignAccess(claims.Subject, email, role, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	return &Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.tokens.AccessTTL().Seconds()),
		ExpiresAt:    time.Now().Add(s.tokens.AccessTTL()),
	}, nil
}

// CurrentUser はアクセストークンのクレームから現在のユーザーを返す。
// プロフィール行が存在しない場合は{id, email}の最小情報にフォールバックする。
func (s *Service) CurrentUser(ctx context.Context, claims *token.Claims) (*model.User, error) {
	user, err := s.profiles.FindByID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return &model.User{ID: claims.Subject, Email: claims.Email}, nil
	}
	return user, nil
}

// Logout はセッション行を削除し、リフレッシュトークンを失効させる。
// ステートレスなアクセストークンは自然満了まで有効なまま残る（ブラックリストは持たない）。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.sessions.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// UpdateProfileInput はプロフィール更新の入力。nilフィールドは変更しない。
type UpdateProfileInput struct {
	FullName    *string `json:"full_name"`
	CompanyName *string `json:"company_name"`
	Phone       *string `json:"phone"`
}

// UpdateProfile はプロフィール行のみを部分更新する（Identityには触れない）。
func (s *Service) UpdateProfile(ctx context.Context, userID string, in UpdateProfileInput) (*model.User, error) {
	user, err := s.profiles.Update(ctx, userID, repository.ProfileUpdate{
		FullName:    in.FullName,
		CompanyName: in.CompanyName,
		Phone:       in.Phone,
	})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	slog.Info("profile updated", slog.String("user_id", userID))
	return user, nil
}

// DeleteAccount はプロフィール行→Identity→セッションの順で削除する。
// Identity削除の失敗は握りつぶさず、結合エラーとして報告する。
func (s *Service) DeleteAccount(ctx context.Context, userID string) error {
	if err := s.profiles.Delete(ctx, userID); err != nil {
		return err
	}

	if err := s.provider.DeleteIdentity(ctx, userID); err != nil {
		return fmt.Errorf("profile deleted but identity deletion failed: %w", err)
	}

	// Identity削除でセッションはCASCADE削除されるが、プロバイダ差し替え時に備えて明示的にも削除する
	if err := s.sessions.DeleteByUserID(ctx, userID); err != nil {
		slog.Warn("failed to delete sessions after account deletion",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	slog.Info("account deleted", slog.String("user_id", userID))
	return nil
}

// createSession はセッション行を作成し、トークンペアを発行する。
func (s *Service) createSession(ctx context.Context, user *model.User) (*Session, error) {
	session := &model.Session{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(s.config.SessionTTL),
		CreatedAt: time.Now(),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	accessToken, err := s.tokens.SignAccess(user.ID, user.Email, user.Role, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}
	refreshToken, err := s.tokens.SignRefresh(user.ID, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return &Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.tokens.AccessTTL().Seconds()),
		ExpiresAt:    time.Now().Add(s.tokens.AccessTTL()),
	}, nil
}

// verifyToken はトークン検証の失敗をAPIErrorに変換する。
func (s *Service) verifyToken(tokenStr string) (*token.Claims, error) {
	claims, err := s.tokens.Verify(tokenStr)
	if err != nil {
		if errors.Is(err, token.ErrTokenExpired) {
			return nil, model.NewTokenExpiredError()
		}
		return nil, model.NewTokenInvalidError()
	}
	return claims, nil
}
