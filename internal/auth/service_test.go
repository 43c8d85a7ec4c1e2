package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/opsdeck/internal/model"
	"github.com/hitoshi/opsdeck/internal/repository"
	"github.com/hitoshi/opsdeck/internal/token"
)

type mockIdentityProvider struct {
	createFn         func(ctx context.Context, email, password string) (*model.Identity, error)
	verifyFn         func(ctx context.Context, email, password string) (*model.Identity, error)
	updatePasswordFn func(ctx context.Context, userID, password string) error
	deleteFn         func(ctx context.Context, userID string) error
	deletedIDs       []string
}

func (m *mockIdentityProvider) CreateIdentity(ctx context.Context, email, password string) (*model.Identity, error) {
	return m.createFn(ctx, email, password)
}

func (m *mockIdentityProvider) VerifyCredentials(ctx context.Context, email, password string) (*model.Identity, error) {
	return m.verifyFn(ctx, email, password)
}

func (m *mockIdentityProvider) UpdatePassword(ctx context.Context, userID, password string) error {
	if m.updatePasswordFn != nil {
		return m.updatePasswordFn(ctx, userID, password)
	}
	return nil
}

func (m *mockIdentityProvider) DeleteIdentity(ctx context.Context, userID string) error {
	m.deletedIDs = append(m.deletedIDs, userID)
	if m.deleteFn != nil {
		return m.deleteFn(ctx, userID)
	}
	return nil
}

type mockProfileStore struct {
	insertFn      func(ctx context.Context, user *model.User) error
	findByIDFn    func(ctx context.Context, id string) (*model.User, error)
	findByEmailFn func(ctx context.Context, email string) (*model.User, error)
	updateFn      func(ctx context.Context, id string, update repository.ProfileUpdate) (*model.User, error)
	deleteFn      func(ctx context.Context, id string) error
	listFn        func(ctx context.Context, filter repository.ListFilter) ([]*model.User, int, error)
	bulkFn        func(ctx context.Context, ids []string, status string) (int, error)
}

func (m *mockProfileStore) Insert(ctx context.Context, user *model.User) error {
	return m.insertFn(ctx, user)
}

func (m *mockProfileStore) FindByID(ctx context.Context, id string) (*model.User, error) {
	return m.findByIDFn(ctx, id)
}

func (m *mockProfileStore) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockProfileStore) Update(ctx context.Context, id string, update repository.ProfileUpdate) (*model.User, error) {
	return m.updateFn(ctx, id, update)
}

func (m *mockProfileStore) Delete(ctx context.Context, id string) error {
	return m.deleteFn(ctx, id)
}

func (m *mockProfileStore) List(ctx context.Context, filter repository.ListFilter) ([]*model.User, int, error) {
	return m.listFn(ctx, filter)
}

func (m *mockProfileStore) BulkUpdateStatus(ctx context.Context, ids []string, status string) (int, error) {
	return m.bulkFn(ctx, ids, status)
}

type mockSessionStore struct {
	createFn         func(ctx context.Context, session *model.Session) error
	findByIDFn       func(ctx context.Context, id string) (*model.Session, error)
	deleteByIDFn     func(ctx context.Context, id string) error
	deleteByUserIDFn func(ctx context.Context, userID string) error
	deletedIDs       []string
}

func (m *mockSessionStore) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionStore) FindByID(ctx context.Context, id string) (*model.Session, error) {
	return m.findByIDFn(ctx, id)
}

func (m *mockSessionStore) DeleteByID(ctx context.Context, id string) error {
	m.deletedIDs = append(m.deletedIDs, id)
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockSessionStore) DeleteByUserID(ctx context.Context, userID string) error {
	if m.deleteByUserIDFn != nil {
		return m.deleteByUserIDFn(ctx, userID)
	}
	return nil
}

func newTestTokens(t *testing.T) *token.JWTManager {
	t.Helper()
	tm, err := token.NewJWTManager("test-secret", time.Hour, 24*time.Hour)
	if err != nil {
		t.Fatalf("NewJWTManager failed: %v", err)
	}
	return tm
}

func TestRegister(t *testing.T) {
	identity := &model.Identity{ID: "id-1", Email: "user@example.com"}

	t.Run("正常系", func(t *testing.T) {
		provider := &mockIdentityProvider{
			createFn: func(ctx context.Context, email, password string) (*model.Identity, error) {
				return identity, nil
			},
		}
		var inserted *model.User
		profiles := &mockProfileStore{
			insertFn: func(ctx context.Context, user *model.User) error {
				inserted = user
				return nil
			},
		}
		svc := NewService(provider, profiles, &mockSessionStore{}, newTestTokens(t), ServiceConfig{SessionTTL: time.Hour})

		user, err := svc.Register(context.Background(), RegisterInput{
			Email:       "user@example.com",
			Password:    "secret123",
			FullName:    "Taro Yamada",
			CompanyName: "Example Inc",
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if user.ID != "id-1" {
			t.Errorf("expected user ID id-1, got %s", user.ID)
		}
		if user.Role != model.RoleUser {
			t.Errorf("expected role user, got %s", user.Role)
		}
		if user.Status != model.StatusActive {
			t.Errorf("expected status active, got %s", user.Status)
		}
		if inserted == nil || inserted.ID != identity.ID {
			t.Error("expected profile row inserted with identity ID")
		}
	})

	t.Run("必須フィールド欠落でバリデーションエラー", func(t *testing.T) {
		svc := NewService(&mockIdentityProvider{}, &mockProfileStore{}, &mockSessionStore{}, newTestTokens(t), ServiceConfig{})

		_, err := svc.Register(context.Background(), RegisterInput{Email: "user@example.com"})
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected APIError, got %v", err)
		}
		if apiErr.Code != model.ErrCodeValidation {
			t.Errorf("expected code %s, got %s", model.ErrCodeValidation, apiErr.Code)
		}
		if len(apiErr.Errors) != 2 {
			t.Errorf("expected 2 field errors, got %d", len(apiErr.Errors))
		}
	})

	t.Run("プロフィール作成失敗でIdentityを補償削除", func(t *testing.T) {
		provider := &mockIdentityProvider{
			createFn: func(ctx context.Context, email, password string) (*model.Identity, error) {
				return identity, nil
			},
		}
		profiles := &mockProfileStore{
			insertFn: func(ctx context.Context, user *model.User) error {
				return errors.New("insert failed")
			},
		}
		svc := NewService(provider, profiles, &mockSessionStore{}, newTestTokens(t), ServiceConfig{})

		_, err := svc.Register(context.Background(), RegisterInput{
			Email:    "user@example.com",
			Password: "secret123",
			FullName: "Taro Yamada",
		})
		if err == nil {
			t.Fatal("expected error")
		}
		if len(provider.deletedIDs) != 1 || provider.deletedIDs[0] != "id-1" {
			t.Errorf("expected identity id-1 compensated, got %v", provider.deletedIDs)
		}
	})

	t.Run("メール重複はプロバイダのエラーをそのまま返す", func(t *testing.T) {
		provider := &mockIdentityProvider{
			createFn: func(ctx context.Context, email, password string) (*model.Identity, error) {
				return nil, model.NewEmailTakenError()
			},
		}
		svc := NewService(provider, &mockProfileStore{}, &mockSessionStore{}, newTestTokens(t), ServiceConfig{})

		_, err := svc.Register(context.Background(), RegisterInput{
			Email:    "user@example.com",
			Password: "secret123",
			FullName: "Taro Yamada",
		})
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeEmailTaken {
			t.Errorf("expected EMAIL_TAKEN, got %v", err)
		}
	})
}

func TestLogin(t *testing.T) {
	identity := &model.Identity{ID: "id-1", Email: "user@example.com"}
	profile := &model.User{ID: "id-1", Email: "user@example.com", Role: model.RoleAdmin, Status: model.StatusActive}

	t.Run("正常系", func(t *testing.T) {
		provider := &mockIdentityProvider{
			verifyFn: func(ctx context.Context, email, password string) (*model.Identity, error) {
				return identity, nil
			},
		}
		profiles := &mockProfileStore{
			findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
				return profile, nil
			},
		}
		var created *model.Session
		sessions := &mockSessionStore{
			createFn: func(ctx context.Context, session *model.Session) error {
				created = session
				return nil
			},
		}
		tokens := newTestTokens(t)
		svc := NewService(provider, profiles, sessions, tokens, ServiceConfig{SessionTTL: time.Hour})

		user, session, err := svc.Login(context.Background(), "user@example.com", "secret123")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if user.Role != model.RoleAdmin {
			t.Errorf("expected role from profile, got %s", user.Role)
		}
		if session.TokenType != "bearer" {
			t.Errorf("expected token_type bearer, got %s", session.TokenType)
		}
		if created == nil {
			t.Fatal("expected session row created")
		}

		claims, err := tokens.Verify(session.AccessToken)
		if err != nil {
			t.Fatalf("access token failed verification: %v", err)
		}
		if claims.Subject != "id-1" || claims.Role != model.RoleAdmin || claims.SessionID != created.ID {
			t.Errorf("unexpected claims: %+v", claims)
		}
	})

	t.Run("認証失敗", func(t *testing.T) {
		provider := &mockIdentityProvider{
			verifyFn: func(ctx context.Context, email, password string) (*model.Identity, error) {
				return nil, model.NewInvalidCredentialsError()
			},
		}
		svc := NewService(provider, &mockProfileStore{}, &mockSessionStore{}, newTestTokens(t), ServiceConfig{})

		_, _, err := svc.Login(context.Background(), "user@example.com", "wrong")
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidCredentials {
			t.Errorf("expected INVALID_CREDENTIALS, got %v", err)
		}
	})

	t.Run("プロフィール欠落時は最小情報でログイン成功", func(t *testing.T) {
		provider := &mockIdentityProvider{
			verifyFn: func(ctx context.Context, email, password string) (*model.Identity, error) {
				return identity, nil
			},
		}
		profiles := &mockProfileStore{
			findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
				return nil, nil
			},
		}
		svc := NewService(provider, profiles, &mockSessionStore{}, newTestTokens(t), ServiceConfig{SessionTTL: time.Hour})

		user, session, err := svc.Login(context.Background(), "user@example.com", "secret123")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if user.ID != "id-1" || user.Email != "user@example.com" {
			t.Errorf("expected fallback user, got %+v", user)
		}
		if session == nil {
			t.Error("expected session issued")
		}
	})

	t.Run("空の入力でバリデーションエラー", func(t *testing.T) {
		svc := NewService(&mockIdentityProvider{}, &mockProfileStore{}, &mockSessionStore{}, newTestTokens(t), ServiceConfig{})
		_, _, err := svc.Login(context.Background(), "", "")
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidation {
			t.Errorf("expected VALIDATION_ERROR, got %v", err)
		}
	})
}

func TestRefresh(t *testing.T) {
	tokens := newTestTokens(t)

	t.Run("正常系", func(t *testing.T) {
		refreshToken, err := tokens.SignRefresh("id-1", "sess-1")
		if err != nil {
			t.Fatal(err)
		}
		sessions := &mockSessionStore{
			findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
				if id != "sess-1" {
					t.Errorf("expected session lookup by sess-1, got %s", id)
				}
				return &model.Session{ID: "sess-1", UserID: "id-1"}, nil
			},
		}
		profiles := &mockProfileStore{
			findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
				return &model.User{ID: "id-1", Email: "user@example.com", Role: model.RoleUser}, nil
			},
		}
		svc := NewService(&mockIdentityProvider{}, profiles, sessions, tokens, ServiceConfig{})

		session, err := svc.Refresh(context.Background(), refreshToken)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if session.RefreshToken != refreshToken {
			t.Error("expected refresh token to be reused")
		}
		claims, err := tokens.Verify(session.AccessToken)
		if err != nil {
			t.Fatalf("new access token failed verification: %v", err)
		}
		if claims.TokenType != token.TypeAccess {
			t.Errorf("expected access token, got %s", claims.TokenType)
		}
	})

	t.Run("アクセストークンの流用を拒否", func(t *testing.T) {
		accessToken, err := tokens.SignAccess("id-1", "user@example.com", model.RoleUser, "sess-1")
		if err != nil {
			t.Fatal(err)
		}
		svc := NewService(&mockIdentityProvider{}, &mockProfileStore{}, &mockSessionStore{}, tokens, ServiceConfig{})

		_, err = svc.Refresh(context.Background(), accessToken)
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeTokenInvalid {
			t.Errorf("expected TOKEN_INVALID, got %v", err)
		}
	})

	t.Run("ログアウト済みセッションで失敗", func(t *testing.T) {
		refreshToken, err := tokens.SignRefresh("id-1", "sess-gone")
		if err != nil {
			t.Fatal(err)
		}
		sessions := &mockSessionStore{
			findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
				return nil, nil
			},
		}
		svc := NewService(&mockIdentityProvider{}, &mockProfileStore{}, sessions, tokens, ServiceConfig{})

		_, err = svc.Refresh(context.Background(), refreshToken)
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeSessionNotFound {
			t.Errorf("expected SESSION_NOT_FOUND, got %v", err)
		}
	})

	t.Run("期限切れトークン", func(t *testing.T) {
		expired, err := token.NewJWTManager("test-secret", -time.Hour, -time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		refreshToken, err := expired.SignRefresh("id-1", "sess-1")
		if err != nil {
			t.Fatal(err)
		}
		svc := NewService(&mockIdentityProvider{}, &mockProfileStore{}, &mockSessionStore{}, tokens, ServiceConfig{})

		_, err = svc.Refresh(context.Background(), refreshToken)
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeTokenExpired {
			t.Errorf("expected TOKEN_EXPIRED, got %v", err)
		}
	})
}

func TestCurrentUser(t *testing.T) {
	tokens := newTestTokens(t)

	t.Run("プロフィールあり", func(t *testing.T) {
		profiles := &mockProfileStore{
			findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
				return &model.User{ID: id, Email: "user@example.com", FullName: "Taro"}, nil
			},
		}
		svc := NewService(&mockIdentityProvider{}, profiles, &mockSessionStore{}, tokens, ServiceConfig{})

		accessToken, _ := tokens.SignAccess("id-1", "user@example.com", model.RoleUser, "sess-1")
		claims, err := tokens.Verify(accessToken)
		if err != nil {
			t.Fatal(err)
		}

		user, err := svc.CurrentUser(context.Background(), claims)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if user.FullName != "Taro" {
			t.Errorf("expected profile data, got %+v", user)
		}
	})

	t.Run("プロフィールなしでクレームにフォールバック", func(t *testing.T) {
		profiles := &mockProfileStore{
			findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
				return nil, nil
			},
		}
		svc := NewService(&mockIdentityProvider{}, profiles, &mockSessionStore{}, tokens, ServiceConfig{})

		accessToken, _ := tokens.SignAccess("id-1", "user@example.com", model.RoleUser, "sess-1")
		claims, err := tokens.Verify(accessToken)
		if err != nil {
			t.Fatal(err)
		}

		user, err := svc.CurrentUser(context.Background(), claims)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if user.ID != "id-1" || user.Email != "user@example.com" {
			t.Errorf("expected fallback from claims, got %+v", user)
		}
	})
}

func TestLogout(t *testing.T) {
	sessions := &mockSessionStore{}
	svc := NewService(&mockIdentityProvider{}, &mockProfileStore{}, sessions, newTestTokens(t), ServiceConfig{})

	if err := svc.Logout(context.Background(), "sess-1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(sessions.deletedIDs) != 1 || sessions.deletedIDs[0] != "sess-1" {
		t.Errorf("expected session sess-1 deleted, got %v", sessions.deletedIDs)
	}

	// 空のセッションIDはno-op
	if err := svc.Logout(context.Background(), ""); err != nil {
		t.Fatalf("expected no error for empty session ID, got %v", err)
	}
	if len(sessions.deletedIDs) != 1 {
		t.Error("expected no additional deletion for empty session ID")
	}
}

func TestUpdateProfile(t *testing.T) {
	t.Run("正常系", func(t *testing.T) {
		name := "New Name"
		profiles := &mockProfileStore{
			updateFn: func(ctx context.Context, id string, update repository.ProfileUpdate) (*model.User, error) {
				if update.FullName == nil || *update.FullName != name {
					t.Errorf("expected full_name update, got %+v", update)
				}
				return &model.User{ID: id, FullName: name}, nil
			},
		}
		svc := NewService(&mockIdentityProvider{}, profiles, &mockSessionStore{}, newTestTokens(t), ServiceConfig{})

		user, err := svc.UpdateProfile(context.Background(), "id-1", UpdateProfileInput{FullName: &name})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if user.FullName != name {
			t.Errorf("expected updated name, got %s", user.FullName)
		}
	})

	t.Run("存在しないユーザー", func(t *testing.T) {
		profiles := &mockProfileStore{
			updateFn: func(ctx context.Context, id string, update repository.ProfileUpdate) (*model.User, error) {
				return nil, nil
			},
		}
		svc := NewService(&mockIdentityProvider{}, profiles, &mockSessionStore{}, newTestTokens(t), ServiceConfig{})

		_, err := svc.UpdateProfile(context.Background(), "missing", UpdateProfileInput{})
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUserNotFound {
			t.Errorf("expected USER_NOT_FOUND, got %v", err)
		}
	})
}

func TestDeleteAccount(t *testing.T) {
	t.Run("正常系", func(t *testing.T) {
		provider := &mockIdentityProvider{}
		profiles := &mockProfileStore{
			deleteFn: func(ctx context.Context, id string) error { return nil },
		}
		svc := NewService(provider, profiles, &mockSessionStore{}, newTestTokens(t), ServiceConfig{})

		if err := svc.DeleteAccount(context.Background(), "id-1"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(provider.deletedIDs) != 1 || provider.deletedIDs[0] != "id-1" {
			t.Errorf("expected identity deleted, got %v", provider.deletedIDs)
		}
	})

	t.Run("Identity削除失敗は結合エラー", func(t *testing.T) {
		provider := &mockIdentityProvider{
			deleteFn: func(ctx context.Context, userID string) error {
				return errors.New("provider down")
			},
		}
		profiles := &mockProfileStore{
			deleteFn: func(ctx context.Context, id string) error { return nil },
		}
		svc := NewService(provider, profiles, &mockSessionStore{}, newTestTokens(t), ServiceConfig{})

		err := svc.DeleteAccount(context.Background(), "id-1")
		if err == nil {
			t.Fatal("expected error")
		}
	})
}
