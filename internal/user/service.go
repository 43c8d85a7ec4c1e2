// Package user は管理者向けユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/opsdeck/internal/model"
	"github.com/hitoshi/opsdeck/internal/repository"
)

// Service はユーザー管理のサービス層。
// 管理者権限での一覧・作成・更新・削除を提供する。
type Service struct {
	provider repository.IdentityProvider
	profiles repository.ProfileStore
	sessions repository.SessionStore
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	provider repository.IdentityProvider,
	profiles repository.ProfileStore,
	sessions repository.SessionStore,
) *Service {
	return &Service{
		provider: provider,
		profiles: profiles,
		sessions: sessions,
	}
}

// Pagination はページネーション情報。
type Pagination struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Pages  int `json:"pages"`
}

// ListResult はページ付きのユーザー一覧。
type ListResult struct {
	Users      []*model.User `json:"users"`
	Pagination Pagination    `json:"pagination"`
}

// List は検索・絞り込み・ソート付きでユーザーを一覧する。
func (s *Service) List(ctx context.Context, filter repository.ListFilter) (*ListResult, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if filter.Status != "" && !validStatus(filter.Status) {
		return nil, model.NewValidationError(model.FieldError{
			Field: "status", Message: "status must be one of: active, inactive, suspended",
		})
	}

	users, total, err := s.profiles.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	pages := 0
	if total > 0 {
		pages = (total + filter.Limit - 1) / filter.Limit
	}
	return &ListResult{
		Users: users,
		Pagination: Pagination{
			Total:  total,
			Limit:  filter.Limit,
			Offset: filter.Offset,
			Pages:  pages,
		},
	}, nil
}

// Get はIDでユーザーを1件取得する。
func (s *Service) Get(ctx context.Context, id string) (*model.User, error) {
	user, err := s.profiles.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// CreateInput は管理者によるユーザー作成の入力。
type CreateInput struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FullName    string `json:"full_name"`
	CompanyName string `json:"company_name"`
	Phone       string `json:"phone"`
	Role        string `json:"role"`
	Status      string `json:"status"`
}

// Create は管理者権限でIdentityとプロフィール行を作成する。
// ロール・ステータスを任意に指定できる点が自己登録と異なる。
func (s *Service) Create(ctx context.Context, in CreateInput) (*model.User, error) {
	var fields []model.FieldError
	if in.Email == "" {
		fields = append(fields, model.FieldError{Field: "email", Message: "email is required"})
	}
	if in.Password == "" {
		fields = append(fields, model.FieldError{Field: "password", Message: "password is required"})
	}
	if in.Role != "" && in.Role != model.RoleUser && in.Role != model.RoleAdmin {
		fields = append(fields, model.FieldError{Field: "role", Message: "role must be user or admin"})
	}
	if in.Status != "" && !validStatus(in.Status) {
		fields = append(fields, model.FieldError{Field: "status", Message: "status must be one of: active, inactive, suspended"})
	}
	if len(fields) > 0 {
		return nil, model.NewValidationError(fields...)
	}
	if in.Role == "" {
		in.Role = model.RoleUser
	}
	if in.Status == "" {
		in.Status = model.StatusActive
	}

	identity, err := s.provider.CreateIdentity(ctx, in.Email, in.Password)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &model.User{
		ID:          identity.ID,
		Email:       in.Email,
		FullName:    in.FullName,
		CompanyName: in.CompanyName,
		Phone:       in.Phone,
		Role:        in.Role,
		Status:      in.Status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if insertErr := s.profiles.Insert(ctx, user); insertErr != nil {
		if compErr := s.provider.DeleteIdentity(ctx, identity.ID); compErr != nil {
			slog.Error("identity compensation failed",
				slog.String("identity_id", identity.ID),
				slog.String("error", compErr.Error()),
			)
		}
		return nil, insertErr
	}

	slog.Info("user created by admin",
		slog.String("user_id", user.ID),
		slog.String("role", user.Role),
	)
	return user, nil
}

// UpdateInput は管理者によるユーザー更新の入力。nilフィールドは変更しない。
type UpdateInput struct {
	FullName    *string `json:"full_name"`
	CompanyName *string `json:"company_name"`
	Phone       *string `json:"phone"`
	Status      *string `json:"status"`
}

// Update はプロフィール行を部分更新する。ステータスの変更もここで行う。
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*model.User, error) {
	if in.Status != nil && !validStatus(*in.Status) {
		return nil, model.NewValidationError(model.FieldError{
			Field: "status", Message: "status must be one of: active, inactive, suspended",
		})
	}

	user, err := s.profiles.Update(ctx, id, repository.ProfileUpdate{
		FullName:    in.FullName,
		CompanyName: in.CompanyName,
		Phone:       in.Phone,
		Status:      in.Status,
	})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	slog.Info("user updated by admin", slog.String("user_id", id))
	return user, nil
}

// Delete はユーザーを完全に削除する。
// 削除順序: プロフィール → Identity → セッション
func (s *Service) Delete(ctx context.Context, id string) error {
	user, err := s.profiles.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	if err := s.profiles.Delete(ctx, id); err != nil {
		return err
	}
	// プロフィールは既に削除済みなので、Identity削除の失敗は警告に留める
	if err := s.provider.DeleteIdentity(ctx, id); err != nil {
		slog.Warn("failed to delete identity for deleted user",
			slog.String("user_id", id),
			slog.String("error", err.Error()),
		)
	}
	if err := s.sessions.DeleteByUserID(ctx, id); err != nil {
		slog.Warn("failed to delete sessions for deleted user",
			slog.String("user_id", id),
			slog.String("error", err.Error()),
		)
	}

	slog.Info("user deleted by admin", slog.String("user_id", id))
	return nil
}

// BulkStatusInput はステータス一括変更の入力。
type BulkStatusInput struct {
	UserIDs []string `json:"user_ids"`
	Status  string   `json:"status"`
}

// BulkUpdateStatus は複数ユーザーのステータスを一括変更する。
// 変更された行数を返す。
func (s *Service) BulkUpdateStatus(ctx context.Context, in BulkStatusInput) (int, error) {
	var fields []model.FieldError
	if len(in.UserIDs) == 0 {
		fields = append(fields, model.FieldError{Field: "user_ids", Message: "user_ids must not be empty"})
	}
	if !validStatus(in.Status) {
		fields = append(fields, model.FieldError{Field: "status", Message: "status must be one of: active, inactive, suspended"})
	}
	for _, id := range in.UserIDs {
		if _, err := uuid.Parse(id); err != nil {
			fields = append(fields, model.FieldError{Field: "user_ids", Message: fmt.Sprintf("invalid user ID: %s", id)})
			break
		}
	}
	if len(fields) > 0 {
		return 0, model.NewValidationError(fields...)
	}

	updated, err := s.profiles.BulkUpdateStatus(ctx, in.UserIDs, in.Status)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk update status: %w", err)
	}

	slog.Info("bulk status update",
		slog.Int("requested", len(in.UserIDs)),
		slog.Int("updated", updated),
		slog.String("status", in.Status),
	)
	return updated, nil
}

func validStatus(status string) bool {
	switch status {
	case model.StatusActive, model.StatusInactive, model.StatusSuspended:
		return true
	}
	return false
}
