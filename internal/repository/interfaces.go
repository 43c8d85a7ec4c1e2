// Package repository はデータ永続化のインターフェースを定義する。
// IDプロバイダ（認証情報）とプロフィールストアは独立に差し替え可能な
// 能力インターフェースとして分離する。
package repository

import (
	"context"

	"github.com/hitoshi/opsdeck/internal/model"
)

// PasswordHasher はパスワードのハッシュ化・検証インターフェース。
// token.Hasherの部分集合として定義する。
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
}

// IdentityProvider は認証情報（Identity）を管理する能力インターフェース。
// 外部IDプロバイダの差し替えを想定した狭い契約。
type IdentityProvider interface {
	// CreateIdentity は新しいIdentityを作成する。
	// メールアドレスは確認済みとして登録する。
	// 重複メールアドレスの場合はEMAIL_TAKENのAPIErrorを返す。
	CreateIdentity(ctx context.Context, email, password string) (*model.Identity, error)

	// VerifyCredentials はメールアドレスとパスワードを検証し、一致するIdentityを返す。
	// 不一致・未登録の場合はINVALID_CREDENTIALSのAPIErrorを返す
	// （メールアドレスの存在有無を区別しない）。
	VerifyCredentials(ctx context.Context, email, password string) (*model.Identity, error)

	// UpdatePassword は指定Identityのパスワードを更新する。
	UpdatePassword(ctx context.Context, id, password string) error

	// DeleteIdentity は指定IDのIdentityを削除する。
	DeleteIdentity(ctx context.Context, id string) error
}

// ProfileUpdate はプロフィール部分更新の入力。
// nilフィールドは変更しない。
type ProfileUpdate struct {
	FullName    *string
	CompanyName *string
	Phone       *string
	Status      *string
}

// ListFilter はユーザー一覧取得の検索・ソート・ページネーション条件。
type ListFilter struct {
	Search string // full_nameまたはemailの部分一致
	Status string // 空または"all"の場合はフィルタしない
	SortBy string // ソート列。許可リスト外はcreated_atにフォールバック
	Order  string // "asc"または"desc"（デフォルト）
	Limit  int
	Offset int
}

// ProfileStore はプロフィール行の永続化インターフェース。
type ProfileStore interface {
	// Insert はプロフィール行を作成する。
	// 重複メールアドレスの場合はEMAIL_TAKENのAPIErrorを返す。
	Insert(ctx context.Context, user *model.User) error

	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail は指定メールアドレスのプロフィールを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Update はプロフィールを部分更新し、updated_atを現在時刻に更新する。
	// 更新後の行を返す。見つからない場合はnilを返す。
	Update(ctx context.Context, id string, upd ProfileUpdate) (*model.User, error)

	// Delete は指定IDのプロフィールを削除する。
	Delete(ctx context.Context, id string) error

	// List は条件に一致するプロフィール一覧と総件数を返す。
	List(ctx context.Context, filter ListFilter) ([]*model.User, int, error)

	// BulkUpdateStatus は複数ユーザーのステータスを一括更新し、更新件数を返す。
	BulkUpdateStatus(ctx context.Context, ids []string, status string) (int, error)
}

// SessionStore はセッションデータの永続化インターフェース。
type SessionStore interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}
