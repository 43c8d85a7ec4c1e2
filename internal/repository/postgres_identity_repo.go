package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/opsdeck/internal/model"
)

// pqUniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const pqUniqueViolation = "23505"

// PostgresIdentityRepo はPostgreSQLを使用したIdentityProvider実装。
// ホスト型IDプロバイダの代わりに、identitiesテーブルでローカルに認証情報を管理する。
type PostgresIdentityRepo struct {
	db     *sql.DB
	hasher PasswordHasher
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB, hasher PasswordHasher) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db, hasher: hasher}
}

// CreateIdentity は新しいIdentityを作成する。
// パスワードはbcryptハッシュとして保存し、メールアドレスは確認済みとする。
func (r *PostgresIdentityRepo) CreateIdentity(ctx context.Context, email, password string) (*model.Identity, error) {
	hash, err := r.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	identity := &model.Identity{
		ID:             uuid.New().String(),
		Email:          email,
		PasswordHash:   hash,
		EmailConfirmed: true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO identities (id, email, password_hash, email_confirmed, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		identity.ID, identity.Email, identity.PasswordHash, identity.EmailConfirmed,
		identity.CreatedAt, identity.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, model.NewEmailTakenError()
		}
		return nil, fmt.Errorf("failed to insert identity: %w", err)
	}

	return identity, nil
}

// VerifyCredentials はメールアドレスとパスワードを検証する。
// 未登録メールアドレスとパスワード不一致で同一のエラーを返す。
func (r *PostgresIdentityRepo) VerifyCredentials(ctx context.Context, email, password string) (*model.Identity, error) {
	identity := &model.Identity{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, email_confirmed, created_at, updated_at
		 FROM identities WHERE email = $1`,
		email,
	).Scan(&identity.ID, &identity.Email, &identity.PasswordHash, &identity.EmailConfirmed,
		&identity.CreatedAt, &identity.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, model.NewInvalidCredentialsError()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	if !r.hasher.Verify(password, identity.PasswordHash) {
		return nil, model.NewInvalidCredentialsError()
	}

	return identity, nil
}

// UpdatePassword は指定Identityのパスワードを更新する。
func (r *PostgresIdentityRepo) UpdatePassword(ctx context.Context, id, password string) error {
	hash, err := r.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE identities SET password_hash = $1, updated_at = now() WHERE id = $2`,
		hash, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.NewUserNotFoundError()
	}
	return nil
}

// DeleteIdentity は指定IDのIdentityを削除する。
// 冪等: 対象が存在しない場合もエラーにしない。
func (r *PostgresIdentityRepo) DeleteIdentity(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM identities WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete identity: %w", err)
	}
	return nil
}

// isUniqueViolation はPostgreSQLの一意制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation
}

// compile-time interface check
var _ IdentityProvider = (*PostgresIdentityRepo)(nil)
