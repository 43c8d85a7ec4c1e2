package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/hitoshi/opsdeck/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したプロフィールストア実装。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, email, full_name, company_name, phone, role, status, created_at, updated_at`

// scanUser は1行分のユーザーをスキャンする。
func scanUser(row interface{ Scan(dest ...any) error }) (*model.User, error) {
	user := &model.User{}
	err := row.Scan(&user.ID, &user.Email, &user.FullName, &user.CompanyName,
		&user.Phone, &user.Role, &user.Status, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Insert はプロフィール行を作成する。
func (r *PostgresUserRepo) Insert(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, full_name, company_name, phone, role, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		user.ID, user.Email, user.FullName, user.CompanyName, user.Phone,
		user.Role, user.Status, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.NewEmailTakenError()
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail は指定メールアドレスのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		email,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// Update はプロフィールを部分更新する。
// nilフィールドはCOALESCEにより既存値を維持し、updated_atは常に現在時刻へ進める。
func (r *PostgresUserRepo) Update(ctx context.Context, id string, upd ProfileUpdate) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`UPDATE users SET
		    full_name = COALESCE($2, full_name),
		    company_name = COALESCE($3, company_name),
		    phone = COALESCE($4, phone),
		    status = COALESCE($5, status),
		    updated_at = now()
		 WHERE id = $1
		 RETURNING `+userColumns,
		id, upd.FullName, upd.CompanyName, upd.Phone, upd.Status,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return user, nil
}

// Delete は指定IDのプロフィールを削除する。
// sessionsはidentitiesを参照しているため、ここでは削除されない。
func (r *PostgresUserRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
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

// sortColumns はListで許可するソート列。SQLインジェクション対策の許可リスト。
var sortColumns = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"email":      true,
	"full_name":  true,
	"status":     true,
}

// listQuery はListのWHERE句とソート・ページング指定を組み立てた結果。
type listQuery struct {
	where  string
	args   []any
	sortBy string
	order  string
	limit  int
	offset int
}

// buildListQuery はフィルタからlistQueryを組み立てる。
// ソート列は許可リスト外ならcreated_atにフォールバックする。
func buildListQuery(filter ListFilter) listQuery {
	var conds []string
	var args []any

	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(full_name ILIKE $%d OR email ILIKE $%d)", n, n))
	}
	if filter.Status != "" && filter.Status != "all" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}

	q := listQuery{
		args:   args,
		sortBy: filter.SortBy,
		order:  "DESC",
		limit:  filter.Limit,
		offset: filter.Offset,
	}
	if len(conds) > 0 {
		q.where = " WHERE " + strings.Join(conds, " AND ")
	}
	if !sortColumns[q.sortBy] {
		q.sortBy = "created_at"
	}
	if strings.EqualFold(filter.Order, "asc") {
		q.order = "ASC"
	}
	if q.limit <= 0 {
		q.limit = 50
	}
	if q.offset < 0 {
		q.offset = 0
	}
	return q
}

// List は条件に一致するプロフィール一覧と総件数を返す。
// 総件数はページクエリとは別に取得する。ウィンドウ関数だと
// offsetが末尾を越えたとき行が返らず総件数が0になってしまう。
func (r *PostgresUserRepo) List(ctx context.Context, filter ListFilter) ([]*model.User, int, error) {
	q := buildListQuery(filter)

	total := 0
	countQuery := "SELECT COUNT(*) FROM users" + q.where
	if err := r.db.QueryRowContext(ctx, countQuery, q.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	pageArgs := append(q.args, q.limit, q.offset)
	query := fmt.Sprintf(
		`SELECT %s FROM users%s ORDER BY %s %s LIMIT $%d OFFSET $%d`,
		userColumns, q.where, q.sortBy, q.order, len(pageArgs)-1, len(pageArgs),
	)

	rows, err := r.db.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user := &model.User{}
		if err := rows.Scan(&user.ID, &user.Email, &user.FullName, &user.CompanyName,
			&user.Phone, &user.Role, &user.Status, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate user rows: %w", err)
	}

	return users, total, nil
}

// BulkUpdateStatus は複数ユーザーのステータスを一括更新し、更新件数を返す。
func (r *PostgresUserRepo) BulkUpdateStatus(ctx context.Context, ids []string, status string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET status = $1, updated_at = now() WHERE id = ANY($2)`,
		status, pq.Array(ids),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk update status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rowsAffected), nil
}

// compile-time interface check
var _ ProfileStore = (*PostgresUserRepo)(nil)
