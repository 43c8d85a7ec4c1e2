// Package model はドメインモデルを定義する。
package model

import "time"

// ユーザーのロール。認可ミドルウェアのallow-listで使用する。
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// ユーザーのステータス。
const (
	StatusActive    = "active"
	StatusInactive  = "inactive"
	StatusSuspended = "suspended"
)

// User はリレーショナルストア側のプロフィール行を表す。
// IDはIdentityのIDと常に一致する（プロフィールはIdentityのミラー）。
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	FullName    string    `json:"full_name"`
	CompanyName string    `json:"company_name"`
	Phone       string    `json:"phone"`
	Role        string    `json:"role"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Identity はIDプロバイダ側の認証情報を表す。
// パスワードはbcryptハッシュのみを保持し、平文は永続化しない。
type Identity struct {
	ID             string
	Email          string
	PasswordHash   string
	EmailConfirmed bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Session はリフレッシュトークンの失効管理単位を表す。
// アクセストークンはステートレスであり、サーバー側には保持しない。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
