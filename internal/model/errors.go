// Package model はドメインモデルを定義する。
package model

import "fmt"

// FieldError はバリデーションエラーの詳細（フィールド単位）を表す。
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// APIError は統一エラーフォーマットを表す。
// ハンドラー層でHTTPステータスコードにマッピングされる。
type APIError struct {
	Code    string       // エラーコード
	Message string       // ユーザー向けメッセージ
	Errors  []FieldError // バリデーションエラーの詳細（省略可）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeEmailTaken         = "EMAIL_TAKEN"
	ErrCodeNoToken            = "NO_TOKEN"
	ErrCodeTokenInvalid       = "TOKEN_INVALID"
	ErrCodeTokenExpired       = "TOKEN_EXPIRED"
	ErrCodeNotAuthorized      = "NOT_AUTHORIZED"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeSessionNotFound    = "SESSION_NOT_FOUND"
	ErrCodeUpstream           = "UPSTREAM_ERROR"
	ErrCodeInternal           = "INTERNAL_ERROR"
	ErrCodeUnavailable        = "SERVICE_UNAVAILABLE"
)

// NewValidationError は入力不備エラーを生成する。
func NewValidationError(fields ...FieldError) *APIError {
	return &APIError{
		Code:    ErrCodeValidation,
		Message: "Validation failed",
		Errors:  fields,
	}
}

// NewInvalidCredentialsError は認証情報不一致エラーを生成する。
// 存在しないメールアドレスとパスワード不一致を区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:    ErrCodeInvalidCredentials,
		Message: "Invalid login credentials",
	}
}

// NewEmailTakenError はメールアドレス重複エラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:    ErrCodeEmailTaken,
		Message: "A user with this email address has already been registered",
	}
}

// NewNoTokenError はトークン未提示エラーを生成する。
func NewNoTokenError() *APIError {
	return &APIError{
		Code:    ErrCodeNoToken,
		Message: "No token provided",
	}
}

// NewTokenInvalidError は署名不正・解析不能トークンのエラーを生成する。
func NewTokenInvalidError() *APIError {
	return &APIError{
		Code:    ErrCodeTokenInvalid,
		Message: "Invalid token",
	}
}

// NewTokenExpiredError は期限切れトークンのエラーを生成する。
// 署名不正（TOKEN_INVALID）とはメッセージを区別する。
func NewTokenExpiredError() *APIError {
	return &APIError{
		Code:    ErrCodeTokenExpired,
		Message: "Token expired",
	}
}

// NewNotAuthorizedError はロール不一致エラーを生成する。
func NewNotAuthorizedError() *APIError {
	return &APIError{
		Code:    ErrCodeNotAuthorized,
		Message: "Not authorized",
	}
}

// NewUserNotFoundError はユーザー未検出エラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:    ErrCodeUserNotFound,
		Message: "User not found",
	}
}

// NewSessionNotFoundError はセッション未検出エラーを生成する。
// ログアウト済みリフレッシュトークンの使用時に返る。
func NewSessionNotFoundError() *APIError {
	return &APIError{
		Code:    ErrCodeSessionNotFound,
		Message: "Session not found or expired",
	}
}

// NewUpstreamError はストア・プロバイダ起因の失敗を表すエラーを生成する。
func NewUpstreamError(message string) *APIError {
	return &APIError{
		Code:    ErrCodeUpstream,
		Message: message,
	}
}
