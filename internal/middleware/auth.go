package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/opsdeck/internal/model"
	"github.com/hitoshi/opsdeck/internal/token"
)

var claimsContextKey = contextKey("claims")

// TokenVerifier はアクセストークンの検証に必要なインターフェース。
// token.JWTManagerの部分集合として定義する。
type TokenVerifier interface {
	Verify(tokenStr string) (*token.Claims, error)
}

// NewAuthMiddleware はAuthorizationヘッダーのBearerトークンを検証し、
// クレームをリクエストコンテキストに注入するミドルウェアを返す。
// 未認証リクエストには401 Unauthorizedを返す。
func NewAuthMiddleware(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. AuthorizationヘッダーからBearerトークンを取得
			tokenStr := extractBearerToken(r)
			if tokenStr == "" {
				WriteErrorResponse(w, r, http.StatusUnauthorized, model.NewNoTokenError())
				return
			}

			// 2. トークンを検証
			claims, err := verifier.Verify(tokenStr)
			if err != nil {
				apiErr := model.NewTokenInvalidError()
				if errors.Is(err, token.ErrTokenExpired) {
					apiErr = model.NewTokenExpiredError()
				}
				WriteErrorResponse(w, r, http.StatusUnauthorized, apiErr)
				return
			}

			// 3. アクセストークン以外（リフレッシュトークン等）の流用を拒否
			if claims.TokenType != token.TypeAccess {
				WriteErrorResponse(w, r, http.StatusUnauthorized, model.NewTokenInvalidError())
				return
			}

			// 4. クレームをコンテキストに注入
			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewRequireRoleMiddleware は認証済みユーザーのロールを検査するミドルウェアを返す。
// AuthMiddlewareの後に配置すること。ロール不一致には403 Forbiddenを返す。
func NewRequireRoleMiddleware(role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := ClaimsFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, r, http.StatusUnauthorized, model.NewNoTokenError())
				return
			}
			if claims.Role != role {
				WriteErrorResponse(w, r, http.StatusForbidden, model.NewNotAuthorizedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractBearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
// 形式が不正な場合は空文字を返す。
func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// ClaimsFromContext はリクエストコンテキストからトークンクレームを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func ClaimsFromContext(ctx context.Context) (*token.Claims, error) {
	claims, ok := ctx.Value(claimsContextKey).(*token.Claims)
	if !ok || claims == nil {
		return nil, fmt.Errorf("claims not found in context")
	}
	return claims, nil
}

// UserIDFromContext はリクエストコンテキストから認証済みユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	claims, err := ClaimsFromContext(ctx)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return claims.Subject, nil
}

// ContextWithClaims はコンテキストにクレームを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithClaims(ctx context.Context, claims *token.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}
