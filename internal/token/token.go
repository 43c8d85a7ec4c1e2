// Package token はパスワードハッシュ、JWTの署名・検証、
// エージェントAPIキーの生成・検証を提供する。
// すべてCPUバウンドな計算のみで、副作用やリトライを持たない。
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// トークン検証の失敗種別。呼び出し元はerrors.Isで区別する。
var (
	// ErrTokenInvalid は署名不正・形式不正のトークンを表す。
	ErrTokenInvalid = errors.New("token is invalid")
	// ErrTokenExpired は有効期限切れのトークンを表す。
	ErrTokenExpired = errors.New("token is expired")
)

// トークン種別。アクセストークンとリフレッシュトークンは
// 同じ署名鍵を使うため、claimで種別を区別する。
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Claims はJWTに含めるクレームセット。
// SubjectにユーザーID、SessionIDに失効管理用のセッションIDを持つ。
type Claims struct {
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	SessionID string `json:"sid,omitempty"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// JWTManager はHS256によるJWTの署名・検証を行う。
type JWTManager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewJWTManager はJWTManagerを生成する。
// 鍵が未設定の場合はエラーを返す（署名鍵なしでの起動を許さない）。
func NewJWTManager(secret string, accessTTL, refreshTTL time.Duration) (*JWTManager, error) {
	if secret == "" {
		return nil, fmt.Errorf("JWT secret is required")
	}
	return &JWTManager{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}, nil
}

// AccessTTL はアクセストークンの有効期間を返す。
func (m *JWTManager) AccessTTL() time.Duration {
	return m.accessTTL
}

// SignAccess はアクセストークンを署名して返す。
func (m *JWTManager) SignAccess(userID, email, role, sessionID string) (string, error) {
	return m.sign(&Claims{
		Email:     email,
		Role:      role,
		SessionID: sessionID,
		TokenType: TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.accessTTL)),
		},
	})
}

// SignRefresh はリフレッシュトークンを署名して返す。
// セッションIDに紐付くため、セッション削除で失効する。
func (m *JWTManager) SignRefresh(userID, sessionID string) (string, error) {
	return m.sign(&Claims{
		SessionID: sessionID,
		TokenType: TypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.refreshTTL)),
		},
	})
}

// sign はクレームをHS256で署名する。
func (m *JWTManager) sign(claims *Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify はトークンを検証してクレームを返す。
// 失敗はErrTokenExpired（期限切れ）またはErrTokenInvalid（それ以外）に正規化する。
func (m *JWTManager) Verify(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	t, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !t.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// Hasher はbcryptによるパスワードハッシュを提供する。
type Hasher struct {
	cost int
}

// NewHasher はHasherを生成する。
// costが範囲外の場合はbcrypt.DefaultCostを使用する。
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

// Hash はパスワードをソルト付き一方向ハッシュに変換する。
func (h *Hasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Verify はパスワードとハッシュを比較する。
// 比較はbcryptライブラリのルーチンに委譲する（手動の文字列比較は行わない）。
func (h *Hasher) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// GenerateAPIKey はエージェント用APIキーを生成する。
// prefix + 32バイトのランダム値（hex）の形式。
func GenerateAPIKey(prefix string) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	return prefix + hex.EncodeToString(b), nil
}

// HashAPIKey はAPIキーの保存用ハッシュ（SHA-256 hex）を返す。
// APIキーは高エントロピーのためbcryptではなく高速なSHA-256を使用する。
func HashAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

// VerifyAPIKey はAPIキーと保存済みハッシュを定数時間で比較する。
func VerifyAPIKey(apiKey, hash string) bool {
	keyHash := HashAPIKey(apiKey)
	return subtle.ConstantTimeCompare([]byte(keyHash), []byte(hash)) == 1
}
