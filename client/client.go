// Package client はopsdeck APIのGoクライアントを提供する。
// 認証状態（トークンペアとユーザー情報）をStateStoreに永続化し、
// 管理画面やCLIから同じ認証フローを利用できるようにする。
//
// すべての操作はエラーをthrowせず、Resultに失敗理由を格納して返す。
// 呼び出し側はResult.Successで分岐し、失敗時もクライアントの状態は
// 一貫性を保つ。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// User はAPIが返すユーザー情報。
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	FullName    string `json:"full_name"`
	CompanyName string `json:"company_name"`
	Phone       string `json:"phone"`
	Role        string `json:"role"`
	Status      string `json:"status"`
}

// FieldError はフィールド単位のバリデーションエラー。
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Result は各操作の結果。失敗はエラーではなくResultで表現する。
type Result struct {
	Success bool
	Message string
	Errors  []FieldError
	User    *User
}

// sessionPayload はAPIのセッションレスポンス。
type sessionPayload struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// envelope はAPIの統一レスポンスフォーマット。
type envelope struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Errors  []FieldError `json:"errors"`
	Data    struct {
		User    *User           `json:"user"`
		Session *sessionPayload `json:"session"`
		Updated int             `json:"updated"`
	} `json:"data"`
}

// Client はopsdeck APIクライアント。
type Client struct {
	baseURL string
	http    *http.Client
	store   StateStore
}

// Option はClientの設定オプション。
type Option func(*Client)

// WithHTTPClient はHTTPクライアントを差し替える。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// New はClientを生成する。storeがnilの場合はメモリストアを使用する。
func New(baseURL string, store StateStore, opts ...Option) *Client {
	if store == nil {
		store = NewMemoryStateStore()
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		store:   store,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterInput はユーザー登録の入力。
type RegisterInput struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FullName    string `json:"full_name"`
	CompanyName string `json:"company_name"`
}

// Register はユーザー登録を行う。登録に成功してもログイン状態にはならない。
func (c *Client) Register(ctx context.Context, in RegisterInput) *Result {
	env, _, err := c.doJSON(ctx, http.MethodPost, "/api/auth/register", in, "")
	if err != nil {
		return transportFailure(err)
	}
	return &Result{
		Success: env.Success,
		Message: env.Message,
		Errors:  env.Errors,
		User:    env.Data.User,
	}
}

// Login はログインし、成功時にトークンペアとユーザー情報を永続化する。
func (c *Client) Login(ctx context.Context, email, password string) *Result {
	body := map[string]string{"email": email, "password": password}
	env, _, err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", body, "")
	if err != nil {
		return transportFailure(err)
	}
	if !env.Success {
		return &Result{Success: false, Message: env.Message, Errors: env.Errors}
	}

	state := &State{User: env.Data.User}
	if env.Data.Session != nil {
		state.AccessToken = env.Data.Session.AccessToken
		state.RefreshToken = env.Data.Session.RefreshToken
		state.ExpiresAt = env.Data.Session.ExpiresAt
	}
	if err := c.store.Save(state); err != nil {
		return &Result{Success: false, Message: fmt.Sprintf("failed to persist session: %v", err)}
	}

	return &Result{Success: true, Message: env.Message, User: env.Data.User}
}

// Logout はサーバー側のセッションを失効させ、ローカルの認証状態を破棄する。
// サーバーへの通知が失敗してもローカルの状態は必ずクリアする。
func (c *Client) Logout(ctx context.Context) *Result {
	state, _ := c.store.Load()

	var message string
	if state.IsAuthenticated() {
		env, _, err := c.doJSON(ctx, http.MethodPost, "/api/auth/logout", nil, state.AccessToken)
		switch {
		case err != nil:
			message = "Logged out locally (server unreachable)"
		case !env.Success:
			message = "Logged out locally"
		default:
			message = env.Message
		}
	} else {
		message = "Logged out locally"
	}

	// ローカル状態のクリアは無条件
	if err := c.store.Clear(); err != nil {
		return &Result{Success: false, Message: fmt.Sprintf("failed to clear local session: %v", err)}
	}

	return &Result{Success: true, Message: message}
}

// FetchCurrentUser は現在のユーザー情報を取得し、永続化された状態を更新する。
// アクセストークンが失効している場合はリフレッシュを1回試みる。
func (c *Client) FetchCurrentUser(ctx context.Context) *Result {
	state, _ := c.store.Load()
	if !state.IsAuthenticated() {
		return &Result{Success: false, Message: "Not logged in"}
	}

	env, status, err := c.doJSON(ctx, http.MethodGet, "/api/auth/me", nil, state.AccessToken)
	if err != nil {
		return transportFailure(err)
	}

	// 401はリフレッシュを試みてから再実行
	if status == http.StatusUnauthorized && state.RefreshToken != "" {
		if refreshed := c.refresh(ctx, state); refreshed != nil {
			state = refreshed
			env, status, err = c.doJSON(ctx, http.MethodGet, "/api/auth/me", nil, state.AccessToken)
			if err != nil {
				return transportFailure(err)
			}
		}
	}

	if !env.Success {
		return &Result{Success: false, Message: env.Message}
	}

	state.User = env.Data.User
	if err := c.store.Save(state); err != nil {
		return &Result{Success: false, Message: fmt.Sprintf("failed to persist session: %v", err)}
	}
	return &Result{Success: true, User: env.Data.User}
}

// UpdateProfileInput はプロフィール更新の入力。nilフィールドは変更しない。
type UpdateProfileInput struct {
	FullName    *string `json:"full_name,omitempty"`
	CompanyName *string `json:"company_name,omitempty"`
	Phone       *string `json:"phone,omitempty"`
}

// UpdateProfile はプロフィールを更新し、永続化されたユーザー情報も更新する。
func (c *Client) UpdateProfile(ctx context.Context, in UpdateProfileInput) *Result {
	state, _ := c.store.Load()
	if !state.IsAuthenticated() {
		return &Result{Success: false, Message: "Not logged in"}
	}

	env, _, err := c.doJSON(ctx, http.MethodPut, "/api/auth/profile", in, state.AccessToken)
	if err != nil {
		return transportFailure(err)
	}
	if !env.Success {
		return &Result{Success: false, Message: env.Message, Errors: env.Errors}
	}

	state.User = env.Data.User
	if err := c.store.Save(state); err != nil {
		return &Result{Success: false, Message: fmt.Sprintf("failed to persist session: %v", err)}
	}
	return &Result{Success: true, Message: env.Message, User: env.Data.User}
}

// DeleteAccount はアカウントを削除し、ローカルの認証状態を破棄する。
func (c *Client) DeleteAccount(ctx context.Context) *Result {
	state, _ := c.store.Load()
	if !state.IsAuthenticated() {
		return &Result{Success: false, Message: "Not logged in"}
	}

	env, _, err := c.doJSON(ctx, http.MethodDelete, "/api/auth/delete-account", nil, state.AccessToken)
	if err != nil {
		return transportFailure(err)
	}
	if !env.Success {
		return &Result{Success: false, Message: env.Message}
	}

	if err := c.store.Clear(); err != nil {
		return &Result{Success: false, Message: fmt.Sprintf("failed to clear local session: %v", err)}
	}
	return &Result{Success: true, Message: env.Message}
}

// CurrentState は永続化された認証状態を返す。
func (c *Client) CurrentState() *State {
	state, err := c.store.Load()
	if err != nil {
		return &State{}
	}
	return state
}

// refresh はリフレッシュトークンでアクセストークンを再発行し、状態を保存する。
// 失敗した場合はnilを返す。
func (c *Client) refresh(ctx context.Context, state *State) *State {
	body := map[string]string{"refresh_token": state.RefreshToken}
	env, _, err := c.doJSON(ctx, http.MethodPost, "/api/auth/refresh", body, "")
	if err != nil || !env.Success || env.Data.Session == nil {
		return nil
	}

	state.AccessToken = env.Data.Session.AccessToken
	state.RefreshToken = env.Data.Session.RefreshToken
	state.ExpiresAt = env.Data.Session.ExpiresAt
	if err := c.store.Save(state); err != nil {
		return nil
	}
	return state
}

// doJSON はJSONリクエストを送り、統一レスポンスをデコードする。
func (c *Client) doJSON(ctx context.Context, method, path string, body any, accessToken string) (*envelope, int, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("invalid server response: %w", err)
	}
	return &env, resp.StatusCode, nil
}

// transportFailure はネットワーク障害をResultに変換する。
func transportFailure(err error) *Result {
	return &Result{Success: false, Message: fmt.Sprintf("request failed: %v", err)}
}
