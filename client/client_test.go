package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
)

// newTestServer はログイン・me・ログアウトを提供する最小のAPIサーバーを返す。
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)

		w.Header().Set("Content-Type", "application/json")
		if body["password"] != "secret123" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{
				"success": false,
				"message": "Invalid credentials",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"message": "Login successful",
			"data": map[string]any{
				"user": map[string]any{"id": "id-1", "email": body["email"], "role": "user"},
				"session": map[string]any{
					"access_token":  "access-1",
					"refresh_token": "refresh-1",
				},
			},
		})
	})

	mux.HandleFunc("GET /api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		auth := r.Header.Get("Authorization")
		if auth != "Bearer access-1" && auth != "Bearer access-2" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{
				"success": false,
				"message": "Token expired",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"user": map[string]any{"id": "id-1", "email": "user@example.com", "full_name": "Taro"},
			},
		})
	})

	mux.HandleFunc("POST /api/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)

		w.Header().Set("Content-Type", "application/json")
		if body["refresh_token"] != "refresh-1" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "Invalid token"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"session": map[string]any{
					"access_token":  "access-2",
					"refresh_token": "refresh-1",
				},
			},
		})
	})

	mux.HandleFunc("POST /api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"message": "Logout successful",
		})
	})

	return httptest.NewServer(mux)
}

func TestLoginPersistsState(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	store := NewMemoryStateStore()
	c := New(server.URL, store)

	result := c.Login(context.Background(), "user@example.com", "secret123")
	if !result.Success {
		t.Fatalf("expected login success, got %+v", result)
	}
	if result.User == nil || result.User.ID != "id-1" {
		t.Errorf("expected user in result, got %+v", result.User)
	}

	state, _ := store.Load()
	if state.AccessToken != "access-1" || state.RefreshToken != "refresh-1" {
		t.Errorf("expected tokens persisted, got %+v", state)
	}
}

func TestLoginFailureDoesNotThrow(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	c := New(server.URL, NewMemoryStateStore())

	result := c.Login(context.Background(), "user@example.com", "wrong")
	if result.Success {
		t.Fatal("expected login failure")
	}
	if result.Message != "Invalid credentials" {
		t.Errorf("expected server message, got %q", result.Message)
	}
	if c.CurrentState().IsAuthenticated() {
		t.Error("expected no state persisted on failure")
	}
}

func TestFetchCurrentUserRefreshesExpiredToken(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	store := NewMemoryStateStore()
	store.Save(&State{AccessToken: "expired", RefreshToken: "refresh-1"})
	c := New(server.URL, store)

	result := c.FetchCurrentUser(context.Background())
	if !result.Success {
		t.Fatalf("expected success after refresh, got %+v", result)
	}
	if result.User == nil || result.User.FullName != "Taro" {
		t.Errorf("expected user data, got %+v", result.User)
	}

	state, _ := store.Load()
	if state.AccessToken != "access-2" {
		t.Errorf("expected refreshed access token, got %q", state.AccessToken)
	}
}

func TestLogoutClearsStateUnconditionally(t *testing.T) {
	t.Run("サーバー到達可能", func(t *testing.T) {
		server := newTestServer(t)
		defer server.Close()

		store := NewMemoryStateStore()
		store.Save(&State{AccessToken: "access-1", RefreshToken: "refresh-1"})
		c := New(server.URL, store)

		result := c.Logout(context.Background())
		if !result.Success {
			t.Fatalf("expected logout success, got %+v", result)
		}
		if c.CurrentState().IsAuthenticated() {
			t.Error("expected state cleared")
		}
	})

	t.Run("サーバー到達不能でもローカル状態はクリアされる", func(t *testing.T) {
		store := NewMemoryStateStore()
		store.Save(&State{AccessToken: "access-1"})
		c := New("http://127.0.0.1:1", store) // 接続拒否されるアドレス

		result := c.Logout(context.Background())
		if !result.Success {
			t.Fatalf("expected local logout success, got %+v", result)
		}
		if !strings.Contains(result.Message, "locally") {
			t.Errorf("expected local logout message, got %q", result.Message)
		}
		if c.CurrentState().IsAuthenticated() {
			t.Error("expected state cleared even when server unreachable")
		}
	})
}

func TestUnauthenticatedOperations(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	c := New(server.URL, NewMemoryStateStore())

	if result := c.FetchCurrentUser(context.Background()); result.Success {
		t.Error("expected FetchCurrentUser to fail when not logged in")
	}
	if result := c.DeleteAccount(context.Background()); result.Success {
		t.Error("expected DeleteAccount to fail when not logged in")
	}
}

func TestFileStateStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewFileStateStore(path)

	t.Run("未作成のファイルは空のState", func(t *testing.T) {
		state, err := store.Load()
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if state.IsAuthenticated() {
			t.Error("expected unauthenticated state")
		}
	})

	t.Run("保存と読み込み", func(t *testing.T) {
		saved := &State{AccessToken: "at", RefreshToken: "rt", User: &User{ID: "id-1"}}
		if err := store.Save(saved); err != nil {
			t.Fatalf("save failed: %v", err)
		}

		loaded, err := store.Load()
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if loaded.AccessToken != "at" || loaded.User == nil || loaded.User.ID != "id-1" {
			t.Errorf("unexpected loaded state: %+v", loaded)
		}
	})

	t.Run("クリアは冪等", func(t *testing.T) {
		if err := store.Clear(); err != nil {
			t.Fatalf("clear failed: %v", err)
		}
		if err := store.Clear(); err != nil {
			t.Fatalf("second clear failed: %v", err)
		}
		state, _ := store.Load()
		if state.IsAuthenticated() {
			t.Error("expected cleared state")
		}
	})
}
