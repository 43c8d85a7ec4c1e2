package client

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// State はクライアント側に永続化する認証状態。
type State struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	User         *User     `json:"user,omitempty"`
}

// IsAuthenticated はアクセストークンを保持しているかを返す。
func (s *State) IsAuthenticated() bool {
	return s != nil && s.AccessToken != ""
}

// StateStore は認証状態の永続化インターフェース。
type StateStore interface {
	Load() (*State, error)
	Save(state *State) error
	Clear() error
}

// FileStateStore はJSONファイルに認証状態を保存するStateStore実装。
type FileStateStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStateStore はFileStateStoreを生成する。
func NewFileStateStore(path string) *FileStateStore {
	return &FileStateStore{path: path}
}

// Load はファイルから認証状態を読み込む。
// ファイルが存在しない場合は空のStateを返す。
func (f *FileStateStore) Load() (*State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{}, nil
		}
		return nil, err
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		// 壊れた状態ファイルは未認証として扱う
		return &State{}, nil
	}
	return &state, nil
}

// Save は認証状態をファイルに書き込む。
// トークンを含むため0600で保存する。
func (f *FileStateStore) Save(state *State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(f.path, data, 0o600)
}

// Clear は認証状態ファイルを削除する。存在しない場合もエラーにしない。
func (f *FileStateStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// MemoryStateStore はメモリ上に認証状態を保持するStateStore実装。
// テストや短命プロセスで使用する。
type MemoryStateStore struct {
	mu    sync.Mutex
	state *State
}

// NewMemoryStateStore はMemoryStateStoreを生成する。
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{state: &State{}}
}

// Load は保持している認証状態のコピーを返す。
func (m *MemoryStateStore) Load() (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *m.state
	return &copied, nil
}

// Save は認証状態を保持する。
func (m *MemoryStateStore) Save(state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *state
	m.state = &copied
	return nil
}

// Clear は認証状態を破棄する。
func (m *MemoryStateStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = &State{}
	return nil
}
