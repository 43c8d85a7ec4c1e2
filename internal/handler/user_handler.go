package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/opsdeck/internal/model"
	"github.com/hitoshi/opsdeck/internal/repository"
	"github.com/hitoshi/opsdeck/internal/user"
)

// UserServiceInterface はユーザー管理ハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	List(ctx context.Context, filter repository.ListFilter) (*user.ListResult, error)
	Get(ctx context.Context, id string) (*model.User, error)
	Create(ctx context.Context, in user.CreateInput) (*model.User, error)
	Update(ctx context.Context, id string, in user.UpdateInput) (*model.User, error)
	Delete(ctx context.Context, id string) error
	BulkUpdateStatus(ctx context.Context, in user.BulkStatusInput) (int, error)
}

// UserHandler は管理者向けユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

// List はユーザー一覧を返す。
// GET /api/users?search=&status=&sortBy=&order=&limit=&offset=
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.ListFilter{
		Search: q.Get("search"),
		Status: q.Get("status"),
		SortBy: q.Get("sortBy"),
		Order:  q.Get("order"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := h.service.List(r.Context(), filter)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, "", result)
}

// Get はユーザーを1件取得する。
// GET /api/users/{id}
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	u, err := h.service.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, "", map[string]any{
		"user": u,
	})
}

// Create は管理者権限でユーザーを作成する。
// POST /api/users
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req user.CreateInput
	if err := decodeJSONBody(r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	u, err := h.service.Create(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusCreated, "User created", map[string]any{
		"user": u,
	})
}

// Update はユーザーを更新する。
// PUT /api/users/{id}
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req user.UpdateInput
	if err := decodeJSONBody(r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	u, err := h.service.Update(r.Context(), id, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, "User updated", map[string]any{
		"user": u,
	})
}

// Delete はユーザーを削除する。
// DELETE /api/users/{id}
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.Delete(r.Context(), id); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, "User deleted", nil)
}

// BulkUpdateStatus は複数ユーザーのステータスを一括変更する。
// PATCH /api/users/status/bulk
func (h *UserHandler) BulkUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req user.BulkStatusInput
	if err := decodeJSONBody(r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	updated, err := h.service.BulkUpdateStatus(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, "Status updated", map[string]any{
		"updated": updated,
	})
}
