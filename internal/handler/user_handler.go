package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vvise/authbroker/internal/middleware"
	"github.com/vvise/authbroker/internal/model"
)

// UserServiceInterface はユーザー管理ハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	List(ctx context.Context) ([]*model.User, error)
	Get(ctx context.Context, id string) (*model.User, error)
	Promote(ctx context.Context, id string) (*model.User, error)
	Demote(ctx context.Context, id string) (*model.User, error)
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

// List は全ユーザーの一覧を返す。管理者専用。
// GET /api/users
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.List(r.Context())
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	responses := make([]userResponse, len(users))
	for i, u := range users {
		responses[i] = toUserResponse(u)
	}
	writeJSON(w, http.StatusOK, responses)
}

// Get は指定ユーザーを返す。管理者または本人のみアクセス可能。
// GET /api/users/{id}
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	id := chi.URLParam(r, "id")
	if !principal.IsAdmin() && principal.UserID != id {
		middleware.WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
		return
	}

	user, err := h.service.Get(r.Context(), id)
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// Promote は指定ユーザーに管理者ロールを付与する。管理者専用・冪等。
// POST /api/users/{id}/admin
func (h *UserHandler) Promote(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.Promote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// Demote は指定ユーザーから管理者ロールを剥奪する。管理者専用・冪等。
// DELETE /api/users/{id}/admin
func (h *UserHandler) Demote(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.Demote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}
