package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/tripcms/internal/apperror"
	"github.com/sakif/tripcms/internal/auth"
	"github.com/sakif/tripcms/internal/model"
	"github.com/sakif/tripcms/internal/repository"
	"github.com/sakif/tripcms/internal/service"
)

// UserHandler exposes account management. Routes are mounted behind
// auth.RequireAuth and auth.RequirePermission; the service checks the
// actor's role again before every change.
type UserHandler struct {
	users *service.UserService
}

func NewUserHandler(users *service.UserService) *UserHandler {
	return &UserHandler{users: users}
}

type createUserRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
	Email    string `json:"email"    validate:"omitempty,email"`
	Role     string `json:"role"     validate:"required"`
	IsActive *bool  `json:"isActive"`
}

type updateUserRequest struct {
	Username *string `json:"username"`
	Password *string `json:"password"`
	Email    *string `json:"email"`
	Role     *string `json:"role"`
	IsActive *bool   `json:"isActive"`
}

// UserListResponse wraps the user list.
type UserListResponse struct {
	Users []model.User `json:"users"`
}

// HandleCreate creates an account.
//
// HTTP: POST /api/auth/users → 201 with the new profile
func (h *UserHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validateRequest(req); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.users.Create(r.Context(), actor(r), service.CreateUserInput{
		Username: req.Username,
		Password: req.Password,
		Email:    req.Email,
		Role:     model.Role(req.Role),
		IsActive: req.IsActive,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// HandleList lists accounts.
//
// HTTP: GET /api/auth/users?limit=50&offset=0
func (h *UserHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, r, err)
		return
	}

	users, err := h.users.List(r.Context(), actor(r), repository.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UserListResponse{Users: users})
}

// HandleUpdate applies a partial update.
//
// HTTP: PUT /api/auth/users/{id}
func (h *UserHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	in := service.UpdateUserInput{
		Username: req.Username,
		Password: req.Password,
		Email:    req.Email,
		IsActive: req.IsActive,
	}
	if req.Role != nil {
		role := model.Role(*req.Role)
		in.Role = &role
	}

	user, err := h.users.Update(r.Context(), actor(r), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleDelete removes an account.
//
// HTTP: DELETE /api/auth/users/{id} → 204
func (h *UserHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.users.Delete(r.Context(), actor(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// actor returns the caller set by auth.RequireAuth. Without one the zero
// Identity is returned, which the policy table denies everything.
func actor(r *http.Request) auth.Identity {
	id, _ := auth.IdentityFromContext(r.Context())
	return id
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperror.ValidationFailed(key, key+" must be a non-negative integer")
	}
	return n, nil
}
