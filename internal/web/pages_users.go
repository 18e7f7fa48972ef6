/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/friendsincode/heimdall_signage/internal/models"
)

// Roles assignable to dashboard accounts. The player role is carried
// by screen device tokens only.
var assignableRoles = []models.RoleName{models.RoleAdmin, models.RoleEditor, models.RoleViewer}

func validAccountRole(role models.RoleName) bool {
	for _, r := range assignableRoles {
		if r == role {
			return true
		}
	}
	return false
}

// UserList renders the users management page
func (h *Handler) UserList(w http.ResponseWriter, r *http.Request) {
	var users []models.User
	h.db.Order("email ASC").Find(&users)

	h.Render(w, r, "pages/dashboard/users/list", PageData{
		Title: "Users",
		Data: map[string]any{
			"Users":          users,
			"AvailableRoles": assignableRoles,
		},
	})
}

// UserCreate handles new user creation
func (h *Handler) UserCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	email := r.FormValue("email")
	password := r.FormValue("password")
	role := models.RoleName(r.FormValue("role"))

	if email == "" || password == "" {
		http.Error(w, "Email and password required", http.StatusBadRequest)
		return
	}
	if len(password) < 8 {
		http.Error(w, "Password must be at least 8 characters", http.StatusBadRequest)
		return
	}
	if !validAccountRole(role) {
		http.Error(w, "Invalid role", http.StatusBadRequest)
		return
	}

	// Check if email already exists
	var existing models.User
	if err := h.db.First(&existing, "email = ?", email).Error; err == nil {
		http.Error(w, "Email already in use", http.StatusBadRequest)
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "Failed to hash password", http.StatusInternalServerError)
		return
	}

	user := models.User{
		ID:       uuid.New().String(),
		Email:    email,
		Password: string(hashedPassword),
		Role:     role,
	}

	if err := h.db.Create(&user).Error; err != nil {
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	h.logger.Info().Str("user_id", user.ID).Str("role", string(role)).Msg("user created")

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/dashboard/users")
		return
	}

	http.Redirect(w, r, "/dashboard/users", http.StatusSeeOther)
}

// UserEdit renders the user edit form
func (h *Handler) UserEdit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var user models.User
	if err := h.db.First(&user, "id = ?", id).Error; err != nil {
		http.NotFound(w, r)
		return
	}

	h.Render(w, r, "pages/dashboard/users/edit", PageData{
		Title: "Edit: " + user.Email,
		Data: map[string]any{
			"User":           user,
			"AvailableRoles": assignableRoles,
		},
	})
}

// adminCountExcluding counts admin accounts other than the given one.
func (h *Handler) adminCountExcluding(userID string) int64 {
	var count int64
	h.db.Model(&models.User{}).
		Where("role = ? AND id != ?", models.RoleAdmin, userID).
		Count(&count)
	return count
}

// UserUpdate handles user updates
func (h *Handler) UserUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var user models.User
	if err := h.db.First(&user, "id = ?", id).Error; err != nil {
		http.NotFound(w, r)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	if email := r.FormValue("email"); email != "" {
		user.Email = email
	}

	if newRole := models.RoleName(r.FormValue("role")); newRole != "" && newRole != user.Role {
		if !validAccountRole(newRole) {
			http.Error(w, "Invalid role", http.StatusBadRequest)
			return
		}
		// Demoting the last admin would lock everyone out
		if user.Role == models.RoleAdmin && h.adminCountExcluding(user.ID) == 0 {
			http.Error(w, "Cannot demote the last admin", http.StatusBadRequest)
			return
		}
		user.Role = newRole
	}

	if newPassword := r.FormValue("password"); newPassword != "" {
		if len(newPassword) < 8 {
			http.Error(w, "Password must be at least 8 characters", http.StatusBadRequest)
			return
		}
		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
		if err != nil {
			http.Error(w, "Failed to hash password", http.StatusInternalServerError)
			return
		}
		user.Password = string(hashedPassword)
	}

	if err := h.db.Save(&user).Error; err != nil {
		http.Error(w, "Failed to update user", http.StatusInternalServerError)
		return
	}

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/dashboard/users")
		return
	}

	http.Redirect(w, r, "/dashboard/users", http.StatusSeeOther)
}

// UserDelete handles user deletion
func (h *Handler) UserDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	currentUser := h.GetUser(r)

	var user models.User
	if err := h.db.First(&user, "id = ?", id).Error; err != nil {
		http.NotFound(w, r)
		return
	}

	// Can't delete yourself
	if currentUser != nil && user.ID == currentUser.ID {
		http.Error(w, "Cannot delete your own account", http.StatusBadRequest)
		return
	}

	if user.Role == models.RoleAdmin && h.adminCountExcluding(user.ID) == 0 {
		http.Error(w, "Cannot delete the last admin", http.StatusBadRequest)
		return
	}

	if err := h.db.Delete(&user).Error; err != nil {
		http.Error(w, "Failed to delete user", http.StatusInternalServerError)
		return
	}

	h.logger.Info().Str("user_id", id).Msg("user deleted")

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/dashboard/users")
		return
	}

	http.Redirect(w, r, "/dashboard/users", http.StatusSeeOther)
}
