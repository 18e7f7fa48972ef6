/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/auth"
	"github.com/friendsincode/heimdall_signage/internal/events"
	"github.com/friendsincode/heimdall_signage/internal/models"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userCreateRequest struct {
	Email    string          `json:"email"`
	Password string          `json:"password"`
	Role     models.RoleName `json:"role"`
}

type userUpdateRequest struct {
	Password *string          `json:"password"`
	Role     *models.RoleName `json:"role"`
}

type deviceTokenRequest struct {
	ScreenID string `json:"screen_id"`
	TTLHours int    `json:"ttl_hours"`
}

type apiKeyCreateRequest struct {
	Name          string `json:"name"`
	ExpiresInDays int    `json:"expires_in_days"`
}

func validRole(role models.RoleName) bool {
	switch role {
	case models.RoleAdmin, models.RoleEditor, models.RoleViewer:
		return true
	}
	return false
}

func userResponse(u models.User) map[string]any {
	return map[string]any{
		"id":         u.ID,
		"email":      u.Email,
		"role":       u.Role,
		"created_at": u.CreatedAt,
	}
}

// AddUserRoutes mounts account and credential management.
func (a *API) AddUserRoutes(r chi.Router) {
	r.Get("/auth/me", a.handleAuthMe)
	r.With(a.requireRoles(models.RoleAdmin, models.RoleEditor)).Post("/auth/device-tokens", a.handleDeviceTokenCreate)

	r.Route("/users", func(r chi.Router) {
		r.Use(a.requireRoles(models.RoleAdmin))
		r.Get("/", a.handleUsersList)
		r.Post("/", a.handleUsersCreate)
		r.Patch("/{userID}", a.handleUsersUpdate)
		r.Delete("/{userID}", a.handleUsersDelete)
	})

	r.Route("/apikeys", func(r chi.Router) {
		r.Get("/", a.handleAPIKeysList)
		r.Post("/", a.handleAPIKeysCreate)
		r.Delete("/{keyID}", a.handleAPIKeysRevoke)
	})
}

// handleLogin exchanges credentials for a JWT. Mounted outside the
// authenticated group.
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "credentials_required")
		return
	}

	var user models.User
	if err := a.db.WithContext(r.Context()).First(&user, "email = ?", req.Email).Error; err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	token, err := auth.Issue(a.jwtSecret, auth.Claims{
		UserID: user.ID,
		Roles:  []string{string(user.Role)},
	}, 24*time.Hour)
	if err != nil {
		a.logger.Error().Err(err).Msg("token signing failed")
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  userResponse(user),
	})
}

func (a *API) handleAuthMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	resp := map[string]any{
		"user_id": claims.UserID,
		"roles":   claims.Roles,
	}
	if claims.ScreenID != "" {
		resp["screen_id"] = claims.ScreenID
	}

	var user models.User
	if err := a.db.WithContext(r.Context()).First(&user, "id = ?", claims.UserID).Error; err == nil {
		resp["email"] = user.Email
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleDeviceTokenCreate issues a long-lived JWT bound to one screen.
// The player shell stores it and can never reach another screen with it.
func (a *API) handleDeviceTokenCreate(w http.ResponseWriter, r *http.Request) {
	var req deviceTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.ScreenID == "" {
		writeError(w, http.StatusBadRequest, "screen_required")
		return
	}

	var screen models.Screen
	result := a.db.WithContext(r.Context()).First(&screen, "id = ?", req.ScreenID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "screen_not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	ttl := 365 * 24 * time.Hour
	if req.TTLHours > 0 {
		ttl = time.Duration(req.TTLHours) * time.Hour
	}

	claims, _ := auth.ClaimsFromContext(r.Context())
	issuer := ""
	if claims != nil {
		issuer = claims.UserID
	}

	token, err := auth.Issue(a.jwtSecret, auth.Claims{
		UserID:   issuer,
		Roles:    []string{string(models.RolePlayer)},
		ScreenID: req.ScreenID,
	}, ttl)
	if err != nil {
		a.logger.Error().Err(err).Msg("device token signing failed")
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"token":      token,
		"screen_id":  req.ScreenID,
		"expires_at": time.Now().Add(ttl).UTC(),
	})
}

func (a *API) handleUsersList(w http.ResponseWriter, r *http.Request) {
	var users []models.User
	if err := a.db.WithContext(r.Context()).Order("email ASC").Find(&users).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	out := make([]map[string]any, 0, len(users))
	for _, u := range users {
		out = append(out, userResponse(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": out})
}

func (a *API) handleUsersCreate(w http.ResponseWriter, r *http.Request) {
	var req userCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "credentials_required")
		return
	}
	if !validRole(req.Role) {
		writeError(w, http.StatusBadRequest, "invalid_role")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "hash_error")
		return
	}

	user := models.User{
		ID:       uuid.NewString(),
		Email:    req.Email,
		Password: string(hashed),
		Role:     req.Role,
	}
	if err := a.db.WithContext(r.Context()).Create(&user).Error; err != nil {
		writeError(w, http.StatusConflict, "email_taken")
		return
	}

	writeJSON(w, http.StatusCreated, userResponse(user))
}

func (a *API) handleUsersUpdate(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var user models.User
	result := a.db.WithContext(r.Context()).First(&user, "id = ?", userID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	var req userUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	updates := make(map[string]any)
	if req.Password != nil {
		if *req.Password == "" {
			writeError(w, http.StatusBadRequest, "password_required")
			return
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "hash_error")
			return
		}
		updates["password"] = string(hashed)
	}
	oldRole := user.Role
	roleChanged := false
	if req.Role != nil {
		if !validRole(*req.Role) {
			writeError(w, http.StatusBadRequest, "invalid_role")
			return
		}
		roleChanged = *req.Role != user.Role
		updates["role"] = *req.Role
	}

	if len(updates) == 0 {
		writeJSON(w, http.StatusOK, userResponse(user))
		return
	}

	if err := a.db.WithContext(r.Context()).Model(&user).Updates(updates).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "update_failed")
		return
	}

	if roleChanged {
		a.logAudit(r, models.AuditActionUserRoleChange, "user", userID, map[string]any{
			"old_role": string(oldRole),
			"new_role": string(*req.Role),
		})
	}

	a.db.WithContext(r.Context()).First(&user, "id = ?", userID)
	writeJSON(w, http.StatusOK, userResponse(user))
}

func (a *API) handleUsersDelete(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	claims, ok := auth.ClaimsFromContext(r.Context())
	if ok && claims.UserID == userID {
		writeError(w, http.StatusBadRequest, "cannot_delete_self")
		return
	}

	var user models.User
	result := a.db.WithContext(r.Context()).First(&user, "id = ?", userID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if err := a.db.WithContext(r.Context()).Delete(&user).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.logAudit(r, models.AuditActionUserDelete, "user", userID, map[string]any{
		"email": user.Email,
	})

	w.WriteHeader(http.StatusNoContent)
}

// logAudit writes an audit row synchronously for actions that have no
// bus event of their own.
func (a *API) logAudit(r *http.Request, action models.AuditAction, resourceType, resourceID string, details map[string]any) {
	if a.auditSvc == nil {
		return
	}
	entry := models.AuditLog{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
		IPAddress:    r.RemoteAddr,
		UserAgent:    r.UserAgent(),
	}
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		uid := claims.UserID
		entry.UserID = &uid
	}
	if err := a.auditSvc.Log(r.Context(), &entry); err != nil {
		a.logger.Warn().Err(err).Str("action", string(action)).Msg("audit write failed")
	}
}

func (a *API) handleAPIKeysList(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	keys, err := auth.ListAPIKeys(a.db, claims.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"api_keys": keys})
}

func (a *API) handleAPIKeysCreate(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req apiKeyCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}

	expiresIn := 90 * 24 * time.Hour
	if req.ExpiresInDays > 0 {
		expiresIn = time.Duration(req.ExpiresInDays) * 24 * time.Hour
	}

	plaintext, key, err := auth.GenerateAPIKey(claims.UserID, req.Name, expiresIn)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "keygen_error")
		return
	}
	if err := a.db.WithContext(r.Context()).Create(key).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.publishAuditEvent(r, events.EventAuditAPIKeyCreate, events.Payload{
		"resource_type": "api_key",
		"resource_id":   key.ID,
		"name":          key.Name,
	})

	// The plaintext key is shown exactly once.
	writeJSON(w, http.StatusCreated, map[string]any{
		"api_key": key,
		"key":     plaintext,
	})
}

func (a *API) handleAPIKeysRevoke(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	keyID := chi.URLParam(r, "keyID")

	if err := auth.RevokeAPIKey(a.db, keyID, claims.UserID); err != nil {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}

	a.publishAuditEvent(r, events.EventAuditAPIKeyRevoke, events.Payload{
		"resource_type": "api_key",
		"resource_id":   keyID,
	})

	w.WriteHeader(http.StatusNoContent)
}
