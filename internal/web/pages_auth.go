/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package web

import (
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/friendsincode/heimdall_signage/internal/auth"
	"github.com/friendsincode/heimdall_signage/internal/models"
)

// Home sends visitors to the dashboard or the login page.
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	if h.GetUser(r) != nil {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// LoginPage renders the login form
func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	// Redirect if already logged in
	if h.GetUser(r) != nil {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}

	h.Render(w, r, "pages/auth/login", PageData{
		Title: "Login",
		Data: map[string]any{
			"Redirect": sanitizeRedirectTarget(r.URL.Query().Get("redirect")),
		},
	})
}

// LoginSubmit handles the login form submission
func (h *Handler) LoginSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderLoginError(w, r, "Invalid form data")
		return
	}

	email := r.FormValue("email")
	password := r.FormValue("password")
	redirect := sanitizeRedirectTarget(r.FormValue("redirect"))

	if email == "" || password == "" {
		h.renderLoginError(w, r, "Email and password are required")
		return
	}

	// Find user
	var user models.User
	if err := h.db.First(&user, "email = ?", email).Error; err != nil {
		h.renderLoginError(w, r, "Invalid email or password")
		return
	}

	// Verify password
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		h.renderLoginError(w, r, "Invalid email or password")
		return
	}

	// Issue the same claim shape the API uses, so the session cookie
	// also works as a Bearer token against /api/v1.
	tokenStr, err := auth.Issue(h.jwtSecret, auth.Claims{
		UserID: user.ID,
		Roles:  []string{string(user.Role)},
	}, 24*time.Hour)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to sign JWT")
		h.renderLoginError(w, r, "Authentication failed")
		return
	}

	// Set cookie (24 hours)
	h.SetAuthToken(w, tokenStr, 86400)

	// Handle HTMX request
	if r.Header.Get("HX-Request") == "true" {
		if redirect != "" {
			w.Header().Set("HX-Redirect", redirect)
		} else {
			w.Header().Set("HX-Redirect", "/dashboard")
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	// Standard redirect
	if redirect != "" {
		http.Redirect(w, r, redirect, http.StatusSeeOther)
	} else {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
	}
}

func (h *Handler) renderLoginError(w http.ResponseWriter, r *http.Request, message string) {
	if r.Header.Get("HX-Request") == "true" {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`<div class="alert alert-danger" role="alert">` + message + `</div>`))
		return
	}

	h.Render(w, r, "pages/auth/login", PageData{
		Title: "Login",
		Flash: &FlashMessage{Type: "error", Message: message},
		Data: map[string]any{
			"Email":    r.FormValue("email"),
			"Redirect": sanitizeRedirectTarget(r.FormValue("redirect")),
		},
	})
}

// Logout clears the auth cookie and redirects to login
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.ClearAuthToken(w)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
