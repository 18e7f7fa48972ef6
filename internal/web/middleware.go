/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package web

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/friendsincode/heimdall_signage/internal/auth"
	"github.com/friendsincode/heimdall_signage/internal/models"
)

const authCookieName = "heimdall_token"

// isSecureCookieEnv reports whether session cookies should carry the
// Secure attribute. An explicit HEIMDALL_COOKIE_SECURE (or legacy
// FIS_COOKIE_SECURE) wins; otherwise production environments default
// to secure.
func isSecureCookieEnv() bool {
	for _, key := range []string{"HEIMDALL_COOKIE_SECURE", "FIS_COOKIE_SECURE"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return strings.EqualFold(v, "true") || v == "1"
		}
	}
	for _, key := range []string{"HEIMDALL_ENV", "FIS_ENV"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return strings.EqualFold(v, "production")
		}
	}
	return false
}

// sanitizeRedirectTarget keeps post-login redirects on this origin.
// Anything that is not a local absolute path, or that would bounce
// straight back to the login page, is dropped.
func sanitizeRedirectTarget(target string) string {
	if target == "" {
		return ""
	}
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") {
		return ""
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return ""
	}
	if u.Path == "/login" {
		return ""
	}
	return target
}

// AuthMiddleware checks for a valid session and injects the user into
// the request context. Web routes authenticate with the session
// cookie; API-style callers can present a Bearer token instead.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var tokenStr string

		// Check cookie first (web sessions)
		if cookie, err := r.Cookie(authCookieName); err == nil {
			tokenStr = cookie.Value
		}

		// Fall back to Authorization header
		if tokenStr == "" {
			header := r.Header.Get("Authorization")
			if strings.HasPrefix(header, "Bearer ") {
				tokenStr = strings.TrimPrefix(header, "Bearer ")
			}
		}

		if tokenStr == "" {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := auth.Parse(h.jwtSecret, tokenStr)
		if err != nil {
			// Clear invalid cookie
			h.ClearAuthToken(w)
			next.ServeHTTP(w, r)
			return
		}

		if claims.UserID == "" || claims.ScreenID != "" {
			// Device tokens never open a dashboard session.
			next.ServeHTTP(w, r)
			return
		}

		// Load user from database
		var user models.User
		if err := h.db.First(&user, "id = ?", claims.UserID).Error; err != nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyUser, &user)
		ctx = context.WithValue(ctx, ctxKeyToken, tokenStr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuth redirects to login if not authenticated.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := h.GetUser(r)
		if user == nil {
			// For HTMX requests, return 401 with redirect header
			if r.Header.Get("HX-Request") == "true" {
				w.Header().Set("HX-Redirect", "/login")
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			http.Redirect(w, r, "/login?redirect="+url.QueryEscape(r.URL.Path), http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole checks that the user has at least the specified role.
func (h *Handler) RequireRole(minRole models.RoleName) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := h.GetUser(r)
			if user == nil {
				if r.Header.Get("HX-Request") == "true" {
					w.Header().Set("HX-Redirect", "/login")
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				http.Redirect(w, r, "/login", http.StatusSeeOther)
				return
			}

			if !roleAtLeast(user, string(minRole)) {
				if r.Header.Get("HX-Request") == "true" {
					w.WriteHeader(http.StatusForbidden)
					w.Write([]byte("Access denied"))
					return
				}
				http.Error(w, "Access denied", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetUser returns the authenticated user from context.
func (h *Handler) GetUser(r *http.Request) *models.User {
	if user, ok := r.Context().Value(ctxKeyUser).(*models.User); ok {
		return user
	}
	return nil
}

// GetAuthToken returns the raw JWT token string from context.
func (h *Handler) GetAuthToken(r *http.Request) string {
	if token, ok := r.Context().Value(ctxKeyToken).(string); ok {
		return token
	}
	return ""
}

// SetAuthToken sets the authentication cookie.
func (h *Handler) SetAuthToken(w http.ResponseWriter, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   isSecureCookieEnv(),
	})
}

// ClearAuthToken removes the authentication cookie.
func (h *Handler) ClearAuthToken(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   isSecureCookieEnv(),
	})
}

// GenerateWSToken creates a short-lived token for WebSocket connections.
// This token is safe to expose in JavaScript as it has a short TTL.
func (h *Handler) GenerateWSToken(user *models.User) string {
	if user == nil {
		return ""
	}

	tokenStr, err := auth.Issue(h.jwtSecret, auth.Claims{
		UserID: user.ID,
		Roles:  []string{string(user.Role)},
	}, 5*time.Minute)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to sign WS token")
		return ""
	}
	return tokenStr
}

// GenerateScreenToken creates a device token bound to one screen. The
// player shell embeds it and uses it for the player channel and the
// device callbacks; the screen claim stops it from reaching any other
// screen's session.
func (h *Handler) GenerateScreenToken(screenID string) string {
	tokenStr, err := auth.Issue(h.jwtSecret, auth.Claims{
		UserID:   "screen:" + screenID,
		Roles:    []string{string(models.RolePlayer)},
		ScreenID: screenID,
	}, 24*time.Hour)
	if err != nil {
		h.logger.Error().Err(err).Str("screen_id", screenID).Msg("failed to sign screen token")
		return ""
	}
	return tokenStr
}
