/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package web

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"
)

const csrfCookieName = "heimdall_csrf"

// ensureCSRFCookie returns the request's CSRF token, minting and
// setting a new cookie when none exists yet. Pages embed the returned
// token; the middleware compares it against the cookie on mutation.
func ensureCSRFCookie(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(csrfCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	token := base64.RawURLEncoding.EncodeToString(buf)

	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   86400,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   isSecureCookieEnv(),
	})
	return token
}

// CSRFMiddleware enforces the double-submit token on mutating dashboard
// requests. The submitted token (X-CSRF-Token header or csrf_token form
// field) must match the cookie minted by ensureCSRFCookie.
func (h *Handler) CSRFMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		// A present Origin must point back at us.
		if origin := r.Header.Get("Origin"); origin != "" {
			u, err := url.Parse(origin)
			if err != nil || !strings.EqualFold(u.Host, r.Host) {
				http.Error(w, "Invalid origin", http.StatusForbidden)
				return
			}
		}

		cookie, err := r.Cookie(csrfCookieName)
		if err != nil || cookie.Value == "" {
			http.Error(w, "Missing CSRF token", http.StatusForbidden)
			return
		}

		submitted := r.Header.Get("X-CSRF-Token")
		if submitted == "" && strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
			// Multipart bodies are left untouched; uploads send the header.
			submitted = r.PostFormValue("csrf_token")
		}
		if submitted == "" {
			http.Error(w, "Missing CSRF token", http.StatusForbidden)
			return
		}

		if subtle.ConstantTimeCompare([]byte(submitted), []byte(cookie.Value)) != 1 {
			http.Error(w, "CSRF token mismatch", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
