/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/heimdall_signage/internal/models"
)

// Routes registers all web UI routes on the given router.
func (h *Handler) Routes(r chi.Router) {
	// Static files (no setup check needed)
	r.Handle("/static/*", h.StaticHandler())

	// Favicon - simple SVG screen icon
	r.Get("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.Write([]byte(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 32 32"><rect x="3" y="6" width="26" height="16" rx="2" fill="#6366f1"/><rect x="6" y="9" width="20" height="10" rx="1" fill="white"/><rect x="12" y="24" width="8" height="2" rx="1" fill="#6366f1"/></svg>`))
	})

	// Locally stored assets. Player shells load these from img/video
	// tags, which cannot carry auth headers; keys are unguessable UUIDs.
	r.Get("/media/*", h.MediaFile)

	// Setup route (before RequireSetup middleware)
	r.Get("/setup", h.SetupPage)
	r.Post("/setup", h.SetupSubmit)

	// All other routes require setup to be complete
	r.Group(func(r chi.Router) {
		r.Use(h.RequireSetup)

		// Public routes (with optional auth context)
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.Get("/", h.Home)

			// Auth pages
			r.Get("/login", h.LoginPage)
			r.Post("/login", h.LoginSubmit)
			r.Get("/logout", h.Logout)

			// Player shell. Screens are provisioned by navigating to
			// their URL; the page embeds a screen-bound device token.
			r.Get("/player/{screenID}", h.PlayerShell)
		})

		// Dashboard routes (require authentication)
		r.Route("/dashboard", func(r chi.Router) {
			r.Use(h.AuthMiddleware)
			r.Use(h.RequireAuth)
			r.Use(h.CSRFMiddleware)

			// Dashboard home
			r.Get("/", h.DashboardHome)
			r.Get("/sessions", h.SessionsPartial)

			// Screens
			r.Route("/screens", func(r chi.Router) {
				r.Get("/", h.ScreenList)
				r.With(h.RequireRole(models.RoleEditor)).Post("/", h.ScreenCreate)
				r.Get("/{id}", h.ScreenDetail)
				r.Get("/{id}/status", h.ScreenStatusPartial)
				r.Group(func(r chi.Router) {
					r.Use(h.RequireRole(models.RoleEditor))
					r.Get("/{id}/edit", h.ScreenEdit)
					r.Put("/{id}", h.ScreenUpdate)
					r.Delete("/{id}", h.ScreenDelete)
					r.Post("/{id}/player/{action}", h.ScreenPlayerAction)
				})
			})

			// Layouts
			r.Route("/layouts", func(r chi.Router) {
				r.Get("/", h.LayoutList)
				r.Get("/{id}", h.LayoutDetail)
				r.Group(func(r chi.Router) {
					r.Use(h.RequireRole(models.RoleEditor))
					r.Post("/", h.LayoutCreate)
					r.Put("/{id}", h.LayoutUpdate)
					r.Delete("/{id}", h.LayoutDelete)
					r.Post("/{id}/regions", h.RegionCreate)
					r.Put("/{id}/regions/{regionID}", h.RegionUpdate)
					r.Delete("/{id}/regions/{regionID}", h.RegionDelete)
				})
			})

			// Content library
			r.Route("/content", func(r chi.Router) {
				r.Get("/", h.ContentList)
				r.Get("/table", h.ContentTablePartial)
				r.Get("/{id}", h.ContentDetail)
				r.Group(func(r chi.Router) {
					r.Use(h.RequireRole(models.RoleEditor))
					r.Get("/upload", h.ContentUploadPage)
					r.Post("/upload", h.ContentUpload)
					r.Post("/", h.ContentCreate)
					r.Get("/{id}/edit", h.ContentEdit)
					r.Put("/{id}", h.ContentUpdate)
					r.Delete("/{id}", h.ContentDelete)
				})
			})

			// Playlists
			r.Route("/playlists", func(r chi.Router) {
				r.Get("/", h.PlaylistList)
				r.Get("/{id}", h.PlaylistDetail)
				r.Group(func(r chi.Router) {
					r.Use(h.RequireRole(models.RoleEditor))
					r.Post("/", h.PlaylistCreate)
					r.Put("/{id}", h.PlaylistUpdate)
					r.Delete("/{id}", h.PlaylistDelete)
					r.Post("/{id}/entries", h.PlaylistAddEntry)
					r.Delete("/{id}/entries/{entryID}", h.PlaylistRemoveEntry)
					r.Post("/{id}/entries/reorder", h.PlaylistReorderEntries)
				})
			})

			// Schedule
			r.Route("/schedule", func(r chi.Router) {
				r.Get("/", h.ScheduleCalendar)
				r.Get("/events", h.ScheduleEvents) // JSON for calendar
				r.Get("/screens.json", h.ScheduleScreensJSON)
				r.Get("/playlists.json", h.SchedulePlaylistsJSON)
				r.Group(func(r chi.Router) {
					r.Use(h.RequireRole(models.RoleEditor))
					r.Post("/entries", h.ScheduleCreateEntry)
					r.Put("/entries/{id}", h.ScheduleUpdateEntry)
					r.Delete("/entries/{id}", h.ScheduleDeleteEntry)
				})
			})

			// Analytics
			r.Route("/analytics", func(r chi.Router) {
				r.Get("/", h.AnalyticsOverview)
				r.Get("/content.json", h.AnalyticsContentJSON)
				r.Get("/screens.json", h.AnalyticsScreensJSON)
				r.Get("/timeslots.json", h.AnalyticsTimeSlotsJSON)
				r.Get("/uptime.json", h.AnalyticsUptimeJSON)
			})

			// Legacy system imports (admin only)
			r.Route("/imports", func(r chi.Router) {
				r.Use(h.RequireRole(models.RoleAdmin))
				r.Get("/", h.ImportsPage)
				r.Get("/jobs", h.ImportJobsPartial)
				r.Get("/jobs/{id}", h.ImportJobPartial)
				r.Post("/upload", h.ImportsUpload)
				r.Post("/jobs", h.ImportCreateJob)
				r.Post("/jobs/{id}/cancel", h.ImportCancelJob)
				r.Delete("/jobs/{id}", h.ImportDeleteJob)
				r.Post("/reset", h.ImportResetData)
			})

			// User management (admin only)
			r.Route("/users", func(r chi.Router) {
				r.Use(h.RequireRole(models.RoleAdmin))
				r.Get("/", h.UserList)
				r.Post("/", h.UserCreate)
				r.Get("/{id}/edit", h.UserEdit)
				r.Post("/{id}", h.UserUpdate)
				r.Delete("/{id}", h.UserDelete)
			})

			// Settings (admin only)
			r.Route("/settings", func(r chi.Router) {
				r.Use(h.RequireRole(models.RoleAdmin))
				r.Get("/", h.SettingsPage)
			})
		})
	})
}
