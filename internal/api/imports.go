/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/heimdall_signage/internal/auth"
	"github.com/friendsincode/heimdall_signage/internal/migration"
	"github.com/friendsincode/heimdall_signage/internal/models"
)

// CreateImportJobRequest describes a legacy system import to set up.
type CreateImportJobRequest struct {
	SourceType migration.SourceType `json:"source_type"`
	Options    migration.Options    `json:"options"`
}

// AddImportRoutes mounts the legacy import endpoints. Imports rewrite
// the content library, so the whole surface is admin only.
func (a *API) AddImportRoutes(r chi.Router) {
	r.Route("/imports", func(r chi.Router) {
		r.Use(a.requireRoles(models.RoleAdmin))

		r.Post("/", a.handleCreateImportJob)
		r.Get("/", a.handleListImportJobs)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.handleGetImportJob)
			r.Post("/start", a.handleStartImportJob)
			r.Post("/cancel", a.handleCancelImportJob)
			r.Delete("/", a.handleDeleteImportJob)
		})
	})
}

func (a *API) handleCreateImportJob(w http.ResponseWriter, r *http.Request) {
	if a.migration == nil {
		writeError(w, http.StatusServiceUnavailable, "imports_unavailable")
		return
	}

	var req CreateImportJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	// Stamp the creating user so the job's audit trail holds up even
	// when the client omits it.
	if req.Options.ImportingUserID == "" {
		if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
			req.Options.ImportingUserID = claims.UserID
		}
	}

	job, err := a.migration.CreateJob(r.Context(), req.SourceType, req.Options)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":  "validation_failed",
			"detail": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"job": job})
}

func (a *API) handleListImportJobs(w http.ResponseWriter, r *http.Request) {
	if a.migration == nil {
		writeError(w, http.StatusServiceUnavailable, "imports_unavailable")
		return
	}

	jobs, err := a.migration.ListJobs(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("list import jobs failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (a *API) handleGetImportJob(w http.ResponseWriter, r *http.Request) {
	if a.migration == nil {
		writeError(w, http.StatusServiceUnavailable, "imports_unavailable")
		return
	}

	job, err := a.migration.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "job_not_found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (a *API) handleStartImportJob(w http.ResponseWriter, r *http.Request) {
	if a.migration == nil {
		writeError(w, http.StatusServiceUnavailable, "imports_unavailable")
		return
	}

	jobID := chi.URLParam(r, "id")
	if err := a.migration.StartJob(r.Context(), jobID); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":  "start_failed",
			"detail": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "import job started"})
}

func (a *API) handleCancelImportJob(w http.ResponseWriter, r *http.Request) {
	if a.migration == nil {
		writeError(w, http.StatusServiceUnavailable, "imports_unavailable")
		return
	}

	jobID := chi.URLParam(r, "id")
	if err := a.migration.CancelJob(r.Context(), jobID); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":  "cancel_failed",
			"detail": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "import job cancelled"})
}

func (a *API) handleDeleteImportJob(w http.ResponseWriter, r *http.Request) {
	if a.migration == nil {
		writeError(w, http.StatusServiceUnavailable, "imports_unavailable")
		return
	}

	if err := a.migration.DeleteJob(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":  "delete_failed",
			"detail": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "import job deleted"})
}
