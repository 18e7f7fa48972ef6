/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package web

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/friendsincode/heimdall_signage/internal/migration"
)

// ImportsPage renders the legacy system import page
func (h *Handler) ImportsPage(w http.ResponseWriter, r *http.Request) {
	var jobs []*migration.Job
	if h.migrationService != nil {
		jobs, _ = h.migrationService.ListJobs(r.Context())
	}

	h.Render(w, r, "pages/dashboard/imports/list", PageData{
		Title: "Imports",
		Data: map[string]any{
			"Jobs":      jobs,
			"Available": h.migrationService != nil,
		},
	})
}

// ImportJobsPartial renders the job table (for HTMX polling)
func (h *Handler) ImportJobsPartial(w http.ResponseWriter, r *http.Request) {
	if h.migrationService == nil {
		http.Error(w, "Imports unavailable", http.StatusServiceUnavailable)
		return
	}

	jobs, err := h.migrationService.ListJobs(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("list import jobs failed")
		http.Error(w, "Failed to load jobs", http.StatusInternalServerError)
		return
	}

	h.RenderPartial(w, r, "partials/jobs-list", jobs)
}

// ImportJobPartial renders one job's progress (for HTMX polling)
func (h *Handler) ImportJobPartial(w http.ResponseWriter, r *http.Request) {
	if h.migrationService == nil {
		http.Error(w, "Imports unavailable", http.StatusServiceUnavailable)
		return
	}

	job, err := h.migrationService.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	h.RenderPartial(w, r, "partials/job-detail", job)
}

// ImportsUpload stores an uploaded source database so a job can read
// it. Returns the stored path; the form script drops it into the job
// options.
func (h *Handler) ImportsUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.multipartLimit(1 << 30)); err != nil {
		http.Error(w, "File too large", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "No file uploaded", http.StatusBadRequest)
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	validExts := map[string]bool{".db": true, ".sqlite": true, ".sqlite3": true}
	if !validExts[ext] {
		http.Error(w, "Expected a SQLite database file", http.StatusBadRequest)
		return
	}

	destDir := filepath.Join(h.mediaRoot, "imports")
	if err := os.MkdirAll(destDir, 0755); err != nil {
		h.logger.Error().Err(err).Str("path", destDir).Msg("failed to create imports directory")
		http.Error(w, "Failed to store file", http.StatusInternalServerError)
		return
	}

	destPath := filepath.Join(destDir, uuid.New().String()+ext)
	dst, err := os.Create(destPath)
	if err != nil {
		h.logger.Error().Err(err).Str("path", destPath).Msg("failed to create import file")
		http.Error(w, "Failed to store file", http.StatusInternalServerError)
		return
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		h.logger.Error().Err(err).Msg("failed to write import file")
		os.Remove(destPath)
		http.Error(w, "Failed to store file", http.StatusInternalServerError)
		return
	}

	h.logger.Info().Str("path", destPath).Str("filename", header.Filename).Msg("import source uploaded")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"path": destPath})
}

// ImportCreateJob creates an import job from the form and starts it
func (h *Handler) ImportCreateJob(w http.ResponseWriter, r *http.Request) {
	if h.migrationService == nil {
		http.Error(w, "Imports unavailable", http.StatusServiceUnavailable)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	sourceType := migration.SourceType(r.FormValue("source_type"))
	options := migration.Options{
		DryRun:               r.FormValue("dry_run") == "on",
		SkipMedia:            r.FormValue("skip_media") == "on",
		SkipSchedules:        r.FormValue("skip_schedules") == "on",
		DurationVerifyStrict: r.FormValue("duration_verify_strict") == "on",
		XiboDSN:              r.FormValue("xibo_dsn"),
		XiboMediaPath:        r.FormValue("xibo_media_path"),
		ScreenlyDBPath:       r.FormValue("screenly_db_path"),
		ScreenlyMediaPath:    r.FormValue("screenly_media_path"),
	}
	if user := h.GetUser(r); user != nil {
		options.ImportingUserID = user.ID
	}

	job, err := h.migrationService.CreateJob(r.Context(), sourceType, options)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.migrationService.StartJob(r.Context(), job.ID); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	h.logger.Info().
		Str("job_id", job.ID).
		Str("source_type", string(sourceType)).
		Bool("dry_run", options.DryRun).
		Msg("import job started from dashboard")

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Trigger", "importJobsChanged")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	http.Redirect(w, r, "/dashboard/imports", http.StatusSeeOther)
}

// ImportCancelJob cancels a running job
func (h *Handler) ImportCancelJob(w http.ResponseWriter, r *http.Request) {
	if h.migrationService == nil {
		http.Error(w, "Imports unavailable", http.StatusServiceUnavailable)
		return
	}

	if err := h.migrationService.CancelJob(r.Context(), chi.URLParam(r, "id")); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Trigger", "importJobsChanged")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	http.Redirect(w, r, "/dashboard/imports", http.StatusSeeOther)
}

// ImportDeleteJob removes a finished job record
func (h *Handler) ImportDeleteJob(w http.ResponseWriter, r *http.Request) {
	if h.migrationService == nil {
		http.Error(w, "Imports unavailable", http.StatusServiceUnavailable)
		return
	}

	if err := h.migrationService.DeleteJob(r.Context(), chi.URLParam(r, "id")); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Trigger", "importJobsChanged")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	http.Redirect(w, r, "/dashboard/imports", http.StatusSeeOther)
}

// ImportResetData deletes everything a previous import created
func (h *Handler) ImportResetData(w http.ResponseWriter, r *http.Request) {
	if h.migrationService == nil {
		http.Error(w, "Imports unavailable", http.StatusServiceUnavailable)
		return
	}

	if err := h.migrationService.ResetImportedData(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("import data reset failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.logger.Info().Msg("imported data reset from dashboard")

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Trigger", "importJobsChanged")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	http.Redirect(w, r, "/dashboard/imports", http.StatusSeeOther)
}
