/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/heimdall_signage/internal/integrity"
	"github.com/friendsincode/heimdall_signage/internal/models"
)

type integrityFindingResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Severity   string         `json:"severity"`
	Summary    string         `json:"summary"`
	ScreenID   *string        `json:"screen_id,omitempty"`
	ResourceID string         `json:"resource_id,omitempty"`
	Repairable bool           `json:"repairable"`
	Details    map[string]any `json:"details,omitempty"`
}

type integrityRepairRequest struct {
	Type       string `json:"type"`
	ResourceID string `json:"resource_id"`
}

// AddIntegrityRoutes registers catalog consistency endpoints. Scans read
// the whole catalog and repairs delete records, so both are admin only.
func (a *API) AddIntegrityRoutes(r chi.Router) {
	r.Route("/integrity", func(r chi.Router) {
		r.Use(a.requireRoles(models.RoleAdmin))
		r.Get("/report", a.handleIntegrityReport)
		r.Post("/repair", a.handleIntegrityRepair)
	})
}

func (a *API) handleIntegrityReport(w http.ResponseWriter, r *http.Request) {
	if a.integritySvc == nil {
		writeError(w, http.StatusServiceUnavailable, "integrity_unavailable")
		return
	}

	report, err := a.integritySvc.Scan(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("integrity scan failed")
		writeError(w, http.StatusInternalServerError, "scan_failed")
		return
	}

	findings := make([]integrityFindingResponse, len(report.Findings))
	for i, finding := range report.Findings {
		findings[i] = integrityFindingResponse{
			ID:         finding.ID,
			Type:       string(finding.Type),
			Severity:   finding.Severity,
			Summary:    finding.Summary,
			ScreenID:   finding.ScreenID,
			ResourceID: finding.ResourceID,
			Repairable: finding.Repairable,
			Details:    finding.Details,
		}
	}

	byType := make(map[string]int, len(report.ByType))
	for k, v := range report.ByType {
		byType[string(k)] = v
	}

	a.logAudit(r, models.AuditActionIntegrityScan, "integrity_report", "", map[string]any{
		"total":   report.Total,
		"by_type": byType,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"generated_at": report.GeneratedAt,
		"total":        report.Total,
		"by_type":      byType,
		"findings":     findings,
	})
}

func (a *API) handleIntegrityRepair(w http.ResponseWriter, r *http.Request) {
	if a.integritySvc == nil {
		writeError(w, http.StatusServiceUnavailable, "integrity_unavailable")
		return
	}

	var req integrityRepairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Type == "" || req.ResourceID == "" {
		writeError(w, http.StatusBadRequest, "type_and_resource_id_required")
		return
	}

	result, err := a.integritySvc.Repair(r.Context(), integrity.RepairInput{
		Type:       integrity.FindingType(req.Type),
		ResourceID: req.ResourceID,
	})
	if err != nil {
		a.logger.Error().
			Err(err).
			Str("type", req.Type).
			Str("resource_id", req.ResourceID).
			Msg("integrity repair failed")
		writeError(w, http.StatusInternalServerError, "repair_failed")
		return
	}

	a.logAudit(r, models.AuditActionIntegrityRepair, "integrity_finding", req.ResourceID, map[string]any{
		"type":    req.Type,
		"changed": result.Changed,
		"message": result.Message,
		"details": result.Details,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"changed": result.Changed,
		"message": result.Message,
		"details": result.Details,
	})
}
