/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package web

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/analytics"
	"github.com/friendsincode/heimdall_signage/internal/events"
	"github.com/friendsincode/heimdall_signage/internal/media"
	"github.com/friendsincode/heimdall_signage/internal/migration"
	"github.com/friendsincode/heimdall_signage/internal/models"
	"github.com/friendsincode/heimdall_signage/internal/player"
	"github.com/friendsincode/heimdall_signage/internal/scheduler"
	"github.com/friendsincode/heimdall_signage/internal/version"
)

// Theme represents a UI theme
type Theme string

const (
	ThemeSlateDark  Theme = "slate-dark"
	ThemeCleanLight Theme = "clean-light"
	ThemeContrast   Theme = "contrast"
)

// Handler provides web UI endpoints with server-rendered templates.
type Handler struct {
	db               *gorm.DB
	logger           zerolog.Logger
	jwtSecret        []byte
	mediaRoot        string                        // Root directory for locally stored assets
	mediaService     *media.Service                // Asset storage service
	players          *player.Manager               // Hosted playback sessions
	scheduler        *scheduler.Service            // Schedule evaluation and window expansion
	migrationService *migration.Service            // Legacy system import jobs
	proofOfPlay      *analytics.ProofOfPlayService // Playback reporting
	eventBus         events.PubSub                 // Event bus for real-time updates
	maxUploadBytes   int64                         // Upload size limit, zero means handler default
	templates        map[string]*template.Template // Each page gets its own template set
	partials         *template.Template            // Shared partials
	updateChecker    *version.Checker              // Checks for new versions
}

// PageData holds common data passed to all templates.
type PageData struct {
	Title       string
	Theme       Theme
	User        *models.User
	Flash       *FlashMessage
	CurrentPath string
	CSRFToken   string
	WSToken     string // Auth token for WebSocket connections (non-HttpOnly)
	Data        any
	Version     string              // Current application version
	UpdateInfo  *version.UpdateInfo // Available update info (nil if no update)
}

// FlashMessage for toast notifications
type FlashMessage struct {
	Type    string // success, error, warning, info
	Message string
}

// NewHandler creates a new web handler.
func NewHandler(db *gorm.DB, jwtSecret []byte, mediaRoot string, mediaService *media.Service, players *player.Manager, sched *scheduler.Service, migrationService *migration.Service, proofOfPlay *analytics.ProofOfPlayService, eventBus events.PubSub, maxUploadBytes int64, logger zerolog.Logger) (*Handler, error) {
	h := &Handler{
		db:               db,
		logger:           logger,
		jwtSecret:        jwtSecret,
		mediaRoot:        mediaRoot,
		mediaService:     mediaService,
		players:          players,
		scheduler:        sched,
		migrationService: migrationService,
		proofOfPlay:      proofOfPlay,
		eventBus:         eventBus,
		maxUploadBytes:   maxUploadBytes,
		updateChecker:    version.NewChecker(logger),
	}

	if err := h.loadTemplates(); err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	return h, nil
}

// StartUpdateChecker starts the background version checker.
func (h *Handler) StartUpdateChecker(ctx context.Context) {
	h.updateChecker.Start(ctx)
}

// StopUpdateChecker stops the background version checker.
func (h *Handler) StopUpdateChecker() {
	h.updateChecker.Stop()
}

// multipartLimit returns the configured upload ceiling, falling back to
// def when the handler was built without one.
func (h *Handler) multipartLimit(def int64) int64 {
	if h.maxUploadBytes > 0 {
		return h.maxUploadBytes
	}
	return def
}

func (h *Handler) loadTemplates() error {
	funcMap := template.FuncMap{
		"formatTime":     formatTime,
		"timeago":        timeago,
		"formatDuration": formatDuration,
		"formatSeconds":  formatSeconds,
		"formatBytes":    formatBytes,
		"truncate":       truncate,
		"lower":          strings.ToLower,
		"upper":          strings.ToUpper,
		"contains":       strings.Contains,
		"hasPrefix":      strings.HasPrefix,
		"hasSuffix":      strings.HasSuffix,
		"join":           strings.Join,
		"split":          strings.Split,
		"dict":           dict,
		"list":           list,
		"safeHTML":       safeHTML,
		"safeJS":         safeJS,
		"safeURL":        safeURL,
		"add":            add,
		"sub":            sub,
		"mul":            mul,
		"div":            div,
		"mod":            mod,
		"lt":             lt,
		"le":             le,
		"gt":             gt,
		"ge":             ge,
		"not":            not,
		"default":        defaultVal,
		"coalesce":       coalesce,
		"ternary":        ternary,
		"jsonMarshal":    jsonMarshal,
		"roleAtLeast":    roleAtLeast,
		"isActive":       isActive,
		"iterate":        iterate,
	}

	h.templates = make(map[string]*template.Template)

	// First, collect all layout and partial templates
	var layoutFiles []string
	var partialFiles []string
	var pageFiles []string

	err := fs.WalkDir(TemplateFS, "templates", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".html") {
			return nil
		}

		if strings.HasPrefix(path, "templates/layouts/") {
			layoutFiles = append(layoutFiles, path)
		} else if strings.HasPrefix(path, "templates/partials/") {
			partialFiles = append(partialFiles, path)
		} else if strings.HasPrefix(path, "templates/pages/") {
			pageFiles = append(pageFiles, path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Load partials into a shared template set
	h.partials = template.New("").Funcs(funcMap)
	for _, path := range partialFiles {
		content, err := fs.ReadFile(TemplateFS, path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		name := strings.TrimPrefix(path, "templates/")
		name = strings.TrimSuffix(name, ".html")
		if _, err := h.partials.New(name).Parse(string(content)); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		h.logger.Debug().Str("template", name).Msg("loaded partial")
	}

	// For each page template, create its own template set with layouts
	// and the shared partials so pages can include them.
	for _, pagePath := range pageFiles {
		tmpl := template.New("").Funcs(funcMap)

		for _, layoutPath := range layoutFiles {
			content, err := fs.ReadFile(TemplateFS, layoutPath)
			if err != nil {
				return fmt.Errorf("read %s: %w", layoutPath, err)
			}
			name := strings.TrimPrefix(layoutPath, "templates/")
			name = strings.TrimSuffix(name, ".html")
			if _, err := tmpl.New(name).Parse(string(content)); err != nil {
				return fmt.Errorf("parse %s: %w", layoutPath, err)
			}
		}

		for _, partialPath := range partialFiles {
			content, err := fs.ReadFile(TemplateFS, partialPath)
			if err != nil {
				return fmt.Errorf("read %s: %w", partialPath, err)
			}
			name := strings.TrimPrefix(partialPath, "templates/")
			name = strings.TrimSuffix(name, ".html")
			if _, err := tmpl.New(name).Parse(string(content)); err != nil {
				return fmt.Errorf("parse %s: %w", partialPath, err)
			}
		}

		pageContent, err := fs.ReadFile(TemplateFS, pagePath)
		if err != nil {
			return fmt.Errorf("read %s: %w", pagePath, err)
		}
		pageName := strings.TrimPrefix(pagePath, "templates/")
		pageName = strings.TrimSuffix(pageName, ".html")

		if _, err := tmpl.New(pageName).Parse(string(pageContent)); err != nil {
			return fmt.Errorf("parse %s: %w", pagePath, err)
		}

		h.templates[pageName] = tmpl
		h.logger.Debug().Str("template", pageName).Msg("loaded template")
	}

	return nil
}

// Render renders a template with the given data.
func (h *Handler) Render(w http.ResponseWriter, r *http.Request, name string, data PageData) {
	// Set defaults
	if data.Theme == "" {
		data.Theme = ThemeSlateDark
	}
	data.CurrentPath = r.URL.Path
	data.Version = version.Version
	data.CSRFToken = ensureCSRFCookie(w, r)

	// Get user from context if authenticated
	if user, ok := r.Context().Value(ctxKeyUser).(*models.User); ok {
		data.User = user
		// Generate short-lived WS token for JavaScript access
		data.WSToken = h.GenerateWSToken(user)
		if data.WSToken == "" {
			h.logger.Warn().Str("user_id", user.ID).Msg("failed to generate WS token")
		}

		// Only show update info to admins
		if user.Role == models.RoleAdmin && h.updateChecker != nil {
			info := h.updateChecker.Info()
			if info != nil && info.UpdateAvailable {
				data.UpdateInfo = info
			}
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	tmpl, ok := h.templates[name]
	if !ok {
		h.logger.Error().Str("template", name).Msg("template not found")
		http.Error(w, "Template not found", http.StatusInternalServerError)
		return
	}

	if err := tmpl.ExecuteTemplate(w, name, data); err != nil {
		h.logger.Error().Err(err).Str("template", name).Msg("template render failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// RenderPartial renders a partial template (for HTMX responses).
func (h *Handler) RenderPartial(w http.ResponseWriter, r *http.Request, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if err := h.partials.ExecuteTemplate(w, name, data); err != nil {
		h.logger.Error().Err(err).Str("template", name).Msg("partial render failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// staticResponseWriter wraps http.ResponseWriter to force correct MIME types
type staticResponseWriter struct {
	http.ResponseWriter
	contentType string
	wroteHeader bool
}

func (w *staticResponseWriter) WriteHeader(code int) {
	if !w.wroteHeader && w.contentType != "" {
		w.Header().Set("Content-Type", w.contentType)
	}
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *staticResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// StaticHandler returns an http.Handler for static files.
func (h *Handler) StaticHandler() http.Handler {
	fsys, _ := fs.Sub(StaticFS, "static")
	fileServer := http.FileServer(http.FS(fsys))
	return http.StripPrefix("/static/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Determine correct MIME type for embedded files
		path := r.URL.Path
		var contentType string
		switch {
		case strings.HasSuffix(path, ".css"):
			contentType = "text/css; charset=utf-8"
		case strings.HasSuffix(path, ".js"):
			contentType = "application/javascript; charset=utf-8"
		case strings.HasSuffix(path, ".json"):
			contentType = "application/json; charset=utf-8"
		case strings.HasSuffix(path, ".svg"):
			contentType = "image/svg+xml"
		case strings.HasSuffix(path, ".png"):
			contentType = "image/png"
		case strings.HasSuffix(path, ".ico"):
			contentType = "image/x-icon"
		case strings.HasSuffix(path, ".woff"):
			contentType = "font/woff"
		case strings.HasSuffix(path, ".woff2"):
			contentType = "font/woff2"
		}

		// Wrap response writer to force our Content-Type
		sw := &staticResponseWriter{ResponseWriter: w, contentType: contentType}
		fileServer.ServeHTTP(sw, r)
	}))
}

// Template helper functions

// toTime unwraps the time values templates hand over; model fields are
// a mix of time.Time and *time.Time.
func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, !t.IsZero()
	default:
		return time.Time{}, false
	}
}

func formatTime(v any) string {
	t, ok := toTime(v)
	if !ok {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}

func timeago(v any) string {
	t, ok := toTime(v)
	if !ok {
		return "never"
	}

	now := time.Now()
	diff := now.Sub(t)

	if diff < 0 {
		// Future time
		diff = -diff
		if diff < time.Minute {
			return "in a few seconds"
		} else if diff < time.Hour {
			mins := int(diff.Minutes())
			if mins == 1 {
				return "in 1 minute"
			}
			return fmt.Sprintf("in %d minutes", mins)
		} else if diff < 24*time.Hour {
			hours := int(diff.Hours())
			if hours == 1 {
				return "in 1 hour"
			}
			return fmt.Sprintf("in %d hours", hours)
		}
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "in 1 day"
		}
		return fmt.Sprintf("in %d days", days)
	}

	// Past time
	if diff < time.Minute {
		return "just now"
	} else if diff < time.Hour {
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	} else if diff < 24*time.Hour {
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	} else if diff < 7*24*time.Hour {
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	} else if diff < 30*24*time.Hour {
		weeks := int(diff.Hours() / 24 / 7)
		if weeks == 1 {
			return "1 week ago"
		}
		return fmt.Sprintf("%d weeks ago", weeks)
	} else if diff < 365*24*time.Hour {
		months := int(diff.Hours() / 24 / 30)
		if months == 1 {
			return "1 month ago"
		}
		return fmt.Sprintf("%d months ago", months)
	}

	years := int(diff.Hours() / 24 / 365)
	if years == 1 {
		return "1 year ago"
	}
	return fmt.Sprintf("%d years ago", years)
}

func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func formatSeconds(sec any) string {
	total := toInt(sec)
	if total < 0 {
		total = -total
	}
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60

	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func dict(values ...any) map[string]any {
	if len(values)%2 != 0 {
		return nil
	}
	d := make(map[string]any, len(values)/2)
	for i := 0; i < len(values); i += 2 {
		key, ok := values[i].(string)
		if !ok {
			return nil
		}
		d[key] = values[i+1]
	}
	return d
}

func list(values ...any) []any {
	return values
}

func safeHTML(s string) template.HTML {
	return template.HTML(s)
}

func safeJS(s string) template.JS {
	return template.JS(s)
}

func safeURL(s string) template.URL {
	return template.URL(s)
}

func add(a, b any) int { return toInt(a) + toInt(b) }
func sub(a, b any) int { return toInt(a) - toInt(b) }
func mul(a, b any) int { return toInt(a) * toInt(b) }

func div(a, b any) int {
	ai, bi := toInt(a), toInt(b)
	if bi == 0 {
		return 0
	}
	return ai / bi
}

func mod(a, b any) int {
	ai, bi := toInt(a), toInt(b)
	if bi == 0 {
		return 0
	}
	return ai % bi
}

func lt(a, b any) bool { return toInt(a) < toInt(b) }
func le(a, b any) bool { return toInt(a) <= toInt(b) }
func gt(a, b any) bool { return toInt(a) > toInt(b) }
func ge(a, b any) bool { return toInt(a) >= toInt(b) }
func not(a bool) bool  { return !a }

// iterate returns a slice of integers from 0 to n-1 for range loops in templates
func iterate(n int) []int {
	result := make([]int, n)
	for i := 0; i < n; i++ {
		result[i] = i
	}
	return result
}

// toInt converts various numeric types to int
func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case float32:
		return int(n)
	default:
		return 0
	}
}

func defaultVal(def, val any) any {
	if val == nil || val == "" || val == 0 || val == false {
		return def
	}
	return val
}

func coalesce(values ...any) any {
	for _, v := range values {
		if v != nil && v != "" && v != 0 && v != false {
			return v
		}
	}
	return nil
}

func ternary(cond bool, a, b any) any {
	if cond {
		return a
	}
	return b
}

func jsonMarshal(v any) template.JS {
	if v == nil {
		return template.JS("null")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return template.JS("null")
	}
	return template.JS(b)
}

func roleAtLeast(user *models.User, minRole string) bool {
	if user == nil {
		return false
	}
	roleOrder := map[string]int{
		string(models.RoleAdmin):  3,
		string(models.RoleEditor): 2,
		string(models.RoleViewer): 1,
	}
	userLevel := roleOrder[string(user.Role)]
	minLevel := roleOrder[minRole]
	return userLevel >= minLevel && minLevel > 0
}

func isActive(currentPath, linkPath string) bool {
	if linkPath == "/" {
		return currentPath == "/"
	}
	return strings.HasPrefix(currentPath, linkPath)
}

// Context keys
type ctxKey string

const (
	ctxKeyUser  ctxKey = "user"
	ctxKeyToken ctxKey = "token"
)
