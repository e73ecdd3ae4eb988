package web

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/hpungsan/herald/internal/auditlog"
	"github.com/hpungsan/herald/internal/engine"
	"github.com/hpungsan/herald/internal/errors"
	"github.com/hpungsan/herald/internal/state"
)

// PageData contains common fields used across all page templates.
type PageData struct {
	Title   string
	Version string
	Nav     string // active nav item: "dashboard", "log"
}

// DashboardPageData is the template data for the status page.
type DashboardPageData struct {
	PageData
	State       state.EngineState
	Target      string
	DailyLimit  int
	LastOutcome *engine.Outcome
	LastPostAgo string
}

// LogPageData is the template data for the audit log page.
type LogPageData struct {
	PageData
	Records []auditlog.Record
	Limit   int
}

// DetailPageData is the template data for one audit record.
type DetailPageData struct {
	PageData
	Record      *auditlog.Record
	ContentHTML template.HTML
}

// ErrorPageData is the template data for the error page.
type ErrorPageData struct {
	PageData
	StatusCode int
	Message    string
}

// Renderer manages template parsing and rendering.
type Renderer struct {
	templates map[string]*template.Template
	version   string
}

// NewRenderer creates a Renderer by parsing templates from the given FS.
func NewRenderer(templateFS fs.FS, version string) *Renderer {
	funcMap := template.FuncMap{
		"formatTime": formatTime,
		"shortID":    shortID,
	}

	// Parse layout as the base template
	layoutTmpl := template.Must(template.New("layout").Funcs(funcMap).ParseFS(templateFS, "layout.html"))

	pages := map[string]string{
		"dashboard": "dashboard.html",
		"log":       "log.html",
		"detail":    "detail.html",
		"error":     "error.html",
	}

	templates := make(map[string]*template.Template, len(pages))
	for name, file := range pages {
		t := template.Must(layoutTmpl.Clone())
		template.Must(t.ParseFS(templateFS, file))
		templates[name] = t
	}

	return &Renderer{
		templates: templates,
		version:   version,
	}
}

// renderPage renders a named page template with HTTP 200.
func (r *Renderer) renderPage(w http.ResponseWriter, name string, data any) {
	r.renderPageStatus(w, http.StatusOK, name, data)
}

// renderPageStatus renders a named page template with the given status code.
func (r *Renderer) renderPageStatus(w http.ResponseWriter, status int, name string, data any) {
	t, ok := r.templates[name]
	if !ok {
		log.Printf("template %q not found", name)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		log.Printf("template execution error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// renderError renders an error response with content negotiation.
func (r *Renderer) renderError(w http.ResponseWriter, req *http.Request, err error) {
	var hErr *errors.HeraldError
	if !stderrors.As(err, &hErr) {
		hErr = errors.NewInternal(err)
	}

	if strings.Contains(req.Header.Get("Accept"), "application/json") {
		renderJSON(w, hErr.Status, map[string]any{
			"error": map[string]any{
				"code":    string(hErr.Code),
				"message": hErr.Message,
				"status":  hErr.Status,
			},
		})
		return
	}

	r.renderPageStatus(w, hErr.Status, "error", ErrorPageData{
		PageData: PageData{
			Title:   fmt.Sprintf("Error %d", hErr.Status),
			Version: r.version,
		},
		StatusCode: hErr.Status,
		Message:    hErr.Message,
	})
}

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// renderMarkdown converts markdown text to HTML using goldmark.
func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}

// formatTime formats a Unix timestamp as "2006-01-02 15:04" UTC.
func formatTime(unix int64) string {
	if unix == 0 {
		return "—"
	}
	return time.Unix(unix, 0).UTC().Format("2006-01-02 15:04")
}

// shortID abbreviates markers and ids for table cells.
func shortID(s string) string {
	if len(s) > 10 {
		return s[:10]
	}
	return s
}
