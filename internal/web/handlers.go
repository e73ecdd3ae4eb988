package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hpungsan/herald/internal/auditlog"
	"github.com/hpungsan/herald/internal/brief"
	"github.com/hpungsan/herald/internal/config"
	"github.com/hpungsan/herald/internal/engine"
)

// Handlers contains HTTP route handlers for the dashboard.
type Handlers struct {
	runner   *engine.Runner
	log      *auditlog.Log
	cfg      *config.Config
	renderer *Renderer
}

// HandleDashboard handles GET / with engine status and the last tick outcome.
func (h *Handlers) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	st, last, err := h.runner.Snapshot()
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.renderer.renderPage(w, "dashboard", DashboardPageData{
		PageData: PageData{
			Title:   "Herald",
			Version: h.renderer.version,
			Nav:     "dashboard",
		},
		State:       st,
		Target:      st.RepoKey(),
		DailyLimit:  h.cfg.DailyLimit,
		LastOutcome: last,
		LastPostAgo: brief.Age(st.LastPostAt, time.Now()),
	})
}

// HandleLog handles GET /log with the newest audit records.
func (h *Handlers) HandleLog(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 50)

	recs, err := h.log.Recent(r.Context(), limit)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.renderer.renderPage(w, "log", LogPageData{
		PageData: PageData{
			Title:   "Audit log",
			Version: h.renderer.version,
			Nav:     "log",
		},
		Records: recs,
		Limit:   limit,
	})
}

// HandleDetail handles GET /log/{id} for one audit record, with the recorded
// content rendered as markdown.
func (h *Handlers) HandleDetail(w http.ResponseWriter, r *http.Request) {
	rec, err := h.log.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.renderer.renderPage(w, "detail", DetailPageData{
		PageData: PageData{
			Title:   "Record " + rec.ID,
			Version: h.renderer.version,
			Nav:     "log",
		},
		Record:      rec,
		ContentHTML: renderMarkdown(rec.Content),
	})
}

// HandleTick handles POST /tick: run one cycle now. Browsers get redirected
// back to the dashboard; JSON clients get the outcome.
func (h *Handlers) HandleTick(w http.ResponseWriter, r *http.Request) {
	out, err := h.runner.Tick(r.Context())
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		renderJSON(w, http.StatusOK, out)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleEnable handles POST /enable.
func (h *Handlers) HandleEnable(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// HandleDisable handles POST /disable.
func (h *Handlers) HandleDisable(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *Handlers) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	st, err := h.runner.SetActive(active)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		renderJSON(w, http.StatusOK, map[string]any{"active": st.Active})
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// parseIntParam parses an integer query parameter with a default.
func parseIntParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
