package www

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"

	"bambuoverlay/engine"
	"bambuoverlay/overlay"
	"bambuoverlay/store"
)

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Status is the body of GET /api/status.
type Status struct {
	Job             string            `json:"job"`
	SinkConnected   bool              `json:"sink_connected"`
	BrokerConnected bool              `json:"broker_connected"`
	Fields          map[string]string `json:"fields"`
	LedgerEnabled   bool              `json:"ledger_enabled"`
}

func (h *Handlers) status() Status {
	return Status{
		Job:             h.engine.CurrentJob(),
		SinkConnected:   h.engine.SinkConnected(),
		BrokerConnected: h.brokerConnected.Load(),
		Fields:          h.engine.OverlayState().Fields(),
		LedgerEnabled:   h.db != nil,
	}
}

func (h *Handlers) recentJobs(limit int) []*store.Job {
	if h.db == nil {
		return nil
	}
	jobs, err := h.db.ListRecentJobs(limit)
	if err != nil {
		log.Printf("www: list jobs: %v", err)
	}
	return jobs
}

func (h *Handlers) handleIndex(w http.ResponseWriter, r *http.Request) {
	user := h.sessions.user(r)
	h.renderTemplate(w, "index.html", map[string]interface{}{
		"Page":   "index",
		"Status": h.status(),
		"Fields": overlay.TextFields,
		"Jobs":   h.recentJobs(10),
		"User":   user,
	})
}

func (h *Handlers) handlePreview(w http.ResponseWriter, r *http.Request) {
	path := h.engine.AppConfig().Overlay.ThumbnailPath
	if _, err := os.Stat(path); err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, path)
}

func (h *Handlers) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if h.sessions.user(r) != "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	h.renderTemplate(w, "login.html", map[string]interface{}{
		"Page":          "login",
		"LedgerEnabled": h.db != nil,
	})
}

func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		http.Error(w, "admin accounts need the job database", http.StatusServiceUnavailable)
		return
	}
	username := r.FormValue("username")
	password := r.FormValue("password")

	user, err := h.db.GetAdminUser(username)
	if err != nil || !checkPassword(password, user.PasswordHash) {
		w.WriteHeader(http.StatusUnauthorized)
		h.renderTemplate(w, "login.html", map[string]interface{}{
			"Page":          "login",
			"LedgerEnabled": true,
			"Error":         "Invalid username or password",
		})
		return
	}

	if err := h.sessions.login(w, r, username); err != nil {
		http.Error(w, "session error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.sessions.logout(w, r)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handlers) apiStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.status())
}

// overlayField is one rendered value in GET /api/overlay.
type overlayField struct {
	Field string `json:"field"`
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

func (h *Handlers) apiOverlay(w http.ResponseWriter, r *http.Request) {
	updates := h.engine.OverlayState().Updates()
	out := make([]overlayField, 0, len(updates))
	for _, u := range updates {
		out = append(out, overlayField{Field: string(u.Field), Kind: u.Kind.String(), Value: u.Value})
	}
	writeJSON(w, out)
}

func (h *Handlers) apiJobs(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		writeError(w, http.StatusServiceUnavailable, "job ledger disabled")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	jobs, err := h.db.ListRecentJobs(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if jobs == nil {
		jobs = []*store.Job{}
	}
	writeJSON(w, jobs)
}

func (h *Handlers) apiStopStream(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.StopStream(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	log.Printf("www: stream stopped by %s", h.sessions.user(r))
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handlers) apiRefetch(w http.ResponseWriter, r *http.Request) {
	err := h.engine.RefetchAssets(r.Context())
	switch {
	case errors.Is(err, engine.ErrNoJob):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, engine.ErrNoFetcher):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "ok", "job": h.engine.CurrentJob()})
}

func (h *Handlers) apiChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Password) < 4 {
		writeError(w, http.StatusBadRequest, "password must be at least 4 characters")
		return
	}
	hash, err := hashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := h.db.UpdateAdminPassword(h.sessions.user(r), hash); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}
