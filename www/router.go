package www

import (
	"html/template"
	"net/http"
	"strings"
	"sync/atomic"

	"bambuoverlay/engine"
	"bambuoverlay/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	engine   *engine.Engine
	db       *store.DB // nil when the ledger is disabled
	sessions *sessionStore
	tmpl     *template.Template
	eventHub *EventHub

	brokerConnected atomic.Bool
}

// NewRouter creates the chi router and returns it along with a stop function.
// Admin routes need the ledger database for accounts and are not mounted
// without it.
func NewRouter(eng *engine.Engine, db *store.DB) (http.Handler, func()) {
	h := &Handlers{
		engine:   eng,
		db:       db,
		sessions: newSessionStore(eng.AppConfig().Web.SessionSecret),
		eventHub: NewEventHub(),
	}

	funcMap := template.FuncMap{
		"join": strings.Join,
		"deref": func(p *float64) float64 {
			if p == nil {
				return 0
			}
			return *p
		},
	}
	h.tmpl = template.Must(template.New("").Funcs(funcMap).ParseFS(templatesFS, "templates/*.html"))

	h.eventHub.Start()
	h.eventHub.SetupEngineListeners(eng)
	eng.Events.SubscribeTypes(func(evt engine.Event) {
		h.brokerConnected.Store(evt.Type == engine.EventBrokerConnected)
	}, engine.EventBrokerConnected, engine.EventBrokerDisconnected)

	if db != nil {
		ensureDefaultAdmin(db)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(StaticFS()))))
	r.Get("/events", h.eventHub.HandleSSE)

	r.Get("/", h.handleIndex)
	r.Get("/preview", h.handlePreview)
	r.Get("/login", h.handleLoginPage)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.apiStatus)
		r.Get("/overlay", h.apiOverlay)
		r.Get("/jobs", h.apiJobs)

		if db != nil {
			r.Group(func(r chi.Router) {
				r.Use(h.adminMiddleware)
				r.Post("/stream/stop", h.apiStopStream)
				r.Post("/job/refetch", h.apiRefetch)
				r.Post("/config/password", h.apiChangePassword)
			})
		}
	})

	return r, func() {
		h.eventHub.Stop()
	}
}

func (h *Handlers) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.sessions.user(r) == "" {
			writeError(w, http.StatusUnauthorized, "login required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handlers) renderTemplate(w http.ResponseWriter, name string, data interface{}) {
	if err := h.tmpl.ExecuteTemplate(w, name, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
