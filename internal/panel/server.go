package panel

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/local/forumcast/internal/standby"
	"github.com/local/forumcast/internal/store"
)

const sessionCookieName = "forumcast_session"

// Server is the HTTP control panel: one route per state-mutation verb named
// in spec §4.1/§4.4/§4.7, plus read-only listings, all gated by the cookie
// middleware except /login itself.
type Server struct {
	Store    *store.Store
	Standby  *standby.Pool
	Password string
	TTLSeconds int64

	// now is overridable in tests; production leaves it nil and gets
	// time.Now().Unix().
	now func() int64
	log *log.Logger
}

// New builds a Server and its chi router.
func New(st *store.Store, pool *standby.Pool, password string, ttlSeconds int64, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{Store: st, Standby: pool, Password: password, TTLSeconds: ttlSeconds, log: logger}
}

func (s *Server) clock() int64 {
	if s.now != nil {
		return s.now()
	}
	return time.Now().Unix()
}

// Router builds the chi mux; kept separate from New so tests can rebuild it
// after swapping s.now.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Get("/source-groups", s.handleListSourceGroups)
		r.Get("/source-groups/{sourceGroupID}/topics", s.handleListTopics)
		r.Post("/source-groups/{sourceGroupID}/enabled", s.handleSetSourceGroupEnabled)
		r.Delete("/source-groups/{sourceGroupID}", s.handleDeleteSourceGroup)

		r.Post("/topics/{topicID}/enabled", s.handleSetTopicEnabled)

		r.Get("/channels", s.handleListChannels)
		r.Get("/channels/standby", s.handleListStandbyChannels)
		r.Delete("/channels/{channelID}", s.handleDeleteChannel)
		r.Post("/channels/clear-standby", s.handleClearStandbyChannels)

		r.Get("/bindings", s.handleListBindings)
		r.Post("/bindings/{bindingID}/active", s.handleSetBindingActive)

		r.Get("/banned-channels", s.handleListBannedChannels)
		r.Delete("/banned-channels", s.handleRemoveBannedChannel)
		r.Post("/banned-channels/clear", s.handleClearBannedChannels)

		r.Get("/recovery/jobs/{jobID}", s.handleGetJob)
		r.Post("/recovery/enqueue-manual", s.handleEnqueueManual)
		r.Post("/recovery/jobs/{jobID}/requeue", s.handleRequeueJob)
		r.Post("/recovery/jobs/{jobID}/stop", s.handleStopJob)

		r.Post("/standby/admit", s.handleStandbyAdmit)
		r.Post("/standby/refresh", s.handleStandbyRefresh)
	})

	return r
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if body.Password != s.Password {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	token := NewToken(s.Password, s.clock(), s.TTLSeconds)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		MaxAge:   int(s.TTLSeconds),
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil || !VerifyToken(s.Password, cookie.Value, s.clock()) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusBadRequest)
}

// reqCtx returns r's context; split out purely so handlers read uniformly.
func reqCtx(r *http.Request) context.Context { return r.Context() }
