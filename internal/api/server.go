package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crashrelay/internal/customkeys"
	"crashrelay/internal/domain"
)

// Agent is the part of the crash reporting agent exposed over HTTP.
type Agent interface {
	Enqueue(t domain.Task) bool
	Decision() domain.Decision
	QueueLen() int
	Log(line string) error
	Logs() []string
	SetString(key, value string) error
	RemoveKey(key string)
	Keys() map[string]string
}

type Server struct {
	r     *chi.Mux
	agent Agent
	now   func() time.Time
}

func NewServer(agent Agent) http.Handler {
	return NewServerWithDebug(agent, false)
}

func NewServerWithDebug(agent Agent, enableDebug bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	s := &Server{r: r, agent: agent, now: time.Now}

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/state", s.state)
	r.Post("/api/events", s.submitEvent)
	r.Get("/api/keys", s.listKeys)
	r.Post("/api/keys", s.setKey)
	r.Delete("/api/keys/{key}", s.removeKey)
	r.Get("/api/logs", s.listLogs)
	r.Post("/api/logs", s.appendLog)

	if enableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type stateResp struct {
	domain.Decision
	QueueDepth int `json:"queue_depth"`
}

func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, stateResp{Decision: s.agent.Decision(), QueueDepth: s.agent.QueueLen()})
}

type eventReq struct {
	Kind string     `json:"kind"`
	At   *time.Time `json:"at"`
}

func (s *Server) submitEvent(w http.ResponseWriter, r *http.Request) {
	var req eventReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	kind, ok := domain.ParseKind(req.Kind)
	if !ok {
		http.Error(w, "unknown kind "+req.Kind, http.StatusBadRequest)
		return
	}
	at := s.now()
	if req.At != nil {
		at = *req.At
	}
	var task domain.Task
	switch kind {
	case domain.KindForeground:
		task = domain.Foreground(at)
	case domain.KindBackground:
		task = domain.Background(at)
	case domain.KindNewInstall:
		task = domain.NewInstall()
	case domain.KindFlushLifecycles:
		task = domain.FlushLifecycles()
	case domain.KindGetConfig:
		task = domain.GetConfig()
	}
	s.agent.Enqueue(task)
	writeJSON(w, http.StatusAccepted, map[string]string{"kind": string(kind)})
}

func (s *Server) listKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.agent.Keys())
}

type keyReq struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *Server) setKey(w http.ResponseWriter, r *http.Request) {
	var req keyReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.agent.SetString(req.Key, req.Value); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) removeKey(w http.ResponseWriter, r *http.Request) {
	s.agent.RemoveKey(chi.URLParam(r, "key"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.agent.Logs())
}

type logReq struct {
	Line string `json:"line"`
}

func (s *Server) appendLog(w http.ResponseWriter, r *http.Request) {
	var req logReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.agent.Log(req.Line); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, customkeys.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSizeLimit):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, customkeys.ErrCapacity):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
