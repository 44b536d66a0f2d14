// Package web serves the read-only schedule API and, when credentials are
// configured, the admin surface for managing calendar sources and manual
// events.
package web

import (
	"context"
	"crypto/subtle"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/stefi19/roomsched/internal/config"
	"github.com/stefi19/roomsched/internal/logging"
	"github.com/stefi19/roomsched/internal/model"
	"github.com/stefi19/roomsched/internal/query"
	"github.com/stefi19/roomsched/internal/store"
)

// Trigger starts and inspects extraction runs. Satisfied by
// *extract.Orchestrator.
type Trigger interface {
	Run(ctx context.Context) error
	Running() bool
	Progress() *model.ImportProgress
}

// AdminStore is the slice of the store the admin handlers need.
type AdminStore interface {
	ListSources(enabledOnly bool) ([]model.CalendarSource, error)
	GetSource(id int64) (model.CalendarSource, error)
	UpsertSourceByURL(src model.CalendarSource) (int64, error)
	UpdateSourceFields(id int64, fields map[string]interface{}) error
	DeleteSource(id int64) error
	ImportCSV(r io.Reader) (store.CSVReport, error)
	AddManualEvent(ev model.ManualEvent) (int64, error)
	ListManualEvents(from, to time.Time) ([]model.ManualEvent, error)
	DeleteManualEvent(id int64) error
	DeleteManualEventsBefore(cutoff time.Time) (int64, error)
}

// Server holds the HTTP dependencies.
type Server struct {
	Query   *query.Service
	Store   AdminStore
	Trigger Trigger
	Auth    *config.AdminAuthConfig

	// RetentionDays drives the admin cleanup endpoint.
	RetentionDays int

	log zerolog.Logger
}

// NewServer wires a server. auth may be nil; the admin routes are then not
// mounted at all.
func NewServer(q *query.Service, st AdminStore, trigger Trigger, auth *config.AdminAuthConfig, retentionDays int) *Server {
	if retentionDays <= 0 {
		retentionDays = 60
	}
	return &Server{
		Query:         q,
		Store:         st,
		Trigger:       trigger,
		Auth:          auth,
		RetentionDays: retentionDays,
		log:           logging.Component("web"),
	}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Get("/events.json", s.handleEvents)
	r.Get("/calendars.json", s.handleCalendars)
	r.Get("/departures.json", s.handleDepartures)
	r.Get("/debug/pipeline", s.handlePipeline)

	if s.Auth != nil && s.Auth.Username != "" && s.Auth.Password != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(s.basicAuth)
			admin.Get("/calendars", s.handleAdminListCalendars)
			admin.Post("/calendars", s.handleAdminCreateCalendar)
			admin.Patch("/calendars/{id}", s.handleAdminUpdateCalendar)
			admin.Delete("/calendars/{id}", s.handleAdminDeleteCalendar)
			admin.Post("/calendars/import", s.handleAdminImportCSV)
			admin.Get("/manual-events", s.handleAdminListManual)
			admin.Post("/manual-events", s.handleAdminCreateManual)
			admin.Delete("/manual-events/{id}", s.handleAdminDeleteManual)
			admin.Post("/extract", s.handleAdminExtract)
			admin.Post("/cleanup", s.handleAdminCleanup)
		})
	}
	return r
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(s.Auth.Username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(s.Auth.Password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
			s.writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encoding response failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := query.Filter{
		Subject:   q.Get("subject"),
		Professor: q.Get("professor"),
		Room:      q.Get("room"),
		Building:  q.Get("building"),
		Group:     q.Get("group"),
	}
	var err error
	if f.From, err = parseTimeParam(q.Get("from")); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid from: "+err.Error())
		return
	}
	if f.To, err = parseTimeParam(q.Get("to")); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid to: "+err.Error())
		return
	}

	events, err := s.Query.Events(r.Context(), f)
	if err != nil {
		s.log.Error().Err(err).Msg("events query failed")
		s.writeError(w, http.StatusInternalServerError, "schedule unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleCalendars(w http.ResponseWriter, r *http.Request) {
	calMap, err := s.Query.Calendars(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("calendar map query failed")
		s.writeError(w, http.StatusInternalServerError, "schedule unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, calMap)
}

func (s *Server) handleDepartures(w http.ResponseWriter, r *http.Request) {
	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 60 {
			s.writeError(w, http.StatusBadRequest, "days must be 1..60")
			return
		}
		days = n
	}
	byDay, err := s.Query.Departures(r.Context(), days)
	if err != nil {
		s.log.Error().Err(err).Msg("departures query failed")
		s.writeError(w, http.StatusInternalServerError, "schedule unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, byDay)
}

func (s *Server) handlePipeline(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"running":  s.Trigger.Running(),
		"progress": s.Trigger.Progress(),
	}
	if s.Query != nil && s.Query.Cache != nil {
		if fp, err := s.Query.Cache.Fingerprint(); err == nil {
			status["fingerprint"] = fp.String()
		}
		if msg := s.Query.Cache.LastRebuildError(); msg != "" {
			status["last_rebuild_error"] = msg
		}
	}
	s.writeJSON(w, http.StatusOK, status)
}

// parseTimeParam accepts RFC3339 or a plain date.
func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}
