package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/stefi19/roomsched/internal/extract"
	"github.com/stefi19/roomsched/internal/model"
	"github.com/stefi19/roomsched/internal/store"
)

// calendarResponse is the admin view of one source.
type calendarResponse struct {
	ID            int64  `json:"id"`
	PrimaryURL    string `json:"primary_url"`
	ICSURL        string `json:"ics_url,omitempty"`
	DisplayName   string `json:"display_name"`
	Color         string `json:"color,omitempty"`
	Enabled       bool   `json:"enabled"`
	Building      string `json:"building,omitempty"`
	Room          string `json:"room,omitempty"`
	EmailAddress  string `json:"email_address,omitempty"`
	LastFetchedAt string `json:"last_fetched_at,omitempty"`
}

func toCalendarResponse(src model.CalendarSource) calendarResponse {
	out := calendarResponse{
		ID:           src.ID,
		PrimaryURL:   src.PrimaryURL,
		ICSURL:       src.ICSURL,
		DisplayName:  src.DisplayName,
		Color:        src.Color,
		Enabled:      src.Enabled,
		Building:     src.Building,
		Room:         src.Room,
		EmailAddress: src.EmailAddress,
	}
	if !src.LastFetchedAt.IsZero() {
		out.LastFetchedAt = src.LastFetchedAt.UTC().Format(time.RFC3339)
	}
	return out
}

func (s *Server) handleAdminListCalendars(w http.ResponseWriter, r *http.Request) {
	sources, err := s.Store.ListSources(false)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]calendarResponse, 0, len(sources))
	for _, src := range sources {
		out = append(out, toCalendarResponse(src))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdminCreateCalendar(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PrimaryURL   string `json:"primary_url"`
		ICSURL       string `json:"ics_url"`
		DisplayName  string `json:"display_name"`
		Color        string `json:"color"`
		Building     string `json:"building"`
		Room         string `json:"room"`
		EmailAddress string `json:"email_address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if req.PrimaryURL == "" {
		s.writeError(w, http.StatusBadRequest, "primary_url is required")
		return
	}

	id, err := s.Store.UpsertSourceByURL(model.CalendarSource{
		PrimaryURL:   req.PrimaryURL,
		ICSURL:       req.ICSURL,
		DisplayName:  req.DisplayName,
		Color:        req.Color,
		Building:     req.Building,
		Room:         req.Room,
		EmailAddress: req.EmailAddress,
		Enabled:      true,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	src, err := s.Store.GetSource(id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, toCalendarResponse(src))
}

func (s *Server) handleAdminUpdateCalendar(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var fields map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	err = s.Store.UpdateSourceFields(id, fields)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "calendar not found")
		return
	case err != nil:
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	src, err := s.Store.GetSource(id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, toCalendarResponse(src))
}

func (s *Server) handleAdminDeleteCalendar(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	err = s.Store.DeleteSource(id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "calendar not found")
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleAdminImportCSV ingests a roster CSV. The body may be the raw CSV or
// a multipart form with a "file" field.
func (s *Server) handleAdminImportCSV(w http.ResponseWriter, r *http.Request) {
	body := r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("file")
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "missing file field: "+err.Error())
			return
		}
		defer file.Close()
		body = file
	}

	report, err := s.Store.ImportCSV(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleAdminListManual(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseTimeParam(q.Get("from"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid from: "+err.Error())
		return
	}
	to, err := parseTimeParam(q.Get("to"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid to: "+err.Error())
		return
	}
	events, err := s.Store.ListManualEvents(from, to)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []model.ManualEvent{}
	}
	s.writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleAdminCreateManual(w http.ResponseWriter, r *http.Request) {
	var ev model.ManualEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	id, err := s.Store.AddManualEvent(ev)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ev.ID = id
	s.writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleAdminDeleteManual(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	err = s.Store.DeleteManualEvent(id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "manual event not found")
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleAdminExtract kicks off a run in the background: 202 when started,
// 409 when one is already in flight.
func (s *Server) handleAdminExtract(w http.ResponseWriter, r *http.Request) {
	if s.Trigger.Running() {
		s.writeError(w, http.StatusConflict, "extraction already running")
		return
	}
	go func() {
		// Detached from the request; the run outlives the HTTP exchange.
		if err := s.Trigger.Run(context.Background()); err != nil && !errors.Is(err, extract.ErrAlreadyRunning) {
			s.log.Error().Err(err).Msg("background extraction failed")
		}
	}()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// handleAdminCleanup deletes manual events older than the retention horizon.
func (s *Server) handleAdminCleanup(w http.ResponseWriter, r *http.Request) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.RetentionDays)
	n, err := s.Store.DeleteManualEventsBefore(cutoff)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted": n,
		"cutoff":  cutoff.Format(time.RFC3339),
	})
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}
