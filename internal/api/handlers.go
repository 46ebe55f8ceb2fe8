package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"signalwatch/internal/events"
	"signalwatch/internal/logging"
	"signalwatch/internal/storage"
	"signalwatch/internal/validation"
)

type envelope struct {
	Success       bool                    `json:"success"`
	Data          any                     `json:"data,omitempty"`
	Error         string                  `json:"error,omitempty"`
	Details       []validation.FieldError `json:"details,omitempty"`
	CorrelationID string                  `json:"correlationId"`
}

type healthResponse struct {
	Status        string `json:"status"`
	Timestamp     string `json:"timestamp"`
	CorrelationID string `json:"correlationId"`
}

type statusResponse struct {
	Status     string           `json:"status"`
	Time       string           `json:"time"`
	Uptime     string           `json:"uptime"`
	Version    string           `json:"version"`
	ConfigPath string           `json:"config_path"`
	Storage    componentStatus  `json:"storage"`
	Cache      componentStatus  `json:"cache"`
	Classifier classifierStatus `json:"classifier"`
}

type componentStatus struct {
	Backend string `json:"backend"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

type classifierStatus struct {
	Remote  bool   `json:"remote"`
	Model   string `json:"model,omitempty"`
	Breaker string `json:"breaker,omitempty"`
}

var errBadJSON = errors.New("malformed JSON body")

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		CorrelationID: logging.CorrelationID(r.Context()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Get()
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Cache:      probe(ctx, s.cache.Backend(), s.cache.Ping),
	}
	if s.store != nil {
		resp.Storage = probe(ctx, s.store.Driver(), s.store.Ping)
	}
	if s.remote != nil {
		resp.Classifier = classifierStatus{Remote: true, Model: cfg.Classifier.Model, Breaker: s.remote.BreakerState()}
	}
	if !resp.Storage.OK {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

func probe(ctx context.Context, backend string, ping func(context.Context) error) componentStatus {
	st := componentStatus{Backend: backend, OK: true}
	if err := ping(ctx); err != nil {
		st.OK = false
		st.Error = err.Error()
	}
	return st
}

func (s *Server) handleCreateWatchList(w http.ResponseWriter, r *http.Request) {
	var req events.CreateWatchListRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	wl, err := s.events.CreateWatchList(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusCreated, wl)
}

func (s *Server) handleListWatchLists(w http.ResponseWriter, r *http.Request) {
	list, err := s.events.ListWatchLists(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, list)
}

func (s *Server) handleGetWatchList(w http.ResponseWriter, r *http.Request) {
	wl, err := s.events.GetWatchList(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, wl)
}

func (s *Server) handleDeleteWatchList(w http.ResponseWriter, r *http.Request) {
	if err := s.events.DeleteWatchList(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, nil)
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req events.CreateEventRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ev, err := s.events.CreateEvent(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusCreated, ev)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, r, validation.Newf("limit", "must be a positive integer"))
			return
		}
		limit = min(n, 500)
	}
	list, err := s.events.ListEvents(r.Context(), q.Get("watchListId"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, list)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.events.GetEvent(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, ev)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, envelope{
		Success:       false,
		Error:         "Route not found",
		CorrelationID: logging.CorrelationID(r.Context()),
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	limit := s.cfg.Get().API.MaxBodyBytes
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return errBadJSON
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return errBadJSON
	}
	return nil
}

func (s *Server) writeData(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSON(w, status, envelope{
		Success:       true,
		Data:          data,
		CorrelationID: logging.CorrelationID(r.Context()),
	})
}

// writeError maps service errors onto status codes and generic messages.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	resp := envelope{
		Error:         "Internal server error",
		CorrelationID: logging.CorrelationID(r.Context()),
	}
	var (
		verr     *validation.Error
		tooLarge *http.MaxBytesError
	)
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
		resp.Error = "Validation error"
		resp.Details = verr.Fields
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
		resp.Error = "Resource not found"
	case errors.Is(err, errBadJSON):
		status = http.StatusBadRequest
		resp.Error = "Invalid JSON body"
	case errors.As(err, &tooLarge):
		status = http.StatusRequestEntityTooLarge
		resp.Error = "Request body too large"
	}
	logger := logging.FromContext(r.Context(), s.logger)
	if status >= http.StatusInternalServerError {
		logger.Error("request error", "error", err, "method", r.Method, "path", r.URL.Path)
	} else {
		logger.Warn("request rejected", "error", err, "method", r.Method, "path", r.URL.Path, "status", status)
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
