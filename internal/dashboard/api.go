package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/abhiyant/inspect/internal/record"
	"github.com/abhiyant/inspect/internal/service"
	"github.com/abhiyant/inspect/internal/store"
	syncer "github.com/abhiyant/inspect/internal/sync"
)

// maxBodyBytes caps request bodies for record writes.
const maxBodyBytes = 1 << 20

// observe records request metrics and logs each request.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unknown"
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)

		s.metrics.ObserveRequest(route, r.Method, status, elapsed)
		s.logger.Debugw("http request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"route", route,
			"status_code", status,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}

// parseQuery reads the q and status parameters.
func parseQuery(r *http.Request) (store.Query, error) {
	q := store.Query{Text: r.URL.Query().Get("q")}
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, err := record.ParseStatus(raw)
		if err != nil {
			return store.Query{}, err
		}
		q.Status = st
	}
	return q, nil
}

func parseID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid inspection id %q", chi.URLParam(r, "id"))
	}
	return id, nil
}

func decodeRecord(r *http.Request) (*record.InspectionRecord, error) {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	var rec record.InspectionRecord
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("invalid inspection body: %w", err)
	}
	if rec.Status != "" {
		st, err := record.ParseStatus(string(rec.Status))
		if err != nil {
			return nil, err
		}
		rec.Status = st
	}
	return &rec, nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	recs, err := s.svc.Snapshot(r.Context(), q)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if recs == nil {
		recs = []record.InspectionRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := s.svc.GetByID(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, &record.NotFoundError{ID: id})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	rec, err := decodeRecord(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec.ID = 0

	id, err := s.svc.Create(r.Context(), rec)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeRecord(w, r, id, http.StatusCreated)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := decodeRecord(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec.ID = id

	if err := s.svc.Update(r.Context(), rec); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeRecord(w, r, id, http.StatusOK)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.svc.Delete(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.SyncStatus())
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.SyncNow(r.Context())
	switch {
	case errors.Is(err, syncer.ErrSyncInProgress):
		writeJSON(w, http.StatusConflict, status)
	case errors.Is(err, service.ErrNoRemote):
		writeError(w, http.StatusServiceUnavailable, err)
	case record.IsRemote(err):
		writeJSON(w, http.StatusBadGateway, status)
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, status)
	default:
		writeJSON(w, http.StatusOK, status)
	}
}

// writeRecord re-reads id so the response carries store-assigned fields.
func (s *Server) writeRecord(w http.ResponseWriter, r *http.Request, id int64, code int) {
	rec, err := s.svc.GetByID(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, &record.NotFoundError{ID: id})
		return
	}
	writeJSON(w, code, rec)
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case record.IsValidation(err):
		writeError(w, http.StatusBadRequest, err)
	case record.IsNotFound(err):
		writeError(w, http.StatusNotFound, err)
	case record.IsRemote(err):
		writeError(w, http.StatusBadGateway, err)
	default:
		s.logger.Errorw("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
