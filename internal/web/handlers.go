package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/darkace1998/PostureLens/internal/assessment"
	"github.com/darkace1998/PostureLens/internal/compare"
	"github.com/darkace1998/PostureLens/internal/manifest"
	"github.com/darkace1998/PostureLens/internal/model"
	"github.com/darkace1998/PostureLens/internal/scheduler"
)

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("Writing response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorBody{Error: msg})
}

// fail maps service errors to HTTP status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, assessment.ErrUnknownTenant), errors.Is(err, manifest.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, compare.ErrTenantMismatch):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("%s %s: %v", r.Method, r.URL.Path, err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// AboutData is the response of /api/about.
type AboutData struct {
	Version       string `json:"version"`
	Uptime        string `json:"uptime"`
	Tenants       int    `json:"tenants"`
	Demo          bool   `json:"demo"`
	CacheBackend  string `json:"cache_backend"`
	StorageDriver string `json:"storage_driver"`
	Scheduler     bool   `json:"scheduler"`
}

func (s *Server) handleAbout(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, AboutData{
		Version:       s.version,
		Uptime:        time.Since(s.startTime).Round(time.Second).String(),
		Tenants:       len(s.svc.Tenants()),
		Demo:          s.fullCfg.Demo,
		CacheBackend:  s.fullCfg.Cache.Backend,
		StorageDriver: s.fullCfg.Storage.Driver,
		Scheduler:     s.sched != nil,
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs := []scheduler.Run{}
	if s.sched != nil {
		runs = s.sched.Runs()
	}
	s.writeJSON(w, http.StatusOK, runs)
}

// TenantEntry is one row of /api/tenants.
type TenantEntry struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Frameworks []string           `json:"frameworks,omitempty"`
	Latest     *model.ManifestRef `json:"latest"`
}

func (s *Server) handleTenants(w http.ResponseWriter, r *http.Request) {
	tenants := s.svc.Tenants()
	out := make([]TenantEntry, 0, len(tenants))
	for _, t := range tenants {
		e := TenantEntry{ID: t.ID, Name: t.Name, Frameworks: t.Frameworks}
		m, err := s.svc.Latest(r.Context(), t.ID)
		switch {
		case err == nil:
			ref := m.Ref()
			e.Latest = &ref
		case !errors.Is(err, manifest.ErrNotFound):
			s.fail(w, r, err)
			return
		}
		out = append(out, e)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	refs, err := s.svc.History(r.Context(), r.PathValue("tenant"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, refs)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	m, err := s.svc.Latest(r.Context(), r.PathValue("tenant"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	m, err := s.svc.Get(r.Context(), r.PathValue("tenant"), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	if _, err := s.svc.Tenant(tenant); err != nil {
		s.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	prev, cur := q.Get("previous"), q.Get("current")
	if prev == "" || cur == "" {
		s.writeError(w, http.StatusBadRequest, "previous and current assessment ids are required")
		return
	}
	res, err := s.svc.Compare(r.Context(), tenant, prev, cur)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAssess(w http.ResponseWriter, r *http.Request) {
	m, err := s.svc.Assess(r.Context(), r.PathValue("tenant"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, m)
}
