package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"dbvault/internal/adapter"
	"dbvault/internal/errors"
	"dbvault/internal/restore"
)

const defaultExecutionLimit = 50

// handleStartRestore accepts a restore submission. Preflight runs
// synchronously, so a 202 means the pipeline is actually underway.
func (s *Server) handleStartRestore(w http.ResponseWriter, r *http.Request) {
	var req restore.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, errors.NewConfigError(errors.ErrCodeInvalidRequest,
			"Request body is not valid JSON", "Submit a JSON restore request."))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, r, errors.NewConfigError(errors.ErrCodeInvalidRequest,
			"Restore request failed validation: "+err.Error(),
			"Supply storageConfigId, file, and targetSourceId."))
		return
	}

	exec, err := s.restores.Start(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"executionId": exec.ID,
	})
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := defaultExecutionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, r, errors.NewConfigError(errors.ErrCodeInvalidRequest,
				"limit must be a positive integer", ""))
			return
		}
		limit = n
	}

	execs, err := s.execs.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, execs)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	exec, err := s.execs.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if exec == nil {
		s.writeError(w, r, errors.NewConfigError(errors.ErrCodeUnknownConfig,
			"No execution with id "+id, ""))
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// adapterSummary is the public view of a stored adapter config. The
// params map stays server-side: it holds connection secrets.
type adapterSummary struct {
	ID          string       `json:"id"`
	Kind        adapter.Kind `json:"kind"`
	Adapter     string       `json:"adapter"`
	DisplayName string       `json:"displayName,omitempty"`
}

func (s *Server) handleListAdapters(w http.ResponseWriter, r *http.Request) {
	kind := adapter.Kind(r.URL.Query().Get("kind"))
	if kind != "" && kind != adapter.KindStorage && kind != adapter.KindDatabase {
		s.writeError(w, r, errors.NewConfigError(errors.ErrCodeInvalidRequest,
			"kind must be 'storage' or 'database'", ""))
		return
	}

	configs := s.store.Adapters(kind)
	out := make([]adapterSummary, 0, len(configs))
	for _, c := range configs {
		out = append(out, adapterSummary{
			ID: c.ID, Kind: c.Kind, Adapter: c.Adapter, DisplayName: c.DisplayName,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleTestAdapter runs a connectivity probe against one configured
// adapter and returns what the probe saw.
func (s *Server) handleTestAdapter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cfg, err := s.store.Adapter(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	params, err := s.keeper.OpenAll(cfg.Params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg.Params = params

	var result adapter.TestResult
	switch cfg.Kind {
	case adapter.KindStorage:
		impl, err := s.reg.Storage(cfg.Adapter)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		result = impl.Test(r.Context(), cfg)
	case adapter.KindDatabase:
		impl, err := s.reg.Database(cfg.Adapter)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		result = impl.Test(r.Context(), cfg)
	default:
		s.writeError(w, r, errors.NewInternalError(errors.ErrCodeInvalidState,
			"Stored adapter config has unknown kind", nil))
		return
	}

	writeJSON(w, http.StatusOK, result)
}
