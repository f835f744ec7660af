package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/dispatcher"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/queue"
	"github.com/cuemby/burrow/pkg/runtime"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

var errPanic = errors.New("internal error")

// Config holds API server settings
type Config struct {
	Addr string
	// DefaultTimeout is applied to workloads created without one, in seconds
	DefaultTimeout int
	// DefaultMaxRetries is applied when max_retries is omitted
	DefaultMaxRetries int
	// DefaultNetwork is attached to workloads that do not name one
	DefaultNetwork string
}

// Server implements the collaborator HTTP API
type Server struct {
	store  storage.Store
	queue  queue.Queue
	cfg    Config
	http   *http.Server
	logger zerolog.Logger
}

// NewServer creates a new API server
func NewServer(store storage.Store, q queue.Queue, cfg Config) *Server {
	s := &Server{
		store:  store,
		queue:  q,
		cfg:    cfg,
		logger: log.WithComponent("api"),
	}
	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped route tree
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/workloads", s.createWorkload)
	mux.HandleFunc("GET /v1/workloads", s.listWorkloads)
	mux.HandleFunc("GET /v1/workloads/{id}", s.getWorkload)
	mux.HandleFunc("DELETE /v1/workloads/{id}", s.deleteWorkload)
	mux.HandleFunc("POST /v1/workloads/{id}/actions", s.createAction)
	mux.HandleFunc("GET /v1/workloads/{id}/actions", s.listActions)
	mux.HandleFunc("GET /v1/workloads/{id}/logs", s.listLogs)
	registerHealth(mux)
	return instrument(mux, s.logger)
}

// Serve accepts connections on l until Shutdown is called
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info().Str("addr", l.Addr().String()).Msg("API server listening")
	if err := s.http.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// ListenAndServe listens on the configured address
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(l)
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// --- Workloads ---

func (s *Server) createWorkload(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkloadRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Image == "" {
		writeError(w, http.StatusBadRequest, errors.New("image is required"))
		return
	}
	if _, _, err := runtime.SplitImage(req.Image); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Timeout < 0 {
		writeError(w, http.StatusBadRequest, errors.New("timeout must not be negative"))
		return
	}

	workload := &types.Workload{
		ID:         req.ID,
		Name:       req.Name,
		Tenant:     req.Tenant,
		Image:      req.Image,
		Port:       req.Port,
		Path:       req.Path,
		Env:        req.Env,
		Command:    req.Command,
		Network:    req.Network,
		State:      types.WorkloadStateInitial,
		Timeout:    req.Timeout,
		MaxRetries: s.cfg.DefaultMaxRetries,
	}
	for _, u := range req.Ulimits {
		workload.Ulimits = append(workload.Ulimits, &types.Ulimit{Name: u.Name, Soft: u.Soft, Hard: u.Hard})
	}
	if workload.Timeout == 0 {
		workload.Timeout = s.cfg.DefaultTimeout
	}
	if workload.Network == "" {
		workload.Network = s.cfg.DefaultNetwork
	}
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			writeError(w, http.StatusBadRequest, errors.New("max_retries must not be negative"))
			return
		}
		workload.MaxRetries = *req.MaxRetries
	}
	if workload.ID == "" {
		workload.ID = uuid.New().String()
	}
	if workload.Name == "" {
		workload.Name = workload.ID
	}

	if err := s.store.CreateWorkload(workload); err != nil {
		s.storeError(w, err)
		return
	}

	s.logger.Info().
		Str("workload_id", workload.ID).
		Str("tenant", workload.Tenant).
		Str("image", workload.Image).
		Msg("workload created")
	writeJSON(w, http.StatusCreated, workloadView(workload, nil))
}

func (s *Server) listWorkloads(w http.ResponseWriter, r *http.Request) {
	var (
		workloads []*types.Workload
		err       error
	)
	if tenant := r.URL.Query().Get("tenant"); tenant != "" {
		workloads, err = s.store.ListWorkloadsByTenant(tenant)
	} else {
		workloads, err = s.store.ListWorkloads()
	}
	if err != nil {
		s.storeError(w, err)
		return
	}

	views := make([]WorkloadView, 0, len(workloads))
	for _, wl := range workloads {
		views = append(views, workloadView(wl, s.lastAction(wl)))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) getWorkload(w http.ResponseWriter, r *http.Request) {
	workload, err := s.store.GetWorkload(r.PathValue("id"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workloadView(workload, s.lastAction(workload)))
}

// deleteWorkload removes the record with its history. Only a workload with
// no container behind it can be removed; run the delete action first.
func (s *Server) deleteWorkload(w http.ResponseWriter, r *http.Request) {
	workload, err := s.store.GetWorkload(r.PathValue("id"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	switch {
	case workload.ContainerID != "":
		writeError(w, http.StatusConflict, fmt.Errorf("workload %s still has container %s", workload.ID, workload.ContainerID))
		return
	case workload.State != types.WorkloadStateInitial && workload.State != types.WorkloadStateDeleted:
		writeError(w, http.StatusConflict, fmt.Errorf("workload %s is %s, delete it first", workload.ID, workload.State))
		return
	}

	if err := s.store.DeleteWorkload(workload.ID); err != nil {
		s.storeError(w, err)
		return
	}
	s.logger.Info().Str("workload_id", workload.ID).Str("tenant", workload.Tenant).Msg("workload removed")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) lastAction(wl *types.Workload) *types.Action {
	if wl.LastActionID == "" {
		return nil
	}
	a, err := s.store.GetAction(wl.LastActionID)
	if err != nil {
		return nil
	}
	return a
}

// --- Actions ---

func (s *Server) createAction(w http.ResponseWriter, r *http.Request) {
	var req CreateActionRequest
	if !decode(w, r, &req) {
		return
	}
	kind := types.ActionKind(strings.ToLower(req.Action))
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown action %q", req.Action))
		return
	}
	var delay time.Duration
	if req.Delay != "" {
		d, err := time.ParseDuration(req.Delay)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid delay %q", req.Delay))
			return
		}
		delay = d
	}

	workload, err := s.store.GetWorkload(r.PathValue("id"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	// Rejected again at execution time if the state moves meanwhile
	if _, err := dispatcher.Plan(kind, workload.State); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}

	action := &types.Action{WorkloadID: workload.ID, Kind: kind}
	if err := s.store.CreateAction(action); err != nil {
		s.storeError(w, err)
		return
	}
	job := queue.Job{ID: action.ID, Kind: queue.KindAction, Payload: action.ID}
	if err := s.queue.Enqueue(r.Context(), job, delay); err != nil {
		s.logger.Error().Err(err).Str("action_id", action.ID).Msg("failed to enqueue action")
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("failed to enqueue action: %w", err))
		return
	}

	s.logger.Info().
		Str("workload_id", workload.ID).
		Str("action_id", action.ID).
		Str("action", string(kind)).
		Dur("delay", delay).
		Msg("action enqueued")
	writeJSON(w, http.StatusAccepted, actionView(action))
}

func (s *Server) listActions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetWorkload(id); err != nil {
		s.storeError(w, err)
		return
	}
	actions, err := s.store.ListActionsByWorkload(id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	views := make([]ActionView, 0, len(actions))
	for _, a := range actions {
		views = append(views, actionView(a))
	}
	writeJSON(w, http.StatusOK, views)
}

// --- Logs ---

func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetWorkload(id); err != nil {
		s.storeError(w, err)
		return
	}
	entries, err := s.store.ListLogs(id)
	if err != nil {
		s.storeError(w, err)
		return
	}

	source := r.URL.Query().Get("source")
	views := make([]LogEntryView, 0, len(entries))
	for _, e := range entries {
		if source != "" && string(e.Source) != source {
			continue
		}
		views = append(views, logEntryView(e))
	}
	writeJSON(w, http.StatusOK, views)
}

// --- Helpers ---

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, storage.ErrExists), errors.Is(err, storage.ErrConflict):
		writeError(w, http.StatusConflict, err)
	default:
		s.logger.Error().Err(err).Msg("storage error")
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, ErrorResponse{Error: err.Error()})
}
