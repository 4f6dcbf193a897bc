package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"untestables/gap"
	"untestables/model"
	"untestables/store"
	"untestables/utils"
)

// Server implements the management API handlers.
type Server struct {
	store    TaskStore
	executor *TaskExecutor
	logger   utils.Logger

	bound     model.Bound
	chunkSize int

	// background is the context handed to spawned task goroutines; request
	// contexts die with the request.
	background context.Context
}

// NewServer creates the API server.
func NewServer(taskStore TaskStore, executor *TaskExecutor, bound model.Bound, chunkSize int, logger utils.Logger) *Server {
	if logger == nil {
		logger = utils.NewDefaultLogger()
	}
	if chunkSize < 1 {
		chunkSize = model.DefaultChunkSize
	}
	return &Server{
		store:      taskStore,
		executor:   executor,
		logger:     logger,
		bound:      bound,
		chunkSize:  chunkSize,
		background: context.Background(),
	}
}

// ScanRangeRequest is the body of POST /api/v1/scan/range.
type ScanRangeRequest struct {
	MinStars int `json:"min_stars"`
	MaxStars int `json:"max_stars"`
}

// OrchestrateRequest is the body of POST /api/v1/orchestrate.
type OrchestrateRequest struct {
	DurationHours int `json:"duration_hours"`
}

// GapResponse is one unprocessed star range.
type GapResponse struct {
	MinStars int `json:"min_stars"`
	MaxStars int `json:"max_stars"`
	Size     int `json:"size"`
}

// ErrorResponse carries a handler error.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "untestables API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"scan":        "/api/v1/scan/range",
			"orchestrate": "/api/v1/orchestrate",
			"gaps":        "/api/v1/gaps",
			"tasks":       "/api/v1/tasks",
			"task_status": "/api/v1/tasks/{id}",
			"health":      "/health",
			"metrics":     "/metrics",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	taskStats, err := s.store.CountTasksByStatus(r.Context())
	if err != nil {
		s.logger.Warnf("counting tasks failed: %v", err)
		taskStats = map[string]int{}
	}
	repositories, err := s.store.CountRepositories(r.Context())
	if err != nil {
		s.logger.Warnf("counting repositories failed: %v", err)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "healthy",
		"database":     "connected",
		"repositories": repositories,
		"task_stats":   taskStats,
	})
}

func (s *Server) handleGaps(w http.ResponseWriter, r *http.Request) {
	processed, err := s.store.GetProcessedStarCounts(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	gaps := gap.Calculate(processed, s.bound, s.chunkSize)

	minSize := queryInt(r, "min_size", 0)
	limit := queryInt(r, "limit", 100)

	response := make([]GapResponse, 0, len(gaps))
	for _, g := range gaps {
		if g.Size() < minSize {
			continue
		}
		response = append(response, GapResponse{MinStars: g.Start, MaxStars: g.End, Size: g.Size()})
		if len(response) >= limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleScanRange(w http.ResponseWriter, r *http.Request) {
	var req ScanRangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if req.MinStars > req.MaxStars {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "min_stars must not exceed max_stars"})
		return
	}

	task := &model.ScanTask{
		ID:       uuid.New().String(),
		TaskType: model.TaskTypeScanRange,
		Status:   model.TaskStatusPending,
		MinStars: &req.MinStars,
		MaxStars: &req.MaxStars,
	}
	if err := s.store.CreateTask(r.Context(), task); err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	go s.executor.ExecuteScanTask(s.background, task.ID, req.MinStars, req.MaxStars)

	created, err := s.store.GetTask(r.Context(), task.ID)
	if err != nil {
		created = task
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleOrchestrate(w http.ResponseWriter, r *http.Request) {
	var req OrchestrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if req.DurationHours <= 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "duration_hours must be positive"})
		return
	}

	task := &model.ScanTask{
		ID:       uuid.New().String(),
		TaskType: model.TaskTypeOrchestration,
		Status:   model.TaskStatusPending,
		Parameters: map[string]interface{}{
			"duration_hours": req.DurationHours,
		},
	}
	if err := s.store.CreateTask(r.Context(), task); err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	go s.executor.ExecuteOrchestration(s.background, task.ID,
		time.Duration(req.DurationHours)*time.Hour)

	created, err := s.store.GetTask(r.Context(), task.ID)
	if err != nil {
		created = task
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	filter := store.TaskFilter{
		Status:   r.URL.Query().Get("status"),
		TaskType: r.URL.Query().Get("task_type"),
		Limit:    queryInt(r, "limit", 100),
		Offset:   queryInt(r, "offset", 0),
	}

	tasks, err := s.store.ListTasks(r.Context(), filter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if tasks == nil {
		tasks = []*model.ScanTask{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		if err == store.ErrTaskNotFound {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "task not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	task, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		if err == store.ErrTaskNotFound {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "task not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if task.Terminal() {
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "task already " + task.Status})
		return
	}

	if err := s.store.UpdateTask(r.Context(), id, store.TaskUpdate{Status: model.TaskStatusCancelled}); err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	cancelled, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, cancelled)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
