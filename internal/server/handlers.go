package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/quantaalpha/triald/internal/errors"
	"github.com/quantaalpha/triald/internal/orchestrator"
	"github.com/quantaalpha/triald/internal/task"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondSuccess(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}, "")
}

func (s *Server) handleMiningStart(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.MiningRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	id, err := s.orch.StartMining(req)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.respondSuccess(w, http.StatusOK, map[string]string{"taskId": id}, "mining task started")
}

func (s *Server) handleMiningList(w http.ResponseWriter, r *http.Request) {
	all := s.orch.List()
	tasks := make([]task.Snapshot, 0, len(all))
	for _, snap := range all {
		if snap.Kind == task.KindMining {
			tasks = append(tasks, snap)
		}
	}
	s.respondSuccess(w, http.StatusOK, map[string]any{
		"tasks": tasks,
		"total": len(tasks),
	}, "")
}

func (s *Server) handleMiningGet(w http.ResponseWriter, r *http.Request) {
	s.handleTaskGet(w, r, task.KindMining)
}

func (s *Server) handleMiningCancel(w http.ResponseWriter, r *http.Request) {
	s.handleTaskCancel(w, r, task.KindMining)
}

func (s *Server) handleBacktestStart(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	id, err := s.orch.StartBacktest(req)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.respondSuccess(w, http.StatusOK, map[string]string{"taskId": id}, "backtest task started")
}

func (s *Server) handleBacktestGet(w http.ResponseWriter, r *http.Request) {
	s.handleTaskGet(w, r, task.KindBacktest)
}

func (s *Server) handleBacktestCancel(w http.ResponseWriter, r *http.Request) {
	s.handleTaskCancel(w, r, task.KindBacktest)
}

// handleTaskGet returns one task snapshot. Ids are kind-scoped: asking
// the mining endpoint about a backtest task is a 404, matching clients
// that treat the two surfaces as separate collections.
func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request, kind task.Kind) {
	snap, ok := s.lookupTask(w, r, kind)
	if !ok {
		return
	}
	s.respondSuccess(w, http.StatusOK, snap, "")
}

func (s *Server) handleTaskCancel(w http.ResponseWriter, r *http.Request, kind task.Kind) {
	snap, ok := s.lookupTask(w, r, kind)
	if !ok {
		return
	}

	if err := s.orch.Cancel(snap.TaskID); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondSuccess(w, http.StatusOK, map[string]string{"taskId": snap.TaskID}, "task cancelled")
}

func (s *Server) lookupTask(w http.ResponseWriter, r *http.Request, kind task.Kind) (task.Snapshot, bool) {
	taskID := chi.URLParam(r, "taskID")
	snap, err := s.orch.Get(taskID)
	if err != nil || snap.Kind != kind {
		if err != nil && !errors.IsNotFound(err) {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return task.Snapshot{}, false
		}
		s.respondError(w, http.StatusNotFound, string(kind)+" task '"+taskID+"' not found")
		return task.Snapshot{}, false
	}
	return snap, true
}
