package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

const defaultRowLimit = 100

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"uptimeSeconds": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	statuses, lastRun, lastError := s.collector.Statuses()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"chains":    statuses,
		"lastRun":   lastRun,
		"lastError": lastError,
	})
}

func (s *Server) handleRates(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultRowLimit)

	var chainID *uint64
	if raw := r.URL.Query().Get("chainId"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid chainId")
			return
		}
		chainID = &id
	}

	rates, err := s.collector.Rates(chainID, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"rates": rates})
}

func (s *Server) handlePoolPrices(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultRowLimit)

	observations, err := s.collector.PoolPrices(limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"poolPrices": observations})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"metrics": s.collector.Metrics(),
		"scores":  s.collector.Scores(),
	})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	from := time.Now().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid from timestamp")
			return
		}
		from = parsed
	}

	var to *time.Time
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid to timestamp")
			return
		}
		to = &parsed
	}

	list, err := s.tasks.GetAllTasks(from, to)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": list})
}

func (s *Server) handleActiveTasks(w http.ResponseWriter, r *http.Request) {
	list, err := s.tasks.GetActiveTasks()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": list})
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.GetTask(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if task == nil {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleForceStart(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	task, err := s.runner.ForceStart(r.Context(), name)
	if err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, task)
}

// handleSystem reports host resource usage for the dashboard.
func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	out := map[string]interface{}{}

	if percent, err := cpu.Percent(0, false); err == nil && len(percent) > 0 {
		out["cpuPercent"] = percent[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		out["memory"] = map[string]interface{}{
			"totalMb":     vm.Total / 1024 / 1024,
			"usedMb":      vm.Used / 1024 / 1024,
			"usedPercent": vm.UsedPercent,
		}
	}
	if usage, err := disk.Usage(s.dataDir); err == nil {
		out["disk"] = map[string]interface{}{
			"totalMb":     usage.Total / 1024 / 1024,
			"usedMb":      usage.Used / 1024 / 1024,
			"usedPercent": usage.UsedPercent,
		}
	}

	s.writeJSON(w, http.StatusOK, out)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
