package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// handleHealth answers {status, scheduler_running, active_users, jobs}.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	activeUsers := 0
	if users, err := s.store.Users.ListMonitored(); err != nil {
		s.log.Error().Err(err).Msg("list monitored users for health check")
	} else {
		activeUsers = len(users)
	}

	status := "ok"
	if s.sched == nil || !s.sched.Running() {
		status = "degraded"
	}

	var jobs []string
	if s.sched != nil {
		jobs = s.sched.Jobs()
	}

	resp := map[string]any{
		"status":            status,
		"scheduler_running": s.sched != nil && s.sched.Running(),
		"active_users":      activeUsers,
		"jobs":              jobs,
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleSystemStatus reports process stats: uptime, CPU, memory, goroutines.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, ramPercent := s.processStats()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	resp := map[string]any{
		"uptime_seconds": time.Since(s.startupTime).Seconds(),
		"cpu_percent":    cpuPercent,
		"ram_percent":    ramPercent,
		"goroutines":     runtime.NumGoroutine(),
		"heap_alloc_mb":  m.Alloc / 1024 / 1024,
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// processStats samples CPU over a short window and memory instantaneously,
// matching the reference's fast-response health-poll shape.
func (s *Server) processStats() (float64, float64) {
	pct, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("read cpu percent")
		pct = []float64{0}
	}
	memStat, err := mem.VirtualMemory()
	if err != nil {
		s.log.Warn().Err(err).Msg("read memory stats")
		return cpuAvg(pct), 0
	}
	return cpuAvg(pct), memStat.UsedPercent
}

func cpuAvg(pct []float64) float64 {
	if len(pct) == 0 {
		return 0
	}
	return pct[0]
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
