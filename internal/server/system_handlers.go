package server

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/aristath/vaultpilot/internal/database"
	"github.com/aristath/vaultpilot/internal/domain"
	"github.com/aristath/vaultpilot/internal/scheduler"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// JobRunner runs registered jobs on demand
type JobRunner interface {
	RunNow(job scheduler.Job) error
}

// SystemHandlers serves system status and job triggers
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	startupTime time.Time
	databases   []*database.DB
	vaults      domain.VaultStore
	runner      JobRunner
	jobs        map[string]scheduler.Job
}

// NewSystemHandlers creates system handlers. jobs may be nil when no
// scheduler is wired.
func NewSystemHandlers(
	log zerolog.Logger,
	dataDir string,
	databases []*database.DB,
	vaults domain.VaultStore,
	runner JobRunner,
	jobs map[string]scheduler.Job,
) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		dataDir:     dataDir,
		startupTime: time.Now(),
		databases:   databases,
		vaults:      vaults,
		runner:      runner,
		jobs:        jobs,
	}
}

// DatabaseStatus reports one database
type DatabaseStatus struct {
	Name         string `json:"name"`
	Healthy      bool   `json:"healthy"`
	Error        string `json:"error,omitempty"`
	SizeBytes    int64  `json:"size_bytes"`
	WALSizeBytes int64  `json:"wal_size_bytes"`
}

// SystemStatusResponse is returned by GET /api/system/status
type SystemStatusResponse struct {
	Status        string           `json:"status"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	VaultCount    int              `json:"vault_count"`
	CPUPercent    float64          `json:"cpu_percent"`
	MemoryPercent float64          `json:"memory_percent"`
	DiskFreeGB    float64          `json:"disk_free_gb"`
	DiskPercent   float64          `json:"disk_used_percent"`
	Databases     []DatabaseStatus `json:"databases"`
	Jobs          []string         `json:"jobs"`
	Timestamp     string           `json:"timestamp"`
}

// HandleSystemStatus returns process, host and database health
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	response := SystemStatusResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(h.startupTime).Seconds()),
		Databases:     make([]DatabaseStatus, 0, len(h.databases)),
		Jobs:          h.jobNames(),
		Timestamp:     time.Now().Format(time.RFC3339),
	}

	if vaults, err := h.vaults.ListVaults(ctx); err != nil {
		h.log.Warn().Err(err).Msg("Failed to count vaults")
		response.Status = "degraded"
	} else {
		response.VaultCount = len(vaults)
	}

	for _, db := range h.databases {
		st := DatabaseStatus{Name: db.Name(), Healthy: true}
		if err := db.HealthCheck(ctx); err != nil {
			st.Healthy = false
			st.Error = err.Error()
			response.Status = "degraded"
		}
		if stats, err := db.GetStats(); err == nil {
			st.SizeBytes = stats.SizeBytes
			st.WALSizeBytes = stats.WALSizeBytes
		}
		response.Databases = append(response.Databases, st)
	}

	response.CPUPercent, response.MemoryPercent = h.getSystemStats(ctx)
	if usage, err := disk.UsageWithContext(ctx, h.dataDir); err != nil {
		h.log.Warn().Err(err).Msg("Failed to get disk usage")
	} else {
		response.DiskFreeGB = float64(usage.Free) / 1024 / 1024 / 1024
		response.DiskPercent = usage.UsedPercent
	}

	writeJSON(w, http.StatusOK, response, h.log)
}

// getSystemStats returns CPU and RAM usage percentages, sampling CPU over
// 100ms so the call stays fast
func (h *SystemHandlers) getSystemStats(ctx context.Context) (float64, float64) {
	cpuPercent, err := cpu.PercentWithContext(ctx, 100*time.Millisecond, false)
	if err != nil || len(cpuPercent) == 0 {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return cpuPercent[0], 0
	}
	return cpuPercent[0], memStat.UsedPercent
}

// HandleListJobs returns the names of jobs that can be triggered
func (h *SystemHandlers) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": h.jobNames()}, h.log)
}

// HandleRunJob starts a registered job in the background
// POST /api/system/jobs/{name}/run
func (h *SystemHandlers) HandleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	job, ok := h.jobs[name]
	if !ok || h.runner == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown job: " + name}, h.log)
		return
	}

	h.log.Info().Str("job", name).Msg("Manual job run triggered")
	go func() {
		if err := h.runner.RunNow(job); err != nil {
			h.log.Error().Err(err).Str("job", name).Msg("Manual job run failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"message": "Job " + name + " started",
	}, h.log)
}

func (h *SystemHandlers) jobNames() []string {
	names := make([]string, 0, len(h.jobs))
	for name := range h.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
