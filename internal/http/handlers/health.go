// Package handlers implements the management API operations.
package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/jmylchreest/camstreamd/internal/mavlink"
	"github.com/jmylchreest/camstreamd/internal/stream"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BridgeStatus reports the telemetry bridge lifecycle state.
type BridgeStatus interface {
	State() mavlink.State
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	registry  *stream.Registry
	db        Pinger
	bridge    BridgeStatus
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string, registry *stream.Registry) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
		registry:  registry,
	}
}

// WithDB adds a database check.
func (h *HealthHandler) WithDB(db Pinger) *HealthHandler {
	h.db = db
	return h
}

// WithBridge adds the telemetry bridge state.
func (h *HealthHandler) WithBridge(b BridgeStatus) *HealthHandler {
	h.bridge = b
	return h
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns service status with system and process metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)

	huma.Register(api, huma.Operation{
		OperationID: "getLivez",
		Method:      "GET",
		Path:        "/livez",
		Summary:     "Liveness check",
		Tags:        []string{"System"},
	}, h.GetLivez)
}

// HealthResponse is the body of the health check.
type HealthResponse struct {
	Status        string            `json:"status"`
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	Uptime        string            `json:"uptime"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	CPU           CPUInfo           `json:"cpu"`
	Memory        MemoryInfo        `json:"memory"`
	Streams       int               `json:"streams"`
	Generation    uint64            `json:"generation" doc:"Media server attachment generation"`
	Checks        map[string]string `json:"checks"`
}

// CPUInfo is system load.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo is system and process memory in MiB.
type MemoryInfo struct {
	TotalMB     float64 `json:"total_mb"`
	UsedMB      float64 `json:"used_mb"`
	AvailableMB float64 `json:"available_mb"`
	ProcessMB   float64 `json:"process_mb"`
	// ChildrenMB covers running gst-launch pipelines.
	ChildrenMB    float64 `json:"children_mb"`
	ChildrenCount int     `json:"children_count"`
}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// GetHealth reports service health. A failing check degrades the status
// but still answers 200 so the response body stays readable.
func (h *HealthHandler) GetHealth(ctx context.Context, input *struct{}) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	body := HealthResponse{
		Status:        "healthy",
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       h.version,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		CPU:           cpuInfo(ctx),
		Memory:        memoryInfo(ctx),
		Checks:        map[string]string{},
	}

	if h.registry != nil {
		body.Streams = len(h.registry.Streams())
		body.Generation = h.registry.Generation()
	}

	if h.db != nil {
		body.Checks["database"] = "ok"
		if err := h.db.Ping(ctx); err != nil {
			body.Checks["database"] = "error"
			body.Status = "degraded"
		}
	}

	if h.bridge != nil {
		state := h.bridge.State()
		body.Checks["mavlink"] = state.String()
		if state != mavlink.StateRunning {
			body.Status = "degraded"
		}
	}

	return &HealthOutput{Body: body}, nil
}

// LivezOutput is the output for the liveness check.
type LivezOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// GetLivez answers as long as the process serves requests.
func (h *HealthHandler) GetLivez(ctx context.Context, input *struct{}) (*LivezOutput, error) {
	out := &LivezOutput{}
	out.Body.Status = "ok"
	return out, nil
}

func cpuInfo(ctx context.Context) CPUInfo {
	info := CPUInfo{Cores: runtime.NumCPU()}

	avg, err := load.AvgWithContext(ctx)
	if err != nil || avg == nil {
		return info
	}
	info.Load1Min = avg.Load1
	info.Load5Min = avg.Load5
	info.Load15Min = avg.Load15
	if info.Cores > 0 {
		info.LoadPercentage1Min = avg.Load1 / float64(info.Cores) * 100
	}
	return info
}

const mib = 1024 * 1024

func memoryInfo(ctx context.Context) MemoryInfo {
	var info MemoryInfo

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm != nil {
		info.TotalMB = float64(vm.Total) / mib
		info.UsedMB = float64(vm.Used) / mib
		info.AvailableMB = float64(vm.Available) / mib
	}

	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return info
	}
	if m, err := proc.MemoryInfoWithContext(ctx); err == nil && m != nil {
		info.ProcessMB = float64(m.RSS) / mib
	}
	children, err := proc.ChildrenWithContext(ctx)
	if err != nil {
		return info
	}
	info.ChildrenCount = len(children)
	for _, c := range children {
		if m, err := c.MemoryInfoWithContext(ctx); err == nil && m != nil {
			info.ChildrenMB += float64(m.RSS) / mib
		}
	}
	return info
}
