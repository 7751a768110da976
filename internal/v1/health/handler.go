package health

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/jamfabric/roomfabric/internal/v1/bus"
	"github.com/jamfabric/roomfabric/internal/v1/logging"
	"go.uber.org/zap"
)

// BackendChecker checks the health of a gRPC-speaking storage/repo backend.
type BackendChecker interface {
	Check(ctx context.Context, addr string) string
}

// DefaultBackendChecker is the default implementation of BackendChecker.
type DefaultBackendChecker struct{}

// Check verifies gRPC connectivity to a backend using the standard health
// check protocol. It is the only backend probe this package makes; there is
// no separate round-trip check against the pgx/minio adapters.
func (c *DefaultBackendChecker) Check(ctx context.Context, addr string) string {
	conn, err := grpc.NewClient(
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		logging.Error(ctx, "failed to connect to backend for health check", zap.Error(err), zap.String("addr", addr))
		return "unhealthy"
	}
	defer func() { _ = conn.Close() }()

	healthClient := healthpb.NewHealthClient(conn)

	resp, err := healthClient.Check(ctx, &healthpb.HealthCheckRequest{
		Service: "",
	})
	if err != nil {
		logging.Error(ctx, "backend health check RPC failed", zap.Error(err))
		return "unhealthy"
	}

	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		logging.Warn(ctx, "backend is not serving", zap.String("status", resp.Status.String()))
		return "unhealthy"
	}

	return "healthy"
}

// Handler manages health check endpoints.
type Handler struct {
	redisService  *bus.Service
	backendAddr   string
	backendEnabled bool
	backendChecker BackendChecker
}

// NewHandler creates a new health check handler.
func NewHandler(redisService *bus.Service) *Handler {
	backendAddr := os.Getenv("BACKEND_HEALTH_ADDR")
	if backendAddr == "" {
		backendAddr = "localhost:50051"
	}

	backendEnabled := os.Getenv("BACKEND_HEALTH_CHECK_ENABLED") != "false"

	return &Handler{
		redisService:   redisService,
		backendAddr:    backendAddr,
		backendEnabled: backendEnabled,
		backendChecker: &DefaultBackendChecker{},
	}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint.
// GET /health/live — returns 200 if the process is alive (no dependency checks).
func (h *Handler) Liveness(c *gin.Context) {
	response := LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(http.StatusOK, response)
}

// Readiness handles the readiness probe endpoint.
// GET /health/ready — returns 200 only if all critical dependencies are
// healthy, 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	redisStatus := h.checkRedis(ctx)
	checks["redis"] = redisStatus
	if redisStatus != "healthy" {
		allHealthy = false
	}

	if h.backendEnabled {
		backendStatus := h.checkBackend(ctx)
		checks["backend"] = backendStatus
		if backendStatus != "healthy" {
			allHealthy = false
		}
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(statusCode, response)
}

// checkRedis verifies bus connectivity using PING.
func (h *Handler) checkRedis(ctx context.Context) string {
	if h.redisService == nil {
		return "healthy"
	}

	if err := h.redisService.Ping(ctx); err != nil {
		logging.Error(ctx, "bus health check failed", zap.Error(err))
		return "unhealthy"
	}

	return "healthy"
}

// checkBackend verifies connectivity to the repo/storage backend.
func (h *Handler) checkBackend(ctx context.Context) string {
	if h.backendChecker == nil {
		return "unhealthy"
	}
	return h.backendChecker.Check(ctx, h.backendAddr)
}

// HealthCheckResponse is a generic health check response for backward compatibility.
type HealthCheckResponse struct {
	Status string         `json:"status"`
	Data   map[string]any `json:"data,omitempty"`
}

// MarshalJSON implements custom JSON marshaling for better formatting.
func (r ReadinessResponse) MarshalJSON() ([]byte, error) {
	type Alias ReadinessResponse
	return json.Marshal(&struct {
		*Alias
	}{
		Alias: (*Alias)(&r),
	})
}
