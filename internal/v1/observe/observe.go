// Package observe exposes the admin/observability surface: GET /health
// (status plus active room/connection counts), GET /performance/ (the last
// cleanup sweep's metrics), and POST /performance/cleanup/force (an
// on-demand sweep). Grounded on the teacher's gin admin-route style
// (internal/v1/session's admin_helpers.go, since deleted as part of the
// SFU-cluster removal — see DESIGN.md) combined with the HMAC bearer-token
// check pattern JerryYang666-moodio-agent/realtime/auth.go uses for its own
// session cookies, applied here instead to a static admin secret
// (config.AdminHMACSecret) since these routes have no end-user session.
package observe

import (
	"crypto/hmac"
	"crypto/sha256"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jamfabric/roomfabric/internal/v1/cleanup"
)

// mustValidator builds the embedded-spec validator once; a malformed
// embedded document is a programmer error caught at startup, not a runtime
// condition to recover from.
func mustValidator() gin.HandlerFunc {
	v, err := NewValidator()
	if err != nil {
		panic("observe: embedded admin OpenAPI document is invalid: " + err.Error())
	}
	return ValidateRequest(v)
}

// RoomCounts is the source of the active room/connection counts the Health
// route reports, kept as a narrow interface so this package does not need to
// import the namespace package directly.
type RoomCounts interface {
	ActiveRoomCount() int
	ActiveConnectionCount() int
}

// Handler serves the admin/observability endpoints.
type Handler struct {
	scheduler   *cleanup.Scheduler
	counts      RoomCounts
	adminSecret string
}

func NewHandler(scheduler *cleanup.Scheduler, counts RoomCounts, adminSecret string) *Handler {
	return &Handler{scheduler: scheduler, counts: counts, adminSecret: adminSecret}
}

// RequireAdmin guards the /performance routes with a constant-time bearer
// check against config.AdminHMACSecret — distinct from the Auth0-validated
// connection tokens the room namespace itself trusts.
func (h *Handler) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" || !hmac.Equal([]byte(sha256sum(token)), []byte(sha256sum(h.adminSecret))) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func sha256sum(s string) string {
	sum := sha256.Sum256([]byte(s))
	return string(sum[:])
}

// Health reports aggregate liveness plus active room/connection counts —
// distinct from internal/v1/health's liveness/readiness probes, which check
// dependency connectivity rather than application-level counts.
func (h *Handler) Health(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if h.counts != nil {
		resp["activeRooms"] = h.counts.ActiveRoomCount()
		resp["activeConnections"] = h.counts.ActiveConnectionCount()
	}
	c.JSON(http.StatusOK, resp)
}

// PerformanceSnapshot reports the last cleanup sweep's metrics.
func (h *Handler) PerformanceSnapshot(c *gin.Context) {
	m := h.scheduler.LastMetrics()
	c.JSON(http.StatusOK, gin.H{
		"namespacesChecked":   m.NamespacesChecked,
		"namespacesCleanedUp": m.NamespacesCleanedUp,
		"sessionsCleanedUp":   m.SessionsCleanedUp,
		"memoryFreedBytes":    m.MemoryFreed,
		"durationMs":          m.DurationMs,
		"lastRun":             m.LastRun,
	})
}

// ForceCleanup triggers an immediate sweep (aggressive mode), bypassing the
// scheduler's own ticker cadence — operator-invoked, never called from
// request-path code.
func (h *Handler) ForceCleanup(c *gin.Context) {
	m := h.scheduler.RunSweep(c.Request.Context(), true)
	c.JSON(http.StatusOK, gin.H{
		"namespacesCleanedUp": m.NamespacesCleanedUp,
		"durationMs":          m.DurationMs,
	})
}

// RegisterRoutes wires the admin group onto an existing gin engine/group,
// validating every request against the embedded OpenAPI document first.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	validate := mustValidator()
	r.GET("/health", validate, h.Health)
	admin := r.Group("/performance", validate, h.RequireAdmin())
	admin.GET("/", h.PerformanceSnapshot)
	admin.POST("/cleanup/force", h.ForceCleanup)
}
