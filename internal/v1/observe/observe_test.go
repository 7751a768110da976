package observe

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamfabric/roomfabric/internal/v1/cleanup"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeDisposer struct{}

func (fakeDisposer) AllNamespaces() []cleanup.NamespaceView        { return nil }
func (fakeDisposer) Dispose(path string) int                       { return 0 }
func (fakeDisposer) ReapStaleSessions(olderThan time.Duration) int { return 0 }

type fakeCounts struct{ rooms, conns int }

func (f fakeCounts) ActiveRoomCount() int       { return f.rooms }
func (f fakeCounts) ActiveConnectionCount() int { return f.conns }

func newTestHandler(secret string) *Handler {
	sched := cleanup.New(fakeDisposer{})
	return NewHandler(sched, fakeCounts{rooms: 2, conns: 5}, secret)
}

func newTestRouter(h *Handler) *gin.Engine {
	r := gin.New()
	h.RegisterRoutes(r.Group("/admin"))
	return r
}

func TestHealthReportsActiveCounts(t *testing.T) {
	h := newTestHandler("secret")
	r := newTestRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/health", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"activeRooms":2`)
	assert.Contains(t, w.Body.String(), `"activeConnections":5`)
}

func TestForceCleanupRequiresAdminBearer(t *testing.T) {
	h := newTestHandler("topsecret")
	r := newTestRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/performance/cleanup/force", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestForceCleanupAcceptsMatchingBearer(t *testing.T) {
	h := newTestHandler("topsecret")
	r := newTestRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/performance/cleanup/force", nil)
	req.Header.Set("Authorization", "Bearer topsecret")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestForceCleanupRejectsWrongBearer(t *testing.T) {
	h := newTestHandler("topsecret")
	r := newTestRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/performance/cleanup/force", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPerformanceSnapshotRequiresAdminBearerAndValidatesRoute(t *testing.T) {
	h := newTestHandler("topsecret")
	r := newTestRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/performance/", nil)
	req.Header.Set("Authorization", "Bearer topsecret")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "namespacesChecked")
}

func TestValidateRequestRejectsUnknownRoute(t *testing.T) {
	h := newTestHandler("secret")
	r := newTestRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/bogus", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRequireAdminConstantTimeCompareDoesNotPanicOnEmptyToken(t *testing.T) {
	h := newTestHandler("")
	r := newTestRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/performance/cleanup/force", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
