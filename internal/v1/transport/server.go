package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/jamfabric/roomfabric/internal/v1/admission"
	"github.com/jamfabric/roomfabric/internal/v1/auth"
	"github.com/jamfabric/roomfabric/internal/v1/clock"
	"github.com/jamfabric/roomfabric/internal/v1/logging"
	"github.com/jamfabric/roomfabric/internal/v1/repo"
	"github.com/jamfabric/roomfabric/internal/v1/room"
	"go.uber.org/zap"
)

// AdaptValidator wraps an *auth.Validator's JWT validation into the
// TokenValidator func shape, deriving a display name from the token's
// name/email claims the same way the teacher's ServeWs does.
func AdaptValidator(v *auth.Validator) TokenValidator {
	return func(tokenString string) (userClaims, error) {
		claims, err := v.ValidateToken(tokenString)
		if err != nil {
			return userClaims{}, err
		}
		name := claims.Name
		if name == "" && claims.Email != "" {
			if parts := strings.Split(claims.Email, "@"); len(parts) > 0 {
				name = parts[0]
			}
		}
		return userClaims{subject: claims.Subject, displayName: name}, nil
	}
}

// AdaptMockValidator wraps the teacher's development-only MockValidator,
// used when config.Config.SkipAuth is set.
func AdaptMockValidator(v *auth.MockValidator) TokenValidator {
	return func(tokenString string) (userClaims, error) {
		claims, err := v.ValidateToken(tokenString)
		if err != nil {
			return userClaims{}, err
		}
		name := claims.Name
		if name == "" {
			name = claims.Subject
		}
		return userClaims{subject: claims.Subject, displayName: name}, nil
	}
}

// TokenValidator authenticates a bearer/query token into a user id plus a
// display name. auth.Validator and auth.MockValidator return
// *auth.CustomClaims, not this shape directly; AdaptValidator and
// AdaptMockValidator above convert them into it.
type TokenValidator func(tokenString string) (userClaims, error)

type userClaims struct {
	subject     string
	displayName string
}

func (c userClaims) Subject() string     { return c.subject }
func (c userClaims) DisplayName() string { return c.displayName }

// Server is the HTTP/WebSocket accept layer: it authenticates a connection,
// resolves its room metadata through a repo.RoomRepository, and hands the
// upgraded socket to a transport.Client wired to the Router. Grounded on
// the teacher's Hub.ServeWs (internal/v1/session/hub.go), generalized from
// a single hard-coded auth path into one that accepts any TokenValidator
// (real Auth0 validator or the teacher's MockValidator in SKIP_AUTH mode).
type Server struct {
	validator      TokenValidator
	rooms          repo.RoomRepository
	router         Router
	allowedOrigins []string
	clock          clock.Clock
	admitter       *admission.Admitter
}

func NewServer(validator TokenValidator, rooms repo.RoomRepository, router Router, allowedOrigins []string, c clock.Clock) *Server {
	if c == nil {
		c = clock.Real{}
	}
	return &Server{validator: validator, rooms: rooms, router: router, allowedOrigins: allowedOrigins, clock: c}
}

// WithAdmission attaches Connection Admission (C10) to the accept path: a
// connection is evaluated against per-room/global caps and the per-IP gate
// before the socket is upgraded.
func (s *Server) WithAdmission(a *admission.Admitter) *Server {
	s.admitter = a
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range s.allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return true
		}
	}
	return false
}

// ServeWs authenticates the caller, resolves or creates the target room's
// metadata, upgrades the connection, and starts the client pumps. The
// dispatcher itself is never told how ownership/privacy were resolved — it
// only sees the join_room event this handler synthesizes from the resolved
// repo.RoomRecord.
func (s *Server) ServeWs(c *gin.Context) {
	tokenString := c.Query("token")
	if tokenString == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token not provided"})
		return
	}
	claims, err := s.validator(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	roomID := c.Param("roomId")
	if roomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roomId is required"})
		return
	}

	ctx := c.Request.Context()
	rec, err := s.rooms.GetRoom(ctx, roomID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		rec = &repo.RoomRecord{RoomID: roomID, OwnerUserID: claims.Subject(), Private: false, RoomType: "jam"}
		if createErr := s.rooms.CreateRoom(ctx, rec); createErr != nil {
			logging.Error(ctx, "failed to create room record", zap.String("roomId", roomID), zap.Error(createErr))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create room"})
			return
		}
	case err != nil:
		logging.Error(ctx, "failed to resolve room record", zap.String("roomId", roomID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve room"})
		return
	}

	username := c.Query("username")
	if username == "" {
		username = claims.DisplayName()
		if username == "" {
			username = claims.Subject()
		}
	}

	connID := clock.New(clock.KindConn)
	if s.admitter != nil {
		result := s.admitter.ShouldAllow(roomID, connID, c.ClientIP())
		if result.Decision != admission.Allowed {
			logging.Warn(ctx, "connection rejected by admission policy",
				zap.String("roomId", roomID), zap.String("decision", string(result.Decision)), zap.String("reason", string(result.Reason)))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":    "room is not accepting connections",
				"decision": result.Decision,
				"reason":   result.Reason,
				"position": result.Position,
			})
			return
		}
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
		WriteBufferPool: &sync.Pool{
			New: func() any { return make([]byte, 4096) },
		},
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(ctx, "failed to upgrade connection", zap.Error(err))
		return
	}

	identity := room.Identity{
		ConnectionID: connID,
		UserID:       claims.Subject(),
		Username:     username,
	}

	client := NewClient(conn, identity, s.router)

	join := room.Message{
		Event: "join_room",
		Payload: mustMarshal(room.JoinRoomPayload{
			RoomID:      rec.RoomID,
			OwnerUserID: rec.OwnerUserID,
			Private:     rec.Private,
			RoomType:    rec.RoomType,
		}),
	}
	raw, _ := json.Marshal(join)

	// The connection now outlives this request: route the synthesized join
	// and run the pumps against a detached context rather than gin's
	// request-scoped one, which is cancelled as soon as ServeWs returns.
	go func() {
		connCtx := context.Background()
		client.router.Route(connCtx, identity, client, raw)
		client.Run(connCtx)
		if s.admitter != nil {
			s.admitter.Release(roomID, connID)
		}
	}()
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic("transport: failed to marshal synthesized payload: " + err.Error())
	}
	return b
}
