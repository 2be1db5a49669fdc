package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/noah-isme/talim-live-api/internal/models"
	"github.com/noah-isme/talim-live-api/internal/service"
	"github.com/noah-isme/talim-live-api/internal/ws"
	appErrors "github.com/noah-isme/talim-live-api/pkg/errors"
	"github.com/noah-isme/talim-live-api/pkg/response"
)

// SyncHandler upgrades clients to websocket and attaches them to the
// session's snapshot feed.
type SyncHandler struct {
	sessions       *service.SessionService
	sync           *service.SyncService
	snapshotBuffer int
	logger         *zap.Logger
	upgrader       websocket.Upgrader
}

// NewSyncHandler creates a new handler. checkOrigin receives the allowed CORS
// origins; an empty list admits every origin, matching the REST surface.
// snapshotBuffer caps the per-client frame queue.
func NewSyncHandler(sessions *service.SessionService, sync *service.SyncService, allowedOrigins []string, snapshotBuffer int, logger *zap.Logger) *SyncHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}
	return &SyncHandler{
		sessions:       sessions,
		sync:           sync,
		snapshotBuffer: snapshotBuffer,
		logger:         logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				_, ok := allowed[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

// Watch godoc
// @Summary Subscribe to live session snapshots
// @Description Upgrade to websocket; every session change is pushed as a snapshot frame
// @Tags Sessions
// @Param id path string true "Session ID"
// @Success 101 {string} string "Switching Protocols"
// @Failure 403 {object} response.Envelope
// @Router /sessions/{id}/watch [get]
func (h *SyncHandler) Watch(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	sessionID := c.Param("id")
	view, err := h.sessions.Get(c.Request.Context(), sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := authorizeWatch(view.Session, claims); err != nil {
		response.Error(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := ws.NewConn(conn, claims.UserID, string(claims.Role), sessionID, h.snapshotBuffer)
	h.sync.Attach(client)

	// Initial frame so a late joiner renders without waiting for the next
	// store change.
	initial := service.SnapshotMessage{Type: "session_snapshot", Session: view.Session}
	if err := client.WriteJSON(initial); err != nil {
		client.Close()
		h.sync.Detach(client)
		return
	}

	go h.readLoop(client, conn)
}

func authorizeWatch(session *models.Session, claims *models.JWTClaims) error {
	switch claims.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleTeacher:
		if session.TeacherID != claims.UserID {
			return appErrors.ErrForbidden
		}
		return nil
	case models.RoleStudent:
		if _, ok := session.StudentProgress[claims.UserID]; !ok {
			return appErrors.ErrNotEnrolled
		}
		return nil
	default:
		return appErrors.ErrForbidden
	}
}

// readLoop drains inbound frames to surface pings and disconnects. Clients
// never send application data on this socket.
func (h *SyncHandler) readLoop(client *ws.Conn, conn *websocket.Conn) {
	defer func() {
		client.Close()
		h.sync.Detach(client)
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
