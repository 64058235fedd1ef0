package gateway

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/quickmart/shopping-assistant/orchestrator/internal/assistant"
	"github.com/quickmart/shopping-assistant/orchestrator/internal/auth"
)

// SessionStream handles WebSocket connections that stream assistant turns
type SessionStream struct {
	sessions   *assistant.Service
	jwtManager *auth.JWTManager
	tracer     trace.Tracer
	upgrader   websocket.Upgrader
}

// NewSessionStream creates a new assistant session WebSocket handler
func NewSessionStream(sessions *assistant.Service, jwtManager *auth.JWTManager) *SessionStream {
	return &SessionStream{
		sessions:   sessions,
		jwtManager: jwtManager,
		tracer:     otel.Tracer("session-stream"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// TODO: Implement proper CORS origin checking for production
				origin := r.Header.Get("Origin")
				log.Printf("WebSocket connection from origin: %s", origin)
				return true
			},
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// ClientTurnMessage is one user turn sent over the WebSocket
type ClientTurnMessage struct {
	Text string `json:"text"`
}

// StreamSession handles WebSocket /api/ws/sessions/:id
// @Summary Stream assistant session
// @Description WebSocket endpoint to send user turns and stream assistant events in real time
// @Tags sessions
// @Param id path string true "Session ID"
// @Param token query string false "JWT token (alternative to Authorization header)"
// @Success 101 "Switching Protocols"
// @Failure 401 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Security BearerAuth
// @Router /ws/sessions/{id} [get]
func (s *SessionStream) StreamSession(c *gin.Context) {
	ctx, span := s.tracer.Start(c.Request.Context(), "session_stream.stream_session")
	defer span.End()

	sessionID := c.Param("id")
	span.SetAttributes(attribute.String("session_id", sessionID))

	userID, err := s.validateJWTAndGetUserID(c)
	if err != nil {
		span.RecordError(err)
		log.Printf("JWT validation failed: %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	span.SetAttributes(attribute.String("user_id", userID))

	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if err == assistant.ErrSessionNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		span.RecordError(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load session"})
		return
	}
	if session.UserID != userID {
		span.SetAttributes(attribute.Bool("access_denied", true))
		log.Printf("Access denied for user %s to session %s", userID, sessionID)
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}

	log.Printf("WebSocket connection request for session_id: %s, user_id: %s", sessionID, userID)

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.RecordError(err)
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("WebSocket connection upgraded successfully for session: %s", sessionID)

	s.pumpTurns(c, conn, sessionID, userID)

	// The request context is cancelled once the client disconnects, so the
	// close update runs on a fresh context.
	if err := s.sessions.CloseSession(context.Background(), sessionID); err != nil {
		log.Printf("Failed to close session %s: %v", sessionID, err)
	}
}

// validateJWTAndGetUserID validates the JWT token and returns the user ID.
// Browsers cannot set headers on WebSocket upgrades, so the token may also
// arrive as a query parameter.
func (s *SessionStream) validateJWTAndGetUserID(c *gin.Context) (string, error) {
	token := c.Query("token")
	if token == "" {
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" && len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			token = authHeader[7:]
		}
	}

	if token == "" {
		return "", fmt.Errorf("missing JWT token")
	}

	claims, err := s.jwtManager.ValidateToken(c.Request.Context(), token)
	if err != nil {
		return "", fmt.Errorf("invalid JWT: %w", err)
	}

	return claims.UserID, nil
}

// pumpTurns reads user turns from the client and streams turn events back.
// Turns run synchronously in the read loop, which keeps writes to the
// connection serialized.
func (s *SessionStream) pumpTurns(c *gin.Context, conn *websocket.Conn, sessionID, userID string) {
	ctx := c.Request.Context()

	sink := func(event assistant.TurnEvent) {
		if err := conn.WriteJSON(event); err != nil {
			log.Printf("Failed to send event to client for session %s: %v", sessionID, err)
		}
	}

	for {
		var msg ClientTurnMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Client connection closed normally for session: %s", sessionID)
			} else {
				log.Printf("Client connection read error for session %s: %v", sessionID, err)
			}
			return
		}

		if msg.Text == "" {
			s.sendErrorToClient(conn, "Message text is required")
			continue
		}

		if _, err := s.sessions.HandleTurn(ctx, sessionID, userID, msg.Text, sink); err != nil {
			// The sink already delivered an error event; keep the
			// connection open for the next turn.
			log.Printf("Turn failed for session %s: %v", sessionID, err)
		}
	}
}

// sendErrorToClient sends an error event to the WebSocket client
func (s *SessionStream) sendErrorToClient(conn *websocket.Conn, message string) {
	event := assistant.TurnEvent{
		EventType: assistant.EventError,
		Data: map[string]interface{}{
			"error": message,
		},
	}

	if err := conn.WriteJSON(event); err != nil {
		log.Printf("Failed to send error to client: %v", err)
	}
}
