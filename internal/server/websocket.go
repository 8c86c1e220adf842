package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// handleWebSocket upgrades the request to a WebSocket that receives the
// caller's notifications and direct messages. Browsers cannot set
// headers on WebSocket requests, so the access token may also be passed
// as ?token=.
// GET /ws
func (s *Server) handleWebSocket(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		token = extractBearer(c)
	}
	if token == "" {
		return errorJSON(c, http.StatusUnauthorized, "AuthRequired", "token query parameter is required")
	}

	userID, err := s.jwt.ValidateAccessToken(token)
	if err != nil {
		return errorJSON(c, http.StatusUnauthorized, "InvalidToken", "Invalid or expired access token")
	}
	ac, err := s.loadCaller(c, userID)
	if err != nil || ac == nil {
		return err
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		s.log.Debug("websocket upgrade failed", zap.Int64("user_id", ac.UserID), zap.Error(err))
		return nil
	}

	s.log.Debug("websocket connected", zap.Int64("user_id", ac.UserID))
	s.hub.Serve(ac.UserID, conn)
	s.log.Debug("websocket closed", zap.Int64("user_id", ac.UserID))
	return nil
}

// checkOrigin accepts requests without an Origin header, origins listed
// in corsOrigins, and same-host origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.cfg.CORSOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
