package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/primal-host/vibespace/internal/notify"
)

// handleListNotifications lists the caller's inbox, newest first.
// ?unread=true restricts it to unread entries.
// GET /notifications
func (s *Server) handleListNotifications(c echo.Context) error {
	page, ok := pageParams(c)
	if !ok {
		return invalidPage(c)
	}
	unreadOnly := false
	if v := c.QueryParam("unread"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return badRequest(c, "unread must be true or false")
		}
		unreadOnly = b
	}

	list, err := s.inbox.List(c.Request().Context(), getAuth(c).UserID, unreadOnly, page)
	if err != nil {
		return s.fail(c, "Failed to list notifications", err)
	}
	return c.JSON(http.StatusOK, listResponse("notifications", list, page, notificationID))
}

func (s *Server) handleUnreadCount(c echo.Context) error {
	n, err := s.inbox.UnreadCount(c.Request().Context(), getAuth(c).UserID)
	if err != nil {
		return s.fail(c, "Failed to count notifications", err)
	}
	return c.JSON(http.StatusOK, map[string]int{"count": n})
}

// POST /notifications/:id/read
func (s *Server) handleMarkNotificationRead(c echo.Context) error {
	id, ok := idParam(c, "id")
	if !ok {
		return invalidID(c, "notification id")
	}
	if err := s.inbox.MarkRead(c.Request().Context(), getAuth(c).UserID, id); err != nil {
		return s.fail(c, "Failed to mark notification read", err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleMarkAllNotificationsRead(c echo.Context) error {
	n, err := s.inbox.MarkAllRead(c.Request().Context(), getAuth(c).UserID)
	if err != nil {
		return s.fail(c, "Failed to mark notifications read", err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"updated": n})
}

func notificationID(n notify.Notification) int64 { return n.ID }
