package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/primal-host/vibespace/internal/message"
	"github.com/primal-host/vibespace/internal/notify"
	"github.com/primal-host/vibespace/internal/vibe"
)

func (s *Server) handleListConversations(c echo.Context) error {
	convs, err := s.messages.ListConversations(c.Request().Context(), getAuth(c).UserID)
	if err != nil {
		return s.fail(c, "Failed to list conversations", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"conversations": convs})
}

// handleOpenConversation returns the caller's conversation with another
// user, creating it on first use.
// POST /conversations
func (s *Server) handleOpenConversation(c echo.Context) error {
	var req struct {
		UserID int64 `json:"userId"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}
	if req.UserID <= 0 {
		return badRequest(c, "userId is required")
	}

	conv, err := s.messages.OpenConversation(c.Request().Context(), getAuth(c).UserID, req.UserID)
	if err != nil {
		return s.fail(c, "Failed to open conversation", err)
	}
	return c.JSON(http.StatusOK, conv)
}

// GET /conversations/:id/messages
func (s *Server) handleListMessages(c echo.Context) error {
	id, ok := idParam(c, "id")
	if !ok {
		return invalidID(c, "conversation id")
	}
	page, ok := pageParams(c)
	if !ok {
		return invalidPage(c)
	}

	msgs, err := s.messages.ListMessages(c.Request().Context(), id, getAuth(c).UserID, page)
	if err != nil {
		return s.fail(c, "Failed to list messages", err)
	}
	return c.JSON(http.StatusOK, listResponse("messages", msgs, page, messageID))
}

// handleSendMessage stores a message, relays it to the recipient's live
// connections and records a notification.
// POST /conversations/:id/messages
func (s *Server) handleSendMessage(c echo.Context) error {
	ac := getAuth(c)
	id, ok := idParam(c, "id")
	if !ok {
		return invalidID(c, "conversation id")
	}
	var req struct {
		Body string `json:"body"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}

	sent, err := s.messages.Send(c.Request().Context(), id, ac.UserID, req.Body)
	if err != nil {
		return s.fail(c, "Failed to send message", err)
	}

	s.notifier.PushMessage(sent.RecipientID, sent.Message)
	s.notify(c, notify.Event{
		RecipientID: sent.RecipientID,
		SenderID:    ac.UserID,
		Type:        notify.TypeMessage,
		EntityType:  vibe.KindMessage,
		EntityID:    sent.Message.ID,
	})
	return c.JSON(http.StatusCreated, sent.Message)
}

// POST /conversations/:id/read
func (s *Server) handleMarkConversationRead(c echo.Context) error {
	id, ok := idParam(c, "id")
	if !ok {
		return invalidID(c, "conversation id")
	}
	n, err := s.messages.MarkRead(c.Request().Context(), id, getAuth(c).UserID)
	if err != nil {
		return s.fail(c, "Failed to mark conversation read", err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"updated": n})
}

func messageID(m message.Message) int64 { return m.ID }
