package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/primal-host/vibespace/internal/account"
	"github.com/primal-host/vibespace/internal/comment"
	"github.com/primal-host/vibespace/internal/database"
	"github.com/primal-host/vibespace/internal/follow"
	"github.com/primal-host/vibespace/internal/media"
	"github.com/primal-host/vibespace/internal/message"
	"github.com/primal-host/vibespace/internal/moderation"
	"github.com/primal-host/vibespace/internal/notify"
	"github.com/primal-host/vibespace/internal/post"
	"github.com/primal-host/vibespace/internal/vibe"
	"go.uber.org/zap"
)

// errorJSON writes the uniform error body.
func errorJSON(c echo.Context, status int, code, message string) error {
	return c.JSON(status, map[string]string{
		"error":   code,
		"message": message,
	})
}

// internalError logs err and answers with a generic 500.
func (s *Server) internalError(c echo.Context, message string, err error) error {
	s.log.Error(message,
		zap.String("method", c.Request().Method),
		zap.String("path", c.Path()),
		zap.Error(err))
	return errorJSON(c, http.StatusInternalServerError, "InternalError", message)
}

// domainErrors maps store sentinel errors onto HTTP responses. The
// first match wins.
var domainErrors = []struct {
	err    error
	status int
	code   string
}{
	{account.ErrNotFound, http.StatusNotFound, "NotFound"},
	{post.ErrNotFound, http.StatusNotFound, "NotFound"},
	{comment.ErrNotFound, http.StatusNotFound, "NotFound"},
	{vibe.ErrNotFound, http.StatusNotFound, "NotFound"},
	{follow.ErrNotFound, http.StatusNotFound, "NotFound"},
	{message.ErrNotFound, http.StatusNotFound, "NotFound"},
	{notify.ErrNotFound, http.StatusNotFound, "NotFound"},
	{moderation.ErrNotFound, http.StatusNotFound, "NotFound"},
	{media.ErrNotFound, http.StatusNotFound, "NotFound"},

	{post.ErrForbidden, http.StatusForbidden, "Forbidden"},
	{comment.ErrForbidden, http.StatusForbidden, "Forbidden"},
	{moderation.ErrForbidden, http.StatusForbidden, "Forbidden"},

	{account.ErrInvalid, http.StatusBadRequest, "InvalidRequest"},
	{post.ErrInvalid, http.StatusBadRequest, "InvalidRequest"},
	{comment.ErrInvalid, http.StatusBadRequest, "InvalidRequest"},
	{message.ErrInvalid, http.StatusBadRequest, "InvalidRequest"},
	{moderation.ErrInvalid, http.StatusBadRequest, "InvalidRequest"},
	{vibe.ErrInvalidType, http.StatusBadRequest, "InvalidVibeType"},
	{vibe.ErrInvalidKind, http.StatusBadRequest, "InvalidRequest"},

	{account.ErrUsernameTaken, http.StatusConflict, "UsernameTaken"},
	{account.ErrEmailTaken, http.StatusConflict, "EmailTaken"},
	{account.ErrInvalidCredentials, http.StatusUnauthorized, "InvalidCredentials"},
	{account.ErrBanned, http.StatusForbidden, "AccountBanned"},

	{follow.ErrSelfFollow, http.StatusBadRequest, "SelfFollow"},
	{follow.ErrAlreadyFollowing, http.StatusConflict, "AlreadyFollowing"},

	{message.ErrSelfConversation, http.StatusBadRequest, "SelfConversation"},
	{message.ErrNotAllowed, http.StatusForbidden, "MessagesNotAllowed"},

	{moderation.ErrSelfReport, http.StatusBadRequest, "SelfReport"},
	{moderation.ErrDuplicateReport, http.StatusConflict, "DuplicateReport"},
	{moderation.ErrAlreadyResolved, http.StatusConflict, "AlreadyResolved"},

	{media.ErrTooLarge, http.StatusRequestEntityTooLarge, "PayloadTooLarge"},
	{media.ErrUnsupportedType, http.StatusUnsupportedMediaType, "UnsupportedMediaType"},
	{media.ErrEmpty, http.StatusBadRequest, "InvalidRequest"},
}

// fail answers with the mapped status for domain errors and a logged
// 500 for anything else. message is used only for the 500 case.
func (s *Server) fail(c echo.Context, message string, err error) error {
	for _, de := range domainErrors {
		if errors.Is(err, de.err) {
			return errorJSON(c, de.status, de.code, err.Error())
		}
	}
	return s.internalError(c, message, err)
}

// badRequest answers 400 with the InvalidRequest code.
func badRequest(c echo.Context, message string) error {
	return errorJSON(c, http.StatusBadRequest, "InvalidRequest", message)
}

// idParam parses a positive integer path parameter.
func idParam(c echo.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// pageParams reads ?limit= and ?before= into a normalized Page.
func pageParams(c echo.Context) (database.Page, bool) {
	var p database.Page
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > database.MaxPageLimit {
			return p, false
		}
		p.Limit = n
	}
	if v := c.QueryParam("before"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 {
			return p, false
		}
		p.Before = n
	}
	return p.Normalize(), true
}

// invalidPage is the response for malformed pagination parameters.
func invalidPage(c echo.Context) error {
	return badRequest(c, "limit must be 1-100 and before a positive id")
}

// invalidID is the response for a malformed path id.
func invalidID(c echo.Context, name string) error {
	return badRequest(c, "invalid "+name)
}

// listResponse wraps items under key and adds a "cursor" holding the
// last item's ID when the page came back full.
func listResponse[T any](key string, items []T, page database.Page, id func(T) int64) map[string]any {
	resp := map[string]any{
		key: items,
	}
	if len(items) > 0 && len(items) == page.Limit {
		resp["cursor"] = strconv.FormatInt(id(items[len(items)-1]), 10)
	}
	return resp
}
