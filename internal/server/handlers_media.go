package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/primal-host/vibespace/internal/media"
	"go.uber.org/zap"
)

// handleUploadMedia stores the raw request body as a file owned by the
// caller. The returned key is what posts and avatars reference.
// POST /media
func (s *Server) handleUploadMedia(c echo.Context) error {
	ac := getAuth(c)
	req := c.Request()
	ct := req.Header.Get(echo.HeaderContentType)
	if ct == "" {
		return errorJSON(c, http.StatusUnsupportedMediaType, "UnsupportedMediaType", "Content-Type header is required")
	}
	if req.ContentLength > media.MaxUploadSize {
		return errorJSON(c, http.StatusRequestEntityTooLarge, "PayloadTooLarge", media.ErrTooLarge.Error())
	}

	obj, err := media.Upload(req.Context(), s.media, ac.UserID, ct, req.Body)
	if err != nil {
		return s.fail(c, "Failed to store upload", err)
	}

	s.log.Info("media uploaded",
		zap.Int64("user_id", ac.UserID),
		zap.String("key", obj.Key),
		zap.Int64("size", obj.Size))
	return c.JSON(http.StatusCreated, obj)
}

// handleGetMedia streams a stored file. Keys are content addressed, so
// responses never change and may be cached indefinitely.
// GET /media/*
func (s *Server) handleGetMedia(c echo.Context) error {
	key := c.Param("*")
	if key == "" {
		return errorJSON(c, http.StatusNotFound, "NotFound", "Media not found")
	}

	r, obj, err := s.media.Get(c.Request().Context(), key)
	if errors.Is(err, media.ErrNotFound) {
		return errorJSON(c, http.StatusNotFound, "NotFound", "Media not found")
	}
	if err != nil {
		return s.internalError(c, "Failed to read media", err)
	}
	defer r.Close()

	h := c.Response().Header()
	h.Set("Cache-Control", "public, max-age=31536000, immutable")
	if obj.Size > 0 {
		h.Set(echo.HeaderContentLength, strconv.FormatInt(obj.Size, 10))
	}
	return c.Stream(http.StatusOK, obj.ContentType, r)
}
