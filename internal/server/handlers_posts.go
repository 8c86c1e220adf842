package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/primal-host/vibespace/internal/comment"
	"github.com/primal-host/vibespace/internal/notify"
	"github.com/primal-host/vibespace/internal/post"
	"github.com/primal-host/vibespace/internal/vibe"
)

// --- Posts ---

// POST /posts
func (s *Server) handleCreatePost(c echo.Context) error {
	var req post.CreateParams
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}

	p, err := s.posts.Create(c.Request().Context(), getAuth(c).UserID, req)
	if err != nil {
		return s.fail(c, "Failed to create post", err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (s *Server) handleGetPost(c echo.Context) error {
	id, ok := idParam(c, "id")
	if !ok {
		return invalidID(c, "post id")
	}
	p, err := s.posts.Get(c.Request().Context(), getAuth(c).UserID, id)
	if err != nil {
		return s.fail(c, "Failed to load post", err)
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handleUpdatePost(c echo.Context) error {
	id, ok := idParam(c, "id")
	if !ok {
		return invalidID(c, "post id")
	}
	var req post.UpdateParams
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}

	p, err := s.posts.Update(c.Request().Context(), getAuth(c).UserID, id, req)
	if err != nil {
		return s.fail(c, "Failed to update post", err)
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handleDeletePost(c echo.Context) error {
	id, ok := idParam(c, "id")
	if !ok {
		return invalidID(c, "post id")
	}
	if err := s.posts.Delete(c.Request().Context(), getAuth(c).UserID, id); err != nil {
		return s.fail(c, "Failed to delete post", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// handleFeed returns the caller's posts and those of accounts they
// follow, newest first.
// GET /feed
func (s *Server) handleFeed(c echo.Context) error {
	page, ok := pageParams(c)
	if !ok {
		return invalidPage(c)
	}
	posts, err := s.posts.Feed(c.Request().Context(), getAuth(c).UserID, page)
	if err != nil {
		return s.fail(c, "Failed to load feed", err)
	}
	return c.JSON(http.StatusOK, listResponse("posts", posts, page, postID))
}

func (s *Server) handleListChannels(c echo.Context) error {
	channels, err := s.posts.Channels(c.Request().Context())
	if err != nil {
		return s.fail(c, "Failed to list channels", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"channels": channels})
}

// GET /channels/:channel/posts
func (s *Server) handleListChannelPosts(c echo.Context) error {
	channel := c.Param("channel")
	if !vibe.IsType(channel) {
		return errorJSON(c, http.StatusNotFound, "NotFound", "Unknown channel: "+channel)
	}
	page, ok := pageParams(c)
	if !ok {
		return invalidPage(c)
	}

	posts, err := s.posts.ListByChannel(c.Request().Context(), getAuth(c).UserID, channel, page)
	if err != nil {
		return s.fail(c, "Failed to list channel posts", err)
	}
	resp := listResponse("posts", posts, page, postID)
	resp["channel"] = channel
	return c.JSON(http.StatusOK, resp)
}

// Likes predate vibes and are kept as an alias for the energy vibe.

// POST /posts/:id/like
func (s *Server) handleLikePost(c echo.Context) error {
	return s.applyVibe(c, vibe.KindPost, vibe.Energy)
}

// DELETE /posts/:id/like
func (s *Server) handleUnlikePost(c echo.Context) error {
	return s.removeVibe(vibe.KindPost)(c)
}

// --- Vibes ---

func (s *Server) vibeSummary(kind string) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, ok := idParam(c, "id")
		if !ok {
			return invalidID(c, kind+" id")
		}
		sum, err := s.vibes.Summary(c.Request().Context(), getAuth(c).UserID, vibe.Target{Kind: kind, ID: id})
		if err != nil {
			return s.fail(c, "Failed to load vibes", err)
		}
		return c.JSON(http.StatusOK, sum)
	}
}

func (s *Server) setVibe(kind string) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req struct {
			Type string `json:"type"`
		}
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "Invalid JSON body")
		}
		return s.applyVibe(c, kind, req.Type)
	}
}

// applyVibe sets the caller's vibe on the target named by :id. The
// target's author is notified only when the vibe is new, not when its
// type changes.
func (s *Server) applyVibe(c echo.Context, kind, vibeType string) error {
	ac := getAuth(c)
	id, ok := idParam(c, "id")
	if !ok {
		return invalidID(c, kind+" id")
	}

	res, err := s.vibes.Set(c.Request().Context(), ac.UserID, vibe.Target{Kind: kind, ID: id}, vibeType)
	if err != nil {
		return s.fail(c, "Failed to set vibe", err)
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
		s.notify(c, notify.Event{
			RecipientID: res.OwnerID,
			SenderID:    ac.UserID,
			Type:        notify.TypeVibe,
			EntityType:  kind,
			EntityID:    id,
		})
	}
	return c.JSON(status, res.Vibe)
}

func (s *Server) removeVibe(kind string) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, ok := idParam(c, "id")
		if !ok {
			return invalidID(c, kind+" id")
		}
		if err := s.vibes.Remove(c.Request().Context(), getAuth(c).UserID, vibe.Target{Kind: kind, ID: id}); err != nil {
			return s.fail(c, "Failed to remove vibe", err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

// --- Comments ---

// handleListComments lists a post's comments oldest first. The cursor
// is the last comment ID seen and is passed back as ?before=.
// GET /posts/:id/comments
func (s *Server) handleListComments(c echo.Context) error {
	id, ok := idParam(c, "id")
	if !ok {
		return invalidID(c, "post id")
	}
	page, ok := pageParams(c)
	if !ok {
		return invalidPage(c)
	}

	comments, err := s.comments.ListByPost(c.Request().Context(), getAuth(c).UserID, id, page)
	if err != nil {
		return s.fail(c, "Failed to list comments", err)
	}
	return c.JSON(http.StatusOK, listResponse("comments", comments, page, commentID))
}

// POST /posts/:id/comments
func (s *Server) handleCreateComment(c echo.Context) error {
	ac := getAuth(c)
	id, ok := idParam(c, "id")
	if !ok {
		return invalidID(c, "post id")
	}
	var req struct {
		Body string `json:"body"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}

	created, err := s.comments.Create(c.Request().Context(), ac.UserID, id, req.Body)
	if err != nil {
		return s.fail(c, "Failed to create comment", err)
	}

	s.notify(c, notify.Event{
		RecipientID: created.PostOwnerID,
		SenderID:    ac.UserID,
		Type:        notify.TypeComment,
		EntityType:  vibe.KindPost,
		EntityID:    id,
	})
	return c.JSON(http.StatusCreated, created.Comment)
}

func (s *Server) handleUpdateComment(c echo.Context) error {
	id, ok := idParam(c, "id")
	if !ok {
		return invalidID(c, "comment id")
	}
	var req struct {
		Body string `json:"body"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}

	cm, err := s.comments.Update(c.Request().Context(), getAuth(c).UserID, id, req.Body)
	if err != nil {
		return s.fail(c, "Failed to update comment", err)
	}
	return c.JSON(http.StatusOK, cm)
}

// handleDeleteComment lets the comment's author or the post's author
// remove a comment.
func (s *Server) handleDeleteComment(c echo.Context) error {
	id, ok := idParam(c, "id")
	if !ok {
		return invalidID(c, "comment id")
	}
	if err := s.comments.Delete(c.Request().Context(), getAuth(c).UserID, id); err != nil {
		return s.fail(c, "Failed to delete comment", err)
	}
	return c.NoContent(http.StatusNoContent)
}

func postID(p post.Post) int64 { return p.ID }
func commentID(c comment.Comment) int64 { return c.ID }
