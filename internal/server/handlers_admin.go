package server

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/primal-host/vibespace/internal/account"
	"github.com/primal-host/vibespace/internal/moderation"
	"github.com/primal-host/vibespace/internal/notify"
	"go.uber.org/zap"
)

// handleCreateReport files a report against a post, comment, message or
// user.
// POST /reports
func (s *Server) handleCreateReport(c echo.Context) error {
	var req moderation.ReportParams
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}

	r, err := s.moderation.Report(c.Request().Context(), getAuth(c).UserID, req)
	if err != nil {
		return s.fail(c, "Failed to file report", err)
	}
	return c.JSON(http.StatusCreated, r)
}

// --- Admin API ---

// handleListReports lists reports for review. ?status= defaults to
// "open"; "all" lists every report.
// GET /admin/reports
func (s *Server) handleListReports(c echo.Context) error {
	page, ok := pageParams(c)
	if !ok {
		return invalidPage(c)
	}
	status := c.QueryParam("status")
	switch status {
	case "":
		status = moderation.StatusOpen
	case "all":
		status = ""
	}

	reports, err := s.moderation.List(c.Request().Context(), status, page)
	if err != nil {
		return s.fail(c, "Failed to list reports", err)
	}
	return c.JSON(http.StatusOK, listResponse("reports", reports, page, reportID))
}

// POST /admin/reports/:id/resolve
func (s *Server) handleResolveReport(c echo.Context) error {
	ac := getAuth(c)
	id, ok := idParam(c, "id")
	if !ok {
		return invalidID(c, "report id")
	}
	var req struct {
		Resolution string `json:"resolution"`
		Note       string `json:"note"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}

	res, err := s.moderation.Resolve(c.Request().Context(), ac.actor(), id, req.Resolution, req.Note)
	if err != nil {
		return s.fail(c, "Failed to resolve report", err)
	}

	if res.AffectedUserID != 0 {
		var body string
		switch req.Resolution {
		case moderation.ResolveRemoveContent:
			body = fmt.Sprintf("Your %s was removed for violating the community guidelines", res.Report.TargetType)
		case moderation.ResolveSuspendUser:
			body = "Your account has been suspended"
		}
		s.notifyModeration(c, res.AffectedUserID, res.Report.TargetType, res.Report.TargetID, body)
	}

	s.log.Info("report resolved",
		zap.Int64("report_id", id),
		zap.String("resolution", req.Resolution),
		zap.Bool("operator", ac.Operator),
		zap.Int64("actor", ac.UserID))
	return c.JSON(http.StatusOK, res)
}

// handleSetUserStatus suspends, bans or reinstates an account.
// Moderators may not change the status of other staff accounts. A ban
// closes the account's live connections.
// PATCH /admin/users/:id/status
func (s *Server) handleSetUserStatus(c echo.Context) error {
	id, ok := idParam(c, "id")
	if !ok {
		return invalidID(c, "user id")
	}
	var req struct {
		Status string `json:"status"`
		Note   string `json:"note"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}

	u, err := s.moderation.SetStatus(c.Request().Context(), getAuth(c).actor(), id, req.Status, req.Note)
	if err != nil {
		return s.fail(c, "Failed to update status", err)
	}

	if u.Status == account.StatusBanned {
		s.hub.Disconnect(u.ID)
	} else {
		s.notifyModeration(c, u.ID, moderation.TargetUser, u.ID, "Your account status is now "+u.Status)
	}
	return c.JSON(http.StatusOK, u)
}

// PATCH /admin/users/:id/role
func (s *Server) handleSetUserRole(c echo.Context) error {
	id, ok := idParam(c, "id")
	if !ok {
		return invalidID(c, "user id")
	}
	var req struct {
		Role string `json:"role"`
		Note string `json:"note"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}

	u, err := s.moderation.SetRole(c.Request().Context(), getAuth(c).actor(), id, req.Role, req.Note)
	if err != nil {
		return s.fail(c, "Failed to update role", err)
	}

	s.notifyModeration(c, u.ID, moderation.TargetUser, u.ID, "Your role is now "+u.Role)
	return c.JSON(http.StatusOK, u)
}

// DELETE /admin/posts/:id?note=
func (s *Server) handleRemovePost(c echo.Context) error {
	id, ok := idParam(c, "id")
	if !ok {
		return invalidID(c, "post id")
	}

	authorID, err := s.moderation.RemovePost(c.Request().Context(), getAuth(c).actorID(), id, c.QueryParam("note"))
	if err != nil {
		return s.fail(c, "Failed to remove post", err)
	}
	s.notifyModeration(c, authorID, moderation.TargetPost, id,
		"Your post was removed for violating the community guidelines")
	return c.NoContent(http.StatusNoContent)
}

// DELETE /admin/comments/:id?note=
func (s *Server) handleRemoveComment(c echo.Context) error {
	id, ok := idParam(c, "id")
	if !ok {
		return invalidID(c, "comment id")
	}

	authorID, err := s.moderation.RemoveComment(c.Request().Context(), getAuth(c).actorID(), id, c.QueryParam("note"))
	if err != nil {
		return s.fail(c, "Failed to remove comment", err)
	}
	s.notifyModeration(c, authorID, moderation.TargetComment, id,
		"Your comment was removed for violating the community guidelines")
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleListActions(c echo.Context) error {
	page, ok := pageParams(c)
	if !ok {
		return invalidPage(c)
	}
	actions, err := s.moderation.ListActions(c.Request().Context(), page)
	if err != nil {
		return s.fail(c, "Failed to list actions", err)
	}
	return c.JSON(http.StatusOK, listResponse("actions", actions, page, actionID))
}

// notifyModeration tells a user about a moderation outcome. These are
// system notifications with no sender.
func (s *Server) notifyModeration(c echo.Context, userID int64, entityType string, entityID int64, body string) {
	if userID == 0 {
		return
	}
	s.notify(c, notify.Event{
		RecipientID: userID,
		Type:        notify.TypeModeration,
		EntityType:  entityType,
		EntityID:    entityID,
		Body:        body,
	})
}

func reportID(r moderation.Report) int64 { return r.ID }
func actionID(a moderation.Action) int64 { return a.ID }
