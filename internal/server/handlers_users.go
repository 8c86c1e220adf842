package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/primal-host/vibespace/internal/account"
	"github.com/primal-host/vibespace/internal/database"
	"github.com/primal-host/vibespace/internal/follow"
	"github.com/primal-host/vibespace/internal/media"
	"github.com/primal-host/vibespace/internal/notify"
	"go.uber.org/zap"
)

// --- Own account ---

func (s *Server) handleGetMe(c echo.Context) error {
	u, err := s.accounts.GetByID(c.Request().Context(), getAuth(c).UserID)
	if err != nil {
		return s.fail(c, "Failed to load account", err)
	}
	return c.JSON(http.StatusOK, u)
}

func (s *Server) handleUpdateMe(c echo.Context) error {
	ac := getAuth(c)

	var req account.ProfileUpdate
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}
	if req.AvatarKey != nil && *req.AvatarKey != "" && !media.OwnedBy(*req.AvatarKey, ac.UserID) {
		return badRequest(c, "avatarKey must reference a file you uploaded")
	}

	u, err := s.accounts.UpdateProfile(c.Request().Context(), ac.UserID, req)
	if err != nil {
		return s.fail(c, "Failed to update profile", err)
	}
	return c.JSON(http.StatusOK, u)
}

// handleDeleteMe permanently deletes the caller's account. The password
// is required again even though the request is authenticated.
// DELETE /users/me
func (s *Server) handleDeleteMe(c echo.Context) error {
	ac := getAuth(c)

	var req struct {
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}
	if req.Password == "" {
		return badRequest(c, "password is required")
	}

	del, err := s.privacy.DeleteAccount(c.Request().Context(), ac.UserID, req.Password)
	if err != nil {
		if errors.Is(err, account.ErrInvalidCredentials) {
			return errorJSON(c, http.StatusUnauthorized, "InvalidCredentials", "Password is incorrect")
		}
		return s.internalError(c, "Failed to delete account", err)
	}
	return c.JSON(http.StatusOK, del)
}

// --- Privacy and consent ---

func (s *Server) handleGetPrivacy(c echo.Context) error {
	p, err := s.accounts.GetPrivacy(c.Request().Context(), getAuth(c).UserID)
	if err != nil {
		return s.fail(c, "Failed to load privacy settings", err)
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handleUpdatePrivacy(c echo.Context) error {
	var req account.PrivacyUpdate
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}
	p, err := s.accounts.UpdatePrivacy(c.Request().Context(), getAuth(c).UserID, req)
	if err != nil {
		return s.fail(c, "Failed to update privacy settings", err)
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handleListConsents(c echo.Context) error {
	consents, err := s.accounts.ListConsents(c.Request().Context(), getAuth(c).UserID)
	if err != nil {
		return s.fail(c, "Failed to list consents", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"consents": consents})
}

// PUT /users/me/consents/:type
func (s *Server) handleSetConsent(c echo.Context) error {
	var req struct {
		Granted *bool `json:"granted"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}
	if req.Granted == nil {
		return badRequest(c, "granted is required")
	}

	consent, err := s.accounts.SetConsent(c.Request().Context(), getAuth(c).UserID, c.Param("type"), *req.Granted)
	if err != nil {
		return s.fail(c, "Failed to record consent", err)
	}
	return c.JSON(http.StatusOK, consent)
}

// handleExport returns everything stored about the caller as a JSON
// download.
// GET /users/me/export
func (s *Server) handleExport(c echo.Context) error {
	ac := getAuth(c)

	exp, err := s.privacy.Export(c.Request().Context(), ac.UserID)
	if err != nil {
		return s.internalError(c, "Failed to export data", err)
	}

	c.Response().Header().Set(echo.HeaderContentDisposition,
		`attachment; filename="vibespace-export-`+strconv.FormatInt(ac.UserID, 10)+`.json"`)
	return c.JSON(http.StatusOK, exp)
}

// --- Follow requests ---

func (s *Server) handleListFollowRequests(c echo.Context) error {
	page, ok := pageParams(c)
	if !ok {
		return invalidPage(c)
	}
	edges, err := s.follows.PendingRequests(c.Request().Context(), getAuth(c).UserID, page)
	if err != nil {
		return s.fail(c, "Failed to list follow requests", err)
	}
	return c.JSON(http.StatusOK, listResponse("requests", edges, page, edgeID))
}

// POST /users/me/follow-requests/:id/accept
func (s *Server) handleAcceptFollowRequest(c echo.Context) error {
	ac := getAuth(c)
	followerID, ok := idParam(c, "id")
	if !ok {
		return invalidID(c, "user id")
	}

	ctx := c.Request().Context()
	if err := s.follows.Accept(ctx, ac.UserID, followerID); err != nil {
		return s.fail(c, "Failed to accept follow request", err)
	}

	s.notify(c, notify.Event{
		RecipientID: followerID,
		SenderID:    ac.UserID,
		Type:        notify.TypeFollowAccepted,
		EntityType:  "user",
		EntityID:    ac.UserID,
	})
	return c.JSON(http.StatusOK, follow.Result{Status: follow.StatusAccepted})
}

// DELETE /users/me/follow-requests/:id
func (s *Server) handleRejectFollowRequest(c echo.Context) error {
	followerID, ok := idParam(c, "id")
	if !ok {
		return invalidID(c, "user id")
	}
	if err := s.follows.Reject(c.Request().Context(), getAuth(c).UserID, followerID); err != nil {
		return s.fail(c, "Failed to reject follow request", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// --- Other users ---

// profileResponse is a public profile as seen by the caller.
type profileResponse struct {
	account.Profile
	Counts *follow.Counts `json:"counts"`
	// FollowStatus is the caller's edge to this user: "", "pending" or
	// "accepted".
	FollowStatus string `json:"followStatus"`
	FollowsYou   bool   `json:"followsYou"`
}

// handleGetProfile looks a user up by username.
// GET /users/:username
func (s *Server) handleGetProfile(c echo.Context) error {
	ac := getAuth(c)
	ctx := c.Request().Context()

	u, err := s.accounts.GetByUsername(ctx, c.Param("id"))
	if err != nil {
		return s.fail(c, "Failed to load profile", err)
	}
	if !visibleAccount(u) {
		return errorJSON(c, http.StatusNotFound, "NotFound", "User not found")
	}

	resp := profileResponse{Profile: u.Profile()}
	if resp.Counts, err = s.follows.Counts(ctx, u.ID); err != nil {
		return s.internalError(c, "Failed to load profile", err)
	}
	if u.ID != ac.UserID {
		if resp.FollowStatus, err = s.follows.Status(ctx, ac.UserID, u.ID); err != nil {
			return s.internalError(c, "Failed to load profile", err)
		}
		if resp.FollowsYou, err = s.follows.IsFollowing(ctx, u.ID, ac.UserID); err != nil {
			return s.internalError(c, "Failed to load profile", err)
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListUserPosts(c echo.Context) error {
	authorID, ok := idParam(c, "id")
	if !ok {
		return invalidID(c, "user id")
	}
	page, ok := pageParams(c)
	if !ok {
		return invalidPage(c)
	}

	posts, err := s.posts.ListByUser(c.Request().Context(), getAuth(c).UserID, authorID, page)
	if err != nil {
		return s.fail(c, "Failed to list posts", err)
	}
	return c.JSON(http.StatusOK, listResponse("posts", posts, page, postID))
}

func (s *Server) handleListFollowers(c echo.Context) error {
	return s.listEdges(c, "followers", s.follows.Followers)
}

func (s *Server) handleListFollowing(c echo.Context) error {
	return s.listEdges(c, "following", s.follows.Following)
}

// listEdges serves the follower and following lists. A private
// account's lists are shown only to itself and its accepted followers.
func (s *Server) listEdges(c echo.Context, key string, list func(context.Context, int64, database.Page) ([]follow.Edge, error)) error {
	ac := getAuth(c)
	userID, ok := idParam(c, "id")
	if !ok {
		return invalidID(c, "user id")
	}
	page, ok := pageParams(c)
	if !ok {
		return invalidPage(c)
	}

	ctx := c.Request().Context()
	u, err := s.accounts.GetByID(ctx, userID)
	if err != nil {
		return s.fail(c, "Failed to load user", err)
	}
	if !visibleAccount(u) {
		return errorJSON(c, http.StatusNotFound, "NotFound", "User not found")
	}
	if u.IsPrivate && u.ID != ac.UserID {
		following, err := s.follows.IsFollowing(ctx, ac.UserID, u.ID)
		if err != nil {
			return s.internalError(c, "Failed to check follow", err)
		}
		if !following {
			return errorJSON(c, http.StatusForbidden, "Forbidden", "This account is private")
		}
	}

	edges, err := list(ctx, userID, page)
	if err != nil {
		return s.fail(c, "Failed to list "+key, err)
	}
	return c.JSON(http.StatusOK, listResponse(key, edges, page, edgeID))
}

// POST /users/:id/follow
func (s *Server) handleFollow(c echo.Context) error {
	ac := getAuth(c)
	followeeID, ok := idParam(c, "id")
	if !ok {
		return invalidID(c, "user id")
	}

	res, err := s.follows.Follow(c.Request().Context(), ac.UserID, followeeID)
	if err != nil {
		return s.fail(c, "Failed to follow", err)
	}

	typ := notify.TypeFollow
	if res.Status == follow.StatusPending {
		typ = notify.TypeFollowRequest
	}
	s.notify(c, notify.Event{
		RecipientID: followeeID,
		SenderID:    ac.UserID,
		Type:        typ,
		EntityType:  "user",
		EntityID:    ac.UserID,
	})

	s.log.Debug("follow", zap.Int64("follower", ac.UserID), zap.Int64("followee", followeeID),
		zap.String("status", res.Status))
	return c.JSON(http.StatusCreated, res)
}

// DELETE /users/:id/follow
func (s *Server) handleUnfollow(c echo.Context) error {
	followeeID, ok := idParam(c, "id")
	if !ok {
		return invalidID(c, "user id")
	}
	if err := s.follows.Unfollow(c.Request().Context(), getAuth(c).UserID, followeeID); err != nil {
		return s.fail(c, "Failed to unfollow", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// visibleAccount reports whether other users may see u at all.
func visibleAccount(u *account.User) bool {
	return u.Status != account.StatusDeleted && u.Status != account.StatusBanned
}

// notify records a notification for the current request. Failures are
// logged; the triggering action has already succeeded.
func (s *Server) notify(c echo.Context, ev notify.Event) {
	if _, err := s.notifier.Notify(c.Request().Context(), ev); err != nil {
		s.log.Warn("notification failed",
			zap.String("type", ev.Type),
			zap.Int64("recipient", ev.RecipientID),
			zap.Error(err))
	}
}

func edgeID(e follow.Edge) int64 { return e.User.ID }
