package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/primal-host/vibespace/internal/vibe"
)

// registerRoutes sets up all HTTP routes.
//
// User routes take the user's numeric ID as :id, except GET /users/:id
// which looks the profile up by username.
func (s *Server) registerRoutes() {
	// --- Public endpoints (no auth) ---
	s.echo.GET("/health", s.handleHealth)
	s.echo.POST("/auth/register", s.handleRegister)
	s.echo.POST("/auth/login", s.handleLogin)
	s.echo.POST("/auth/refresh", s.handleRefresh, s.requireRefresh)
	s.echo.GET("/ws", s.handleWebSocket)
	s.echo.GET("/media/*", s.handleGetMedia)

	// --- Authenticated API ---
	api := s.echo.Group("", s.requireAuth)

	api.GET("/users/me", s.handleGetMe)
	api.PATCH("/users/me", s.handleUpdateMe)
	api.DELETE("/users/me", s.handleDeleteMe)
	api.GET("/users/me/privacy", s.handleGetPrivacy)
	api.PATCH("/users/me/privacy", s.handleUpdatePrivacy)
	api.GET("/users/me/consents", s.handleListConsents)
	api.PUT("/users/me/consents/:type", s.handleSetConsent)
	api.GET("/users/me/export", s.handleExport)
	api.GET("/users/me/follow-requests", s.handleListFollowRequests)
	api.POST("/users/me/follow-requests/:id/accept", s.handleAcceptFollowRequest)
	api.DELETE("/users/me/follow-requests/:id", s.handleRejectFollowRequest)
	api.GET("/users/:id", s.handleGetProfile)
	api.GET("/users/:id/posts", s.handleListUserPosts)
	api.GET("/users/:id/followers", s.handleListFollowers)
	api.GET("/users/:id/following", s.handleListFollowing)
	api.POST("/users/:id/follow", s.handleFollow)
	api.DELETE("/users/:id/follow", s.handleUnfollow)

	api.POST("/posts", s.handleCreatePost)
	api.GET("/posts/:id", s.handleGetPost)
	api.PATCH("/posts/:id", s.handleUpdatePost)
	api.DELETE("/posts/:id", s.handleDeletePost)
	api.GET("/feed", s.handleFeed)
	api.GET("/channels", s.handleListChannels)
	api.GET("/channels/:channel/posts", s.handleListChannelPosts)
	api.POST("/posts/:id/like", s.handleLikePost)
	api.DELETE("/posts/:id/like", s.handleUnlikePost)
	api.GET("/posts/:id/vibes", s.vibeSummary(vibe.KindPost))
	api.POST("/posts/:id/vibes", s.setVibe(vibe.KindPost))
	api.DELETE("/posts/:id/vibes", s.removeVibe(vibe.KindPost))
	api.GET("/posts/:id/comments", s.handleListComments)
	api.POST("/posts/:id/comments", s.handleCreateComment)

	api.PATCH("/comments/:id", s.handleUpdateComment)
	api.DELETE("/comments/:id", s.handleDeleteComment)
	api.GET("/comments/:id/vibes", s.vibeSummary(vibe.KindComment))
	api.POST("/comments/:id/vibes", s.setVibe(vibe.KindComment))
	api.DELETE("/comments/:id/vibes", s.removeVibe(vibe.KindComment))

	api.GET("/conversations", s.handleListConversations)
	api.POST("/conversations", s.handleOpenConversation)
	api.GET("/conversations/:id/messages", s.handleListMessages)
	api.POST("/conversations/:id/messages", s.handleSendMessage)
	api.POST("/conversations/:id/read", s.handleMarkConversationRead)
	api.GET("/messages/:id/vibes", s.vibeSummary(vibe.KindMessage))
	api.POST("/messages/:id/vibes", s.setVibe(vibe.KindMessage))
	api.DELETE("/messages/:id/vibes", s.removeVibe(vibe.KindMessage))

	api.GET("/notifications", s.handleListNotifications)
	api.GET("/notifications/unread-count", s.handleUnreadCount)
	api.POST("/notifications/:id/read", s.handleMarkNotificationRead)
	api.POST("/notifications/read-all", s.handleMarkAllNotificationsRead)

	api.POST("/media", s.handleUploadMedia)
	api.POST("/reports", s.handleCreateReport)

	// --- Admin API (moderator/admin token or operator admin key) ---
	admin := s.echo.Group("/admin", s.requireStaff)
	admin.GET("/reports", s.handleListReports)
	admin.POST("/reports/:id/resolve", s.handleResolveReport)
	admin.PATCH("/users/:id/status", s.handleSetUserStatus)
	admin.PATCH("/users/:id/role", s.handleSetUserRole, requireAdmin)
	admin.DELETE("/posts/:id", s.handleRemovePost)
	admin.DELETE("/comments/:id", s.handleRemoveComment)
	admin.GET("/actions", s.handleListActions)
}

// handleHealth returns basic server health information.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": Version,
	})
}
