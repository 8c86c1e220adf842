// Package server provides the VibeSpace HTTP API, built on Echo v4. It
// serves the JSON REST endpoints, uploaded media, and the WebSocket
// channel that pushes live notifications and direct messages.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/primal-host/vibespace/internal/account"
	"github.com/primal-host/vibespace/internal/auth"
	"github.com/primal-host/vibespace/internal/comment"
	"github.com/primal-host/vibespace/internal/config"
	"github.com/primal-host/vibespace/internal/database"
	"github.com/primal-host/vibespace/internal/follow"
	"github.com/primal-host/vibespace/internal/media"
	"github.com/primal-host/vibespace/internal/message"
	"github.com/primal-host/vibespace/internal/moderation"
	"github.com/primal-host/vibespace/internal/notify"
	"github.com/primal-host/vibespace/internal/post"
	"github.com/primal-host/vibespace/internal/privacy"
	"github.com/primal-host/vibespace/internal/vibe"
	"go.uber.org/zap"
)

// Version is reported by the health endpoint and the CLI.
const Version = "0.4.0"

// Server wraps the Echo instance and application dependencies.
type Server struct {
	echo *echo.Echo
	cfg  *config.Config
	log  *zap.Logger
	jwt  *auth.JWTManager

	accounts   *account.Store
	posts      *post.Store
	comments   *comment.Store
	vibes      *vibe.Store
	follows    *follow.Store
	messages   *message.Store
	moderation *moderation.Store
	inbox      *notify.Store
	notifier   *notify.Notifier
	hub        *notify.Hub
	media      media.Store
	privacy    *privacy.Service
}

// New creates a configured Echo server with all routes registered.
func New(cfg *config.Config, db *database.DB, mediaStore media.Store, hub *notify.Hub, jwtMgr *auth.JWTManager, log *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true // We log the listen address ourselves.

	s := &Server{
		echo:       e,
		cfg:        cfg,
		log:        log,
		jwt:        jwtMgr,
		accounts:   account.NewStore(db),
		posts:      post.NewStore(db),
		comments:   comment.NewStore(db),
		vibes:      vibe.NewStore(db),
		follows:    follow.NewStore(db),
		messages:   message.NewStore(db),
		moderation: moderation.NewStore(db),
		inbox:      notify.NewStore(db),
		hub:        hub,
		media:      mediaStore,
	}
	s.notifier = notify.NewNotifier(s.inbox, hub, log.Named("notify"))
	s.privacy = privacy.NewService(db, privacy.Stores{
		Accounts: s.accounts,
		Posts:    s.posts,
		Comments: s.comments,
		Vibes:    s.vibes,
		Follows:  s.follows,
		Messages: s.messages,
	}, mediaStore, hub, log.Named("privacy"))

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			s.log.Info("request", fields...)
			return nil
		},
	}))
	if len(cfg.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.CORSOrigins,
			AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType},
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		}))
	}
	e.Use(middleware.BodyLimit("6M"))

	s.registerRoutes()
	return s
}

// ServeHTTP lets the server be mounted in tests and other handlers.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// authContext holds the authenticated caller's identity. Operator is
// set when the request carried the configured admin key instead of a
// user token; UserID is zero in that case.
type authContext struct {
	UserID   int64
	Username string
	Role     string
	Status   string
	Operator bool
}

// actorID is the audit log actor: nil for the operator.
func (ac *authContext) actorID() *int64 {
	if ac.Operator {
		return nil
	}
	id := ac.UserID
	return &id
}

// actor describes the caller to the moderation store.
func (ac *authContext) actor() moderation.Actor {
	return moderation.Actor{ID: ac.actorID(), Admin: ac.isAdmin()}
}

func (ac *authContext) isAdmin() bool {
	return ac.Operator || ac.Role == account.RoleAdmin
}

const authContextKey = "auth"

// getAuth retrieves the auth context set by middleware.
func getAuth(c echo.Context) *authContext {
	if ac, ok := c.Get(authContextKey).(*authContext); ok {
		return ac
	}
	return nil
}

// readOnlyExempt lists the state-changing routes a suspended account may
// still call.
var readOnlyExempt = map[string]bool{
	http.MethodDelete + " /users/me":            true,
	http.MethodPost + " /notifications/:id/read": true,
	http.MethodPost + " /notifications/read-all": true,
	http.MethodPost + " /conversations/:id/read": true,
}

// requireAuth is middleware that validates a Bearer JWT access token
// and loads the caller's account. Banned and deleted accounts are
// rejected; suspended accounts may only read.
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := extractBearer(c)
		if token == "" {
			return errorJSON(c, http.StatusUnauthorized, "AuthRequired",
				"Authorization header with Bearer token is required")
		}

		userID, err := s.jwt.ValidateAccessToken(token)
		if err != nil {
			return errorJSON(c, http.StatusUnauthorized, "InvalidToken", "Invalid or expired access token")
		}

		ac, err := s.loadCaller(c, userID)
		if err != nil {
			return err
		}
		if ac == nil {
			return nil
		}

		if ac.Status == account.StatusSuspended && !isSafeMethod(c.Request().Method) &&
			!readOnlyExempt[c.Request().Method+" "+c.Path()] {
			return errorJSON(c, http.StatusForbidden, "AccountSuspended",
				"Suspended accounts cannot create or change content")
		}

		c.Set(authContextKey, ac)
		return next(c)
	}
}

// requireRefresh is middleware that validates a Bearer token as a JWT
// refresh token. Sets authContext on the request.
func (s *Server) requireRefresh(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := extractBearer(c)
		if token == "" {
			return errorJSON(c, http.StatusUnauthorized, "AuthRequired",
				"Authorization header with Bearer token is required")
		}

		userID, err := s.jwt.ValidateRefreshToken(token)
		if err != nil {
			return errorJSON(c, http.StatusUnauthorized, "InvalidToken", "Invalid or expired refresh token")
		}

		ac, err := s.loadCaller(c, userID)
		if err != nil || ac == nil {
			return err
		}
		c.Set(authContextKey, ac)
		return next(c)
	}
}

// requireStaff is middleware for the admin API. It accepts the operator
// admin key or the access token of a moderator or admin.
func (s *Server) requireStaff(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := extractBearer(c)
		if token == "" {
			return errorJSON(c, http.StatusUnauthorized, "AuthRequired",
				"Authorization header with Bearer token is required")
		}

		if s.cfg.AdminKey != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminKey)) == 1 {
			c.Set(authContextKey, &authContext{Role: account.RoleAdmin, Status: account.StatusActive, Operator: true})
			return next(c)
		}

		userID, err := s.jwt.ValidateAccessToken(token)
		if err != nil {
			return errorJSON(c, http.StatusUnauthorized, "InvalidToken", "Invalid or expired access token")
		}
		ac, err := s.loadCaller(c, userID)
		if err != nil || ac == nil {
			return err
		}
		if !account.IsModerator(ac.Role) || ac.Status != account.StatusActive {
			return errorJSON(c, http.StatusForbidden, "Forbidden", "Moderator access required")
		}

		c.Set(authContextKey, ac)
		return next(c)
	}
}

// requireAdmin must run after requireStaff.
func requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if ac := getAuth(c); ac == nil || !ac.isAdmin() {
			return errorJSON(c, http.StatusForbidden, "Forbidden", "Admin access required")
		}
		return next(c)
	}
}

// loadCaller fetches the token subject's account. When the account may
// not authenticate it writes the response and returns a nil context.
func (s *Server) loadCaller(c echo.Context, userID int64) (*authContext, error) {
	u, err := s.accounts.GetByID(c.Request().Context(), userID)
	if errors.Is(err, account.ErrNotFound) {
		return nil, errorJSON(c, http.StatusUnauthorized, "InvalidToken", "Account no longer exists")
	}
	if err != nil {
		return nil, s.internalError(c, "Failed to load account", err)
	}
	switch u.Status {
	case account.StatusDeleted:
		return nil, errorJSON(c, http.StatusUnauthorized, "InvalidToken", "Account no longer exists")
	case account.StatusBanned:
		return nil, errorJSON(c, http.StatusForbidden, "AccountBanned", "This account has been banned")
	}
	return &authContext{UserID: u.ID, Username: u.Username, Role: u.Role, Status: u.Status}, nil
}

// extractBearer extracts the Bearer token from the Authorization header.
func extractBearer(c echo.Context) string {
	h := c.Request().Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}

func isSafeMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}

// Start begins listening for HTTP requests. It blocks until the context
// is cancelled, then closes live WebSocket connections and performs a
// graceful shutdown allowing in-flight requests to complete.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", s.cfg.ListenAddr))
		if err := s.echo.Start(s.cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.log.Info("shutting down HTTP server")
		s.hub.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	}
}
