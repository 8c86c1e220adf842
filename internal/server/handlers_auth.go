package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/primal-host/vibespace/internal/account"
	"github.com/primal-host/vibespace/internal/auth"
	"go.uber.org/zap"
)

// sessionResponse is returned by register, login and refresh.
type sessionResponse struct {
	User *account.User `json:"user"`
	*auth.TokenPair
}

// handleRegister creates an account and signs the new user in.
// POST /auth/register
func (s *Server) handleRegister(c echo.Context) error {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}

	u, err := s.accounts.Create(c.Request().Context(), account.CreateParams{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return s.fail(c, "Failed to create account", err)
	}

	tokens, err := s.jwt.CreateTokenPair(u.ID)
	if err != nil {
		return s.internalError(c, "Failed to create session", err)
	}

	s.log.Info("account registered", zap.Int64("user_id", u.ID), zap.String("username", u.Username))
	return c.JSON(http.StatusCreated, sessionResponse{User: u, TokenPair: tokens})
}

// handleLogin authenticates a user by username or email plus password
// and returns a JWT token pair.
// POST /auth/login
func (s *Server) handleLogin(c echo.Context) error {
	var req struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}
	if req.Identifier == "" || req.Password == "" {
		return badRequest(c, "identifier and password are required")
	}

	u, err := s.accounts.Authenticate(c.Request().Context(), req.Identifier, req.Password)
	if err != nil {
		if errors.Is(err, account.ErrInvalidCredentials) {
			return errorJSON(c, http.StatusUnauthorized, "InvalidCredentials", "Invalid identifier or password")
		}
		return s.fail(c, "Failed to authenticate", err)
	}

	tokens, err := s.jwt.CreateTokenPair(u.ID)
	if err != nil {
		return s.internalError(c, "Failed to create session", err)
	}
	return c.JSON(http.StatusOK, sessionResponse{User: u, TokenPair: tokens})
}

// handleRefresh exchanges a valid refresh token for a new token pair.
// POST /auth/refresh
func (s *Server) handleRefresh(c echo.Context) error {
	ac := getAuth(c)

	u, err := s.accounts.GetByID(c.Request().Context(), ac.UserID)
	if err != nil {
		return s.fail(c, "Failed to load account", err)
	}

	tokens, err := s.jwt.CreateTokenPair(u.ID)
	if err != nil {
		return s.internalError(c, "Failed to refresh session", err)
	}
	return c.JSON(http.StatusOK, sessionResponse{User: u, TokenPair: tokens})
}
