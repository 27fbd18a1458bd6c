package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/edge-gateway/internal/api/dto"
	"github.com/spec-kit/edge-gateway/internal/auth"
	"github.com/spec-kit/edge-gateway/internal/service"
	apperrors "github.com/spec-kit/edge-gateway/pkg/util"
)

// AuthHandler exposes the credential endpoints of the auth service.
type AuthHandler struct {
	auth *service.AuthService
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: authService}
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	identity, err := h.auth.Register(c.UserContext(), service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return err
	}

	return c.Status(http.StatusCreated).JSON(apperrors.Success("User registered successfully", dto.IdentityResponse{
		ID:        identity.ID,
		Username:  identity.Username,
		Email:     identity.Email,
		Roles:     identity.Roles,
		Enabled:   identity.Enabled,
		CreatedAt: identity.CreatedAt,
	}, http.StatusCreated, c.Path()))
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	session, err := h.auth.Login(c.UserContext(), req.Username, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(apperrors.Success("Login successful", toAuthResponse(session), http.StatusOK, c.Path()))
}

// Refresh handles POST /auth/refresh.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req dto.RefreshRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.RefreshToken == "" {
		return apperrors.NewValidationError("refreshToken is required", nil)
	}

	session, err := h.auth.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return err
	}
	return c.JSON(apperrors.Success("Token refreshed successfully", toAuthResponse(session), http.StatusOK, c.Path()))
}

// Validate handles GET /auth/validate.
func (h *AuthHandler) Validate(c *fiber.Ctx) error {
	token, ok := auth.ExtractBearer(c.Get(fiber.HeaderAuthorization))
	if !ok {
		return apperrors.NewUnauthorized(apperrors.CodeMissingToken, "Missing Authorization header")
	}

	p, err := h.auth.Validate(c.UserContext(), token)
	if err != nil {
		return err
	}
	return c.JSON(apperrors.Success("Token is valid", dto.PrincipalResponse{
		ID:          p.ID,
		Username:    p.Username,
		Email:       p.Email,
		Roles:       p.Roles,
		Enabled:     p.Enabled,
		LastLoginAt: p.LastLoginAt,
	}, http.StatusOK, c.Path()))
}

// Logout handles POST /auth/logout.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	principal, _ := auth.PrincipalFromContext(c)
	subject := ""
	if principal != nil {
		subject = principal.Subject
	}
	if err := h.auth.Logout(c.UserContext(), subject); err != nil {
		return err
	}
	return c.JSON(apperrors.Success("Logout successful", nil, http.StatusOK, c.Path()))
}

// LockStatus handles GET /auth/admin/lockout/:username.
func (h *AuthHandler) LockStatus(c *fiber.Ctx) error {
	identity, err := h.auth.LockStatus(c.UserContext(), c.Params("username"))
	if err != nil {
		return err
	}

	resp := dto.LockStatusResponse{
		Username:       identity.Username,
		State:          string(identity.State()),
		FailedAttempts: identity.FailedAttempts,
		LockedAt:       identity.LockedAt,
	}
	if identity.Locked && identity.LockedAt != nil {
		until := identity.LockedAt.Add(h.auth.LockDuration())
		resp.LockedUntil = &until
	}
	return c.JSON(apperrors.Success("Lock status", resp, http.StatusOK, c.Path()))
}

func toAuthResponse(s *service.Session) dto.AuthResponse {
	return dto.AuthResponse{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.ExpiresIn.Seconds()),
		Username:     s.Identity.Username,
		Email:        s.Identity.Email,
		Roles:        s.Identity.Roles,
		LoginTime:    s.IssuedAt,
	}
}
