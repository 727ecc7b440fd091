// Package handler exposes the HTTP surface. Handlers translate between
// JSON and the service layer and carry no business rules of their own.
package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nimbusops/iam-engine/internal/service"
	"github.com/nimbusops/iam-engine/pkg/token"
)

const claimsKey = "auth_claims"

type Handler struct {
	auth      *service.AuthService
	sessions  *service.SessionService
	devices   *service.DeviceService
	twoFactor *service.TwoFactorService
	tokens    *token.Manager
	log       zerolog.Logger
}

func New(
	auth *service.AuthService,
	sessions *service.SessionService,
	devices *service.DeviceService,
	twoFactor *service.TwoFactorService,
	tokens *token.Manager,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		auth:      auth,
		sessions:  sessions,
		devices:   devices,
		twoFactor: twoFactor,
		tokens:    tokens,
		log:       log,
	}
}

func (h *Handler) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")

	auth := v1.Group("/auth")
	auth.POST("/login", h.Login)
	auth.POST("/verify-2fa", h.VerifyTwoFactor)
	auth.POST("/select-context", h.SelectContext)
	auth.POST("/refresh", h.Refresh)

	protected := v1.Group("")
	protected.Use(h.requireAuth())
	protected.POST("/auth/logout", h.Logout)
	protected.PUT("/auth/password", h.ChangePassword)

	protected.GET("/devices", h.ListDevices)
	protected.POST("/devices/:deviceId/trust", h.TrustDevice)
	protected.POST("/devices/:deviceId/block", h.BlockDevice)
	protected.POST("/devices/:deviceId/unblock", h.UnblockDevice)

	protected.GET("/sessions", h.ListSessions)
	protected.DELETE("/sessions/:sessionId", h.RevokeSession)
	protected.POST("/sessions/revoke-others", h.RevokeOtherSessions)

	protected.POST("/2fa/setup", h.BeginTwoFactorSetup)
	protected.POST("/2fa/confirm", h.ConfirmTwoFactorSetup)
	protected.POST("/2fa/disable", h.DisableTwoFactor)
	protected.GET("/2fa/backup-codes", h.BackupCodeStatus)
	protected.POST("/2fa/backup-codes", h.RegenerateBackupCodes)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// requireAuth validates the bearer access token and checks the owning
// session is still alive and within its inactivity window.
func (h *Handler) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := h.tokens.Validate(raw)
		if err != nil {
			status := http.StatusUnauthorized
			msg := "invalid token"
			if errors.Is(err, token.ErrExpired) {
				msg = "token expired"
			}
			c.AbortWithStatusJSON(status, gin.H{"error": msg})
			return
		}

		if _, err := h.sessions.ValidateActivity(c.Request.Context(), claims.SessionID); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session no longer active"})
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

func currentClaims(c *gin.Context) *token.Claims {
	claims, _ := c.MustGet(claimsKey).(*token.Claims)
	return claims
}

// respondError maps service sentinels to HTTP statuses. Unknown errors
// become a 500 with no detail leaked.
func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrRefreshTokenInvalid),
		errors.Is(err, service.ErrRefreshTokenReused),
		errors.Is(err, service.ErrPendingAuthExpired),
		errors.Is(err, service.ErrTwoFactorInvalidCode):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrAccountLocked),
		errors.Is(err, service.ErrAccountInactive),
		errors.Is(err, service.ErrDeviceBlocked),
		errors.Is(err, service.ErrNoTenantAccess),
		errors.Is(err, service.ErrTenantInactive),
		errors.Is(err, service.ErrMembershipNotFound):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrTwoFactorRequired):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "two_factor_required": true})
	case errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrDeviceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrTwoFactorNotEnabled):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
