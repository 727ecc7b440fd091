package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nimbusops/iam-engine/internal/service"
)

type loginRequest struct {
	Email      string `json:"email" binding:"required"`
	Password   string `json:"password" binding:"required"`
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
}

type tenantOptionResponse struct {
	TenantID     string `json:"tenantId"`
	TenantCode   string `json:"tenantCode"`
	TenantName   string `json:"tenantName"`
	MembershipID string `json:"membershipId"`
	RoleName     string `json:"roleName"`
	RequireMFA   bool   `json:"requireMfa"`
	IsActive     bool   `json:"isActive"`
}

type loginResponse struct {
	PendingToken      string                 `json:"pendingToken"`
	RequiresTwoFactor bool                   `json:"requiresTwoFactor"`
	Email             string                 `json:"email,omitempty"`
	FullName          string                 `json:"fullName,omitempty"`
	Tenants           []tenantOptionResponse `json:"tenants,omitempty"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.auth.Login(c.Request.Context(), service.LoginRequest{
		Email:      req.Email,
		Password:   req.Password,
		DeviceID:   req.DeviceID,
		DeviceName: req.DeviceName,
		UserAgent:  c.GetHeader("User-Agent"),
		IPAddress:  c.ClientIP(),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toLoginResponse(result))
}

func toLoginResponse(result *service.LoginResult) loginResponse {
	tenants := make([]tenantOptionResponse, len(result.Tenants))
	for i, option := range result.Tenants {
		tenants[i] = tenantOptionResponse{
			TenantID:     option.TenantID,
			TenantCode:   option.TenantCode,
			TenantName:   option.TenantName,
			MembershipID: option.MembershipID,
			RoleName:     option.RoleName,
			RequireMFA:   option.RequireMFA,
			IsActive:     option.IsActive,
		}
	}

	return loginResponse{
		PendingToken:      result.PendingToken,
		RequiresTwoFactor: result.RequiresTwoFactor,
		Email:             result.Email,
		FullName:          result.FullName,
		Tenants:           tenants,
	}
}

type verifyTwoFactorRequest struct {
	PendingToken string `json:"pendingToken" binding:"required"`
	Code         string `json:"code" binding:"required"`
}

func (h *Handler) VerifyTwoFactor(c *gin.Context) {
	var req verifyTwoFactorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.auth.VerifyTwoFactor(c.Request.Context(), req.PendingToken, req.Code, c.ClientIP(), c.GetHeader("User-Agent"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toLoginResponse(result))
}

type selectContextRequest struct {
	PendingToken string `json:"pendingToken" binding:"required"`
	TenantID     string `json:"tenantId" binding:"required"`
}

type tokenPairResponse struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	SessionID    string    `json:"sessionId"`
	TenantCode   string    `json:"tenantCode"`
	RoleName     string    `json:"roleName"`
	Permissions  []string  `json:"permissions"`
}

func (h *Handler) SelectContext(c *gin.Context) {
	var req selectContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pair, err := h.auth.SelectContext(c.Request.Context(), req.PendingToken, req.TenantID, c.ClientIP(), c.GetHeader("User-Agent"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTokenPairResponse(pair))
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pair, err := h.auth.RefreshAccessToken(c.Request.Context(), req.RefreshToken, c.ClientIP(), c.GetHeader("User-Agent"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTokenPairResponse(pair))
}

func (h *Handler) Logout(c *gin.Context) {
	claims := currentClaims(c)
	if err := h.auth.Logout(c.Request.Context(), claims.SessionID, c.ClientIP(), c.GetHeader("User-Agent")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"loggedOut": true})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required,min=12"`
}

func (h *Handler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims := currentClaims(c)
	if err := h.auth.ChangePassword(c.Request.Context(), claims.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changed": true})
}

func toTokenPairResponse(pair *service.TokenPair) tokenPairResponse {
	return tokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
		SessionID:    pair.SessionID,
		TenantCode:   pair.TenantCode,
		RoleName:     pair.RoleName,
		Permissions:  pair.Permissions,
	}
}
