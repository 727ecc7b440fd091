package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) BeginTwoFactorSetup(c *gin.Context) {
	claims := currentClaims(c)

	enrollment, err := h.twoFactor.BeginSetup(c.Request.Context(), claims.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"secret":          enrollment.Secret,
		"provisioningUri": enrollment.ProvisioningURI,
		"qrCodePng":       enrollment.QRCodePNG,
	})
}

type confirmTwoFactorRequest struct {
	Code string `json:"code" binding:"required"`
}

func (h *Handler) ConfirmTwoFactorSetup(c *gin.Context) {
	var req confirmTwoFactorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims := currentClaims(c)
	backupCodes, err := h.twoFactor.ConfirmSetup(c.Request.Context(), claims.UserID, req.Code)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": true, "backupCodes": backupCodes})
}

type disableTwoFactorRequest struct {
	Password string `json:"password" binding:"required"`
}

func (h *Handler) DisableTwoFactor(c *gin.Context) {
	var req disableTwoFactorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims := currentClaims(c)
	if err := h.twoFactor.Disable(c.Request.Context(), claims.UserID, req.Password); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": false})
}

func (h *Handler) BackupCodeStatus(c *gin.Context) {
	claims := currentClaims(c)

	remaining, err := h.twoFactor.RemainingBackupCodes(c.Request.Context(), claims.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"remaining": remaining})
}

type regenerateBackupCodesRequest struct {
	Code string `json:"code" binding:"required"`
}

func (h *Handler) RegenerateBackupCodes(c *gin.Context) {
	var req regenerateBackupCodesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims := currentClaims(c)
	backupCodes, err := h.twoFactor.RegenerateBackupCodes(c.Request.Context(), claims.UserID, req.Code)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backupCodes": backupCodes})
}
