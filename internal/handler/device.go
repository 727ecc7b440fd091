package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nimbusops/iam-engine/internal/repository"
)

type deviceResponse struct {
	ID          string    `json:"id"`
	DeviceName  string    `json:"deviceName,omitempty"`
	TrustScore  int       `json:"trustScore"`
	IsTrusted   bool      `json:"isTrusted"`
	IsBlocked   bool      `json:"isBlocked"`
	BlockReason string    `json:"blockReason,omitempty"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

func toDeviceResponse(device *repository.UserDevice) deviceResponse {
	resp := deviceResponse{
		ID:          device.ID,
		TrustScore:  device.TrustScore,
		IsTrusted:   device.IsTrusted,
		IsBlocked:   device.IsBlocked,
		FirstSeenAt: device.FirstSeenAt,
		LastSeenAt:  device.LastSeenAt,
	}
	if device.DeviceName != nil {
		resp.DeviceName = *device.DeviceName
	}
	if device.BlockReason != nil {
		resp.BlockReason = *device.BlockReason
	}
	return resp
}

func (h *Handler) ListDevices(c *gin.Context) {
	claims := currentClaims(c)

	devices, err := h.devices.ListDevices(c.Request.Context(), claims.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	out := make([]deviceResponse, len(devices))
	for i, device := range devices {
		out[i] = toDeviceResponse(device)
	}
	c.JSON(http.StatusOK, gin.H{"devices": out})
}

func (h *Handler) TrustDevice(c *gin.Context) {
	claims := currentClaims(c)

	if err := h.devices.TrustDevice(c.Request.Context(), claims.UserID, c.Param("deviceId")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trusted": true})
}

type blockDeviceRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *Handler) BlockDevice(c *gin.Context) {
	var req blockDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims := currentClaims(c)
	if err := h.devices.BlockDevice(c.Request.Context(), claims.UserID, c.Param("deviceId"), req.Reason); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocked": true})
}

func (h *Handler) UnblockDevice(c *gin.Context) {
	claims := currentClaims(c)

	if err := h.devices.UnblockDevice(c.Request.Context(), claims.UserID, c.Param("deviceId")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocked": false})
}
