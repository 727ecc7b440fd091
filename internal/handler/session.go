package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nimbusops/iam-engine/internal/repository"
)

type sessionResponse struct {
	ID             string    `json:"id"`
	IPAddress      string    `json:"ipAddress,omitempty"`
	UserAgent      string    `json:"userAgent,omitempty"`
	Current        bool      `json:"current"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

func toSessionResponse(session *repository.Session, currentID string) sessionResponse {
	resp := sessionResponse{
		ID:             session.ID,
		Current:        session.ID == currentID,
		CreatedAt:      session.CreatedAt,
		LastActivityAt: session.LastActivityAt,
		ExpiresAt:      session.ExpiresAt,
	}
	if session.IPAddress != nil {
		resp.IPAddress = *session.IPAddress
	}
	if session.UserAgent != nil {
		resp.UserAgent = *session.UserAgent
	}
	return resp
}

func (h *Handler) ListSessions(c *gin.Context) {
	claims := currentClaims(c)

	sessions, err := h.sessions.ListSessions(c.Request.Context(), claims.UserID, claims.TenantID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	out := make([]sessionResponse, len(sessions))
	for i, session := range sessions {
		out[i] = toSessionResponse(session, claims.SessionID)
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (h *Handler) RevokeSession(c *gin.Context) {
	claims := currentClaims(c)

	if err := h.sessions.RevokeSession(c.Request.Context(), claims.UserID, c.Param("sessionId")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": true})
}

func (h *Handler) RevokeOtherSessions(c *gin.Context) {
	claims := currentClaims(c)

	revoked, err := h.sessions.RevokeOtherSessions(c.Request.Context(), claims.UserID, claims.SessionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": revoked})
}
