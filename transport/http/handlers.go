package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/layer-3/signet/core"
	"github.com/layer-3/signet/service"
)

// AuthHandlers contains HTTP handlers for auth endpoints
type AuthHandlers struct {
	authService *service.AuthService
	cookies     cookieJar
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(authService *service.AuthService, production bool) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
		cookies:     cookieJar{production: production},
	}
}

// GetNonce issues a nonce; the address query parameter is optional
func (h *AuthHandlers) GetNonce(c *gin.Context) {
	h.issueNonce(c, c.Query("address"))
}

// PostNonce issues a nonce for the address in the body
func (h *AuthHandlers) PostNonce(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Address is required"})
		return
	}

	h.issueNonce(c, req.Address)
}

func (h *AuthHandlers) issueNonce(c *gin.Context, address string) {
	challenge, err := h.authService.RequestNonce(c.Request.Context(), address, requestMeta(c))
	if err != nil {
		if errors.Is(err, core.ErrInvalidAddress) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid address"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate nonce"})
		return
	}

	h.cookies.setNonce(c, challenge.Carrier, h.authService.NonceTTL())
	c.JSON(http.StatusOK, gin.H{
		"nonce":     challenge.Nonce,
		"expiresAt": challenge.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// Verify handles the signed sign-in message
func (h *AuthHandlers) Verify(c *gin.Context) {
	var req struct {
		Message   string `json:"message" binding:"required"`
		Signature string `json:"signature" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message and signature are required"})
		return
	}

	carrier, _ := c.Cookie(NonceCookie)
	signIn, err := h.authService.Verify(c.Request.Context(), service.VerifyRequest{
		Message:   req.Message,
		Signature: req.Signature,
		Carrier:   carrier,
	}, requestMeta(c))
	if err != nil {
		if errors.Is(err, core.ErrStoreOperationFailed) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Authentication failed"})
			return
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Invalid nonce or signature"})
		return
	}

	h.cookies.clearNonce(c)
	h.cookies.setAuth(c, signIn.Token, h.authService.SessionTTL())
	c.JSON(http.StatusOK, gin.H{
		"jwt":       signIn.Token,
		"address":   signIn.Session.Address,
		"sessionId": signIn.Session.ID,
		"expiresAt": signIn.Session.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// Check reports whether the caller holds a valid session
func (h *AuthHandlers) Check(c *gin.Context) {
	token := sessionToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"valid": false, "reason": core.ReasonNoToken})
		return
	}

	session, err := h.authService.Check(c.Request.Context(), token, requestMeta(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"valid": false, "reason": core.ReasonFor(err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":     true,
		"address":   session.Address,
		"sessionId": session.ID,
	})
}

// Logout revokes the caller's session. The cookie is cleared whatever happens.
func (h *AuthHandlers) Logout(c *gin.Context) {
	err := h.authService.Logout(c.Request.Context(), sessionToken(c), requestMeta(c))
	h.cookies.clearAuth(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to logout"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Blacklist denies a session; only administrators may call it
func (h *AuthHandlers) Blacklist(c *gin.Context) {
	var req struct {
		TargetAddress string `json:"targetAddress" binding:"required"`
		TargetJTI     string `json:"targetJti" binding:"required"`
		Reason        string `json:"reason" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "targetAddress, targetJti and reason are required"})
		return
	}

	token := sessionToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	err := h.authService.Blacklist(c.Request.Context(), token, service.BlacklistRequest{
		TargetAddress: req.TargetAddress,
		TargetJTI:     req.TargetJTI,
		Reason:        req.Reason,
	}, requestMeta(c))
	if err != nil {
		switch {
		case errors.Is(err, core.ErrUnauthorized):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		case errors.Is(err, core.ErrInvalidAddress):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid target address"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to blacklist session"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

type sessionView struct {
	ID           string    `json:"id"`
	DeviceID     string    `json:"deviceId"`
	IP           string    `json:"ip"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Current      bool      `json:"current"`
}

// Sessions lists the caller's active sessions across devices
func (h *AuthHandlers) Sessions(c *gin.Context) {
	current, ok := sessionFromContext(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Session not found in context"})
		return
	}

	sessions, err := h.authService.ActiveSessions(c.Request.Context(), current)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list sessions"})
		return
	}

	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, sessionView{
			ID:           s.ID,
			DeviceID:     s.DeviceID,
			IP:           s.IP,
			CreatedAt:    s.CreatedAt.UTC(),
			LastActiveAt: s.LastActiveAt.UTC(),
			ExpiresAt:    s.ExpiresAt.UTC(),
			Current:      s.ID == current.ID,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": views})
}

// Me returns information about the authenticated user
func (h *AuthHandlers) Me(c *gin.Context) {
	// Session is set by RequireSession
	session, ok := sessionFromContext(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Session not found in context"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address":   session.Address,
		"sessionId": session.ID,
	})
}

// Healthz is the liveness probe
func (h *AuthHandlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
