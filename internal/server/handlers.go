package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pubble-team/pubbleauth"
	"github.com/pubble-team/pubbleauth/middleware"
)

type signInRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	TokenType        string    `json:"tokenType"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// Empty fields are left to the engine so they fail like a wrong password.
func (h *handler) signIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, errInvalidInput)
		return
	}

	pair, err := h.auth.SignIn(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.writeTokens(c, pair)
}

func (h *handler) refresh(c *gin.Context) {
	token := refreshTokenFrom(c)
	if token == "" {
		h.writeError(c, pubbleauth.ErrRefreshInvalid)
		return
	}

	pair, err := h.auth.Refresh(c.Request.Context(), token)
	if err != nil {
		if classify(err).status == http.StatusUnauthorized {
			h.clearRefreshCookie(c)
		}
		h.writeError(c, err)
		return
	}
	h.writeTokens(c, pair)
}

func (h *handler) writeTokens(c *gin.Context, pair pubbleauth.TokenPair) {
	h.setRefreshCookie(c, pair.RefreshToken, pair.RefreshExpiresAt)
	c.Header("Authorization", "Bearer "+pair.AccessToken)
	c.JSON(http.StatusOK, tokenResponse{
		TokenType:        "Bearer",
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	})
}

// logout never fails for a bad or missing token; only a store outage is
// reported.
func (h *handler) logout(c *gin.Context) {
	token := refreshTokenFrom(c)
	if err := h.auth.Logout(c.Request.Context(), token); err != nil {
		h.writeError(c, err)
		return
	}
	h.clearRefreshCookie(c)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (h *handler) principal(c *gin.Context) {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		abortWith(c, classify(pubbleauth.ErrTokenInvalid))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"subject": p.Subject,
		"role":    p.Role,
	})
}

func (h *handler) admin(c *gin.Context) {
	p, _ := middleware.PrincipalFrom(c)
	c.JSON(http.StatusOK, gin.H{
		"message": "admin area",
		"subject": p.Subject,
	})
}

func (h *handler) health(c *gin.Context) {
	if err := h.auth.Ping(c.Request.Context()); err != nil {
		h.logger.Warn(c.Request.Context(), "health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unavailable",
			"service": "pubble-auth",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "pubble-auth",
	})
}
