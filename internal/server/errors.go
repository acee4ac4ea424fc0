package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pubble-team/pubbleauth"
)

type apiError struct {
	status  int
	code    string
	message string
}

// bearerChallenge matches the challenge middleware.Authorize sends.
const bearerChallenge = `Bearer realm="pubble"`

var (
	errInvalidInput = apiError{http.StatusBadRequest, "INVALID_INPUT", "send username and password as JSON"}
	errInternal     = apiError{http.StatusInternalServerError, "INTERNAL", "internal error"}
)

// classify maps engine errors onto HTTP responses.
func classify(err error) apiError {
	switch {
	case errors.Is(err, pubbleauth.ErrInvalidCredentials):
		return apiError{http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid username or password"}
	case errors.Is(err, pubbleauth.ErrLoginRateLimited):
		return apiError{http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS", "too many failed attempts, try again later"}
	case errors.Is(err, pubbleauth.ErrRefreshRevoked):
		return apiError{http.StatusUnauthorized, "REFRESH_REVOKED", "refresh token has been revoked"}
	case errors.Is(err, pubbleauth.ErrRefreshInvalid):
		return apiError{http.StatusUnauthorized, "REFRESH_INVALID", "invalid refresh token"}
	case errors.Is(err, pubbleauth.ErrTokenExpired), errors.Is(err, pubbleauth.ErrTokenInvalid):
		return apiError{http.StatusUnauthorized, "UNAUTHORIZED", "authentication required"}
	case errors.Is(err, pubbleauth.ErrStorePersistence):
		return apiError{http.StatusInternalServerError, "STORE_PERSISTENCE", "could not persist session"}
	case errors.Is(err, pubbleauth.ErrStoreUnavailable):
		return apiError{http.StatusInternalServerError, "STORE_UNAVAILABLE", "session store unavailable"}
	default:
		return errInternal
	}
}

func (h *handler) writeError(c *gin.Context, err error) {
	e := classify(err)
	if e.status == http.StatusTooManyRequests {
		if cooldown := h.auth.LoginCooldown(); cooldown > 0 {
			c.Header("Retry-After", strconv.FormatInt(int64(cooldown.Seconds()), 10))
		}
	}
	if e.status >= http.StatusInternalServerError {
		h.logger.Error(c.Request.Context(), "request failed", "path", c.Request.URL.Path, "error", err)
	}
	abortWith(c, e)
}

func abortWith(c *gin.Context, e apiError) {
	if e.status == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", bearerChallenge)
	}
	c.AbortWithStatusJSON(e.status, gin.H{
		"code":    e.code,
		"message": e.message,
	})
}
