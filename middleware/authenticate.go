package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pubble-team/pubbleauth"
	"github.com/pubble-team/pubbleauth/access"
	"github.com/pubble-team/pubbleauth/internal/logging"
)

// PrincipalKey is the gin key holding the authenticated principal.
const PrincipalKey = "pubble.principal"

// Authenticator verifies access tokens. *pubbleauth.Engine implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (pubbleauth.Principal, error)
}

// Authenticate resolves the bearer token, if any, into a principal.
func Authenticate(auth Authenticator, table *access.Table, logger logging.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = logging.Discard()
	}

	return func(c *gin.Context) {
		if table != nil && table.IsPublic(c.Request.URL.Path) {
			c.Next()
			return
		}

		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		p, err := auth.Authenticate(ctx, token)
		if err != nil {
			switch {
			case errors.Is(err, pubbleauth.ErrTokenExpired):
				logger.Debug(ctx, "expired access token", "path", c.Request.URL.Path)
			case errors.Is(err, pubbleauth.ErrTokenInvalid):
				logger.Debug(ctx, "invalid access token", "path", c.Request.URL.Path)
			default:
				logger.Warn(ctx, "access token verification failed", "path", c.Request.URL.Path, "error", err)
			}
			c.Next()
			return
		}

		c.Request = c.Request.WithContext(pubbleauth.WithPrincipal(ctx, p))
		c.Set(PrincipalKey, p)
		c.Next()
	}
}

// PrincipalFrom returns the principal Authenticate stored for this request.
func PrincipalFrom(c *gin.Context) (pubbleauth.Principal, bool) {
	if v, ok := c.Get(PrincipalKey); ok {
		if p, ok := v.(pubbleauth.Principal); ok {
			return p, true
		}
	}
	return pubbleauth.PrincipalFromContext(c.Request.Context())
}

func bearerToken(value string) (string, bool) {
	const bearer = "bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
