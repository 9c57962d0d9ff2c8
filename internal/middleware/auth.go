package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/usermanager/internal/auth"
	"github.com/charlesng35/usermanager/pkg/errors"
	"github.com/charlesng35/usermanager/pkg/response"
)

const (
	CtxIdentityKey  = "sessionIdentity"
	CtxAccountIDKey = "accountID"

	// DefaultSessionCookie carries the signed session token for browser clients.
	DefaultSessionCookie = "usermanager_session"
)

// Auth requires a valid session token, read from the session cookie or an
// Authorization: Bearer header, and attaches the SessionIdentity to the context.
func Auth(jwt *iauth.JWTService, cookieName string) gin.HandlerFunc {
	if cookieName == "" {
		cookieName = DefaultSessionCookie
	}

	return func(c *gin.Context) {
		token := sessionToken(c, cookieName)
		if token == "" {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		claims, err := jwt.ValidateSessionToken(token)
		if err != nil {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		identity := claims.Identity()
		c.Set(CtxIdentityKey, identity)
		if identity.AccountID != "" {
			c.Set(CtxAccountIDKey, identity.AccountID)
		}

		c.Next()
	}
}

// IdentityFromContext returns the identity attached by Auth.
func IdentityFromContext(c *gin.Context) (*iauth.SessionIdentity, bool) {
	value, ok := c.Get(CtxIdentityKey)
	if !ok {
		return nil, false
	}
	identity, ok := value.(*iauth.SessionIdentity)
	return identity, ok && identity != nil
}

func sessionToken(c *gin.Context, cookieName string) string {
	authz := c.GetHeader("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "Bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	if cookie, err := c.Cookie(cookieName); err == nil {
		return strings.TrimSpace(cookie)
	}
	return ""
}
