package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/usermanager/pkg/crypto"
	"github.com/charlesng35/usermanager/pkg/errors"
	"github.com/charlesng35/usermanager/pkg/logger"
	"github.com/charlesng35/usermanager/pkg/response"
)

const (
	// FlowCookieName binds an external sign-in round trip to one browser.
	FlowCookieName = "usermanager_flow"
	CtxFlowKey     = "flowSessionKey"

	flowKeyLength    = 32
	flowCookieMaxAge = 15 * 60
)

// FlowSession makes sure the browser carries a random flow cookie and exposes its
// value to handlers. Lax SameSite lets the cookie survive the provider redirect.
func FlowSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		key, issued, err := ensureFlowCookie(c)
		if err != nil {
			logger.WithModule("http").Error("flow cookie", zap.Error(err))
			response.Error(c, errors.ErrInternalServer)
			c.Abort()
			return
		}
		if issued {
			logger.WithModule("http").Debug("flow cookie issued", zap.String("path", c.FullPath()))
		}

		c.Set(CtxFlowKey, key)
		c.Next()
	}
}

// FlowKeyFromContext returns the value set by FlowSession.
func FlowKeyFromContext(c *gin.Context) string {
	return c.GetString(CtxFlowKey)
}

func ensureFlowCookie(c *gin.Context) (key string, issued bool, err error) {
	if existing, err := c.Cookie(FlowCookieName); err == nil && strings.TrimSpace(existing) != "" {
		return existing, false, nil
	}

	key, err = crypto.GenerateToken(flowKeyLength)
	if err != nil {
		return "", false, err
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     FlowCookieName,
		Value:    key,
		Path:     "/",
		Secure:   IsSecureRequest(c.Request),
		HttpOnly: true,
		MaxAge:   flowCookieMaxAge,
		SameSite: http.SameSiteLaxMode,
	})
	// Later handlers in this request read the cookie back.
	c.Request.AddCookie(&http.Cookie{Name: FlowCookieName, Value: key})
	return key, true, nil
}

// IsSecureRequest reports whether the client reached us over HTTPS.
func IsSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
