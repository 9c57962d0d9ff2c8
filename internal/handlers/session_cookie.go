package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/usermanager/internal/middleware"
)

// SessionCookieConfig controls the cookie that carries the session token.
type SessionCookieConfig struct {
	Name   string
	Secure bool
}

func (cfg SessionCookieConfig) name() string {
	if cfg.Name == "" {
		return middleware.DefaultSessionCookie
	}
	return cfg.Name
}

func setSessionCookie(c *gin.Context, cfg SessionCookieConfig, token string, ttl time.Duration) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     cfg.name(),
		Value:    token,
		Path:     "/",
		Secure:   cfg.Secure,
		HttpOnly: true,
		MaxAge:   int(ttl.Seconds()),
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(c *gin.Context, cfg SessionCookieConfig) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     cfg.name(),
		Value:    "",
		Path:     "/",
		Secure:   cfg.Secure,
		HttpOnly: true,
		MaxAge:   -1,
		SameSite: http.SameSiteLaxMode,
	})
}
