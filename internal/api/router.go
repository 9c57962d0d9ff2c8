package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/charlesng35/usermanager/internal/app"
	iauth "github.com/charlesng35/usermanager/internal/auth"
	"github.com/charlesng35/usermanager/internal/handlers"
	"github.com/charlesng35/usermanager/internal/middleware"
	"github.com/charlesng35/usermanager/internal/services"
)

// Dependencies are the long-lived services the router mounts.
type Dependencies struct {
	DB          *gorm.DB
	JWT         *iauth.JWTService
	Credentials *services.CredentialService
	// Federation may be nil, in which case the google-* routes answer 404.
	Federation *iauth.FederationBridge
	RateStore  middleware.RateStore
	Config     *app.Config
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if deps.JWT == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if deps.Credentials == nil {
		return nil, fmt.Errorf("credential service must be provided")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	cfg := deps.Config
	rateStore := deps.RateStore
	if rateStore == nil {
		rateStore = middleware.NewMemoryRateStore()
	}
	limit, window := cfg.Server.RateLimit.Requests, cfg.Server.RateLimit.Window
	if limit <= 0 {
		limit = 100
	}
	if window <= 0 {
		window = time.Minute
	}

	r := gin.New()

	r.Use(middleware.Recovery())
	r.Use(middleware.Logger("/health", "/metrics"))
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.RateLimit(rateStore, limit, window))

	r.GET("/health", handlers.Health(deps.DB))

	cookie := handlers.SessionCookieConfig{
		Name:   cfg.Auth.Session.CookieName,
		Secure: cfg.Auth.Session.CookieSecure,
	}
	userHandler := handlers.NewUserHandler(deps.Credentials, deps.JWT, cookie)
	fedHandler := handlers.NewFederationHandler(deps.Federation, deps.JWT, handlers.FederationHandlerConfig{
		FrontendURL: cfg.Server.FrontendURL,
		LoginURL:    cfg.Auth.FederationLoginURL(),
		Cookie:      cookie,
	})

	users := r.Group("/api/users")
	{
		users.POST("/register", userHandler.Register)
		users.POST("/login", userHandler.Login)
		users.POST("/logout", userHandler.Logout)
		users.POST("/forgot-password", userHandler.ForgotPassword)
		users.POST("/reset-password", userHandler.ResetPassword)
		users.GET("/test", userHandler.Test)
		users.GET("/current", middleware.Auth(deps.JWT, cookie.Name), userHandler.Current)

		users.GET("/google-url", fedHandler.LoginURL)
		users.GET("/google-login", middleware.FlowSession(), fedHandler.Begin)
		users.GET("/google-callback", middleware.FlowSession(), fedHandler.Callback)
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
