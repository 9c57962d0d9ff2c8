package handlers

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	iauth "github.com/charlesng35/usermanager/internal/auth"
	"github.com/charlesng35/usermanager/internal/middleware"
	"github.com/charlesng35/usermanager/pkg/errors"
	"github.com/charlesng35/usermanager/pkg/logger"
	"github.com/charlesng35/usermanager/pkg/response"
)

// FederationHandler drives the external sign-in redirect flow. A nil bridge
// means federation is disabled and every endpoint answers 404.
type FederationHandler struct {
	bridge      *iauth.FederationBridge
	jwt         *iauth.JWTService
	cookie      SessionCookieConfig
	frontendURL string
	loginURL    string
}

// FederationHandlerConfig holds the URLs the handler redirects between.
type FederationHandlerConfig struct {
	// FrontendURL is where the browser lands after the callback.
	FrontendURL string
	// LoginURL is the public address of the google-login endpoint.
	LoginURL string
	Cookie   SessionCookieConfig
}

func NewFederationHandler(bridge *iauth.FederationBridge, jwt *iauth.JWTService, cfg FederationHandlerConfig) *FederationHandler {
	return &FederationHandler{
		bridge:      bridge,
		jwt:         jwt,
		cookie:      cfg.Cookie,
		frontendURL: strings.TrimRight(cfg.FrontendURL, "/"),
		loginURL:    cfg.LoginURL,
	}
}

// GET /api/users/google-url
func (h *FederationHandler) LoginURL(c *gin.Context) {
	if h.bridge == nil {
		response.Error(c, errors.ErrFederationDisabled)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"url": h.loginURL})
}

// GET /api/users/google-login
func (h *FederationHandler) Begin(c *gin.Context) {
	if h.bridge == nil {
		response.Error(c, errors.ErrFederationDisabled)
		return
	}

	result, err := h.bridge.Initiate(requestContext(c), iauth.InitiateRequest{
		SessionKey: middleware.FlowKeyFromContext(c),
		ReturnURL:  h.frontendURL,
	})
	if err != nil {
		logger.WithModule("federation").Error("initiate failed", zap.Error(err))
		h.redirectWithError(c, h.frontendURL, iauth.FederationErrProvider)
		return
	}

	c.Redirect(http.StatusFound, result.RedirectURL)
}

// GET /api/users/google-callback
func (h *FederationHandler) Callback(c *gin.Context) {
	if h.bridge == nil {
		response.Error(c, errors.ErrFederationDisabled)
		return
	}

	result, err := h.bridge.Complete(requestContext(c), iauth.CallbackRequest{
		SessionKey:     middleware.FlowKeyFromContext(c),
		State:          c.Query("state"),
		RawHTTPRequest: c.Request,
	})
	if err != nil {
		code := iauth.FederationErrProvider
		if result != nil && result.ErrorCode != "" {
			code = result.ErrorCode
		}
		h.redirectWithError(c, h.frontendURL, code)
		return
	}

	base := h.frontendURL
	if result.ReturnURL != "" {
		base = strings.TrimRight(result.ReturnURL, "/")
	}

	token, err := h.jwt.IssueSessionToken(result.Identity)
	if err != nil {
		logger.WithModule("federation").Error("issue session token", zap.Error(err))
		h.redirectWithError(c, base, iauth.FederationErrProvider)
		return
	}
	setSessionCookie(c, h.cookie, token, h.jwt.TTL())

	userInfo, err := json.Marshal(result.Identity)
	if err != nil {
		h.redirectWithError(c, base, iauth.FederationErrProvider)
		return
	}

	c.Redirect(http.StatusFound, base+"/login?userInfo="+url.QueryEscape(string(userInfo)))
}

func (h *FederationHandler) redirectWithError(c *gin.Context, base string, code iauth.FederationErrorCode) {
	c.Redirect(http.StatusFound, base+"/login?error="+url.QueryEscape(string(code)))
}
