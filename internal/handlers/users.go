package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/usermanager/internal/auth"
	"github.com/charlesng35/usermanager/internal/middleware"
	"github.com/charlesng35/usermanager/internal/services"
	"github.com/charlesng35/usermanager/pkg/errors"
	"github.com/charlesng35/usermanager/pkg/response"
)

// UserHandler exposes registration, password login and password reset.
type UserHandler struct {
	credentials *services.CredentialService
	jwt         *iauth.JWTService
	cookie      SessionCookieConfig
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password"`
}

type registerResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

type loginResponse struct {
	User      *iauth.SessionIdentity `json:"user"`
	Token     string                 `json:"token"`
	ExpiresIn int                    `json:"expires_in"`
}

func NewUserHandler(credentials *services.CredentialService, jwt *iauth.JWTService, cookie SessionCookieConfig) *UserHandler {
	return &UserHandler{credentials: credentials, jwt: jwt, cookie: cookie}
}

// POST /api/users/register
func (h *UserHandler) Register(c *gin.Context) {
	var body registerRequest
	if !bindAndValidate(c, &body) {
		return
	}

	account, err := h.credentials.Register(requestContext(c), services.RegisterInput{
		Username: body.Username,
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, registerResponse{
		ID:       account.ID,
		Email:    account.Email,
		Username: account.Username,
	})
}

// POST /api/users/login
func (h *UserHandler) Login(c *gin.Context) {
	var body loginRequest
	if !bindAndValidate(c, &body) {
		return
	}

	identity, err := h.credentials.Login(requestContext(c), services.LoginInput{
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	token, err := h.jwt.IssueSessionToken(identity)
	if err != nil {
		respondError(c, err)
		return
	}
	setSessionCookie(c, h.cookie, token, h.jwt.TTL())

	response.Success(c, http.StatusOK, loginResponse{
		User:      identity,
		Token:     token,
		ExpiresIn: int(h.jwt.TTL().Seconds()),
	})
}

// POST /api/users/logout
func (h *UserHandler) Logout(c *gin.Context) {
	clearSessionCookie(c, h.cookie)
	response.Message(c, http.StatusOK, "Logged out")
}

// POST /api/users/forgot-password
func (h *UserHandler) ForgotPassword(c *gin.Context) {
	var body forgotPasswordRequest
	if !bindAndValidate(c, &body) {
		return
	}

	if err := h.credentials.RequestPasswordReset(requestContext(c), body.Email); err != nil {
		respondGeneric(c, err)
		return
	}

	// Same answer whether or not the address is registered.
	response.Message(c, http.StatusOK, "If the email address is registered, a password reset link has been sent.")
}

// POST /api/users/reset-password
func (h *UserHandler) ResetPassword(c *gin.Context) {
	var body resetPasswordRequest
	if !bindAndValidate(c, &body) {
		return
	}

	if err := h.credentials.RedeemPasswordReset(requestContext(c), body.Token, body.Password); err != nil {
		respondError(c, err)
		return
	}

	response.Message(c, http.StatusOK, "Password has been reset.")
}

// GET /api/users/current
func (h *UserHandler) Current(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}
	response.Success(c, http.StatusOK, identity)
}

// GET /api/users/test
func (h *UserHandler) Test(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"message": "API is working"})
}
