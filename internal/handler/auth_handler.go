package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wakestake/internal/db"
	"github.com/wakestake/internal/service"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func authResponse(user db.User, token string) gin.H {
	return gin.H{
		"ok":    true,
		"token": token,
		"user": gin.H{
			"id":    user.ID,
			"email": user.Email,
		},
	}
}

// Signup 创建账号并返回 Bearer 令牌。
func (a *API) Signup(c *gin.Context) {
	var req credentialsRequest
	if !bindJSON(c, &req, "email and password are required") {
		return
	}

	user, token, err := a.auth.Signup(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		a.handleAuthError(c, err)
		return
	}
	c.JSON(http.StatusCreated, authResponse(user, token))
}

// Signin 校验密码并返回新的令牌。
func (a *API) Signin(c *gin.Context) {
	var req credentialsRequest
	if !bindJSON(c, &req, "email and password are required") {
		return
	}

	user, token, err := a.auth.Signin(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		a.handleAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, authResponse(user, token))
}

func (a *API) handleAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidEmail):
		respondOutcome(c, http.StatusBadRequest, "invalid_email", "Enter a valid email address.")
	case errors.Is(err, service.ErrWeakPassword):
		respondOutcome(c, http.StatusBadRequest, "weak_password", "Password must be at least 8 characters.")
	case errors.Is(err, service.ErrEmailTaken):
		respondOutcome(c, http.StatusConflict, "email_taken", "An account with this email already exists.")
	case errors.Is(err, service.ErrInvalidCredentials):
		respondOutcome(c, http.StatusUnauthorized, "invalid_credentials", "Email or password is incorrect.")
	default:
		a.respondInternal(c, "auth failed", err)
	}
}
