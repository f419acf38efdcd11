package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/hospital-api/internal/handler"
	"github.com/jwalitptl/hospital-api/internal/model"
	"github.com/jwalitptl/hospital-api/internal/service/auth"
)

type Handler struct {
	svc *auth.Service
}

func NewHandler(svc *auth.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, g handler.Guards) {
	auth := r.Group("/auth")
	{
		auth.POST("/register", handler.Chain(h.Register, g.Register)...)
		auth.POST("/login", handler.Chain(h.Login, g.Login)...)

		auth.POST("/logout", handler.Chain(h.Logout, g.Authenticate)...)
		auth.GET("/verify", handler.Chain(h.Verify, g.Authenticate)...)
		auth.GET("/profile", handler.Chain(h.Profile, g.Authenticate)...)
		auth.PUT("/profile", handler.Chain(h.UpdateProfile, g.Authenticate)...)
		auth.PUT("/change-password", handler.Chain(h.ChangePassword, g.Authenticate, g.Sensitive)...)
		auth.POST("/refresh", handler.Chain(h.Refresh, g.Authenticate)...)
	}
}

func (h *Handler) Register(c *gin.Context) {
	var req model.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RespondBindError(c, err)
		return
	}

	profile, err := h.svc.Register(c.Request.Context(), &req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(profile))
}

func (h *Handler) Login(c *gin.Context) {
	var req model.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RespondBindError(c, err)
		return
	}

	resp, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(resp))
}

func (h *Handler) Logout(c *gin.Context) {
	h.svc.Logout(c.Request.Context(), handler.CurrentPrincipal(c))
	c.JSON(http.StatusOK, handler.NewMessageResponse("logged out successfully"))
}

// Verify answers whether the bearer token is still good. Reaching the
// handler means the auth middleware accepted it.
func (h *Handler) Verify(c *gin.Context) {
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{
		"valid":     true,
		"principal": handler.CurrentPrincipal(c),
	}))
}

func (h *Handler) Profile(c *gin.Context) {
	profile, err := h.svc.Profile(c.Request.Context(), handler.CurrentPrincipal(c))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(profile))
}

func (h *Handler) UpdateProfile(c *gin.Context) {
	var req model.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RespondBindError(c, err)
		return
	}

	profile, err := h.svc.UpdateProfile(c.Request.Context(), handler.CurrentPrincipal(c), &req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(profile))
}

func (h *Handler) ChangePassword(c *gin.Context) {
	var req model.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RespondBindError(c, err)
		return
	}

	if err := h.svc.ChangePassword(c.Request.Context(), handler.CurrentPrincipal(c), req.CurrentPassword, req.NewPassword); err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewMessageResponse("password changed successfully"))
}

func (h *Handler) Refresh(c *gin.Context) {
	tokens, err := h.svc.Refresh(c.Request.Context(), handler.CurrentPrincipal(c))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(tokens))
}
