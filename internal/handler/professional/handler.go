package professional

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/hospital-api/internal/handler"
	"github.com/jwalitptl/hospital-api/internal/model"
	"github.com/jwalitptl/hospital-api/internal/service/professional"
)

type Handler struct {
	service *professional.Service
}

func NewHandler(service *professional.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, g handler.Guards) {
	professionals := r.Group("/professionals", handler.Use(g.Authenticate)...)
	{
		professionals.POST("", h.CreateProfessional)
		professionals.GET("", h.ListProfessionals)
		professionals.GET("/statistics", h.Statistics)
		professionals.GET("/specialty/:specialty", h.ListBySpecialty)
		professionals.GET("/:id", h.GetProfessional)
		professionals.GET("/:id/schedule", h.Schedule)
		professionals.PUT("/:id", h.UpdateProfessional)
		professionals.DELETE("/:id/deactivate", h.DeactivateProfessional)
	}
}

func (h *Handler) CreateProfessional(c *gin.Context) {
	var req model.CreateProfessionalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RespondBindError(c, err)
		return
	}

	created, err := h.service.Create(c.Request.Context(), handler.CurrentPrincipal(c), &req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(created))
}

func (h *Handler) ListProfessionals(c *gin.Context) {
	var filter model.ProfessionalFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		handler.RespondBindError(c, err)
		return
	}

	page, err := h.service.List(c.Request.Context(), handler.CurrentPrincipal(c), filter)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	handler.RespondPage(c, page)
}

func (h *Handler) ListBySpecialty(c *gin.Context) {
	var p model.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		handler.RespondBindError(c, err)
		return
	}

	page, err := h.service.ListBySpecialty(c.Request.Context(), handler.CurrentPrincipal(c), c.Param("specialty"), p)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	handler.RespondPage(c, page)
}

func (h *Handler) Statistics(c *gin.Context) {
	stats, err := h.service.Statistics(c.Request.Context(), handler.CurrentPrincipal(c))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(stats))
}

func (h *Handler) GetProfessional(c *gin.Context) {
	id, ok := handler.ParseID(c)
	if !ok {
		return
	}

	p, err := h.service.Get(c.Request.Context(), handler.CurrentPrincipal(c), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(p))
}

// Schedule lists the day's appointments; date is YYYY-MM-DD and defaults to
// today.
func (h *Handler) Schedule(c *gin.Context) {
	id, ok := handler.ParseID(c)
	if !ok {
		return
	}

	schedule, err := h.service.Schedule(c.Request.Context(), handler.CurrentPrincipal(c), id, c.Query("date"))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(schedule))
}

func (h *Handler) UpdateProfessional(c *gin.Context) {
	id, ok := handler.ParseID(c)
	if !ok {
		return
	}

	var req model.UpdateProfessionalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RespondBindError(c, err)
		return
	}

	updated, err := h.service.Update(c.Request.Context(), handler.CurrentPrincipal(c), id, &req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(updated))
}

func (h *Handler) DeactivateProfessional(c *gin.Context) {
	id, ok := handler.ParseID(c)
	if !ok {
		return
	}

	if err := h.service.Deactivate(c.Request.Context(), handler.CurrentPrincipal(c), id); err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewMessageResponse("professional deactivated successfully"))
}
