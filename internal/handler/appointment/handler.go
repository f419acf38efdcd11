package appointment

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/hospital-api/internal/handler"
	"github.com/jwalitptl/hospital-api/internal/model"
	"github.com/jwalitptl/hospital-api/internal/service/appointment"
)

type Handler struct {
	service *appointment.Service
}

func NewHandler(service *appointment.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, g handler.Guards) {
	appointments := r.Group("/appointments", handler.Use(g.Authenticate)...)
	{
		appointments.POST("", h.CreateAppointment)
		appointments.GET("", h.ListAppointments)
		appointments.GET("/report", h.Report)
		appointments.GET("/:id", h.GetAppointment)
		appointments.PUT("/:id", h.UpdateAppointment)
		appointments.POST("/:id/cancel", h.CancelAppointment)
		appointments.POST("/:id/checkin", h.CheckIn)
		appointments.POST("/:id/complete", h.CompleteAppointment)
	}
}

func (h *Handler) CreateAppointment(c *gin.Context) {
	var req model.CreateAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RespondBindError(c, err)
		return
	}

	detail, err := h.service.Create(c.Request.Context(), handler.CurrentPrincipal(c), &req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(detail))
}

func (h *Handler) ListAppointments(c *gin.Context) {
	filter, ok := bindFilter(c)
	if !ok {
		return
	}

	page, err := h.service.List(c.Request.Context(), handler.CurrentPrincipal(c), filter)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	handler.RespondPage(c, page)
}

func (h *Handler) Report(c *gin.Context) {
	filter, ok := bindFilter(c)
	if !ok {
		return
	}

	report, err := h.service.Report(c.Request.Context(), handler.CurrentPrincipal(c), filter)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(report))
}

func (h *Handler) GetAppointment(c *gin.Context) {
	id, ok := handler.ParseID(c)
	if !ok {
		return
	}

	detail, err := h.service.Get(c.Request.Context(), handler.CurrentPrincipal(c), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(detail))
}

func (h *Handler) UpdateAppointment(c *gin.Context) {
	id, ok := handler.ParseID(c)
	if !ok {
		return
	}

	var req model.UpdateAppointmentRequest
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

func (h *Handler) CancelAppointment(c *gin.Context) {
	id, ok := handler.ParseID(c)
	if !ok {
		return
	}

	// The body is optional; it only carries the cancellation reason.
	var req model.CancelAppointmentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			handler.RespondBindError(c, err)
			return
		}
	}

	cancelled, err := h.service.Cancel(c.Request.Context(), handler.CurrentPrincipal(c), id, &req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(cancelled))
}

func (h *Handler) CheckIn(c *gin.Context) {
	id, ok := handler.ParseID(c)
	if !ok {
		return
	}

	started, err := h.service.CheckIn(c.Request.Context(), handler.CurrentPrincipal(c), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(started))
}

func (h *Handler) CompleteAppointment(c *gin.Context) {
	id, ok := handler.ParseID(c)
	if !ok {
		return
	}

	var req model.CompleteAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RespondBindError(c, err)
		return
	}

	completed, err := h.service.Complete(c.Request.Context(), handler.CurrentPrincipal(c), id, &req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(completed))
}

// bindFilter reads the list query. patient_id and professional_id are only
// honoured for administrators; the service pins them for everyone else.
func bindFilter(c *gin.Context) (model.AppointmentFilter, bool) {
	var filter model.AppointmentFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		handler.RespondBindError(c, err)
		return filter, false
	}

	for name, dst := range map[string]**uuid.UUID{
		"patient_id":      &filter.PatientID,
		"professional_id": &filter.ProfessionalID,
	} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, handler.NewErrorResponse("invalid "+name))
			return filter, false
		}
		*dst = &id
	}
	return filter, true
}
