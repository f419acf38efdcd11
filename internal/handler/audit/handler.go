package audit

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/hospital-api/internal/handler"
	"github.com/jwalitptl/hospital-api/internal/model"
	"github.com/jwalitptl/hospital-api/internal/service/auditlog"
	"github.com/jwalitptl/hospital-api/pkg/httputil"
)

const dateLayout = "2006-01-02"

type Handler struct {
	service *auditlog.Service
}

func NewHandler(service *auditlog.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, g handler.Guards) {
	audit := r.Group("/audit", handler.Use(g.Authenticate)...)
	{
		audit.GET("", h.ListEntries)
		audit.GET("/statistics", h.Statistics)
		audit.GET("/user-activity", h.UserActivity)
		audit.GET("/security-report", h.SecurityReport)
		audit.GET("/export", handler.Chain(h.Export, g.Sensitive, g.Compress)...)
		audit.GET("/:id", h.GetEntry)
	}
}

func (h *Handler) ListEntries(c *gin.Context) {
	var filter model.AuditFilter
	if err := c.ShouldBindQuery(&filter.Pagination); err != nil {
		handler.RespondBindError(c, err)
		return
	}

	from, to, ok := dateRange(c)
	if !ok {
		return
	}
	filter.From, filter.To = from, to
	filter.Action = model.AuditAction(c.Query("action"))
	filter.ResourceType = model.ResourceType(c.Query("resource_type"))
	filter.IPAddress = c.Query("ip")
	if raw := c.Query("actor_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, handler.NewErrorResponse("invalid actor_id"))
			return
		}
		filter.ActorID = &id
	}

	page, err := h.service.List(c.Request.Context(), handler.CurrentPrincipal(c), filter)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	entries := page.Items
	if entries == nil {
		entries = []*model.AuditEntry{}
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{
		"entries":    entries,
		"pagination": httputil.NewPagination(page.Pagination.Page, page.Pagination.Limit, page.Total),
	}))
}

func (h *Handler) GetEntry(c *gin.Context) {
	entry, err := h.service.Get(c.Request.Context(), handler.CurrentPrincipal(c), c.Param("id"))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(entry))
}

func (h *Handler) Statistics(c *gin.Context) {
	from, to, ok := dateRange(c)
	if !ok {
		return
	}

	stats, err := h.service.Statistics(c.Request.Context(), handler.CurrentPrincipal(c), from, to)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(stats))
}

func (h *Handler) UserActivity(c *gin.Context) {
	userID, err := uuid.Parse(c.Query("user_id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, handler.NewErrorResponse("user_id is required"))
		return
	}
	from, to, ok := dateRange(c)
	if !ok {
		return
	}

	report, err := h.service.UserActivity(c.Request.Context(), handler.CurrentPrincipal(c), userID, from, to)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(report))
}

func (h *Handler) SecurityReport(c *gin.Context) {
	from, to, ok := dateRange(c)
	if !ok {
		return
	}

	report, err := h.service.SecurityReport(c.Request.Context(), handler.CurrentPrincipal(c), from, to, c.Query("ip"))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(report))
}

// Export streams the entries of the period as a JSON or CSV attachment.
func (h *Handler) Export(c *gin.Context) {
	from, to, ok := dateRange(c)
	if !ok {
		return
	}
	format := c.DefaultQuery("format", auditlog.FormatJSON)

	entries, err := h.service.Export(c.Request.Context(), handler.CurrentPrincipal(c), from, to, format)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	filename := fmt.Sprintf("audit-%s-%s.%s", from.Format(dateLayout), to.Format(dateLayout), format)
	c.Header("Content-Disposition", "attachment; filename="+strconv.Quote(filename))

	if format == auditlog.FormatCSV {
		var buf bytes.Buffer
		if err := auditlog.WriteCSV(&buf, entries); err != nil {
			handler.RespondError(c, err)
			return
		}
		c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
		return
	}

	if entries == nil {
		entries = []*model.AuditEntry{}
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{
		"date_from": from,
		"date_to":   to,
		"count":     len(entries),
		"entries":   entries,
	}))
}

// dateRange reads date_from and date_to. Both accept YYYY-MM-DD or RFC 3339;
// a bare date_to covers the whole day.
func dateRange(c *gin.Context) (*time.Time, *time.Time, bool) {
	from, err := parseDate(c.Query("date_from"), false)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, handler.NewErrorResponse("invalid date_from"))
		return nil, nil, false
	}
	to, err := parseDate(c.Query("date_to"), true)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, handler.NewErrorResponse("invalid date_to"))
		return nil, nil, false
	}
	return from, to, true
}

func parseDate(raw string, endOfDay bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, err
	}
	// created_at has microsecond precision, so the last instant of the
	// day is one microsecond before midnight.
	if endOfDay {
		t = t.Add(24*time.Hour - time.Microsecond)
	}
	return &t, nil
}
