package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/hospital-api/internal/model"
	apperrors "github.com/jwalitptl/hospital-api/pkg/errors"
	"github.com/jwalitptl/hospital-api/pkg/httputil"
)

const contextPrincipal = "principal"

type Response struct {
	Status  string       `json:"status"`
	Message string       `json:"message,omitempty"`
	Detail  string       `json:"detail,omitempty"`
	Data    interface{}  `json:"data,omitempty"`
	Errors  []FieldError `json:"errors,omitempty"`
}

// FieldError names one request field that failed validation.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Status: "success",
		Data:   data,
	}
}

func NewMessageResponse(message string) *Response {
	return &Response{
		Status:  "success",
		Message: message,
	}
}

func NewErrorResponse(message string) *Response {
	return &Response{
		Status:  "error",
		Message: message,
	}
}

// RespondError renders err with the status of its AppError code. Anything
// that is not an AppError is a 500. The wrapped cause is only exposed
// outside release mode.
func RespondError(c *gin.Context, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.Internal(err)
	}

	status := appErr.HTTPStatus()
	resp := NewErrorResponse(appErr.Message)
	if status >= http.StatusInternalServerError {
		resp.Message = "internal server error"
		log.Error().
			Err(err).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("request_id", requestID(c)).
			Msg("Request failed")
	}
	if gin.Mode() != gin.ReleaseMode && appErr.Err != nil {
		resp.Detail = appErr.Err.Error()
	}
	c.AbortWithStatusJSON(status, resp)
}

// RespondBindError renders a request binding failure as 400, listing the
// offending fields when the failure came from validation.
func RespondBindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		resp := NewErrorResponse("invalid request body")
		if gin.Mode() != gin.ReleaseMode {
			resp.Detail = err.Error()
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, resp)
		return
	}

	resp := NewErrorResponse("validation failed")
	for _, fe := range verrs {
		resp.Errors = append(resp.Errors, FieldError{Field: fe.Field(), Message: fieldMessage(fe)})
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, resp)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field is required"
	case "email":
		return "invalid email format"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "cpf":
		return "invalid CPF"
	case "br_phone":
		return "invalid phone number"
	case "br_zip":
		return "invalid CEP"
	case "uf":
		return "invalid state"
	default:
		return "invalid value"
	}
}

// RespondPage renders one page of a listing under data with its pagination.
func RespondPage[T any](c *gin.Context, page *model.Page[T]) {
	items := page.Items
	if items == nil {
		items = []T{}
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   httputil.NewPaginatedResponse(items, page.Pagination.Page, page.Pagination.Limit, page.Total),
	})
}

// ParseID reads the :id path parameter. A malformed id is answered with 400
// and ok is false.
func ParseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, NewErrorResponse("invalid id"))
		return uuid.Nil, false
	}
	return id, true
}

func SetPrincipal(c *gin.Context, p *model.Principal) {
	c.Set(contextPrincipal, p)
}

// CurrentPrincipal returns the authenticated caller, or nil on public routes.
func CurrentPrincipal(c *gin.Context) *model.Principal {
	if v, ok := c.Get(contextPrincipal); ok {
		if p, ok := v.(*model.Principal); ok {
			return p
		}
	}
	return nil
}

func requestID(c *gin.Context) string {
	if info, ok := httputil.RequestInfoFrom(c.Request.Context()); ok {
		return info.RequestID
	}
	return ""
}
