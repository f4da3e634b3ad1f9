package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"hireTrack/internal/cascade"
	"hireTrack/internal/lifecycle"
	"hireTrack/internal/permission"
	"hireTrack/internal/reconcile"
	"hireTrack/internal/session"
)

// 所有接口统一返回 {code, message, content} 信封。
const (
	CodeOK            = "OK"
	CodeCreated       = "CREATED"
	CodeBadRequest    = "BAD_REQUEST"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeNotFound      = "NOT_FOUND"
	CodeInternalError = "INTERNAL_ERROR"
)

// Result 是统一的响应体。Content 缺省时省略。
type Result struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Content any    `json:"content,omitempty"`
}

var codeStatus = map[string]int{
	CodeOK:            http.StatusOK,
	CodeCreated:       http.StatusCreated,
	CodeBadRequest:    http.StatusBadRequest,
	CodeUnauthorized:  http.StatusUnauthorized,
	CodeNotFound:      http.StatusNotFound,
	CodeInternalError: http.StatusInternalServerError,
}

func respond(c *gin.Context, code, message string, content any) {
	status, ok := codeStatus[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	c.JSON(status, Result{Code: code, Message: message, Content: content})
}

func OK(c *gin.Context, content any)          { respond(c, CodeOK, "success", content) }
func Created(c *gin.Context, content any)     { respond(c, CodeCreated, "created", content) }
func BadRequest(c *gin.Context, msg string)   { respond(c, CodeBadRequest, msg, nil) }
func Unauthorized(c *gin.Context)             { respond(c, CodeUnauthorized, "unauthorized", nil) }
func NotFound(c *gin.Context, msg string)     { respond(c, CodeNotFound, msg, nil) }
func Internal(c *gin.Context, msg string)     { respond(c, CodeInternalError, msg, nil) }
func AbortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, Result{Code: CodeUnauthorized, Message: "unauthorized"})
}

// EngineError 把领域层错误翻译为统一信封。
// 未识别的错误一律按内部错误处理，不向外泄露细节。
func EngineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, permission.ErrUnauthorized):
		Unauthorized(c)
	case errors.Is(err, session.ErrNotMasquerading):
		BadRequest(c, "not masquerading")
	case errors.Is(err, lifecycle.ErrIllegalTransition),
		errors.Is(err, lifecycle.ErrUnknownAction),
		errors.Is(err, lifecycle.ErrNotExample),
		errors.Is(err, reconcile.ErrRemovalLocked),
		errors.Is(err, reconcile.ErrCrossPosition):
		BadRequest(c, err.Error())
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "resource not found")
	case errors.Is(err, cascade.ErrCascadeFailed):
		Internal(c, err.Error())
	default:
		Internal(c, "internal error")
	}
}
