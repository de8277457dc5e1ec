package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"trademall/pkg/apperr"
)

const (
	CodeSuccess      = 0
	CodeParamError   = 400
	CodeUnauthorized = 401
	CodeForbidden    = 403
	CodeNotFound     = 404
	CodeServerError  = 500
)

const (
	CodeConflict            = 1001
	CodeInvalidState        = 1002
	CodeBalanceNotEnough    = 1003
	CodeCatalogNotEnough    = 1004
	CodeInvalidCredentials  = 1005
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, httpStatus, code int, message string) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, CodeParamError, message)
}

func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, CodeUnauthorized, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, CodeServerError, message)
}

// BusinessError 把 service 层的哨兵错误映射成 HTTP 状态码 + 业务码
//
// 未知错误一律按 500 处理，返回统一文案，不透出内部错误信息。
func BusinessError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		Error(c, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, apperr.ErrForbidden):
		Error(c, http.StatusForbidden, CodeForbidden, err.Error())
	case errors.Is(err, apperr.ErrConflict):
		Error(c, http.StatusConflict, CodeConflict, err.Error())
	case errors.Is(err, apperr.ErrInvalidState):
		Error(c, http.StatusBadRequest, CodeInvalidState, err.Error())
	case errors.Is(err, apperr.ErrInsufficientBalance):
		Error(c, http.StatusBadRequest, CodeBalanceNotEnough, err.Error())
	case errors.Is(err, apperr.ErrInsufficientCatalog):
		Error(c, http.StatusBadRequest, CodeCatalogNotEnough, err.Error())
	case errors.Is(err, apperr.ErrInvalidCredentials):
		Error(c, http.StatusUnauthorized, CodeInvalidCredentials, err.Error())
	default:
		ServerError(c, "服务器内部错误")
	}
}
