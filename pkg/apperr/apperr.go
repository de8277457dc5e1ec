package apperr

import (
	"errors"
	"fmt"
)

// ============================================================================
// 业务错误分类
// ============================================================================
//
// 所有 service 层返回的业务错误都归入以下哨兵错误之一，
// handler 层据此映射 HTTP 状态码和业务码，不向客户端泄露内部细节。
//
// ============================================================================

var (
	ErrNotFound             = errors.New("资源不存在")
	ErrForbidden            = errors.New("无权访问")
	ErrConflict             = errors.New("资源冲突")
	ErrInvalidState         = errors.New("状态不允许该操作")
	ErrInsufficientBalance  = errors.New("余额不足")
	ErrInsufficientCatalog  = errors.New("可用产品数量不足")
	ErrInvalidCredentials   = errors.New("邮箱或密码错误")
	ErrInternal             = errors.New("服务器内部错误")
)

// Wrap 在哨兵错误上附加上下文，errors.Is 仍然可以命中哨兵
func Wrap(sentinel error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{sentinel}, args...)...)
}
