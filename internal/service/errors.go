package service

import (
	"errors"

	"gorm.io/gorm"
)

// 业务层的哨兵错误，handler 通过 errors.Is 映射为 HTTP 状态码。
var (
	ErrValidation         = errors.New("validation failed")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrConversationClosed = errors.New("conversation is closed")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrUnavailable        = errors.New("feature unavailable")
)

// notFound 把 gorm 的记录不存在错误转换为 ErrNotFound，其余错误原样返回。
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
