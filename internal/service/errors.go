package service

import (
	"errors"
	"fmt"

	"github.com/langchou/parkgazer/internal/repository"
)

// 错误类别，HTTP 层据此映射状态码
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrBadRequest = errors.New("bad request")
)

// 具体业务错误
var (
	ErrLotFull              = fmt.Errorf("%w: lot full", ErrConflict)
	ErrTryAgain             = fmt.Errorf("%w: try again", ErrConflict)
	ErrActiveSession        = fmt.Errorf("%w: vehicle already has an active session", ErrConflict)
	ErrActiveReservation    = fmt.Errorf("%w: vehicle already has an active reservation", ErrConflict)
	ErrReservationNotActive = fmt.Errorf("%w: reservation is not active", ErrConflict)
	ErrSessionNotActive     = fmt.Errorf("%w: session is not active", ErrConflict)
	ErrLotInUse             = fmt.Errorf("%w: lot has occupied or reserved slots", ErrConflict)
	ErrLotNameTaken         = fmt.Errorf("%w: lot name already in use", ErrConflict)
	ErrClockSkew            = fmt.Errorf("%w: exit time is before entry time", ErrBadRequest)
)

// notFound 把仓库层的 ErrNotFound 转换为带实体名的业务错误，其他错误原样返回
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
	}
	return err
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}

// tryAgain 事务中未被具体处理的版本冲突（包括行锁等待超时）按 ErrTryAgain 返回
func tryAgain(err error) error {
	if errors.Is(err, repository.ErrVersionConflict) && !errors.Is(err, ErrConflict) {
		return fmt.Errorf("%w: %v", ErrTryAgain, err)
	}
	return err
}
