package domain

import (
	"github.com/pkg/errors"
)

// Kind 错误分类
type Kind string

const (
	KindAlreadyPending     Kind = "already_pending"
	KindAlreadyConnected   Kind = "already_connected"
	KindNotAuthorized      Kind = "not_authorized"
	KindInvalidState       Kind = "invalid_state"
	KindBackendUnavailable Kind = "backend_unavailable"
	KindNotFound           Kind = "not_found"
	KindInvalidInput       Kind = "invalid_input"
)

// Error 带分类的领域错误
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

// Error implements error.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

// Unwrap 返回底层错误
func (e *Error) Unwrap() error {
	return e.cause
}

// Is 按 Kind 匹配，使 errors.Is(err, ErrNotFound) 成立
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// 用于 errors.Is 的哨兵错误
var (
	ErrAlreadyPending     = &Error{Kind: KindAlreadyPending}
	ErrAlreadyConnected   = &Error{Kind: KindAlreadyConnected}
	ErrNotAuthorized      = &Error{Kind: KindNotAuthorized}
	ErrInvalidState       = &Error{Kind: KindInvalidState}
	ErrBackendUnavailable = &Error{Kind: KindBackendUnavailable}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrInvalidInput       = &Error{Kind: KindInvalidInput}
)

// NewError 创建领域错误
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError 用 Kind 包装底层错误
func WrapError(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: err}
}

// Unavailable 将任意后端错误归类为 backend_unavailable，已分类的领域错误保持不变
func Unavailable(err error, message string) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return WrapError(KindBackendUnavailable, err, message)
}

// KindOf 返回错误分类；未分类的非空错误视为 backend_unavailable
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindBackendUnavailable
}
