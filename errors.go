package echoq

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// Error represents a structured echo queue error with context and errno mapping
type Error struct {
	Op      string        // Operation that failed (e.g., "READ", "WRITE", "NEW")
	DevID   int           // Device ID (NoDevice if not applicable)
	Request string        // Request ID ("" if not applicable)
	Code    ErrorCode     // High-level error category
	Errno   syscall.Errno // Equivalent errno (0 if not applicable)
	Msg     string        // Human-readable message
	Inner   error         // Wrapped error
}

// NoDevice is the DevID of errors not tied to a device
const NoDevice = -1

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.DevID != NoDevice {
		parts = append(parts, fmt.Sprintf("dev=%d", e.DevID))
	}
	if e.Request != "" {
		parts = append(parts, fmt.Sprintf("request=%s", e.Request))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("echoq: %s (%s)", msg, strings.Join(parts, " "))
	}
	return fmt.Sprintf("echoq: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches another *Error by code
func (e *Error) Is(target error) bool {
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents high-level error categories
type ErrorCode string

const (
	ErrCodeBufferOverflow        ErrorCode = "buffer overflow"
	ErrCodeInsufficientResources ErrorCode = "insufficient resources"
	ErrCodeInvalidParameters     ErrorCode = "invalid parameters"
	ErrCodeCancelled             ErrorCode = "request cancelled"
	ErrCodeDeviceBusy            ErrorCode = "device busy"
	ErrCodeDeviceClosed          ErrorCode = "device closed"
	ErrCodeInternal              ErrorCode = "internal error"
)

// Sentinels for errors.Is
var (
	ErrBufferOverflow        = &Error{DevID: NoDevice, Code: ErrCodeBufferOverflow}
	ErrInsufficientResources = &Error{DevID: NoDevice, Code: ErrCodeInsufficientResources}
	ErrInvalidParameters     = &Error{DevID: NoDevice, Code: ErrCodeInvalidParameters}
	ErrCancelled             = &Error{DevID: NoDevice, Code: ErrCodeCancelled}
	ErrDeviceBusy            = &Error{DevID: NoDevice, Code: ErrCodeDeviceBusy}
	ErrDeviceClosed          = &Error{DevID: NoDevice, Code: ErrCodeDeviceClosed}
)

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:    op,
		DevID: NoDevice,
		Code:  code,
		Msg:   msg,
	}
}

// NewDeviceError creates a new device-specific error
func NewDeviceError(op string, devID int, code ErrorCode, msg string) *Error {
	return &Error{
		Op:    op,
		DevID: devID,
		Code:  code,
		Msg:   msg,
	}
}

// NewRequestError creates a new request-specific error
func NewRequestError(op string, devID int, requestID string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:      op,
		DevID:   devID,
		Request: requestID,
		Code:    code,
		Msg:     msg,
	}
}

// StatusError converts a non-success completion status into an error.
// It returns nil for StatusSuccess.
func StatusError(op string, devID int, requestID string, status Status) error {
	if status == StatusSuccess {
		return nil
	}
	return newStatusError(op, devID, requestID, status)
}

func newStatusError(op string, devID int, requestID string, status Status) *Error {
	code, errno := mapStatus(status)
	err := NewRequestError(op, devID, requestID, code, status.String())
	err.Errno = errno
	return err
}

// WrapError wraps an existing error with echo queue context
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	var ee *Error
	if errors.As(inner, &ee) {
		wrapped := *ee
		wrapped.Op = op
		return &wrapped
	}

	var errno syscall.Errno
	if errors.As(inner, &errno) {
		return &Error{
			Op:    op,
			DevID: NoDevice,
			Code:  mapErrnoToCode(errno),
			Errno: errno,
			Msg:   inner.Error(),
			Inner: inner,
		}
	}

	return &Error{
		Op:    op,
		DevID: NoDevice,
		Code:  ErrCodeInternal,
		Msg:   inner.Error(),
		Inner: inner,
	}
}

// mapStatus maps a completion status to an error code and its errno
func mapStatus(status Status) (ErrorCode, syscall.Errno) {
	switch status {
	case StatusBufferOverflow:
		return ErrCodeBufferOverflow, syscall.EOVERFLOW
	case StatusInsufficientResources:
		return ErrCodeInsufficientResources, syscall.ENOMEM
	case StatusInvalidParameter:
		return ErrCodeInvalidParameters, syscall.EINVAL
	case StatusCancelled:
		return ErrCodeCancelled, syscall.ECANCELED
	case StatusBusy:
		return ErrCodeDeviceBusy, syscall.EBUSY
	case StatusInvalidDeviceRequest:
		return ErrCodeDeviceClosed, syscall.ENODEV
	default:
		return ErrCodeInternal, syscall.EIO
	}
}

// mapErrnoToCode maps syscall errno to echo queue error codes
func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.EOVERFLOW, syscall.E2BIG:
		return ErrCodeBufferOverflow
	case syscall.ENOMEM, syscall.EAGAIN, syscall.EPERM:
		return ErrCodeInsufficientResources
	case syscall.EINVAL, syscall.EFAULT:
		return ErrCodeInvalidParameters
	case syscall.ECANCELED:
		return ErrCodeCancelled
	case syscall.EBUSY:
		return ErrCodeDeviceBusy
	case syscall.ENODEV:
		return ErrCodeDeviceClosed
	default:
		return ErrCodeInternal
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific errno
func IsErrno(err error, errno syscall.Errno) bool {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Errno == errno
	}
	return false
}
