package echoq

import (
	"github.com/ehrlich-b/go-echoq/internal/constants"
	"github.com/ehrlich-b/go-echoq/internal/request"
)

// Re-export constants for public API
const (
	MaxWriteLength        = constants.MaxWriteLength
	TimerPeriod           = constants.TimerPeriod
	DefaultPendingBacklog = constants.DefaultPendingBacklog
	AutoAssignDeviceID    = constants.AutoAssignDeviceID
)

// Status is the terminal status of a completed request
type Status = request.Status

const (
	StatusSuccess               = request.StatusSuccess
	StatusBufferOverflow        = request.StatusBufferOverflow
	StatusInsufficientResources = request.StatusInsufficientResources
	StatusInvalidParameter      = request.StatusInvalidParameter
	StatusCancelled             = request.StatusCancelled
	StatusBusy                  = request.StatusBusy
	StatusInvalidDeviceRequest  = request.StatusInvalidDeviceRequest
)
