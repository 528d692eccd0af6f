package request

// Status is the terminal status delivered with a request completion
type Status int

const (
	StatusSuccess               Status = iota // Normal completion, possibly 0 bytes
	StatusBufferOverflow                      // Write exceeds the maximum write length
	StatusInsufficientResources               // Echo buffer allocation or copy failed
	StatusInvalidParameter                    // Output region could not be retrieved
	StatusCancelled                           // Cancelled before the timer drained it
	StatusBusy                                // Rejected while another request is pending
	StatusInvalidDeviceRequest                // Submitted to a closed controller
)

// String returns the status name used in logs and metric labels
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusBufferOverflow:
		return "buffer_overflow"
	case StatusInsufficientResources:
		return "insufficient_resources"
	case StatusInvalidParameter:
		return "invalid_parameter"
	case StatusCancelled:
		return "cancelled"
	case StatusBusy:
		return "busy"
	case StatusInvalidDeviceRequest:
		return "invalid_device_request"
	default:
		return "unknown"
	}
}

// OK reports whether the status is a successful completion
func (s Status) OK() bool { return s == StatusSuccess }
