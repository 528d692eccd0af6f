package constants

import "time"

// Request queue limits
const (
	// MaxWriteLength is the largest write payload the echo buffer accepts (40KB)
	MaxWriteLength = 40 * 1024

	// DefaultPendingBacklog is the number of requests the sequential dispatcher
	// holds before new submissions complete with a busy status
	DefaultPendingBacklog = 256

	// AutoAssignDeviceID requests the next free device ID
	AutoAssignDeviceID = -1
)

// Timing constants for the completion timer
const (
	// TimerPeriod is the delay between completion timer ticks
	TimerPeriod = 2000 * time.Millisecond
)

// Memory allocation constants
const (
	// EchoBufferBucketSmall is the smallest pooled echo buffer capacity (4KB)
	EchoBufferBucketSmall = 4 * 1024

	// EchoBufferBucketMedium is the middle pooled echo buffer capacity (16KB)
	EchoBufferBucketMedium = 16 * 1024

	// EchoBufferBucketLarge covers every write up to MaxWriteLength
	EchoBufferBucketLarge = MaxWriteLength
)
