package interfaces

import "github.com/ehrlich-b/go-echoq/internal/request"

// Observer receives request-queue events for metrics collection.
// Methods are called from hot paths, some under the controller lock,
// and must not block.
type Observer interface {
	// ObserveRead is called when a read request completes
	ObserveRead(bytes uint64, latencyNs uint64, status request.Status)

	// ObserveWrite is called when a write request completes
	ObserveWrite(bytes uint64, latencyNs uint64, status request.Status)

	// ObserveTick is called on every completion timer tick; drained reports
	// whether the tick completed the pending request
	ObserveTick(drained bool)

	// ObserveAbandoned is called when a submission overwrites a pending
	// request without completing it
	ObserveAbandoned()

	// ObserveLostRace is called when the timer finds the pending request
	// already cancelled
	ObserveLostRace()

	// ObservePending is called whenever the pending slot changes
	ObservePending(occupied bool)
}
