package models

import "time"

// LoginEvent is one intercepted login-identity message, owned by the
// transport layer. The admission core holds it while the attempt is queued
// and either releases it downstream or rejects it; it never does both.
type LoginEvent interface {
	// RemoteAddr returns the client address as "ip:port".
	RemoteAddr() string

	// Release hands the connection to downstream login processing under the
	// (possibly case-corrected) player name.
	Release(name string) error

	// Reject closes the connection. A non-empty message is sent to the
	// client first; an empty message closes silently.
	Reject(message string)

	// Closed reports whether the transport has already torn the connection
	// down, in which case the event must not be released.
	Closed() bool
}

// Attempt describes a single admission attempt as seen by the coordinator.
type Attempt struct {
	Name      string // claimed player name, as sent by the client
	ProfileID string // claimed profile identifier, may be empty
	Event     LoginEvent
}

// PendingConnection is one login attempt held in the admission queue until
// a drain tick releases it. Seq is unique for the controller's lifetime and
// strictly increasing in enqueue order.
type PendingConnection struct {
	Seq        uint64
	Name       string
	ProfileID  string
	Event      LoginEvent
	EnqueuedAt time.Time
}

// Decision is the outcome of running one attempt through the coordinator.
type Decision struct {
	Queued           bool
	Reason           RejectReason // set when Queued is false
	RemainingSeconds int          // set for ReasonRateLimited
}
