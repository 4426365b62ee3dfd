package models

import "fmt"

// RejectReason identifies why an admission attempt was turned away.
type RejectReason string

const (
	ReasonBlacklisted       RejectReason = "blacklisted"
	ReasonRateLimited       RejectReason = "rate_limited"
	ReasonMalformedName     RejectReason = "malformed_name"
	ReasonBotDetected       RejectReason = "bot_detected"
	ReasonProfileMismatch   RejectReason = "profile_mismatch"
	ReasonVerificationLimit RejectReason = "verification_limit"
	ReasonQueueFull         RejectReason = "queue_full"
)

// Retryable reports whether a client may reasonably try again later.
func (r RejectReason) Retryable() bool {
	switch r {
	case ReasonRateLimited, ReasonVerificationLimit, ReasonQueueFull:
		return true
	default:
		return false
	}
}

// ReasonMessage maps a rejection to the disconnect text shown to the client.
// remainingSeconds is only meaningful for ReasonRateLimited. The caller
// decides whether the text is actually sent; under load suppression the
// connection is closed without it.
func ReasonMessage(reason RejectReason, remainingSeconds int) string {
	switch reason {
	case ReasonBlacklisted:
		return "Your address has been blocked."
	case ReasonRateLimited:
		return fmt.Sprintf("Too many connections from your network. Try again in %d seconds.", remainingSeconds)
	case ReasonMalformedName:
		return "Invalid player name."
	case ReasonBotDetected:
		return "Your identity could not be verified."
	case ReasonProfileMismatch:
		return "Your identity could not be verified."
	case ReasonVerificationLimit:
		return "The server is busy verifying players. Try again shortly."
	case ReasonQueueFull:
		return "The login queue is full. Try again shortly."
	default:
		return "Connection refused."
	}
}
