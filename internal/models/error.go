package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNoSuchIdentity       = errors.New("identity does not exist")
	ErrAuthorityUnavailable = errors.New("identity authority unavailable")
	ErrQueueFull            = errors.New("admission queue is full")
	ErrConnectionClosed     = errors.New("connection already closed")
)
