package mysmtp

import (
	"errors"
)

// Common limit-related errors.
var (
	// ErrMessageTooLarge indicates the message exceeds the size limit.
	ErrMessageTooLarge = errors.New("message exceeds maximum size")

	// ErrCommandTooLong indicates a command line is too long.
	ErrCommandTooLong = errors.New("command line too long")

	// ErrLineTooLong indicates a data line is too long.
	ErrLineTooLong = errors.New("line too long")

	// ErrTooManyErrors indicates too many consecutive errors.
	ErrTooManyErrors = errors.New("too many errors")
)

// Default limits. The message size covers the From and Date header lines
// plus the body as received.
const (
	DefaultMaxMessageSize   MessageSize   = 8192
	DefaultMaxCommandLength CommandLength = 4096
)

// MessageSize is a size in bytes of a message.
type MessageSize = int64

// LimitChecker validates operations against configured limits.
type LimitChecker interface {
	// CheckMessageSize validates message size against the limit.
	CheckMessageSize(size MessageSize) error

	// CheckCommandLength validates command line length.
	CheckCommandLength(length CommandLength) error

	// CheckLineLength validates data line length.
	CheckLineLength(length LineLength) error

	// CheckErrorCount validates consecutive error count.
	CheckErrorCount(count ErrorCount) error
}

// StandardLimitChecker implements LimitChecker with SessionLimits.
type StandardLimitChecker struct {
	Limits SessionLimits
}

// CheckMessageSize validates message size.
func (c *StandardLimitChecker) CheckMessageSize(size MessageSize) error {
	if c.Limits.MaxMessageSize > 0 && size > c.Limits.MaxMessageSize {
		return ErrMessageTooLarge
	}
	return nil
}

// CheckCommandLength validates command line length.
func (c *StandardLimitChecker) CheckCommandLength(length CommandLength) error {
	if c.Limits.MaxCommandLength > 0 && length > c.Limits.MaxCommandLength {
		return ErrCommandTooLong
	}
	return nil
}

// CheckLineLength validates data line length.
func (c *StandardLimitChecker) CheckLineLength(length LineLength) error {
	if c.Limits.MaxLineLength > 0 && length > c.Limits.MaxLineLength {
		return ErrLineTooLong
	}
	return nil
}

// CheckErrorCount validates consecutive error count.
func (c *StandardLimitChecker) CheckErrorCount(count ErrorCount) error {
	if c.Limits.MaxErrors > 0 && count >= c.Limits.MaxErrors {
		return ErrTooManyErrors
	}
	return nil
}

// ConnectionInfo contains information about an incoming connection.
type ConnectionInfo struct {
	// RemoteAddr is the remote address (IP:port).
	RemoteAddr RemoteAddress
}

// RemoteAddress is a remote address string (IP:port).
type RemoteAddress = string
