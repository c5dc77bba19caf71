package mysmtp

import (
	"errors"
	"strings"
	"unicode"
)

// Storage errors.
var (
	// ErrNotFound indicates the requested mailbox or message does not exist.
	ErrNotFound = errors.New("message not found")

	// ErrInvalidRecipient indicates an address that cannot be used as a
	// mailbox key, for example one containing a path separator.
	ErrInvalidRecipient = errors.New("invalid recipient")
)

// MaxRecipientKeyLength bounds a mailbox key so that key plus file
// extension fits in a typical 255 byte file name.
const MaxRecipientKeyLength = 250

// StorageError represents an error from the storage backend.
type StorageError struct {
	// Operation is the storage operation that failed.
	Operation StorageOperation

	// Recipient is the mailbox being accessed.
	Recipient EmailAddress

	// Cause is the underlying error.
	Cause error

	// Message is a human-readable error message.
	Message string
}

// StorageOperation identifies a storage operation.
type StorageOperation = string

const (
	// StorageOpAppend is the Append operation.
	StorageOpAppend StorageOperation = "Append"

	// StorageOpList is the ListSummaries operation.
	StorageOpList StorageOperation = "ListSummaries"

	// StorageOpFetch is the Fetch operation.
	StorageOpFetch StorageOperation = "Fetch"
)

func (e *StorageError) Error() string {
	msg := e.Operation + " " + e.Recipient
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// ValidateRecipient checks that recipient is safe to use verbatim as a
// mailbox key. Keys may not be empty, contain path separators, control
// characters or whitespace, start with a dot, or exceed
// MaxRecipientKeyLength bytes.
func ValidateRecipient(recipient EmailAddress) error {
	switch {
	case recipient == "":
		return &StorageError{Cause: ErrInvalidRecipient, Message: "empty address"}
	case len(recipient) > MaxRecipientKeyLength:
		return &StorageError{Recipient: recipient, Cause: ErrInvalidRecipient, Message: "address too long"}
	case strings.HasPrefix(recipient, "."):
		return &StorageError{Recipient: recipient, Cause: ErrInvalidRecipient, Message: "leading dot"}
	case strings.ContainsAny(recipient, `/\`):
		return &StorageError{Recipient: recipient, Cause: ErrInvalidRecipient, Message: "path separator"}
	}
	for _, r := range recipient {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return &StorageError{Recipient: recipient, Cause: ErrInvalidRecipient, Message: "control character"}
		}
	}
	return nil
}
