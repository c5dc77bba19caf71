package mysmtp

import (
	"context"
	"time"
)

// SessionConfig contains configuration for a session.
type SessionConfig struct {
	// ServerHostname is the hostname announced in the greeting.
	ServerHostname Hostname

	// Limits contains resource limits for this session.
	Limits SessionLimits

	// Mailbox stores delivered messages and answers LIST and GET_MAIL.
	// It is shared by every session of a server.
	Mailbox Mailbox

	// Hooks provides optional session lifecycle callbacks.
	Hooks SessionHooks

	// Logger receives session log events.
	// If nil, logging is disabled.
	Logger Logger

	// Transcript receives the raw conversation.
	// If nil, no transcript is kept.
	Transcript TranscriptLogger

	// Now returns the current time. The Date header of a message is the
	// local calendar date returned when DATA begins. If nil, time.Now is used.
	Now func() time.Time
}

// Hostname is the server's announced name.
type Hostname = string

// SessionLimits contains resource limits for a session.
type SessionLimits struct {
	// MaxMessageSize is the maximum size of the header lines plus body
	// in bytes (0 = unlimited).
	MaxMessageSize MessageSize

	// MaxCommandLength is the maximum length of a command line in bytes.
	MaxCommandLength CommandLength

	// MaxLineLength is the maximum length of a data line in bytes
	// (0 = unlimited).
	MaxLineLength LineLength

	// IdleTimeout bounds the wait for the next command or data line
	// (0 = wait forever).
	IdleTimeout Duration

	// MaxErrors is the maximum consecutive syntax errors before the
	// session is closed (0 = unlimited).
	MaxErrors ErrorCount
}

// CommandLength is the length of a command line in bytes.
type CommandLength = int

// LineLength is the length of a line in bytes.
type LineLength = int

// Duration is a time duration.
type Duration = time.Duration

// ErrorCount is a count of errors.
type ErrorCount = int

// DefaultSessionLimits returns the default limits: an 8 KiB message
// ceiling and no idle timeout.
func DefaultSessionLimits() SessionLimits {
	return SessionLimits{
		MaxMessageSize:   DefaultMaxMessageSize,
		MaxCommandLength: DefaultMaxCommandLength,
	}
}

// SessionInfo provides read-only information about a session.
type SessionInfo interface {
	// ID returns the session identifier.
	ID() SessionID

	// State returns the current session state.
	State() State

	// ClientID returns the identifier from HELO.
	ClientID() ClientID

	// RemoteAddr returns the client's address.
	RemoteAddr() RemoteAddress

	// Authenticated returns true once HELO has been accepted.
	Authenticated() bool

	// Sender returns the pending MAIL FROM address.
	Sender() EmailAddress

	// Recipient returns the pending RCPT TO address.
	Recipient() EmailAddress
}

// SessionID identifies a session.
type SessionID = string

// SessionHooks provides callbacks for session lifecycle events.
type SessionHooks interface {
	// OnConnect is called when a new session starts.
	OnConnect(ctx context.Context, session SessionInfo)

	// OnDisconnect is called when a session ends.
	OnDisconnect(ctx context.Context, session SessionInfo, reason DisconnectReason)

	// OnDelivered is called after a message has been stored.
	OnDelivered(ctx context.Context, delivery Delivery, session SessionInfo)
}

// Delivery describes a stored message.
type Delivery struct {
	Recipient EmailAddress
	Sender    EmailAddress
	MessageID MessageID
	Date      MessageDate
	Size      MessageSize
}

// DisconnectReason indicates why a session was disconnected.
type DisconnectReason int

const (
	// DisconnectNormal indicates the client sent QUIT.
	DisconnectNormal DisconnectReason = iota

	// DisconnectClientClosed indicates the client closed the stream.
	DisconnectClientClosed

	// DisconnectTimeout indicates the session timed out.
	DisconnectTimeout

	// DisconnectError indicates an I/O error.
	DisconnectError

	// DisconnectResourceLimit indicates a resource limit was exceeded.
	DisconnectResourceLimit

	// DisconnectServerShutdown indicates the server is shutting down.
	DisconnectServerShutdown
)

// String returns a human-readable disconnect reason.
func (d DisconnectReason) String() string {
	switch d {
	case DisconnectNormal:
		return "Normal"
	case DisconnectClientClosed:
		return "ClientClosed"
	case DisconnectTimeout:
		return "Timeout"
	case DisconnectError:
		return "Error"
	case DisconnectResourceLimit:
		return "ResourceLimit"
	case DisconnectServerShutdown:
		return "ServerShutdown"
	default:
		return "Unknown"
	}
}

// NullSessionHooks is a no-op implementation of SessionHooks.
type NullSessionHooks struct{}

func (NullSessionHooks) OnConnect(_ context.Context, _ SessionInfo) {}
func (NullSessionHooks) OnDisconnect(_ context.Context, _ SessionInfo, _ DisconnectReason) {}
func (NullSessionHooks) OnDelivered(_ context.Context, _ Delivery, _ SessionInfo) {}

// SessionStats contains statistics for a session.
type SessionStats struct {
	// StartTime is when the session started.
	StartTime time.Time

	// EndTime is when the session ended (zero if still active).
	EndTime time.Time

	// BytesRead is the total bytes read from the client.
	BytesRead ByteCount

	// BytesWritten is the total bytes written to the client.
	BytesWritten ByteCount

	// CommandCount is the number of commands processed.
	CommandCount CommandCount

	// MessageCount is the number of messages stored.
	MessageCount MessageCount
}

// ByteCount represents a count of bytes.
type ByteCount = int64

// CommandCount is a count of commands.
type CommandCount = int

// MessageCount is a count of messages.
type MessageCount = int

// SessionState contains the mutable protocol state of one connection.
// It is owned by the connection's engine and never shared.
type SessionState struct {
	// Authenticated becomes true once HELO is accepted and never resets.
	Authenticated bool

	// ClientID is the identifier from the last HELO.
	ClientID ClientID

	// Sender is the pending MAIL FROM address; empty when unset.
	Sender EmailAddress

	// Recipient is the pending RCPT TO address; empty when unset.
	Recipient EmailAddress

	// InData is true while DATA body lines are being collected.
	InData bool

	// Terminated is true once the session has ended.
	Terminated bool

	// ConsecutiveErrors tracks consecutive syntax errors.
	ConsecutiveErrors ErrorCount
}

// State derives the protocol state from the session fields.
func (s *SessionState) State() State {
	switch {
	case s.Terminated:
		return StateTerminated
	case s.InData:
		return StateData
	case !s.Authenticated:
		return StateNew
	case s.Recipient != "":
		return StateRecipientSet
	case s.Sender != "":
		return StateSenderSet
	default:
		return StateAuthenticated
	}
}

// ClearTransaction forgets the pending sender and recipient.
func (s *SessionState) ClearTransaction() {
	s.Sender = ""
	s.Recipient = ""
	s.InData = false
}
