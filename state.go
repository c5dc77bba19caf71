// Package mysmtp implements a small line-oriented mail drop protocol.
//
// A server accepts HELO, MAIL FROM, RCPT TO, DATA, LIST, GET_MAIL and QUIT
// from each client and stores delivered messages in one append-only log per
// recipient. The package contains the per-connection protocol engine and the
// interfaces it needs; storage backends live in the filestore and mem
// packages.
package mysmtp

// State represents the current state of a session.
// Commands are only accepted in certain states.
type State int

const (
	// StateNew indicates the client has connected but has not said HELO.
	StateNew State = iota

	// StateAuthenticated indicates HELO has been accepted.
	// The client may now name a sender with MAIL FROM.
	StateAuthenticated

	// StateSenderSet indicates MAIL FROM has been accepted.
	// The client must now name a recipient with RCPT TO.
	StateSenderSet

	// StateRecipientSet indicates RCPT TO has been accepted.
	// The client may replace the recipient or proceed to DATA.
	StateRecipientSet

	// StateData indicates DATA has been accepted and the server is
	// collecting body lines until a line holding a single ".".
	StateData

	// StateTerminated indicates the session has ended.
	// No further commands will be processed.
	StateTerminated
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateNew:
		return "New"
	case StateAuthenticated:
		return "Authenticated"
	case StateSenderSet:
		return "SenderSet"
	case StateRecipientSet:
		return "RecipientSet"
	case StateData:
		return "Data"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// IsTerminal returns true if no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateTerminated
}

// StateTransition represents a transition from one state to another.
type StateTransition struct {
	From    State
	To      State
	Command CommandVerb
}

// StateTransitionError indicates an invalid state transition was attempted.
type StateTransitionError struct {
	Current   State
	Attempted State
	Command   CommandVerb
	Message   string
}

func (e *StateTransitionError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "invalid state transition from " + e.Current.String() + " to " + e.Attempted.String()
}
