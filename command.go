package mysmtp

// CommandVerb represents a protocol command keyword.
// Keywords are case-sensitive on the wire.
type CommandVerb string

const (
	// CmdHELO identifies the client and marks the session authenticated.
	CmdHELO CommandVerb = "HELO"

	// CmdMAIL names the sender with MAIL FROM: <addr>.
	CmdMAIL CommandVerb = "MAIL"

	// CmdRCPT names the recipient with RCPT TO: <addr>.
	CmdRCPT CommandVerb = "RCPT"

	// CmdDATA starts the body collection phase.
	CmdDATA CommandVerb = "DATA"

	// CmdLIST lists the messages stored for an address.
	CmdLIST CommandVerb = "LIST"

	// CmdGETMAIL retrieves one stored message by id.
	CmdGETMAIL CommandVerb = "GET_MAIL"

	// CmdQUIT terminates the session.
	CmdQUIT CommandVerb = "QUIT"

	// CmdHELP is handled by the client and never reaches the server.
	CmdHELP CommandVerb = "HELP"

	// CmdUnknown represents an unrecognized command.
	CmdUnknown CommandVerb = ""
)

// String returns the command verb as a string.
func (c CommandVerb) String() string {
	return string(c)
}

// ParseCommandVerb maps a keyword to a CommandVerb.
// Matching is exact; "helo" is not HELO. HELP is client-local and is
// reported as CmdUnknown so the server answers it with a syntax error.
func ParseCommandVerb(s string) CommandVerb {
	verb := CommandVerb(s)
	switch verb {
	case CmdHELO, CmdMAIL, CmdRCPT, CmdDATA, CmdLIST, CmdGETMAIL, CmdQUIT:
		return verb
	default:
		return CmdUnknown
	}
}

// Command represents a parsed protocol command.
type Command struct {
	// Verb is the command keyword.
	Verb CommandVerb

	// Raw is the command line as received, without the line terminator.
	Raw CommandLine

	// ClientID is the HELO argument.
	ClientID ClientID

	// Address is the MAIL FROM, RCPT TO, LIST or GET_MAIL address.
	Address EmailAddress

	// MessageID is the GET_MAIL message id.
	MessageID MessageID
}

// CommandLine represents a raw command line as received from the client.
type CommandLine = string

// ClientID is the identifier a client presents with HELO.
type ClientID = string

// EmailAddress is an address token. Only non-emptiness is checked.
type EmailAddress = string

// commandMinimumState is the least state in which each command is legal.
// States are ordered so that every later state implies the earlier ones:
// a recipient is never set without a sender, and neither without HELO.
var commandMinimumState = map[CommandVerb]State{
	CmdHELO:    StateNew,
	CmdMAIL:    StateAuthenticated,
	CmdRCPT:    StateSenderSet,
	CmdDATA:    StateRecipientSet,
	CmdLIST:    StateNew,
	CmdGETMAIL: StateNew,
	CmdQUIT:    StateNew,
}

// IsCommandAllowed checks if a command is allowed in the given state.
func IsCommandAllowed(state State, cmd CommandVerb) bool {
	if state.IsTerminal() || state == StateData {
		return false
	}
	min, ok := commandMinimumState[cmd]
	if !ok {
		return false
	}
	return state >= min
}

// CommandRequiresArgument returns true if the command requires an argument.
func CommandRequiresArgument(cmd CommandVerb) bool {
	switch cmd {
	case CmdHELO, CmdMAIL, CmdRCPT, CmdLIST, CmdGETMAIL:
		return true
	default:
		return false
	}
}

// CommandForbidsArgument returns true if the command must not have an argument.
func CommandForbidsArgument(cmd CommandVerb) bool {
	switch cmd {
	case CmdDATA, CmdQUIT:
		return true
	default:
		return false
	}
}
