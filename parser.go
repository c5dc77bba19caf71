package mysmtp

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
)

// Parser errors.
var (
	// ErrEmptyCommand indicates an empty command line.
	ErrEmptyCommand = errors.New("empty command")

	// ErrInvalidCommand indicates an unrecognized command.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrMissingArgument indicates a required argument is missing.
	ErrMissingArgument = errors.New("missing required argument")

	// ErrUnexpectedArgument indicates an argument was provided when not allowed.
	ErrUnexpectedArgument = errors.New("unexpected argument")

	// ErrMissingPrefix indicates MAIL or RCPT without FROM: or TO:.
	ErrMissingPrefix = errors.New("missing FROM: or TO:")

	// ErrInvalidAddress indicates an address token that is empty,
	// contains whitespace or is too long.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrInvalidMessageID indicates a GET_MAIL id that is not an integer.
	ErrInvalidMessageID = errors.New("invalid message id")

	// ErrInvalidSyntax indicates general syntax error.
	ErrInvalidSyntax = errors.New("syntax error")
)

// MaxAddressLength is the longest address token accepted.
const MaxAddressLength = 255

// ParseError contains details about a parsing error.
type ParseError struct {
	// Err is the underlying error.
	Err error

	// Context is additional context about the error.
	Context string

	// Input is the text that failed to parse.
	Input string
}

func (e *ParseError) Error() string {
	if e.Context != "" {
		return e.Err.Error() + ": " + e.Context
	}
	return e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parser parses protocol commands.
type Parser struct {
	// MaxCommandLength is the maximum allowed command line length,
	// including the line terminator.
	MaxCommandLength CommandLength
}

// NewParser creates a new parser with default settings.
func NewParser() *Parser {
	return &Parser{
		MaxCommandLength: DefaultMaxCommandLength,
	}
}

// ParseCommand parses a single command line.
// The line may end in CRLF, LF or nothing.
func (p *Parser) ParseCommand(line []byte) (*Command, error) {
	if p.MaxCommandLength > 0 && len(line) > p.MaxCommandLength {
		return nil, &ParseError{
			Err:   ErrCommandTooLong,
			Input: string(line),
		}
	}

	line = trimLineEnding(line)
	if len(bytes.TrimSpace(line)) == 0 {
		return nil, &ParseError{Err: ErrEmptyCommand}
	}

	verb, arg := splitCommand(line)

	cmdVerb := ParseCommandVerb(string(verb))
	if cmdVerb == CmdUnknown {
		return nil, &ParseError{
			Err:     ErrInvalidCommand,
			Input:   string(line),
			Context: string(verb),
		}
	}

	argStr := strings.TrimSpace(string(arg))

	if CommandRequiresArgument(cmdVerb) && argStr == "" {
		return nil, &ParseError{
			Err:     ErrMissingArgument,
			Context: cmdVerb.String() + " requires an argument",
		}
	}

	if CommandForbidsArgument(cmdVerb) && argStr != "" {
		return nil, &ParseError{
			Err:     ErrUnexpectedArgument,
			Context: cmdVerb.String() + " does not accept arguments",
		}
	}

	cmd := &Command{
		Verb: cmdVerb,
		Raw:  string(line),
	}

	var err error
	switch cmdVerb {
	case CmdHELO:
		cmd.ClientID = argStr
	case CmdMAIL:
		cmd.Address, err = ParsePrefixedAddress(argStr, "FROM:")
	case CmdRCPT:
		cmd.Address, err = ParsePrefixedAddress(argStr, "TO:")
	case CmdLIST:
		cmd.Address, err = ParseAddress(argStr)
	case CmdGETMAIL:
		cmd.Address, cmd.MessageID, err = parseGetMailArgs(argStr)
	}
	if err != nil {
		return nil, err
	}

	return cmd, nil
}

// trimLineEnding strips a trailing CRLF or LF.
func trimLineEnding(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r"))
}

// splitCommand splits a command line into verb and argument parts.
func splitCommand(line []byte) (verb []byte, arg []byte) {
	idx := bytes.IndexByte(line, ' ')
	if idx == -1 {
		return line, nil
	}
	return line[:idx], line[idx+1:]
}

// ParsePrefixedAddress parses "FROM: <addr>" or "TO: <addr>".
// Whitespace between the colon and the address is optional.
func ParsePrefixedAddress(arg string, prefix string) (EmailAddress, error) {
	if !strings.HasPrefix(arg, prefix) {
		return "", &ParseError{
			Err:     ErrMissingPrefix,
			Context: "expected " + prefix,
			Input:   arg,
		}
	}
	return ParseAddress(strings.TrimSpace(arg[len(prefix):]))
}

// ParseAddress validates a single address token.
func ParseAddress(s string) (EmailAddress, error) {
	if s == "" {
		return "", &ParseError{Err: ErrInvalidAddress, Context: "address required"}
	}
	if strings.ContainsAny(s, " \t\r\n") {
		return "", &ParseError{Err: ErrInvalidAddress, Context: "unexpected whitespace", Input: s}
	}
	if len(s) > MaxAddressLength {
		return "", &ParseError{Err: ErrInvalidAddress, Context: "address too long", Input: s}
	}
	return s, nil
}

func parseGetMailArgs(arg string) (EmailAddress, MessageID, error) {
	fields := strings.Fields(arg)
	if len(fields) != 2 {
		return "", 0, &ParseError{
			Err:     ErrInvalidSyntax,
			Context: "expected GET_MAIL <address> <id>",
			Input:   arg,
		}
	}

	addr, err := ParseAddress(fields[0])
	if err != nil {
		return "", 0, err
	}

	id, err := strconv.Atoi(fields[1])
	if err != nil {
		return "", 0, &ParseError{Err: ErrInvalidMessageID, Input: fields[1]}
	}

	return addr, MessageID(id), nil
}

// DataLineReader classifies lines received during DATA.
type DataLineReader struct{}

// NewDataLineReader creates a new data line reader.
func NewDataLineReader() *DataLineReader {
	return &DataLineReader{}
}

// IsTerminator checks if a line is the DATA terminator (a single dot).
func (r *DataLineReader) IsTerminator(line []byte) bool {
	line = trimLineEnding(line)
	return len(line) == 1 && line[0] == '.'
}

// NormalizeLine returns the line with its terminator replaced by LF.
// Lines are otherwise kept verbatim; there is no dot-unstuffing.
func (r *DataLineReader) NormalizeLine(line []byte) []byte {
	out := make([]byte, 0, len(line)+1)
	out = append(out, trimLineEnding(line)...)
	return append(out, '\n')
}
