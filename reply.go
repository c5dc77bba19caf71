package mysmtp

import (
	"fmt"
	"strings"
)

// ReplyCode represents a three-digit reply code.
type ReplyCode int

// Reply codes used by the protocol.
const (
	// Reply200OK acknowledges a command, greets a new client and carries
	// LIST and GET_MAIL payloads.
	Reply200OK ReplyCode = 200

	// Reply354StartInput invites the client to send DATA body lines.
	Reply354StartInput ReplyCode = 354

	// Reply400SyntaxError rejects an unknown or malformed command.
	Reply400SyntaxError ReplyCode = 400

	// Reply401NotFound reports an unknown mailbox or message id.
	Reply401NotFound ReplyCode = 401

	// Reply403Forbidden rejects a command issued out of order.
	Reply403Forbidden ReplyCode = 403

	// Reply500ServerError reports a storage failure or an oversized message.
	Reply500ServerError ReplyCode = 500
)

// IsPositive returns true if this is a positive (2xx or 3xx) reply code.
func (c ReplyCode) IsPositive() bool {
	return c >= 200 && c < 400
}

// Response represents a complete reply including code and text.
type Response struct {
	// Code is the three-digit reply code.
	Code ReplyCode

	// Lines contains the response text lines.
	// Each line is prefixed with the reply code when sent.
	Lines []ResponseLine
}

// ResponseLine is a single line of response text.
type ResponseLine = string

// String returns the formatted response ready to send.
// Multi-line responses use code-hyphen-text for intermediate lines
// and code-space-text for the final line.
func (r Response) String() string {
	if len(r.Lines) == 0 {
		return fmt.Sprintf("%d\r\n", r.Code)
	}

	var b strings.Builder
	lastIdx := len(r.Lines) - 1

	for i, line := range r.Lines {
		if i == lastIdx {
			fmt.Fprintf(&b, "%d %s\r\n", r.Code, line)
		} else {
			fmt.Fprintf(&b, "%d-%s\r\n", r.Code, line)
		}
	}

	return b.String()
}

// Bytes returns the formatted response as bytes.
func (r Response) Bytes() []byte {
	return []byte(r.String())
}

// NewResponse creates a simple single-line response.
func NewResponse(code ReplyCode, text string) Response {
	return Response{
		Code:  code,
		Lines: []ResponseLine{text},
	}
}

// NewMultilineResponse creates a multi-line response.
func NewMultilineResponse(code ReplyCode, lines ...string) Response {
	return Response{
		Code:  code,
		Lines: lines,
	}
}

// Common pre-built responses.
var (
	// ResponseOK is the standard 200 OK response.
	ResponseOK = NewResponse(Reply200OK, "OK")

	// ResponseBye answers QUIT.
	ResponseBye = NewResponse(Reply200OK, "Goodbye")

	// ResponseStored confirms a completed DATA transaction.
	ResponseStored = NewResponse(Reply200OK, "Message stored successfully")

	// ResponseStartInput is sent after DATA is accepted.
	ResponseStartInput = NewResponse(Reply354StartInput, "Start mail input; end with a single dot '.'")

	// ResponseSyntaxError rejects unknown and malformed commands.
	ResponseSyntaxError = NewResponse(Reply400SyntaxError, "ERR Invalid command syntax")

	// ResponseNotFound reports a missing message.
	ResponseNotFound = NewResponse(Reply401NotFound, "NOT FOUND Requested email does not exist")

	// ResponseForbidden rejects a command whose preconditions are not met.
	ResponseForbidden = NewResponse(Reply403Forbidden, "FORBIDDEN Action not permitted")

	// ResponseServerError reports a storage failure.
	ResponseServerError = NewResponse(Reply500ServerError, "SERVER ERROR")

	// ResponseTooLarge reports a DATA body over the size limit.
	ResponseTooLarge = NewResponse(Reply500ServerError, "SERVER ERROR Message exceeds maximum size")
)

// NoMessagesLine is the LIST payload for an empty mailbox.
const NoMessagesLine = "No emails found."

// ListResponse renders LIST output for the given summaries.
func ListResponse(summaries []Summary) Response {
	lines := make([]ResponseLine, 0, len(summaries)+1)
	lines = append(lines, "OK")
	if len(summaries) == 0 {
		return NewMultilineResponse(Reply200OK, append(lines, NoMessagesLine)...)
	}
	for _, s := range summaries {
		lines = append(lines, fmt.Sprintf("%d: Email from %s (%s)", s.ID, s.Sender, s.Date))
	}
	return NewMultilineResponse(Reply200OK, lines...)
}

// MessageResponse renders GET_MAIL output: the header lines followed
// by one reply line per body line.
func MessageResponse(msg Message) Response {
	body := msg.BodyLines()
	lines := make([]ResponseLine, 0, len(body)+3)
	lines = append(lines,
		"OK",
		HeaderFrom+msg.Sender,
		HeaderDate+msg.Date,
	)
	lines = append(lines, body...)
	return NewMultilineResponse(Reply200OK, lines...)
}
