package mysmtp

import (
	"context"
	"strings"
	"time"
)

// Mailbox is the message store shared by all sessions.
// Implementations must serialize appends to the same recipient and make
// each append appear atomic to concurrent readers.
type Mailbox interface {
	// Append stores a message for recipient and returns its id.
	// The id is one greater than the largest id already in the mailbox,
	// or 1 for an empty or missing mailbox.
	Append(ctx context.Context, recipient EmailAddress, sender EmailAddress, date MessageDate, body MessageBody) (MessageID, error)

	// ListSummaries returns the id, sender and date of every complete
	// message in recipient's mailbox, in file order. A mailbox without
	// messages yields an empty slice and a nil error.
	ListSummaries(ctx context.Context, recipient EmailAddress) ([]Summary, error)

	// Fetch returns one message. It returns an error matching
	// ErrNotFound if the mailbox or the id does not exist.
	Fetch(ctx context.Context, recipient EmailAddress, id MessageID) (Message, error)
}

// MessageID identifies a message within one mailbox.
// Ids are positive and strictly increase in insertion order.
type MessageID = int

// MessageDate is the calendar date a message was received,
// formatted with DateLayout.
type MessageDate = string

// MessageBody is the raw body text; every line ends in LF.
type MessageBody = string

// DateLayout is the format of the Date header: zero-padded day-month-year.
const DateLayout = "02-01-2006"

// Header line prefixes written ahead of every body.
const (
	HeaderFrom = "From: "
	HeaderDate = "Date: "
)

// FormatDate formats t as a message date in t's location.
func FormatDate(t time.Time) MessageDate {
	return t.Format(DateLayout)
}

// Summary is the LIST view of a message.
type Summary struct {
	ID     MessageID
	Sender EmailAddress
	Date   MessageDate
}

// Message is a stored message.
type Message struct {
	ID     MessageID
	Sender EmailAddress
	Date   MessageDate
	Body   MessageBody
}

// Summary returns the LIST view of the message.
func (m Message) Summary() Summary {
	return Summary{ID: m.ID, Sender: m.Sender, Date: m.Date}
}

// BodyLines splits the body into lines without terminators.
func (m Message) BodyLines() []string {
	if m.Body == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(m.Body, "\n"), "\n")
}

// HeaderSize is the number of bytes the From and Date header lines
// occupy for the given sender and date.
func HeaderSize(sender EmailAddress, date MessageDate) MessageSize {
	return MessageSize(len(HeaderFrom) + len(sender) + 1 + len(HeaderDate) + len(date) + 1)
}

// NormalizeBody makes every line of body end in a single LF.
// CRLF terminators become LF and a missing final terminator is added.
func NormalizeBody(body MessageBody) MessageBody {
	if body == "" {
		return ""
	}
	body = strings.ReplaceAll(body, "\r\n", "\n")
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	return body
}
