// Package client implements a client for the mysmtp protocol and the
// interactive loop used by cmd/mysmtp.
package client

import (
	"context"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/iceisfun/mysmtp"
)

// ErrTerminatorInBody is returned by Data for a body line consisting of a
// single dot. The protocol has no dot-stuffing, so such a line cannot be sent.
var ErrTerminatorInBody = errors.New("body line is the data terminator")

// Reply is a parsed server reply.
type Reply struct {
	Code  int
	Lines []string
}

// String renders the reply the way it appeared on the wire, without the
// final line terminator.
func (r Reply) String() string {
	return strings.TrimSuffix(r.Response().String(), "\r\n")
}

// Response converts the reply to a mysmtp.Response.
func (r Reply) Response() mysmtp.Response {
	return mysmtp.NewMultilineResponse(mysmtp.ReplyCode(r.Code), r.Lines...)
}

// Text returns the reply text with lines joined by newlines.
func (r Reply) Text() string {
	return strings.Join(r.Lines, "\n")
}

// ReplyError reports a negative reply.
type ReplyError struct {
	Command string
	Reply   Reply
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("%s: %d %s", e.Command, e.Reply.Code, e.Reply.Text())
}

// Client is a connection to a mysmtp server. It is not safe for
// concurrent use.
type Client struct {
	// Greeting is the reply received on connect.
	Greeting Reply

	// Timeout bounds each command round trip (0 = no limit).
	Timeout time.Duration

	conn net.Conn
	text *textproto.Conn
}

// Dial connects to addr and reads the greeting.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.WithMessage(err, "Dial")
	}

	c, err := NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// NewClient wraps an established connection and reads the greeting.
func NewClient(conn net.Conn) (*Client, error) {
	c := &Client{
		conn: conn,
		text: textproto.NewConn(conn),
	}

	greeting, err := c.readReply()
	if err != nil {
		return nil, errors.WithMessage(err, "greeting")
	}
	if greeting.Code != int(mysmtp.Reply200OK) {
		return nil, &ReplyError{Command: "greeting", Reply: greeting}
	}
	c.Greeting = greeting
	return c, nil
}

// Cmd sends one raw command line and reads the reply. A reply code of
// 400 or above is returned together with a *ReplyError.
func (c *Client) Cmd(line string) (Reply, error) {
	if err := c.send(line); err != nil {
		return Reply{}, err
	}
	reply, err := c.readReply()
	if err != nil {
		return Reply{}, err
	}
	if reply.Code >= 400 {
		return reply, &ReplyError{Command: verb(line), Reply: reply}
	}
	return reply, nil
}

// Hello identifies the client.
func (c *Client) Hello(clientID string) error {
	_, err := c.Cmd("HELO " + clientID)
	return err
}

// MailFrom sets the sender.
func (c *Client) MailFrom(addr string) error {
	_, err := c.Cmd("MAIL FROM: " + addr)
	return err
}

// RcptTo sets the recipient.
func (c *Client) RcptTo(addr string) error {
	_, err := c.Cmd("RCPT TO: " + addr)
	return err
}

// Data sends body as the message text. Lines are sent verbatim.
func (c *Client) Data(body []string) error {
	for _, line := range body {
		if line == "." {
			return ErrTerminatorInBody
		}
	}

	reply, err := c.Cmd("DATA")
	if err != nil {
		return err
	}
	if reply.Code != int(mysmtp.Reply354StartInput) {
		return &ReplyError{Command: "DATA", Reply: reply}
	}

	for _, line := range body {
		if err := c.send(line); err != nil {
			return err
		}
	}
	_, err = c.Cmd(".")
	return err
}

// Send runs a complete MAIL FROM, RCPT TO and DATA transaction.
func (c *Client) Send(from, to string, body []string) error {
	if err := c.MailFrom(from); err != nil {
		return err
	}
	if err := c.RcptTo(to); err != nil {
		return err
	}
	return c.Data(body)
}

// List returns the summaries of recipient's messages.
func (c *Client) List(recipient string) ([]mysmtp.Summary, error) {
	reply, err := c.Cmd("LIST " + recipient)
	if err != nil {
		return nil, err
	}
	return parseList(reply)
}

// GetMail fetches one message.
func (c *Client) GetMail(recipient string, id int) (mysmtp.Message, error) {
	reply, err := c.Cmd("GET_MAIL " + recipient + " " + strconv.Itoa(id))
	if err != nil {
		return mysmtp.Message{}, err
	}
	msg, err := parseMessage(reply)
	if err != nil {
		return mysmtp.Message{}, err
	}
	msg.ID = id
	return msg, nil
}

// Quit ends the session and closes the connection.
func (c *Client) Quit() (Reply, error) {
	reply, err := c.Cmd("QUIT")
	c.Close()
	return reply, err
}

// Close closes the connection without sending QUIT.
func (c *Client) Close() error {
	return c.text.Close()
}

func (c *Client) send(line string) error {
	if c.Timeout > 0 {
		c.conn.SetDeadline(time.Now().Add(c.Timeout))
	}
	if err := c.text.PrintfLine("%s", line); err != nil {
		return errors.WithMessage(err, "write")
	}
	return nil
}

func (c *Client) readReply() (Reply, error) {
	code, msg, err := c.text.ReadResponse(0)
	if err != nil {
		return Reply{}, errors.WithMessage(err, "read reply")
	}
	return Reply{Code: code, Lines: strings.Split(msg, "\n")}, nil
}

func verb(line string) string {
	if i := strings.IndexByte(line, ' '); i >= 0 {
		return line[:i]
	}
	return line
}

const listMarker = ": Email from "

func parseList(reply Reply) ([]mysmtp.Summary, error) {
	lines := reply.Lines
	if len(lines) == 0 || lines[0] != "OK" {
		return nil, errors.Errorf("unexpected LIST reply %q", reply.Text())
	}
	lines = lines[1:]
	if len(lines) == 1 && lines[0] == mysmtp.NoMessagesLine {
		return []mysmtp.Summary{}, nil
	}

	out := make([]mysmtp.Summary, 0, len(lines))
	for _, line := range lines {
		i := strings.Index(line, listMarker)
		if i < 0 {
			return nil, errors.Errorf("malformed LIST line %q", line)
		}
		id, err := strconv.Atoi(line[:i])
		if err != nil {
			return nil, errors.Wrapf(err, "malformed LIST line %q", line)
		}
		rest := line[i+len(listMarker):]
		j := strings.LastIndex(rest, " (")
		if j < 0 || !strings.HasSuffix(rest, ")") {
			return nil, errors.Errorf("malformed LIST line %q", line)
		}
		out = append(out, mysmtp.Summary{
			ID:     id,
			Sender: rest[:j],
			Date:   rest[j+2 : len(rest)-1],
		})
	}
	return out, nil
}

func parseMessage(reply Reply) (mysmtp.Message, error) {
	lines := reply.Lines
	if len(lines) < 3 || lines[0] != "OK" ||
		!strings.HasPrefix(lines[1], mysmtp.HeaderFrom) ||
		!strings.HasPrefix(lines[2], mysmtp.HeaderDate) {
		return mysmtp.Message{}, errors.Errorf("unexpected GET_MAIL reply %q", reply.Text())
	}

	msg := mysmtp.Message{
		Sender: strings.TrimPrefix(lines[1], mysmtp.HeaderFrom),
		Date:   strings.TrimPrefix(lines[2], mysmtp.HeaderDate),
	}
	if body := lines[3:]; len(body) > 0 {
		msg.Body = strings.Join(body, "\n") + "\n"
	}
	return msg, nil
}
