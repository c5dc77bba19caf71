package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/iceisfun/mysmtp"
)

const helpText = `
Commands:
HELO <client_id>           - Initiate session
MAIL FROM: <email>         - Specify sender email
RCPT TO: <email>           - Specify recipient email
DATA                       - Start message input
LIST <email>               - List emails for recipient
GET_MAIL <email> <id>      - Retrieve specific email
QUIT                       - End session
HELP                       - Show this help message
`

// PrintHelp writes the command summary to w.
func PrintHelp(w io.Writer) {
	fmt.Fprint(w, helpText)
}

// REPL runs an interactive session: commands read from in are sent to the
// server and every reply is written to out. HELP is answered locally and
// DATA prompts for body lines until a single dot. End of input or
// cancellation of ctx sends QUIT before returning.
func REPL(ctx context.Context, c *Client, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
		close(lines)
	}()

	eof := false
	var eofErr error
	next := func() (string, bool, error) {
		if eof {
			return "", false, eofErr
		}
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case line, ok := <-lines:
			if !ok {
				eof, eofErr = true, <-readErr
				return "", false, eofErr
			}
			return strings.TrimSuffix(line, "\r"), true, nil
		}
	}

	fmt.Fprintln(out, c.Greeting)
	PrintHelp(out)

	for {
		fmt.Fprint(out, "> ")
		line, ok, err := next()
		if ctx.Err() != nil {
			fmt.Fprintln(out, "\nInterrupted. Sending QUIT command to server...")
			return quit(c, out)
		}
		if err != nil {
			return errors.WithMessage(err, "read input")
		}
		if !ok {
			return quit(c, out)
		}

		switch {
		case line == "":
			continue
		case line == "HELP" || line == "help":
			PrintHelp(out)
			continue
		case strings.HasPrefix(line, "DATA"):
			if err := replData(c, line, next, out); err != nil {
				if ctx.Err() != nil {
					fmt.Fprintln(out, "\nInterrupted. Sending QUIT command to server...")
					return quit(c, out)
				}
				return err
			}
			continue
		}

		reply, err := c.Cmd(line)
		if err := printReply(out, reply, err); err != nil {
			return err
		}

		if strings.HasPrefix(line, "QUIT") && reply.Code == int(mysmtp.Reply200OK) {
			c.Close()
			fmt.Fprintln(out, "Disconnected from server.")
			return nil
		}
	}
}

// replData sends a DATA line and, once the server is ready, relays body
// lines until the terminator.
func replData(c *Client, line string, next func() (string, bool, error), out io.Writer) error {
	reply, err := c.Cmd(line)
	if err := printReply(out, reply, err); err != nil {
		return err
	}
	if reply.Code != int(mysmtp.Reply354StartInput) {
		return nil
	}

	fmt.Fprintln(out, "Enter your message (end with a single dot '.' on a new line):")
	for {
		body, ok, err := next()
		if err != nil {
			return errors.WithMessage(err, "read input")
		}
		if !ok || body == "." {
			break
		}
		if err := c.send(body); err != nil {
			return err
		}
	}

	reply, err = c.Cmd(".")
	return printReply(out, reply, err)
}

// printReply writes reply to out. Negative replies are shown like any
// other; only transport errors are returned.
func printReply(out io.Writer, reply Reply, err error) error {
	var re *ReplyError
	if err != nil && !errors.As(err, &re) {
		return err
	}
	fmt.Fprintln(out, reply)
	return nil
}

func quit(c *Client, out io.Writer) error {
	reply, err := c.Quit()
	if err := printReply(out, reply, err); err != nil {
		return err
	}
	fmt.Fprintln(out, "Disconnected from server.")
	return nil
}
