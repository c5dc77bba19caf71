package mysmtp

import (
	"errors"
	"strings"
	"testing"
)

func TestParser_ParseCommand(t *testing.T) {
	p := NewParser()

	tests := []struct {
		name       string
		input      string
		wantVerb   CommandVerb
		wantClient ClientID
		wantAddr   EmailAddress
		wantID     MessageID
		wantErr    error
	}{
		{
			name:       "HELO",
			input:      "HELO client1\r\n",
			wantVerb:   CmdHELO,
			wantClient: "client1",
		},
		{
			name:       "HELO LF only",
			input:      "HELO client1\n",
			wantVerb:   CmdHELO,
			wantClient: "client1",
		},
		{
			name:       "HELO no terminator",
			input:      "HELO client1",
			wantVerb:   CmdHELO,
			wantClient: "client1",
		},
		{
			name:     "MAIL FROM with space",
			input:    "MAIL FROM: alice@example.com\r\n",
			wantVerb: CmdMAIL,
			wantAddr: "alice@example.com",
		},
		{
			name:     "MAIL FROM without space",
			input:    "MAIL FROM:alice@example.com\r\n",
			wantVerb: CmdMAIL,
			wantAddr: "alice@example.com",
		},
		{
			name:     "RCPT TO",
			input:    "RCPT TO: bob@example.com\r\n",
			wantVerb: CmdRCPT,
			wantAddr: "bob@example.com",
		},
		{
			name:     "DATA",
			input:    "DATA\r\n",
			wantVerb: CmdDATA,
		},
		{
			name:     "LIST",
			input:    "LIST bob@example.com\r\n",
			wantVerb: CmdLIST,
			wantAddr: "bob@example.com",
		},
		{
			name:     "GET_MAIL",
			input:    "GET_MAIL bob@example.com 12\r\n",
			wantVerb: CmdGETMAIL,
			wantAddr: "bob@example.com",
			wantID:   12,
		},
		{
			name:     "GET_MAIL extra spaces",
			input:    "GET_MAIL   bob   3  \r\n",
			wantVerb: CmdGETMAIL,
			wantAddr: "bob",
			wantID:   3,
		},
		{
			name:     "QUIT",
			input:    "QUIT\r\n",
			wantVerb: CmdQUIT,
		},
		{
			name:    "empty line",
			input:   "\r\n",
			wantErr: ErrEmptyCommand,
		},
		{
			name:    "whitespace only",
			input:   "   \r\n",
			wantErr: ErrEmptyCommand,
		},
		{
			name:    "lowercase keyword",
			input:   "helo client1\r\n",
			wantErr: ErrInvalidCommand,
		},
		{
			name:    "unknown command",
			input:   "EHLO client1\r\n",
			wantErr: ErrInvalidCommand,
		},
		{
			name:    "HELP is not a server command",
			input:   "HELP\r\n",
			wantErr: ErrInvalidCommand,
		},
		{
			name:    "HELO without id",
			input:   "HELO\r\n",
			wantErr: ErrMissingArgument,
		},
		{
			name:    "MAIL without FROM",
			input:   "MAIL alice\r\n",
			wantErr: ErrMissingPrefix,
		},
		{
			name:    "MAIL lowercase from",
			input:   "MAIL from: alice\r\n",
			wantErr: ErrMissingPrefix,
		},
		{
			name:    "MAIL FROM empty address",
			input:   "MAIL FROM:\r\n",
			wantErr: ErrInvalidAddress,
		},
		{
			name:    "RCPT TO two tokens",
			input:   "RCPT TO: bob carol\r\n",
			wantErr: ErrInvalidAddress,
		},
		{
			name:    "DATA with argument",
			input:   "DATA now\r\n",
			wantErr: ErrUnexpectedArgument,
		},
		{
			name:    "QUIT with argument",
			input:   "QUIT please\r\n",
			wantErr: ErrUnexpectedArgument,
		},
		{
			name:    "LIST without address",
			input:   "LIST\r\n",
			wantErr: ErrMissingArgument,
		},
		{
			name:    "LIST two addresses",
			input:   "LIST bob carol\r\n",
			wantErr: ErrInvalidAddress,
		},
		{
			name:    "GET_MAIL missing id",
			input:   "GET_MAIL bob\r\n",
			wantErr: ErrInvalidSyntax,
		},
		{
			name:    "GET_MAIL non-numeric id",
			input:   "GET_MAIL bob one\r\n",
			wantErr: ErrInvalidMessageID,
		},
		{
			name:    "GET_MAIL too many args",
			input:   "GET_MAIL bob 1 2\r\n",
			wantErr: ErrInvalidSyntax,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := p.ParseCommand([]byte(tt.input))

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected error %v, got %v", tt.wantErr, err)
				}
				var pe *ParseError
				if !errors.As(err, &pe) {
					t.Errorf("expected *ParseError, got %T", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cmd.Verb != tt.wantVerb {
				t.Errorf("expected verb %q, got %q", tt.wantVerb, cmd.Verb)
			}
			if cmd.ClientID != tt.wantClient {
				t.Errorf("expected client id %q, got %q", tt.wantClient, cmd.ClientID)
			}
			if cmd.Address != tt.wantAddr {
				t.Errorf("expected address %q, got %q", tt.wantAddr, cmd.Address)
			}
			if cmd.MessageID != tt.wantID {
				t.Errorf("expected id %d, got %d", tt.wantID, cmd.MessageID)
			}
			if strings.ContainsAny(cmd.Raw, "\r\n") {
				t.Errorf("raw line kept its terminator: %q", cmd.Raw)
			}
		})
	}
}

func TestParser_CommandTooLong(t *testing.T) {
	p := &Parser{MaxCommandLength: 32}

	line := "LIST " + strings.Repeat("a", 40) + "\r\n"
	_, err := p.ParseCommand([]byte(line))
	if !errors.Is(err, ErrCommandTooLong) {
		t.Errorf("expected ErrCommandTooLong, got %v", err)
	}
}

func TestParsePrefixedAddress(t *testing.T) {
	tests := []struct {
		arg     string
		prefix  string
		want    EmailAddress
		wantErr bool
	}{
		{"FROM: a@b", "FROM:", "a@b", false},
		{"FROM:a@b", "FROM:", "a@b", false},
		{"FROM:   a@b", "FROM:", "a@b", false},
		{"TO: a@b", "TO:", "a@b", false},
		{"TO: a@b", "FROM:", "", true},
		{"FROM:", "FROM:", "", true},
		{"FROM: " + strings.Repeat("x", MaxAddressLength+1), "FROM:", "", true},
	}

	for _, tt := range tests {
		got, err := ParsePrefixedAddress(tt.arg, tt.prefix)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePrefixedAddress(%q, %q) error = %v, wantErr %v", tt.arg, tt.prefix, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePrefixedAddress(%q, %q) = %q, want %q", tt.arg, tt.prefix, got, tt.want)
		}
	}
}

func TestDataLineReader_IsTerminator(t *testing.T) {
	r := NewDataLineReader()

	tests := []struct {
		line string
		want bool
	}{
		{".\r\n", true},
		{".\n", true},
		{".", true},
		{"..\r\n", false},
		{". \r\n", false},
		{" .\r\n", false},
		{"\r\n", false},
		{".x\n", false},
	}

	for _, tt := range tests {
		if got := r.IsTerminator([]byte(tt.line)); got != tt.want {
			t.Errorf("IsTerminator(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestDataLineReader_NormalizeLine(t *testing.T) {
	r := NewDataLineReader()

	tests := []struct {
		line string
		want string
	}{
		{"hello\r\n", "hello\n"},
		{"hello\n", "hello\n"},
		{"hello", "hello\n"},
		{"..dots\r\n", "..dots\n"},
		{"\r\n", "\n"},
	}

	for _, tt := range tests {
		if got := string(r.NormalizeLine([]byte(tt.line))); got != tt.want {
			t.Errorf("NormalizeLine(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}

func TestParseCommandVerb(t *testing.T) {
	tests := []struct {
		input string
		want  CommandVerb
	}{
		{"HELO", CmdHELO},
		{"MAIL", CmdMAIL},
		{"RCPT", CmdRCPT},
		{"DATA", CmdDATA},
		{"LIST", CmdLIST},
		{"GET_MAIL", CmdGETMAIL},
		{"QUIT", CmdQUIT},
		{"HELP", CmdUnknown},
		{"quit", CmdUnknown},
		{"GETMAIL", CmdUnknown},
		{"", CmdUnknown},
	}

	for _, tt := range tests {
		if got := ParseCommandVerb(tt.input); got != tt.want {
			t.Errorf("ParseCommandVerb(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestCommandRequiresArgument(t *testing.T) {
	requires := []CommandVerb{CmdHELO, CmdMAIL, CmdRCPT, CmdLIST, CmdGETMAIL}
	for _, cmd := range requires {
		if !CommandRequiresArgument(cmd) {
			t.Errorf("%s should require an argument", cmd)
		}
	}

	forbids := []CommandVerb{CmdDATA, CmdQUIT}
	for _, cmd := range forbids {
		if CommandRequiresArgument(cmd) {
			t.Errorf("%s should not require an argument", cmd)
		}
		if !CommandForbidsArgument(cmd) {
			t.Errorf("%s should forbid arguments", cmd)
		}
	}
}

func TestValidateRecipient(t *testing.T) {
	good := []EmailAddress{"bob", "bob@example.com", "a.b+c@d", "bob.", strings.Repeat("x", MaxRecipientKeyLength)}
	for _, r := range good {
		if err := ValidateRecipient(r); err != nil {
			t.Errorf("ValidateRecipient(%q) = %v, want nil", r, err)
		}
	}

	bad := []EmailAddress{"", ".", "..", "../x", "a/b", `a\b`, ".bob", "a b", "a\x00b", "a\x7fb", strings.Repeat("x", MaxRecipientKeyLength+1)}
	for _, r := range bad {
		err := ValidateRecipient(r)
		if !errors.Is(err, ErrInvalidRecipient) {
			t.Errorf("ValidateRecipient(%q) = %v, want ErrInvalidRecipient", r, err)
		}
	}
}
