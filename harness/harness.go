// Package harness runs protocol sessions over in-memory pipes.
// It allows testing conversations without network sockets.
package harness

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/iceisfun/mysmtp"
	"github.com/iceisfun/mysmtp/mem"
)

// DefaultTimeout bounds Expect and ExpectAny.
const DefaultTimeout = 5 * time.Second

// Harness provides a test environment for sessions.
// It operates over io.Reader/io.Writer pairs without network dependencies.
type Harness struct {
	// Config is the session configuration.
	Config mysmtp.SessionConfig

	// Engine is the engine under test.
	Engine *mysmtp.Engine

	// Mailbox is the in-memory store used unless WithMailbox replaces it.
	Mailbox *mem.Mailbox

	// Input is the client input buffer.
	Input *PipeBuffer

	// Output is the server output buffer.
	Output *PipeBuffer

	// Transcript records the full conversation.
	Transcript *Transcript

	// Errors collects errors returned by the engine.
	Errors []error

	done chan struct{}
	mu   sync.Mutex
}

// HarnessOption configures a Harness.
type HarnessOption func(*Harness)

// WithServerHostname sets the server hostname.
func WithServerHostname(hostname mysmtp.Hostname) HarnessOption {
	return func(h *Harness) {
		h.Config.ServerHostname = hostname
	}
}

// WithMailbox replaces the in-memory mailbox store.
func WithMailbox(mailbox mysmtp.Mailbox) HarnessOption {
	return func(h *Harness) {
		h.Config.Mailbox = mailbox
	}
}

// WithLimits sets session limits.
func WithLimits(limits mysmtp.SessionLimits) HarnessOption {
	return func(h *Harness) {
		h.Config.Limits = limits
	}
}

// WithHooks sets session hooks.
func WithHooks(hooks mysmtp.SessionHooks) HarnessOption {
	return func(h *Harness) {
		h.Config.Hooks = hooks
	}
}

// WithNow fixes the clock used for message dates.
func WithNow(now func() time.Time) HarnessOption {
	return func(h *Harness) {
		h.Config.Now = now
	}
}

// WithLogger sets the session logger.
func WithLogger(logger mysmtp.Logger) HarnessOption {
	return func(h *Harness) {
		h.Config.Logger = logger
	}
}

// NewHarness creates a new test harness with default configuration.
func NewHarness(opts ...HarnessOption) *Harness {
	mailbox := mem.NewMailbox()

	h := &Harness{
		Config: mysmtp.SessionConfig{
			ServerHostname: "test.example.com",
			Limits:         mysmtp.DefaultSessionLimits(),
			Mailbox:        mailbox,
		},
		Mailbox:    mailbox,
		Input:      NewPipeBuffer(),
		Output:     NewPipeBuffer(),
		Transcript: NewTranscript(),
		done:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Start starts the engine. Call this before sending commands.
func (h *Harness) Start(ctx context.Context, opts ...mysmtp.EngineOption) {
	conn := mysmtp.WrapPipe(h.Input, h.Output)
	h.Engine = mysmtp.NewEngineWithConn(conn, h.Config, opts...)

	go func() {
		defer close(h.done)
		if err := h.Engine.Run(ctx); err != nil && err != context.Canceled {
			h.mu.Lock()
			h.Errors = append(h.Errors, err)
			h.mu.Unlock()
		}
	}()
}

// Wait blocks until the engine's Run returns or timeout elapses.
// It reports whether Run returned.
func (h *Harness) Wait(timeout time.Duration) bool {
	select {
	case <-h.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// RunErrors returns the errors collected from the engine.
func (h *Harness) RunErrors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]error, len(h.Errors))
	copy(out, h.Errors)
	return out
}

// Send sends a command line to the server.
// The CRLF terminator is added automatically.
func (h *Harness) Send(line string) {
	data := line + "\r\n"
	h.Input.Write([]byte(data))
	h.Transcript.RecordClient(data)
}

// SendRaw sends raw bytes to the server.
func (h *Harness) SendRaw(data []byte) {
	h.Input.Write(data)
	h.Transcript.RecordClient(string(data))
}

// Expect reads a response and checks its reply code.
// Returns the full response line(s).
func (h *Harness) Expect(code mysmtp.ReplyCode) ([]string, error) {
	return h.ExpectWithTimeout(code, DefaultTimeout)
}

// ExpectWithTimeout reads a response with a timeout.
func (h *Harness) ExpectWithTimeout(code mysmtp.ReplyCode, timeout time.Duration) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	lines, err := h.readResponse(ctx)
	if err != nil {
		return nil, err
	}

	if len(lines) == 0 {
		return nil, fmt.Errorf("empty response")
	}

	lastLine := lines[len(lines)-1]
	if len(lastLine) < 3 {
		return nil, fmt.Errorf("response too short: %s", lastLine)
	}

	gotCode, err := strconv.Atoi(lastLine[:3])
	if err != nil {
		return lines, fmt.Errorf("malformed reply code: %s", lastLine)
	}

	if mysmtp.ReplyCode(gotCode) != code {
		return lines, fmt.Errorf("expected %d, got %d: %s", code, gotCode, lastLine)
	}

	return lines, nil
}

// ExpectAny reads a response and returns it without checking the code.
func (h *Harness) ExpectAny() ([]string, error) {
	return h.ExpectAnyWithTimeout(DefaultTimeout)
}

// ExpectAnyWithTimeout reads a response with a timeout.
func (h *Harness) ExpectAnyWithTimeout(timeout time.Duration) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return h.readResponse(ctx)
}

// readResponse reads a complete reply. Every line carries the code;
// the last one has a space after it instead of a hyphen.
func (h *Harness) readResponse(ctx context.Context) ([]string, error) {
	var lines []string

	for {
		line, err := h.Output.ReadLine(ctx)
		if err != nil {
			return lines, err
		}

		h.Transcript.RecordServer(line)
		lines = append(lines, line)

		if len(line) < 4 || line[3] != '-' {
			break
		}
	}

	return lines, nil
}

// Text strips the code and separator from reply lines.
func Text(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(line, "\r\n")
		if len(line) > 4 {
			out = append(out, line[4:])
		} else {
			out = append(out, "")
		}
	}
	return out
}

// SendData sends body lines followed by the "." terminator.
// Lines are sent verbatim; the protocol has no dot-stuffing.
func (h *Harness) SendData(data string) {
	if data != "" {
		for _, line := range strings.Split(strings.TrimSuffix(data, "\n"), "\n") {
			h.Send(strings.TrimSuffix(line, "\r"))
		}
	}
	h.Send(".")
}

// RunConversation runs a scripted conversation.
func (h *Harness) RunConversation(ctx context.Context, script []ConversationStep) error {
	h.Start(ctx)

	for _, step := range script {
		if step.Send != "" {
			h.Send(step.Send)
		}
		if step.SendRaw != nil {
			h.SendRaw(step.SendRaw)
		}
		if step.Expect != 0 {
			lines, err := h.Expect(step.Expect)
			if err != nil {
				return fmt.Errorf("step %q: %w", step.Description, err)
			}
			if step.ExpectText != "" && !strings.Contains(strings.Join(lines, ""), step.ExpectText) {
				return fmt.Errorf("step %q: expected %q in %q", step.Description, step.ExpectText, lines)
			}
		}
		if step.ExpectAny {
			_, err := h.ExpectAny()
			if err != nil {
				return fmt.Errorf("step %q: %w", step.Description, err)
			}
		}
		if step.Delay > 0 {
			time.Sleep(step.Delay)
		}
	}

	return nil
}

// Close closes the harness.
func (h *Harness) Close() {
	h.Input.Close()
	h.Output.Close()
	if h.Engine != nil {
		h.Engine.Close()
	}
}

// Messages returns the messages stored for recipient in the in-memory mailbox.
func (h *Harness) Messages(recipient mysmtp.EmailAddress) []mysmtp.Message {
	return h.Mailbox.Messages(recipient)
}

// MessageCount returns the number of messages in the in-memory mailbox.
func (h *Harness) MessageCount() int {
	return h.Mailbox.Count()
}

// ConversationStep represents a step in a scripted conversation.
type ConversationStep struct {
	// Description describes this step (for error messages).
	Description string

	// Send is the command to send (CRLF added automatically).
	Send string

	// SendRaw is raw bytes to send (no CRLF added).
	SendRaw []byte

	// Expect is the expected reply code.
	Expect mysmtp.ReplyCode

	// ExpectText, if set, must appear somewhere in the reply.
	ExpectText string

	// ExpectAny expects any response without checking the code.
	ExpectAny bool

	// Delay pauses before the next step.
	Delay time.Duration
}

// PipeBuffer is a thread-safe buffer for simulating I/O.
// It supports deadline-based reads for timeout testing.
type PipeBuffer struct {
	mu           sync.Mutex
	cond         *sync.Cond
	buf          bytes.Buffer
	closed       bool
	readDeadline time.Time
}

// NewPipeBuffer creates a new pipe buffer.
func NewPipeBuffer() *PipeBuffer {
	p := &PipeBuffer{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Write writes data to the buffer.
func (p *PipeBuffer) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, io.ErrClosedPipe
	}

	n, err := p.buf.Write(data)
	p.cond.Broadcast()
	return n, err
}

// Read reads data from the buffer with deadline support.
func (p *PipeBuffer) Read(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Check deadline
	deadline := p.readDeadline

	for p.buf.Len() == 0 && !p.closed {
		// Check if deadline has passed
		if !deadline.IsZero() && time.Now().After(deadline) {
			return 0, mysmtp.ErrDeadlineExceeded
		}

		// Wait with timeout if deadline is set
		if !deadline.IsZero() {
			timeout := time.Until(deadline)
			if timeout <= 0 {
				return 0, mysmtp.ErrDeadlineExceeded
			}
			// Use a timed wait
			go func() {
				time.Sleep(timeout)
				p.cond.Broadcast()
			}()
		}
		p.cond.Wait()

		// Re-check deadline after wake
		if !deadline.IsZero() && time.Now().After(deadline) {
			return 0, mysmtp.ErrDeadlineExceeded
		}
	}

	if p.buf.Len() == 0 && p.closed {
		return 0, io.EOF
	}

	return p.buf.Read(data)
}

// SetReadDeadline sets the deadline for future Read calls.
func (p *PipeBuffer) SetReadDeadline(t time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readDeadline = t
	p.cond.Broadcast() // Wake any waiters to re-check deadline
	return nil
}

// ReadLine reads a line from the buffer. It returns ctx.Err() if ctx
// ends before a full line arrives.
func (p *PipeBuffer) ReadLine(ctx context.Context) (string, error) {
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	var line bytes.Buffer

	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		for p.buf.Len() == 0 && !p.closed && ctx.Err() == nil {
			p.cond.Wait()
		}

		if err := ctx.Err(); err != nil {
			return line.String(), err
		}
		if p.buf.Len() == 0 && p.closed {
			return line.String(), io.EOF
		}

		b, err := p.buf.ReadByte()
		if err != nil {
			return line.String(), err
		}

		line.WriteByte(b)

		if b == '\n' {
			return line.String(), nil
		}
	}
}

// Close closes the buffer.
func (p *PipeBuffer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	p.cond.Broadcast()
	return nil
}

// Transcript records a conversation.
type Transcript struct {
	mu      sync.Mutex
	entries []TranscriptEntry
}

// TranscriptEntry is a single entry in the transcript.
type TranscriptEntry struct {
	Time      time.Time
	Direction TranscriptDirection
	Data      string
}

// TranscriptDirection indicates client or server.
type TranscriptDirection int

const (
	DirectionClient TranscriptDirection = iota
	DirectionServer
)

// NewTranscript creates a new transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// RecordClient records data from the client.
func (t *Transcript) RecordClient(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = append(t.entries, TranscriptEntry{
		Time:      time.Now(),
		Direction: DirectionClient,
		Data:      data,
	})
}

// RecordServer records data from the server.
func (t *Transcript) RecordServer(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = append(t.entries, TranscriptEntry{
		Time:      time.Now(),
		Direction: DirectionServer,
		Data:      data,
	})
}

// String returns the transcript as a string.
func (t *Transcript) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var b strings.Builder
	for _, e := range t.entries {
		if e.Direction == DirectionClient {
			b.WriteString("C: ")
		} else {
			b.WriteString("S: ")
		}
		b.WriteString(strings.TrimSuffix(e.Data, "\r\n"))
		b.WriteString("\n")
	}
	return b.String()
}

// Entries returns all transcript entries.
func (t *Transcript) Entries() []TranscriptEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := make([]TranscriptEntry, len(t.entries))
	copy(result, t.entries)
	return result
}
