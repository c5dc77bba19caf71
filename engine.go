package mysmtp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultHostname is announced when SessionConfig.ServerHostname is empty.
const DefaultHostname Hostname = "localhost"

// ResponseTooManyErrors is sent before closing a session that exceeded
// SessionLimits.MaxErrors.
var ResponseTooManyErrors = NewResponse(Reply400SyntaxError, "ERR Too many errors, closing connection")

// Engine is the protocol engine for a single session.
// It reads commands from a stream, drives the state machine and writes replies.
type Engine struct {
	config  SessionConfig
	conn    Conn
	reader  *bufio.Reader
	writer  io.Writer
	parser  *Parser
	sm      *StateMachine
	limits  LimitChecker
	stats   SessionStats
	logger  Logger
	hooks   SessionHooks
	now     func() time.Time
	dataBuf bytes.Buffer

	sessionID  SessionID
	remoteAddr RemoteAddress

	mu     sync.Mutex
	closed bool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSessionID sets a specific session ID.
func WithSessionID(id SessionID) EngineOption {
	return func(e *Engine) {
		e.sessionID = id
	}
}

// WithRemoteAddr sets the client address reported by SessionInfo.
func WithRemoteAddr(addr RemoteAddress) EngineOption {
	return func(e *Engine) {
		e.remoteAddr = addr
	}
}

// WithStateObserver attaches an observer to the session's state machine.
func WithStateObserver(observer StateObserver) EngineOption {
	return func(e *Engine) {
		e.sm.SetObserver(observer)
	}
}

// WithLimitChecker replaces the checker built from SessionLimits.
func WithLimitChecker(checker LimitChecker) EngineOption {
	return func(e *Engine) {
		e.limits = checker
	}
}

// NewEngine creates an engine over a reader and writer. Idle timeouts are
// not enforced; use NewEngineWithConn for that.
func NewEngine(r io.Reader, w io.Writer, config SessionConfig, opts ...EngineOption) *Engine {
	config.Limits = effectiveLimits(config.Limits)

	e := &Engine{
		config:    config,
		reader:    bufio.NewReader(r),
		writer:    w,
		parser:    NewParser(),
		sm:        NewStateMachine(),
		limits:    &StandardLimitChecker{Limits: config.Limits},
		stats:     SessionStats{StartTime: time.Now()},
		hooks:     config.Hooks,
		now:       config.Now,
		sessionID: uuid.New().String(),
	}

	if e.hooks == nil {
		e.hooks = NullSessionHooks{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.config.ServerHostname == "" {
		e.config.ServerHostname = DefaultHostname
	}

	// Line lengths are checked by the limit checker as lines are read.
	e.parser.MaxCommandLength = 0

	for _, opt := range opts {
		opt(e)
	}

	if config.Logger != nil {
		e.logger = config.Logger.WithSession(e.sessionID)
	} else {
		e.logger = NullLogger{}
	}

	return e
}

// NewEngineWithConn creates an engine over a Conn. Read deadlines are set
// from SessionLimits.IdleTimeout and Close closes the connection.
func NewEngineWithConn(conn Conn, config SessionConfig, opts ...EngineOption) *Engine {
	e := NewEngine(conn, conn, config, opts...)
	e.conn = conn
	return e
}

// Run executes the session until QUIT, end of input, an I/O error or
// cancellation of ctx. A clean end returns nil.
func (e *Engine) Run(ctx context.Context) error {
	e.hooks.OnConnect(ctx, e)

	if err := e.writeResponse(ctx, e.greeting()); err != nil {
		return e.handleDisconnect(ctx, DisconnectError, err)
	}

	e.logger.Info(ctx, "session started",
		Attr(AttrRemoteAddr, e.remoteAddr))

	for !e.sm.State().IsTerminal() {
		if err := ctx.Err(); err != nil {
			return e.handleDisconnect(ctx, DisconnectServerShutdown, nil)
		}

		if err := e.processOneCommand(ctx); err != nil {
			return e.handleDisconnect(ctx, disconnectReason(err), err)
		}
	}

	return e.handleDisconnect(ctx, DisconnectNormal, nil)
}

// processOneCommand reads and answers a single command line.
// It returns an error only when the session must end.
func (e *Engine) processOneCommand(ctx context.Context) error {
	line, err := e.readLine(e.limits.CheckCommandLength)
	var cmd *Command
	switch {
	case errors.Is(err, ErrCommandTooLong):
		err = &ParseError{Err: ErrCommandTooLong}
	case err != nil:
		return err
	default:
		cmd, err = e.parser.ParseCommand(line)
	}

	e.stats.CommandCount++

	if err != nil {
		count := e.sm.RecordError()
		e.logger.Debug(ctx, "syntax error",
			Attr(AttrError, err),
			Attr(AttrState, e.sm.State().String()))

		if checkErr := e.limits.CheckErrorCount(count); checkErr != nil {
			e.writeResponse(ctx, ResponseTooManyErrors)
			e.sm.Terminate()
			return checkErr
		}
		return e.writeResponse(ctx, ResponseSyntaxError)
	}

	e.logger.Debug(ctx, "received command",
		Attr(AttrCommand, cmd.Verb.String()),
		Attr(AttrState, e.sm.State().String()))

	if !e.sm.IsCommandAllowed(cmd.Verb) {
		e.logger.Debug(ctx, "command not permitted",
			Attr(AttrCommand, cmd.Verb.String()),
			Attr(AttrState, e.sm.State().String()))
		return e.writeResponse(ctx, ResponseForbidden)
	}

	response, err := e.handleCommand(ctx, cmd)
	if err != nil {
		return err
	}

	if err := e.writeResponse(ctx, response); err != nil {
		return err
	}

	if response.Code.IsPositive() {
		e.sm.ResetErrors()
	}

	return nil
}

// handleCommand dispatches cmd to its handler.
func (e *Engine) handleCommand(ctx context.Context, cmd *Command) (Response, error) {
	switch cmd.Verb {
	case CmdHELO:
		return e.handleHELO(ctx, cmd), nil
	case CmdMAIL:
		return e.handleMAIL(ctx, cmd), nil
	case CmdRCPT:
		return e.handleRCPT(ctx, cmd), nil
	case CmdDATA:
		return e.handleDATA(ctx)
	case CmdLIST:
		return e.handleLIST(ctx, cmd), nil
	case CmdGETMAIL:
		return e.handleGETMAIL(ctx, cmd), nil
	case CmdQUIT:
		return e.handleQUIT(ctx), nil
	default:
		return ResponseSyntaxError, nil
	}
}

func (e *Engine) handleHELO(ctx context.Context, cmd *Command) Response {
	if err := e.sm.Hello(cmd.ClientID); err != nil {
		return ResponseForbidden
	}
	e.logger.Info(ctx, "client identified",
		Attr(AttrClientID, cmd.ClientID))
	return ResponseOK
}

func (e *Engine) handleMAIL(ctx context.Context, cmd *Command) Response {
	if err := e.sm.SetSender(cmd.Address); err != nil {
		return ResponseForbidden
	}
	e.logger.Debug(ctx, "sender accepted",
		Attr(AttrSender, cmd.Address))
	return ResponseOK
}

func (e *Engine) handleRCPT(ctx context.Context, cmd *Command) Response {
	if err := e.sm.SetRecipient(cmd.Address); err != nil {
		return ResponseForbidden
	}
	e.logger.Debug(ctx, "recipient accepted",
		Attr(AttrRecipient, cmd.Address))
	return ResponseOK
}

// handleDATA runs the body sub-protocol. The sender and recipient are
// cleared whatever the outcome.
func (e *Engine) handleDATA(ctx context.Context) (Response, error) {
	session := e.sm.Session()
	delivery := Delivery{
		Recipient: session.Recipient,
		Sender:    session.Sender,
		Date:      FormatDate(e.now()),
	}

	if err := e.sm.BeginData(); err != nil {
		return ResponseForbidden, nil
	}

	if err := e.writeResponse(ctx, ResponseStartInput); err != nil {
		e.sm.EndData()
		return Response{}, err
	}

	body, err := e.readData(ctx, HeaderSize(delivery.Sender, delivery.Date))
	e.sm.EndData()
	if err != nil {
		if errors.Is(err, ErrMessageTooLarge) {
			e.logger.Warn(ctx, "message rejected",
				Attr(AttrRecipient, delivery.Recipient),
				Attr(AttrError, err))
			return ResponseTooLarge, nil
		}
		return Response{}, err
	}

	if e.config.Mailbox == nil {
		e.logger.Error(ctx, "no mailbox configured")
		return ResponseServerError, nil
	}

	id, err := e.config.Mailbox.Append(ctx, delivery.Recipient, delivery.Sender, delivery.Date, body)
	if err != nil {
		e.logger.Error(ctx, "storage error",
			Attr(AttrRecipient, delivery.Recipient),
			Attr(AttrError, err))
		return ResponseServerError, nil
	}

	delivery.MessageID = id
	delivery.Size = HeaderSize(delivery.Sender, delivery.Date) + MessageSize(len(body))
	e.stats.MessageCount++

	e.hooks.OnDelivered(ctx, delivery, e)

	e.logger.Info(ctx, "message stored",
		Attr(AttrRecipient, delivery.Recipient),
		Attr(AttrSender, delivery.Sender),
		Attr(AttrMessageID, id),
		Attr(AttrMessageSize, delivery.Size))

	return ResponseStored, nil
}

func (e *Engine) handleLIST(ctx context.Context, cmd *Command) Response {
	if e.config.Mailbox == nil {
		return ResponseServerError
	}

	summaries, err := e.config.Mailbox.ListSummaries(ctx, cmd.Address)
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidRecipient):
		summaries = nil
	case err != nil:
		e.logger.Error(ctx, "storage error",
			Attr(AttrRecipient, cmd.Address),
			Attr(AttrError, err))
		return ResponseServerError
	}

	e.logger.Info(ctx, "mailbox listed",
		Attr(AttrRecipient, cmd.Address),
		Attr(AttrMessages, len(summaries)))

	return ListResponse(summaries)
}

func (e *Engine) handleGETMAIL(ctx context.Context, cmd *Command) Response {
	if e.config.Mailbox == nil {
		return ResponseServerError
	}

	msg, err := e.config.Mailbox.Fetch(ctx, cmd.Address, cmd.MessageID)
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidRecipient):
		return ResponseNotFound
	case err != nil:
		e.logger.Error(ctx, "storage error",
			Attr(AttrRecipient, cmd.Address),
			Attr(AttrMessageID, cmd.MessageID),
			Attr(AttrError, err))
		return ResponseServerError
	}

	e.logger.Info(ctx, "message fetched",
		Attr(AttrRecipient, cmd.Address),
		Attr(AttrMessageID, msg.ID))

	return MessageResponse(msg)
}

func (e *Engine) handleQUIT(ctx context.Context) Response {
	e.sm.Terminate()
	return ResponseBye
}

// readLine reads one line including its terminator. A final line without
// a terminator is returned as is. check is applied to the running length;
// once it fails the rest of the line is consumed and its error returned.
func (e *Engine) readLine(check func(int) error) ([]byte, error) {
	if e.conn != nil && e.config.Limits.IdleTimeout > 0 {
		e.conn.SetReadDeadline(time.Now().Add(e.config.Limits.IdleTimeout))
	}

	var line []byte
	var tooLong error
	for {
		chunk, err := e.reader.ReadSlice('\n')
		e.stats.BytesRead += int64(len(chunk))
		if tooLong == nil {
			if tooLong = check(len(line) + len(chunk)); tooLong != nil {
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}

		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) && len(line) > 0 {
				break
			}
			return nil, err
		}
		break
	}

	if e.config.Transcript != nil && len(line) > 0 {
		e.config.Transcript.LogInput(line)
	}
	if tooLong != nil {
		return nil, tooLong
	}
	return line, nil
}

// readData collects body lines until the terminator. Once the running size
// passes the limit the remaining lines are drained and ErrMessageTooLarge
// is returned.
func (e *Engine) readData(ctx context.Context, headerSize MessageSize) (MessageBody, error) {
	e.dataBuf.Reset()
	reader := NewDataLineReader()
	size := headerSize
	overflow := e.limits.CheckMessageSize(size) != nil

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		line, err := e.readLine(e.limits.CheckLineLength)
		if errors.Is(err, ErrLineTooLong) {
			overflow = true
			continue
		}
		if err != nil {
			return "", err
		}

		if reader.IsTerminator(line) {
			break
		}
		if overflow {
			continue
		}

		size += MessageSize(len(line))
		if e.limits.CheckMessageSize(size) != nil {
			overflow = true
			e.dataBuf.Reset()
			continue
		}
		e.dataBuf.Write(reader.NormalizeLine(line))
	}

	if overflow {
		return "", ErrMessageTooLarge
	}
	return e.dataBuf.String(), nil
}

// effectiveLimits fills in the command length default. Without an explicit
// data line limit a single line longer than the whole message ceiling is
// already an overflow.
func effectiveLimits(limits SessionLimits) SessionLimits {
	if limits.MaxCommandLength == 0 {
		limits.MaxCommandLength = DefaultMaxCommandLength
	}
	if limits.MaxLineLength == 0 && limits.MaxMessageSize > 0 {
		limits.MaxLineLength = LineLength(limits.MaxMessageSize) + 2
	}
	return limits
}

// writeResponse writes a reply.
func (e *Engine) writeResponse(ctx context.Context, resp Response) error {
	data := resp.Bytes()
	n, err := e.writer.Write(data)
	e.stats.BytesWritten += int64(n)

	if e.config.Transcript != nil {
		e.config.Transcript.LogOutput(data[:n])
	}

	e.logger.Debug(ctx, "sent response",
		Attr(AttrReplyCode, int(resp.Code)))

	return err
}

// handleDisconnect handles session termination. End of input is a clean
// close and is not reported as an error.
func (e *Engine) handleDisconnect(ctx context.Context, reason DisconnectReason, err error) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	if !e.sm.State().IsTerminal() {
		e.sm.Terminate()
	}
	e.stats.EndTime = time.Now()

	e.hooks.OnDisconnect(ctx, e, reason)

	attrs := []LogAttr{
		Attr("reason", reason.String()),
		Attr("commands", e.stats.CommandCount),
		Attr(AttrMessages, e.stats.MessageCount),
	}
	if err != nil && reason != DisconnectClientClosed {
		attrs = append(attrs, Attr(AttrError, err))
	}
	e.logger.Info(ctx, "session ended", attrs...)

	if reason == DisconnectClientClosed {
		return nil
	}
	return err
}

// greeting builds the reply sent on connect.
func (e *Engine) greeting() Response {
	return NewResponse(Reply200OK, fmt.Sprintf("OK %s ready", e.config.ServerHostname))
}

// disconnectReason classifies an error that ended the command loop.
func disconnectReason(err error) DisconnectReason {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.ErrClosedPipe):
		return DisconnectClientClosed
	case errors.Is(err, ErrTooManyErrors):
		return DisconnectResourceLimit
	case isTimeout(err):
		return DisconnectTimeout
	default:
		return DisconnectError
	}
}

// SessionInfo interface implementation

func (e *Engine) ID() SessionID             { return e.sessionID }
func (e *Engine) State() State              { return e.sm.State() }
func (e *Engine) ClientID() ClientID        { return e.sm.Session().ClientID }
func (e *Engine) RemoteAddr() RemoteAddress { return e.remoteAddr }
func (e *Engine) Authenticated() bool       { return e.sm.Session().Authenticated }
func (e *Engine) Sender() EmailAddress      { return e.sm.Session().Sender }
func (e *Engine) Recipient() EmailAddress   { return e.sm.Session().Recipient }

// Stats returns the session statistics.
func (e *Engine) Stats() SessionStats {
	return e.stats
}

// Close terminates the session and closes the underlying Conn, if any.
// A Run blocked on a read returns once the connection is closed.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil {
		return e.conn.Close()
	}
	return nil
}
