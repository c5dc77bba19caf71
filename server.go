package mysmtp

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ErrServerClosed is returned by Serve after Shutdown or Close.
var ErrServerClosed = errors.New("mysmtp: server closed")

// ResponseTooManyConnections is sent to a client accepted while the server
// is at its connection limit.
var ResponseTooManyConnections = NewResponse(Reply500ServerError, "SERVER ERROR Too many connections")

// ServerConfig configures a Server.
type ServerConfig struct {
	// Session is the configuration shared by every session.
	Session SessionConfig

	// MaxConnections bounds concurrent sessions (0 = unlimited).
	MaxConnections int
}

// Server accepts connections and runs one Engine per connection.
type Server struct {
	config   ServerConfig
	logger   Logger
	listener net.Listener

	connMu    sync.Mutex
	engines   map[*Engine]struct{}
	connCount atomic.Int64

	ctx        context.Context
	cancel     context.CancelFunc
	shutdownWg sync.WaitGroup
	closed     atomic.Bool
}

// NewServer creates a server. The session configuration must carry a Mailbox.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Session.Mailbox == nil {
		return nil, errors.New("mysmtp: mailbox is required")
	}
	if config.Session.ServerHostname == "" {
		config.Session.ServerHostname = DefaultHostname
	}

	logger := config.Session.Logger
	if logger == nil {
		logger = NullLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		config:  config,
		logger:  logger,
		engines: make(map[*Engine]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// ListenAndServe listens on the TCP address addr and serves connections.
func (s *Server) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Serve accepts connections on listener until Shutdown or Close.
func (s *Server) Serve(listener net.Listener) error {
	s.connMu.Lock()
	s.listener = listener
	s.connMu.Unlock()

	if s.closed.Load() {
		listener.Close()
		return ErrServerClosed
	}

	s.logger.Info(s.ctx, "server started",
		Attr("addr", listener.Addr().String()),
		Attr("hostname", s.config.Session.ServerHostname))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.logger.Error(s.ctx, "accept error", Attr(AttrError, err))
			continue
		}

		if s.config.MaxConnections > 0 && s.connCount.Load() >= int64(s.config.MaxConnections) {
			s.logger.Warn(s.ctx, "connection limit reached",
				Attr(AttrRemoteAddr, conn.RemoteAddr().String()))
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			conn.Write(ResponseTooManyConnections.Bytes())
			conn.Close()
			continue
		}

		if !s.trackConn() {
			conn.Close()
			return ErrServerClosed
		}
		go s.handleConnection(conn)
	}
}

// trackConn registers a new session with the shutdown group. It reports
// false once Shutdown or Close has started.
func (s *Server) trackConn() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.closed.Load() {
		return false
	}
	s.connCount.Add(1)
	s.shutdownWg.Add(1)
	return true
}

// markClosed flags the server closed. Holding connMu orders it against
// trackConn, so no session is added once Shutdown is waiting.
func (s *Server) markClosed() {
	s.connMu.Lock()
	s.closed.Store(true)
	s.connMu.Unlock()
}

// handleConnection runs a session on conn.
func (s *Server) handleConnection(netConn net.Conn) {
	defer s.shutdownWg.Done()
	defer s.connCount.Add(-1)

	conn := WrapNetConn(netConn)
	engine := NewEngineWithConn(conn, s.config.Session,
		WithRemoteAddr(conn.ConnectionInfo().RemoteAddr))

	s.connMu.Lock()
	if s.closed.Load() {
		s.connMu.Unlock()
		conn.Close()
		return
	}
	s.engines[engine] = struct{}{}
	s.connMu.Unlock()

	defer func() {
		s.connMu.Lock()
		delete(s.engines, engine)
		s.connMu.Unlock()
		conn.Close()
	}()

	if err := engine.Run(s.ctx); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warn(s.ctx, "session error",
			Attr(AttrSessionID, engine.ID()),
			Attr(AttrError, err))
	}
}

// ActiveConnections returns the number of running sessions.
func (s *Server) ActiveConnections() int {
	return int(s.connCount.Load())
}

// Addr returns the listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting connections and waits for running sessions to
// end. Sessions still running when ctx expires are closed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.markClosed()
	s.cancel()
	s.closeListener()

	done := make(chan struct{})
	go func() {
		s.shutdownWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.closeEngines()
		<-done
		return ctx.Err()
	}
}

// Close immediately closes the listener and every session.
func (s *Server) Close() error {
	s.markClosed()
	s.cancel()
	s.closeListener()
	s.closeEngines()
	return nil
}

func (s *Server) closeListener() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.listener != nil {
		s.listener.Close()
	}
}

func (s *Server) closeEngines() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	for engine := range s.engines {
		engine.Close()
	}
}
