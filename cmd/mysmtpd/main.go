// Command mysmtpd runs the mail server.
//
//	mysmtpd <port>
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/iceisfun/mysmtp"
	"github.com/iceisfun/mysmtp/filestore"
	"github.com/iceisfun/mysmtp/notify"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) != 2 {
		return errors.Errorf("usage: %s <port>", os.Args[0])
	}

	cfg, err := loadConfig(os.Args[1], os.Getenv)
	if err != nil {
		return errors.WithMessage(err, "loadConfig")
	}

	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := filestore.New(filestore.Options{
		Dir:            cfg.MailboxDir,
		IndexCacheSize: cfg.IndexCacheSize,
		Logger:         logger,
	})
	if err != nil {
		return errors.WithMessage(err, "filestore.New")
	}
	defer store.Close()

	session := mysmtp.SessionConfig{
		ServerHostname: cfg.Hostname,
		Limits:         cfg.sessionLimits(),
		Mailbox:        store,
		Logger:         logger,
	}

	if cfg.Transcript != "" {
		f, err := os.OpenFile(cfg.Transcript, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filestore.FileMode)
		if err != nil {
			return errors.WithMessage(err, "open transcript")
		}
		defer f.Close()
		session.Transcript = &mysmtp.WriterTranscriptLogger{Writer: f}
	}

	if cfg.MQURL != "" {
		conn, ch, err := notify.Dial(cfg.MQURL, cfg.MQQueue)
		if err != nil {
			return errors.WithMessage(err, "notify.Dial")
		}
		defer conn.Close()
		defer ch.Close()

		session.Hooks = notify.NewPublisher(ch, notify.Options{
			Queue:  cfg.MQQueue,
			Logger: logger,
		})
		logger.Info(ctx, "publishing delivery events", mysmtp.Attr("queue", cfg.MQQueue))
	}

	srv, err := mysmtp.NewServer(mysmtp.ServerConfig{
		Session:        session,
		MaxConnections: cfg.MaxConnections,
	})
	if err != nil {
		return errors.WithMessage(err, "NewServer")
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(cfg.Port)))
	if err != nil {
		return errors.WithMessage(err, "Listen")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, mysmtp.ErrServerClosed) {
			return errors.WithMessage(err, "Serve")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info(context.Background(), "shutting down",
			mysmtp.Attr("active", srv.ActiveConnections()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn(context.Background(), "sessions closed at shutdown deadline",
				mysmtp.Attr(mysmtp.AttrError, err))
		}
		return nil
	})

	return g.Wait()
}

// newLogger builds the process logger from the configured format and level.
func newLogger(cfg config) mysmtp.Logger {
	if cfg.LogFormat == "std" {
		return mysmtp.NewStdLogger(os.Stderr, cfg.LogLevel)
	}

	opts := &slog.HandlerOptions{Level: mysmtp.SlogLevel(cfg.LogLevel)}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return mysmtp.NewSlogLogger(slog.New(handler))
}
