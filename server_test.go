package mysmtp_test

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/iceisfun/mysmtp"
	"github.com/iceisfun/mysmtp/mem"
)

type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dialServer(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *testClient) reply() []string {
	c.t.Helper()
	var lines []string
	for {
		line, err := c.r.ReadString('\n')
		if err != nil {
			c.t.Fatalf("read reply: %v (got %q)", err, lines)
		}
		line = strings.TrimRight(line, "\r\n")
		lines = append(lines, line)
		if len(line) < 4 || line[3] != '-' {
			return lines
		}
	}
}

func (c *testClient) cmd(line string) []string {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(line + "\r\n")); err != nil {
		c.t.Fatalf("write %q: %v", line, err)
	}
	return c.reply()
}

func startServer(t *testing.T, config mysmtp.ServerConfig) (*mysmtp.Server, string, <-chan error) {
	t.Helper()

	if config.Session.Mailbox == nil {
		config.Session.Mailbox = mem.NewMailbox()
	}
	srv, err := mysmtp.NewServer(config)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()
	t.Cleanup(func() { srv.Close() })

	return srv, ln.Addr().String(), served
}

func TestServer_NewServerRequiresMailbox(t *testing.T) {
	if _, err := mysmtp.NewServer(mysmtp.ServerConfig{}); err == nil {
		t.Fatal("expected error without a mailbox")
	}
}

func TestServer_RoundTrip(t *testing.T) {
	mailbox := mem.NewMailbox()
	_, addr, _ := startServer(t, mysmtp.ServerConfig{
		Session: mysmtp.SessionConfig{
			ServerHostname: "mx.test",
			Limits:         mysmtp.DefaultSessionLimits(),
			Mailbox:        mailbox,
			Now:            fixedNow,
		},
	})

	c := dialServer(t, addr)
	if got := c.reply(); got[0] != "200 OK mx.test ready" {
		t.Fatalf("unexpected greeting %q", got)
	}

	steps := []struct {
		send string
		want string
	}{
		{"HELO c", "200 OK"},
		{"MAIL FROM: alice", "200 OK"},
		{"RCPT TO: bob", "200 OK"},
		{"DATA", "354 Start mail input; end with a single dot '.'"},
		{"over the wire", ""},
		{".", "200 Message stored successfully"},
	}
	for _, s := range steps {
		if s.want == "" {
			c.conn.Write([]byte(s.send + "\r\n"))
			continue
		}
		got := c.cmd(s.send)
		if got[len(got)-1] != s.want {
			t.Fatalf("%s: expected %q, got %q", s.send, s.want, got)
		}
	}

	got := c.cmd("LIST bob")
	if strings.Join(got, "|") != "200-OK|200 1: Email from alice (14-10-2026)" {
		t.Errorf("unexpected LIST %q", got)
	}

	got = c.cmd("GET_MAIL bob 1")
	if got[len(got)-1] != "200 over the wire" {
		t.Errorf("unexpected GET_MAIL %q", got)
	}

	c.cmd("QUIT")
	if _, err := c.r.ReadByte(); err == nil {
		t.Error("expected connection closed after QUIT")
	}

	if n := mailbox.Count(); n != 1 {
		t.Errorf("expected 1 stored message, got %d", n)
	}
}

func TestServer_SharedMailbox(t *testing.T) {
	_, addr, _ := startServer(t, mysmtp.ServerConfig{
		Session: mysmtp.SessionConfig{Limits: mysmtp.DefaultSessionLimits()},
	})

	writer := dialServer(t, addr)
	reader := dialServer(t, addr)
	writer.reply()
	reader.reply()

	writer.cmd("HELO w")
	writer.cmd("MAIL FROM: w")
	writer.cmd("RCPT TO: shared")
	writer.cmd("DATA")
	writer.conn.Write([]byte("hi\r\n"))
	writer.cmd(".")

	got := reader.cmd("LIST shared")
	if len(got) != 2 || !strings.HasPrefix(got[1], "200 1: Email from w") {
		t.Errorf("second session did not see the message: %q", got)
	}
}

func TestServer_MaxConnections(t *testing.T) {
	srv, addr, _ := startServer(t, mysmtp.ServerConfig{
		Session:        mysmtp.SessionConfig{Limits: mysmtp.DefaultSessionLimits()},
		MaxConnections: 1,
	})

	first := dialServer(t, addr)
	first.reply()

	second := dialServer(t, addr)
	if got := second.reply(); got[0] != "500 SERVER ERROR Too many connections" {
		t.Errorf("unexpected reply %q", got)
	}

	if n := srv.ActiveConnections(); n != 1 {
		t.Errorf("expected 1 active connection, got %d", n)
	}

	first.cmd("QUIT")
	deadline := time.Now().Add(2 * time.Second)
	for srv.ActiveConnections() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	third := dialServer(t, addr)
	if got := third.reply(); !strings.HasPrefix(got[0], "200 OK") {
		t.Errorf("expected greeting after slot freed, got %q", got)
	}
}

func TestServer_Shutdown(t *testing.T) {
	srv, addr, served := startServer(t, mysmtp.ServerConfig{
		Session: mysmtp.SessionConfig{Limits: mysmtp.DefaultSessionLimits()},
	})

	c := dialServer(t, addr)
	c.reply()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := srv.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded with an idle session, got %v", err)
	}

	select {
	case err := <-served:
		if !errors.Is(err, mysmtp.ErrServerClosed) {
			t.Errorf("expected ErrServerClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}

	if _, err := c.r.ReadByte(); err == nil {
		t.Error("expected session closed by shutdown")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Serve(ln); !errors.Is(err, mysmtp.ErrServerClosed) {
		t.Errorf("expected ErrServerClosed from Serve after shutdown, got %v", err)
	}
}

func TestServer_ShutdownWaitsForQuit(t *testing.T) {
	srv, addr, _ := startServer(t, mysmtp.ServerConfig{
		Session: mysmtp.SessionConfig{Limits: mysmtp.DefaultSessionLimits()},
	})

	c := dialServer(t, addr)
	c.reply()

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- srv.Shutdown(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	c.cmd("QUIT")

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Shutdown did not return")
	}
}
