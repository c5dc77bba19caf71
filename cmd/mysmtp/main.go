// Command mysmtp is an interactive client for mysmtpd.
//
//	mysmtp <host> <port>
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/errors"

	"github.com/iceisfun/mysmtp/client"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) != 3 {
		return errors.Errorf("usage: %s <server_ip> <port>", os.Args[0])
	}
	addr := net.JoinHostPort(os.Args[1], os.Args[2])

	dialCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	c, err := client.Dial(dialCtx, addr)
	cancel()
	if err != nil {
		return errors.WithMessage(err, "Failed to connect to server")
	}

	fmt.Println("Connected to server.")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return client.REPL(ctx, c, os.Stdin, os.Stdout)
}
