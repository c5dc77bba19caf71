package mysmtp_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/iceisfun/mysmtp"
	"github.com/iceisfun/mysmtp/harness"
)

func TestStreamingLargeMessage(t *testing.T) {
	store := newFileStore(t)
	limits := mysmtp.DefaultSessionLimits()
	limits.MaxMessageSize = 1 << 20
	h := startSession(t, harness.WithMailbox(store), harness.WithLimits(limits))

	expect(t, h, "HELO c", mysmtp.Reply200OK)
	expect(t, h, "MAIL FROM: sender@example.com", mysmtp.Reply200OK)
	expect(t, h, "RCPT TO: recipient@example.com", mysmtp.Reply200OK)
	expect(t, h, "DATA", mysmtp.Reply354StartInput)

	var want strings.Builder
	for i := 0; i < 5000; i++ {
		line := fmt.Sprintf("Line %d: %s", i, strings.Repeat("x", 80))
		if i%1000 == 0 {
			line = "--- Email ID: 1 ---"
		}
		h.Send(line)
		want.WriteString(line + "\n")
	}
	expect(t, h, ".", mysmtp.Reply200OK)

	msg, err := store.Fetch(context.Background(), "recipient@example.com", 1)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if msg.Body != want.String() {
		t.Errorf("body mismatch: got %d bytes, want %d", len(msg.Body), want.Len())
	}

	got := expect(t, h, "GET_MAIL recipient@example.com 1", mysmtp.Reply200OK)
	if len(got) != 5003 {
		t.Errorf("expected 5003 reply lines, got %d", len(got))
	}
	if got[3] != "--- Email ID: 1 ---" {
		t.Errorf("body line altered on the wire: %q", got[3])
	}

	list := expect(t, h, "LIST recipient@example.com", mysmtp.Reply200OK)
	if len(list) != 2 {
		t.Errorf("forged delimiters created extra records: %q", list)
	}
}

func TestStreamingManyMessages(t *testing.T) {
	store := newFileStore(t)
	h := startSession(t, harness.WithMailbox(store))
	expect(t, h, "HELO c", mysmtp.Reply200OK)

	for i := 1; i <= 50; i++ {
		deliver(t, h, fmt.Sprintf("s%d", i), "bob", fmt.Sprintf("message %d", i))
	}

	list := expect(t, h, "LIST bob", mysmtp.Reply200OK)
	if len(list) != 51 {
		t.Fatalf("expected 50 summaries, got %d", len(list)-1)
	}
	if list[50] != "50: Email from s50 (14-10-2026)" {
		t.Errorf("unexpected last summary %q", list[50])
	}

	msg := expect(t, h, "GET_MAIL bob 37", mysmtp.Reply200OK)
	if msg[len(msg)-1] != "message 37" {
		t.Errorf("unexpected body %q", msg)
	}
}
