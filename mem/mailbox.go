// Package mem provides an in-memory implementation of mysmtp.Mailbox.
// It is suitable for testing and development but keeps nothing across
// restarts.
package mem

import (
	"context"
	"sync"

	"github.com/iceisfun/mysmtp"
)

// Mailbox is an in-memory mysmtp.Mailbox. Messages are kept per recipient
// in insertion order and can be inspected directly by tests.
type Mailbox struct {
	mu       sync.RWMutex
	boxes    map[mysmtp.EmailAddress][]mysmtp.Message
	failWith error
}

// NewMailbox creates an empty mailbox store.
func NewMailbox() *Mailbox {
	return &Mailbox{
		boxes: make(map[mysmtp.EmailAddress][]mysmtp.Message),
	}
}

// Append stores a message for recipient.
func (m *Mailbox) Append(ctx context.Context, recipient mysmtp.EmailAddress, sender mysmtp.EmailAddress, date mysmtp.MessageDate, body mysmtp.MessageBody) (mysmtp.MessageID, error) {
	if err := mysmtp.ValidateRecipient(recipient); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWith != nil {
		return 0, &mysmtp.StorageError{
			Operation: mysmtp.StorageOpAppend,
			Recipient: recipient,
			Cause:     m.failWith,
		}
	}

	box := m.boxes[recipient]
	id := 1
	if n := len(box); n > 0 {
		id = box[n-1].ID + 1
	}

	m.boxes[recipient] = append(box, mysmtp.Message{
		ID:     id,
		Sender: sender,
		Date:   date,
		Body:   mysmtp.NormalizeBody(body),
	})
	return id, nil
}

// ListSummaries returns the summaries of recipient's messages.
func (m *Mailbox) ListSummaries(ctx context.Context, recipient mysmtp.EmailAddress) ([]mysmtp.Summary, error) {
	if err := mysmtp.ValidateRecipient(recipient); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	box := m.boxes[recipient]
	out := make([]mysmtp.Summary, 0, len(box))
	for _, msg := range box {
		out = append(out, msg.Summary())
	}
	return out, nil
}

// Fetch returns one message.
func (m *Mailbox) Fetch(ctx context.Context, recipient mysmtp.EmailAddress, id mysmtp.MessageID) (mysmtp.Message, error) {
	if err := mysmtp.ValidateRecipient(recipient); err != nil {
		return mysmtp.Message{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, msg := range m.boxes[recipient] {
		if msg.ID == id {
			return msg, nil
		}
	}
	return mysmtp.Message{}, &mysmtp.StorageError{
		Operation: mysmtp.StorageOpFetch,
		Recipient: recipient,
		Cause:     mysmtp.ErrNotFound,
	}
}

// Messages returns a copy of recipient's messages.
func (m *Mailbox) Messages(recipient mysmtp.EmailAddress) []mysmtp.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]mysmtp.Message, len(m.boxes[recipient]))
	copy(out, m.boxes[recipient])
	return out
}

// Count returns the number of messages stored for all recipients.
func (m *Mailbox) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, box := range m.boxes {
		n += len(box)
	}
	return n
}

// FailAppends makes every later Append fail with err. A nil err restores
// normal behavior.
func (m *Mailbox) FailAppends(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// Clear removes all messages.
func (m *Mailbox) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.boxes = make(map[mysmtp.EmailAddress][]mysmtp.Message)
}

var _ mysmtp.Mailbox = (*Mailbox)(nil)
