// Package filestore implements mysmtp.Mailbox on the local filesystem.
//
// Each recipient owns one append-only text file, <dir>/<recipient>.txt,
// holding framed records:
//
//	--- Email ID: 1 ---
//	From: alice@example.com
//	Date: 14-10-2026
//	body line
//	--- End Email ID: 1 ---
//
// Ids are recomputed from the file on every append. Body lines that
// begin with "---" (after any number of '>') are stored with one extra
// leading '>' so that no body can forge a delimiter.
package filestore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/iceisfun/mysmtp"
	"github.com/pkg/errors"
)

// FileExtension is appended to the recipient key to form the file name.
const FileExtension = ".txt"

// File permissions for the mailbox root and the mailbox files.
const (
	DirMode  os.FileMode = 0o700
	FileMode os.FileMode = 0o600
)

// Options configures a Store.
type Options struct {
	// Dir is the mailbox root. It is created if missing.
	Dir string

	// IndexCacheSize is the approximate number of bytes of scanned
	// indexes to keep in memory (0 disables the cache).
	IndexCacheSize int64

	// Logger receives storage warnings. If nil, logging is disabled.
	Logger mysmtp.Logger
}

// Store is a file-backed mysmtp.Mailbox.
type Store struct {
	dir    string
	locks  *lockRegistry
	cache  *indexCache
	logger mysmtp.Logger

	// hwm is the largest id this process assigned per recipient.
	hwmMu sync.Mutex
	hwm   map[mysmtp.EmailAddress]mysmtp.MessageID
}

// New creates a Store rooted at opts.Dir.
func New(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, errors.New("filestore: directory is required")
	}
	if err := os.MkdirAll(opts.Dir, DirMode); err != nil {
		return nil, errors.Wrapf(err, "create mailbox directory %s", opts.Dir)
	}

	cache, err := newIndexCache(opts.IndexCacheSize)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = mysmtp.NullLogger{}
	}

	return &Store{
		dir:    opts.Dir,
		locks:  newLockRegistry(),
		cache:  cache,
		logger: logger,
		hwm:    make(map[mysmtp.EmailAddress]mysmtp.MessageID),
	}, nil
}

// Dir returns the mailbox root.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file holding recipient's mailbox.
// recipient is not validated.
func (s *Store) Path(recipient mysmtp.EmailAddress) string {
	return filepath.Join(s.dir, recipient+FileExtension)
}

// Close releases the index cache.
func (s *Store) Close() error {
	s.cache.close()
	return nil
}

// Append stores a message and returns its id.
func (s *Store) Append(ctx context.Context, recipient mysmtp.EmailAddress, sender mysmtp.EmailAddress, date mysmtp.MessageDate, body mysmtp.MessageBody) (mysmtp.MessageID, error) {
	if err := validate(mysmtp.StorageOpAppend, recipient); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, storageError(mysmtp.StorageOpAppend, recipient, err, "")
	}

	unlock := s.locks.Lock(recipient)
	defer unlock()

	f, err := os.OpenFile(s.Path(recipient), os.O_RDWR|os.O_CREATE|os.O_APPEND, FileMode)
	if err != nil {
		return 0, storageError(mysmtp.StorageOpAppend, recipient, err, "open mailbox")
	}
	defer f.Close()

	idx, err := s.loadIndex(f, recipient, 0)
	if err != nil {
		return 0, storageError(mysmtp.StorageOpAppend, recipient, err, "scan mailbox")
	}

	id := s.nextID(recipient, idx.maxID)
	record := encodeRecord(id, sender, date, mysmtp.NormalizeBody(body))
	offset := idx.size
	if idx.size > 0 && !idx.endsWithNewline {
		record = append([]byte{'\n'}, record...)
		offset++
	}

	if _, err := f.Write(record); err != nil {
		s.rollback(ctx, f, recipient, idx.size)
		return 0, storageError(mysmtp.StorageOpAppend, recipient, err, "write record")
	}
	if err := f.Sync(); err != nil {
		s.rollback(ctx, f, recipient, idx.size)
		return 0, storageError(mysmtp.StorageOpAppend, recipient, err, "sync mailbox")
	}

	s.commitID(recipient, id)

	if fi, err := f.Stat(); err == nil {
		n := idx.size + int64(len(record)) - offset
		s.cache.set(cacheKey(recipient, fi), idx.withEntry(entry{
			ID:     id,
			Sender: sender,
			Date:   date,
			Offset: offset,
			Length: n,
		}, n))
	}

	return id, nil
}

// ListSummaries returns the summaries of all complete records.
func (s *Store) ListSummaries(ctx context.Context, recipient mysmtp.EmailAddress) ([]mysmtp.Summary, error) {
	if err := validate(mysmtp.StorageOpList, recipient); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, storageError(mysmtp.StorageOpList, recipient, err, "")
	}

	unlock := s.locks.RLock(recipient)
	defer unlock()

	f, err := os.Open(s.Path(recipient))
	if os.IsNotExist(err) {
		return []mysmtp.Summary{}, nil
	}
	if err != nil {
		return nil, storageError(mysmtp.StorageOpList, recipient, err, "open mailbox")
	}
	defer f.Close()

	idx, err := s.loadIndex(f, recipient, 0)
	if err != nil {
		return nil, storageError(mysmtp.StorageOpList, recipient, err, "scan mailbox")
	}
	if idx.skipped > 0 {
		s.logger.Warn(ctx, "skipped malformed records",
			mysmtp.Attr(mysmtp.AttrRecipient, recipient),
			mysmtp.Attr("skipped", idx.skipped))
	}

	return idx.summaries(), nil
}

// Fetch returns the message with the given id.
func (s *Store) Fetch(ctx context.Context, recipient mysmtp.EmailAddress, id mysmtp.MessageID) (mysmtp.Message, error) {
	if err := validate(mysmtp.StorageOpFetch, recipient); err != nil {
		return mysmtp.Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return mysmtp.Message{}, storageError(mysmtp.StorageOpFetch, recipient, err, "")
	}
	if id <= 0 {
		return mysmtp.Message{}, notFound(recipient)
	}

	unlock := s.locks.RLock(recipient)
	defer unlock()

	f, err := os.Open(s.Path(recipient))
	if os.IsNotExist(err) {
		return mysmtp.Message{}, notFound(recipient)
	}
	if err != nil {
		return mysmtp.Message{}, storageError(mysmtp.StorageOpFetch, recipient, err, "open mailbox")
	}
	defer f.Close()

	idx, err := s.loadIndex(f, recipient, id)
	if err != nil {
		return mysmtp.Message{}, storageError(mysmtp.StorageOpFetch, recipient, err, "scan mailbox")
	}

	e, ok := idx.find(id)
	if !ok {
		return mysmtp.Message{}, notFound(recipient)
	}

	raw := make([]byte, e.Length)
	if _, err := f.ReadAt(raw, e.Offset); err != nil && !errors.Is(err, io.EOF) {
		return mysmtp.Message{}, storageError(mysmtp.StorageOpFetch, recipient, err, "read record")
	}

	msg, err := decodeRecord(raw)
	if err != nil || msg.ID != id {
		return mysmtp.Message{}, notFound(recipient)
	}
	return msg, nil
}

// loadIndex returns the index of f, from the cache when possible.
// With stopAt > 0 a cache miss scans only up to that record and the
// partial result is not cached.
func (s *Store) loadIndex(f *os.File, recipient mysmtp.EmailAddress, stopAt mysmtp.MessageID) (*index, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "stat mailbox")
	}

	key := cacheKey(recipient, fi)
	if idx, ok := s.cache.get(key); ok {
		return idx, nil
	}

	idx, err := scanIndex(io.NewSectionReader(f, 0, fi.Size()), stopAt)
	if err != nil {
		return nil, err
	}
	if stopAt == 0 {
		s.cache.set(key, idx)
	}
	return idx, nil
}

// nextID returns the id for the next record: one more than the largest
// id in the file or handed out earlier by this process.
func (s *Store) nextID(recipient mysmtp.EmailAddress, fileMax mysmtp.MessageID) mysmtp.MessageID {
	s.hwmMu.Lock()
	defer s.hwmMu.Unlock()
	if hwm := s.hwm[recipient]; hwm > fileMax {
		return hwm + 1
	}
	return fileMax + 1
}

func (s *Store) commitID(recipient mysmtp.EmailAddress, id mysmtp.MessageID) {
	s.hwmMu.Lock()
	defer s.hwmMu.Unlock()
	if id > s.hwm[recipient] {
		s.hwm[recipient] = id
	}
}

// rollback truncates a failed append back to the previous file size.
func (s *Store) rollback(ctx context.Context, f *os.File, recipient mysmtp.EmailAddress, size int64) {
	if err := f.Truncate(size); err != nil {
		s.logger.Error(ctx, "truncate after failed append",
			mysmtp.Attr(mysmtp.AttrRecipient, recipient),
			mysmtp.Attr(mysmtp.AttrError, err))
	}
}

func validate(op mysmtp.StorageOperation, recipient mysmtp.EmailAddress) error {
	err := mysmtp.ValidateRecipient(recipient)
	var se *mysmtp.StorageError
	if errors.As(err, &se) {
		se.Operation = op
	}
	return err
}

func notFound(recipient mysmtp.EmailAddress) error {
	return &mysmtp.StorageError{
		Operation: mysmtp.StorageOpFetch,
		Recipient: recipient,
		Cause:     mysmtp.ErrNotFound,
	}
}

func storageError(op mysmtp.StorageOperation, recipient mysmtp.EmailAddress, cause error, msg string) error {
	return &mysmtp.StorageError{
		Operation: op,
		Recipient: recipient,
		Cause:     cause,
		Message:   msg,
	}
}

var _ mysmtp.Mailbox = (*Store)(nil)
