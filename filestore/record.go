package filestore

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/iceisfun/mysmtp"
	"github.com/pkg/errors"
)

// Record framing.
const (
	openPrefix   = "--- Email ID: "
	closePrefix  = "--- End Email ID: "
	delimSuffix  = " ---"
	delimMarker  = "---"
	escapeMarker = '>'
)

var errMalformedRecord = errors.New("malformed record")

func openDelimiter(id mysmtp.MessageID) string {
	return openPrefix + strconv.Itoa(id) + delimSuffix
}

func closeDelimiter(id mysmtp.MessageID) string {
	return closePrefix + strconv.Itoa(id) + delimSuffix
}

// parseDelimiter extracts the id from a delimiter line with the given
// prefix. Only plain positive decimal ids are accepted.
func parseDelimiter(line, prefix string) (mysmtp.MessageID, bool) {
	if !strings.HasPrefix(line, prefix) || !strings.HasSuffix(line, delimSuffix) {
		return 0, false
	}
	digits := line[len(prefix) : len(line)-len(delimSuffix)]
	if digits == "" || len(digits) > 18 {
		return 0, false
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, false
		}
	}
	id, err := strconv.Atoi(digits)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// needsEscape reports whether a body line could be mistaken for a
// delimiter, or is already an escaped one.
func needsEscape(line string) bool {
	return strings.HasPrefix(strings.TrimLeft(line, string(escapeMarker)), delimMarker)
}

func escapeLine(line string) string {
	if needsEscape(line) {
		return string(escapeMarker) + line
	}
	return line
}

func unescapeLine(line string) string {
	if len(line) > 0 && line[0] == escapeMarker && needsEscape(line) {
		return line[1:]
	}
	return line
}

// encodeRecord renders one framed record. body must already be
// normalized so that every line ends in LF.
func encodeRecord(id mysmtp.MessageID, sender mysmtp.EmailAddress, date mysmtp.MessageDate, body mysmtp.MessageBody) []byte {
	var b bytes.Buffer
	b.Grow(len(body) + len(sender) + len(date) + 64)

	b.WriteString(openDelimiter(id))
	b.WriteByte('\n')
	b.WriteString(mysmtp.HeaderFrom)
	b.WriteString(sender)
	b.WriteByte('\n')
	b.WriteString(mysmtp.HeaderDate)
	b.WriteString(date)
	b.WriteByte('\n')

	if body != "" {
		for _, line := range strings.Split(strings.TrimSuffix(body, "\n"), "\n") {
			b.WriteString(escapeLine(line))
			b.WriteByte('\n')
		}
	}

	b.WriteString(closeDelimiter(id))
	b.WriteByte('\n')
	return b.Bytes()
}

// decodeRecord parses the bytes of a single complete record.
func decodeRecord(raw []byte) (mysmtp.Message, error) {
	lines := strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n")
	if len(lines) < 4 {
		return mysmtp.Message{}, errMalformedRecord
	}

	id, ok := parseDelimiter(trimCR(lines[0]), openPrefix)
	if !ok {
		return mysmtp.Message{}, errMalformedRecord
	}
	last := len(lines) - 1
	if closeID, ok := parseDelimiter(trimCR(lines[last]), closePrefix); !ok || closeID != id {
		return mysmtp.Message{}, errMalformedRecord
	}

	from := trimCR(lines[1])
	date := trimCR(lines[2])
	if !strings.HasPrefix(from, mysmtp.HeaderFrom) || !strings.HasPrefix(date, mysmtp.HeaderDate) {
		return mysmtp.Message{}, errMalformedRecord
	}

	var body strings.Builder
	for _, line := range lines[3:last] {
		body.WriteString(unescapeLine(line))
		body.WriteByte('\n')
	}

	return mysmtp.Message{
		ID:     id,
		Sender: strings.TrimPrefix(from, mysmtp.HeaderFrom),
		Date:   strings.TrimPrefix(date, mysmtp.HeaderDate),
		Body:   body.String(),
	}, nil
}

func trimCR(line string) string {
	return strings.TrimSuffix(line, "\r")
}

// entry locates one complete record within a mailbox file.
type entry struct {
	ID     mysmtp.MessageID
	Sender mysmtp.EmailAddress
	Date   mysmtp.MessageDate
	Offset int64
	Length int64
}

// index is the result of scanning a mailbox file.
type index struct {
	entries []entry

	// maxID is the largest id of any open delimiter, complete or not.
	maxID mysmtp.MessageID

	// skipped counts abandoned or malformed records.
	skipped int

	// size is the number of bytes scanned.
	size int64

	// endsWithNewline is false when the file ends in a partial line.
	endsWithNewline bool
}

func (idx *index) find(id mysmtp.MessageID) (entry, bool) {
	for _, e := range idx.entries {
		if e.ID == id {
			return e, true
		}
	}
	return entry{}, false
}

func (idx *index) summaries() []mysmtp.Summary {
	out := make([]mysmtp.Summary, 0, len(idx.entries))
	for _, e := range idx.entries {
		out = append(out, mysmtp.Summary{ID: e.ID, Sender: e.Sender, Date: e.Date})
	}
	return out
}

// withEntry returns a copy of idx extended by one record of n bytes.
// Cached indexes are shared and never modified in place.
func (idx *index) withEntry(e entry, n int64) *index {
	entries := make([]entry, len(idx.entries), len(idx.entries)+1)
	copy(entries, idx.entries)
	next := &index{
		entries:         append(entries, e),
		maxID:           idx.maxID,
		skipped:         idx.skipped,
		size:            e.Offset + n,
		endsWithNewline: true,
	}
	if e.ID > next.maxID {
		next.maxID = e.ID
	}
	return next
}

// cost approximates the memory held by the index.
func (idx *index) cost() int64 {
	c := int64(64)
	for _, e := range idx.entries {
		c += 48 + int64(len(e.Sender)+len(e.Date))
	}
	return c
}

type scanState int

const (
	seekOpen scanState = iota
	wantFrom
	wantDate
	inBody
)

// scanIndex reads a mailbox file and indexes its complete records.
// With stopAt > 0 scanning ends after the record with that id is closed,
// leaving maxID and size describing only the bytes read.
func scanIndex(r io.Reader, stopAt mysmtp.MessageID) (*index, error) {
	br := bufio.NewReader(r)
	idx := &index{endsWithNewline: true}

	state := seekOpen
	var cur entry
	var offset int64

	begin := func(id mysmtp.MessageID, at int64) {
		if id > idx.maxID {
			idx.maxID = id
		}
		cur = entry{ID: id, Offset: at}
		state = wantFrom
	}

	for {
		raw, err := br.ReadString('\n')
		if len(raw) > 0 {
			lineStart := offset
			offset += int64(len(raw))
			idx.endsWithNewline = strings.HasSuffix(raw, "\n")
			line := trimCR(strings.TrimSuffix(raw, "\n"))

			openID, isOpen := parseDelimiter(line, openPrefix)
			if isOpen {
				if state != seekOpen {
					idx.skipped++
				}
				begin(openID, lineStart)
			} else {
				switch state {
				case wantFrom:
					if strings.HasPrefix(line, mysmtp.HeaderFrom) {
						cur.Sender = strings.TrimPrefix(line, mysmtp.HeaderFrom)
						state = wantDate
					} else {
						idx.skipped++
						state = seekOpen
					}
				case wantDate:
					if strings.HasPrefix(line, mysmtp.HeaderDate) {
						cur.Date = strings.TrimPrefix(line, mysmtp.HeaderDate)
						state = inBody
					} else {
						idx.skipped++
						state = seekOpen
					}
				case inBody:
					if closeID, ok := parseDelimiter(line, closePrefix); ok {
						if closeID == cur.ID {
							cur.Length = offset - cur.Offset
							idx.entries = append(idx.entries, cur)
							if stopAt > 0 && cur.ID == stopAt {
								idx.size = offset
								return idx, nil
							}
						} else {
							idx.skipped++
						}
						state = seekOpen
					}
				}
			}
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "scan mailbox")
		}
	}

	if state != seekOpen {
		idx.skipped++
	}
	idx.size = offset
	return idx, nil
}
