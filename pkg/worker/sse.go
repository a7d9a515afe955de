package worker

import (
	"bufio"
	"io"
	"strings"

	"github.com/runbeam/relay/pkg/protocol"
)

// Parses a server-sent event stream into protocol events.
// Only the "event" and "data" fields are used; comments and other
// fields are skipped.
type eventReader struct {
	scanner *bufio.Scanner
}

func newEventReader(r io.Reader) *eventReader {
	scanner := bufio.NewScanner(r)

	// A chunk event carries up to one chunk of base64 payload in a
	// single data line.
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	return &eventReader{scanner: scanner}
}

// Returns the next complete event, io.EOF at end of stream, or an
// error for malformed bodies and unrecognized event tags.
func (r *eventReader) Next() (protocol.Event, error) {
	var kind protocol.EventKind
	var data string

	for r.scanner.Scan() {
		line := r.scanner.Text()

		switch {
		case line == "":
			if kind != "" {
				return protocol.DecodeEvent(kind, []byte(data))
			}

		case strings.HasPrefix(line, ":"):
			// comment

		case strings.HasPrefix(line, "event:"):
			kind = protocol.EventKind(strings.TrimSpace(line[len("event:"):]))

		case strings.HasPrefix(line, "data:"):
			data += strings.TrimSpace(line[len("data:"):])
		}
	}

	if err := r.scanner.Err(); err != nil {
		return nil, err
	}

	return nil, io.EOF
}
