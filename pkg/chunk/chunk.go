// Package chunk splits job payloads into bounded slices for
// transmission over the event stream and reassembles them on the
// worker side.
package chunk

import "fmt"

var (
	ErrBadChunkSize = fmt.Errorf("Chunk size must be positive")
	ErrOverflow     = fmt.Errorf("Received more bytes than the declared total")
	ErrIncomplete   = fmt.Errorf("Received fewer bytes than the declared total")
)

// Splits payload into ordered slices of at most max bytes each.
// Every slice except possibly the last has exactly max bytes.
// The returned slices alias the payload; they are not copies.
func Split(payload []byte, max int) ([][]byte, error) {
	if max <= 0 {
		return nil, ErrBadChunkSize
	}

	chunks := make([][]byte, 0, (len(payload)+max-1)/max)
	for i := 0; i < len(payload); i += max {
		end := i + max
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, payload[i:end])
	}

	return chunks, nil
}
