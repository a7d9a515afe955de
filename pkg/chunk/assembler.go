package chunk

// Reassembles a payload from chunks applied in arrival order.
// The buffer is preallocated to the declared total size; the write
// cursor only ever advances and never exceeds capacity.
type Assembler struct {
	jobId  string
	buffer []byte
	cursor int
}

func NewAssembler(jobId string, total int) *Assembler {
	return &Assembler{
		jobId:  jobId,
		buffer: make([]byte, total),
	}
}

func (a *Assembler) JobId() string {
	return a.jobId
}

// Number of bytes received so far.
func (a *Assembler) Len() int {
	return a.cursor
}

// Appends a chunk at the current cursor.
// Writing past the declared total is a protocol error.
func (a *Assembler) Write(chunk []byte) error {
	if a.cursor+len(chunk) > len(a.buffer) {
		return ErrOverflow
	}

	copy(a.buffer[a.cursor:], chunk)
	a.cursor += len(chunk)
	return nil
}

// Returns the assembled payload.
// Fails if fewer bytes than the declared total were received.
func (a *Assembler) Bytes() ([]byte, error) {
	if a.cursor != len(a.buffer) {
		return nil, ErrIncomplete
	}
	return a.buffer, nil
}
