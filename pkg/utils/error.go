package utils

import "fmt"

var (
	ErrNotFound      = fmt.Errorf("Not found")
	ErrSessionClosed = fmt.Errorf("Worker session is permanently closed")
)

// An error carrying additional diagnostic output,
// typically the stderr of a failed subprocess.
type DetailedError interface {
	error
	Details() string
}
