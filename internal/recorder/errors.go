package recorder

import "fmt"

// SerialReadError is a failure to open or read the serial source.
type SerialReadError struct {
	Port string
	Err  error
}

func (e *SerialReadError) Error() string { return fmt.Sprintf("serial %s: %v", e.Port, e.Err) }

func (e *SerialReadError) Unwrap() error { return e.Err }
