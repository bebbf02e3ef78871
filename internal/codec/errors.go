package codec

import (
	"errors"
	"fmt"
)

// ChecksumError reports a missing, malformed or mismatched *HH checksum.
type ChecksumError struct {
	Received string
	Computed byte
}

func (e *ChecksumError) Error() string {
	if e.Received == "" {
		return "codec: missing checksum"
	}
	return fmt.Sprintf("codec: checksum mismatch: received %q, computed %02X", e.Received, e.Computed)
}

// FieldError reports a malformed sentence or field.
type FieldError struct {
	Sentence string
	Field    string
	Value    string
	Reason   string
}

func (e *FieldError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("codec: %s: %s", e.Sentence, e.Reason)
	}
	return fmt.Sprintf("codec: %s field %s=%q: %s", e.Sentence, e.Field, e.Value, e.Reason)
}

// UnknownSentenceError reports a well-formed sentence with an unsupported identifier.
type UnknownSentenceError struct {
	ID string
}

func (e *UnknownSentenceError) Error() string {
	return fmt.Sprintf("codec: unknown sentence %q", e.ID)
}

// Error classes returned by Classify.
const (
	ClassChecksum = "checksum"
	ClassField    = "field"
	ClassUnknown  = "unknown"
	ClassOther    = "other"
)

// Classify maps a Parse error onto its metrics label.
func Classify(err error) string {
	var (
		ce *ChecksumError
		fe *FieldError
		ue *UnknownSentenceError
	)
	switch {
	case errors.As(err, &ce):
		return ClassChecksum
	case errors.As(err, &fe):
		return ClassField
	case errors.As(err, &ue):
		return ClassUnknown
	default:
		return ClassOther
	}
}
