// Package mime renders inbound Gmail part trees into display bodies and
// builds outbound RFC 5322 messages for send, reply and forward.
package mime

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is checks against the typed errors below.
var (
	ErrDecode      = errors.New("malformed inline data")
	ErrValidation  = errors.New("invalid outbound message")
	ErrMissingData = errors.New("message data missing")
)

// DecodeError reports inline part data that is not valid base64url.
type DecodeError struct {
	MimeType string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s part: %v", e.MimeType, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// ValidationError reports an outbound message that cannot be sent as requested.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// MissingDataError reports an absent message or payload.
type MissingDataError struct {
	What string
}

func (e *MissingDataError) Error() string {
	return e.What + " is missing"
}

func (e *MissingDataError) Is(target error) bool { return target == ErrMissingData }
