package bucket

import (
	"errors"
	"fmt"

	"github.com/pior/memdoc/binprot"
)

var (
	ErrUnknownField  = errors.New("bucket: unknown field")
	ErrNilValue      = errors.New("bucket: nil value")
	ErrNotPersisted  = errors.New("bucket: entry is not persisted")
	ErrUnknownSchema = errors.New("bucket: unknown schema")
)

// ConflictError is returned by Store when the document changed since the
// entry was loaded: the replace carried a CAS the server no longer has.
// Reload the entry, reapply the change and store again.
type ConflictError struct {
	Key string
	CAS binprot.CAS // the stale token
	Err error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("bucket: conflict on %q (cas %s): %v", e.Key, e.CAS, e.Err)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// DecodeError reports a payload that does not match its schema.
type DecodeError struct {
	Key   string
	Field string // empty when the payload itself is not a JSON object
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("bucket: decoding %q: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("bucket: decoding %q field %q: %v", e.Key, e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// EncodeError reports a value its field descriptor could not encode.
type EncodeError struct {
	Field string
	Err   error
}

func (e *EncodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("bucket: encoding document: %v", e.Err)
	}
	return fmt.Sprintf("bucket: encoding field %q: %v", e.Field, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}
