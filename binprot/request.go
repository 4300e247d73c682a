package binprot

import (
	"bufio"
	"fmt"
	"io"
	"math"
)

// Request is a complete request frame.
// It is fully determined by its constructor arguments and must not be
// modified once written.
type Request struct {
	Header Header
	Extra  []byte
	Key    []byte
	Value  []byte
}

// NewRequest builds a request frame and fills the header lengths.
//
// Returns a FormatError when a part does not fit its header field.
func NewRequest(opcode Opcode, extra, key, value []byte, cas CAS) (*Request, error) {
	if len(key) > MaxKeyLength {
		return nil, &FormatError{Message: fmt.Sprintf("key length %d exceeds %d", len(key), MaxKeyLength)}
	}
	if len(extra) > MaxExtraLength {
		return nil, &FormatError{Message: fmt.Sprintf("extra length %d exceeds %d", len(extra), MaxExtraLength)}
	}

	bodyLength := uint64(len(extra)) + uint64(len(key)) + uint64(len(value))
	if bodyLength > math.MaxUint32 {
		return nil, &FormatError{Message: fmt.Sprintf("body length %d exceeds %d", bodyLength, uint64(math.MaxUint32))}
	}

	return &Request{
		Header: Header{
			Magic:       MagicRequest,
			Opcode:      opcode,
			KeyLength:   uint16(len(key)),
			ExtraLength: uint8(len(extra)),
			BodyLength:  uint32(bodyLength),
			CAS:         cas,
		},
		Extra: extra,
		Key:   key,
		Value: value,
	}, nil
}

// NewGetRequest builds a get request.
func NewGetRequest(key string) (*Request, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return NewRequest(OpGet, nil, []byte(key), nil, CAS{})
}

// NewStoreRequest builds a set, add or replace request.
// A non-zero cas makes the write conditional.
func NewStoreRequest(opcode Opcode, key string, value []byte, extra SetExtra, cas CAS) (*Request, error) {
	switch opcode {
	case OpSet, OpAdd, OpReplace:
	default:
		return nil, fmt.Errorf("binprot: %s is not a store command", opcode)
	}
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	extraBytes, _ := extra.MarshalBinary()
	return NewRequest(opcode, extraBytes, []byte(key), value, cas)
}

// NewDeleteRequest builds a delete request.
func NewDeleteRequest(key string, cas CAS) (*Request, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return NewRequest(OpDelete, nil, []byte(key), nil, cas)
}

// NewTouchRequest builds a touch request updating the expiration of key.
func NewTouchRequest(key string, expiration uint32) (*Request, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	extra, _ := TouchExtra{Expiration: expiration}.MarshalBinary()
	return NewRequest(OpTouch, extra, []byte(key), nil, CAS{})
}

// NewNoopRequest builds a noop request.
func NewNoopRequest() *Request {
	req, _ := NewRequest(OpNoop, nil, nil, nil, CAS{})
	return req
}

// NewVersionRequest builds a version request.
func NewVersionRequest() *Request {
	req, _ := NewRequest(OpVersion, nil, nil, nil, CAS{})
	return req
}

// NewSASLListMechsRequest builds a request listing the SASL mechanisms.
func NewSASLListMechsRequest() *Request {
	req, _ := NewRequest(OpSASLListMechs, nil, nil, nil, CAS{})
	return req
}

// NewSASLAuthRequest builds a SASL authentication request. The mechanism
// goes in the key, the mechanism-specific payload in the value.
func NewSASLAuthRequest(mechanism string, payload []byte) (*Request, error) {
	if err := ValidateKey(mechanism); err != nil {
		return nil, err
	}
	return NewRequest(OpSASLAuth, nil, []byte(mechanism), payload, CAS{})
}

// WriteRequest writes the header, then extra+key+value.
//
// When w is a *bufio.Writer the caller is responsible for flushing. Nothing
// is written when the header lengths do not match the parts.
func WriteRequest(w io.Writer, req *Request) error {
	if err := req.Header.CheckLengths(req.Extra, req.Key, req.Value); err != nil {
		return err
	}

	var buf [HeaderLength]byte
	header, err := req.Header.AppendBinary(buf[:0])
	if err != nil {
		return err
	}

	if _, err := w.Write(header); err != nil {
		return &TransportError{Op: "write", Err: err}
	}

	if bw, ok := w.(*bufio.Writer); ok {
		return writeBodyBuffered(bw, req.Extra, req.Key, req.Value)
	}

	body := make([]byte, 0, int(req.Header.BodyLength))
	body = append(body, req.Extra...)
	body = append(body, req.Key...)
	body = append(body, req.Value...)
	if _, err := w.Write(body); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

func writeBodyBuffered(bw *bufio.Writer, parts ...[]byte) error {
	for _, p := range parts {
		if _, err := bw.Write(p); err != nil {
			return &TransportError{Op: "write", Err: err}
		}
	}
	return nil
}

// ReadRequest reads one request frame. Used by servers and test doubles.
func ReadRequest(r io.Reader) (*Request, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	if h.Magic != MagicRequest {
		return nil, &FormatError{Message: fmt.Sprintf("expected request magic, got 0x%02x", h.Magic)}
	}

	extra, key, value, err := readBody(r, h)
	if err != nil {
		return nil, err
	}

	return &Request{Header: h, Extra: extra, Key: key, Value: value}, nil
}
