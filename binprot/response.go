package binprot

import (
	"fmt"
	"io"
)

// Response is a parsed response frame.
//
// Extra, key and value boundaries come from the response header alone; they
// are unrelated to the request's (a get response carries flags in extra, no
// key, and the item in value).
type Response struct {
	Header Header
	Extra  []byte
	Key    []byte
	Value  []byte
}

func (r *Response) Status() Status {
	return r.Header.Status()
}

func (r *Response) CAS() CAS {
	return r.Header.CAS
}

// IsSuccess reports whether the status is StatusNoError.
func (r *Response) IsSuccess() bool {
	return r.Header.Status() == StatusNoError
}

// NewResponse builds a response frame answering req.
func NewResponse(req *Request, status Status, extra, key, value []byte, cas CAS) *Response {
	return &Response{
		Header: Header{
			Magic:           MagicResponse,
			Opcode:          req.Header.Opcode,
			KeyLength:       uint16(len(key)),
			ExtraLength:     uint8(len(extra)),
			VBucketOrStatus: uint16(status),
			BodyLength:      uint32(len(extra) + len(key) + len(value)),
			Opaque:          req.Header.Opaque,
			CAS:             cas,
		},
		Extra: extra,
		Key:   key,
		Value: value,
	}
}

// ReadResponse reads exactly one response frame: the 24-byte header, then
// exactly BodyLength bytes.
//
// Errors:
//   - TransportError: the connection failed or was closed before the header
//   - FormatError: bad magic, truncated frame, inconsistent lengths
//
// A non-zero status is not an error here; see StatusError.
func ReadResponse(r io.Reader) (*Response, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	if h.Magic != MagicResponse {
		return nil, &FormatError{Message: fmt.Sprintf("expected response magic, got 0x%02x", h.Magic)}
	}

	extra, key, value, err := readBody(r, h)
	if err != nil {
		return nil, err
	}

	return &Response{Header: h, Extra: extra, Key: key, Value: value}, nil
}

// WriteResponse writes a response frame. Used by servers and test doubles.
func WriteResponse(w io.Writer, resp *Response) error {
	if err := resp.Header.CheckLengths(resp.Extra, resp.Key, resp.Value); err != nil {
		return err
	}

	var buf [HeaderLength]byte
	header, err := resp.Header.AppendBinary(buf[:0])
	if err != nil {
		return err
	}

	frame := make([]byte, 0, HeaderLength+int(resp.Header.BodyLength))
	frame = append(frame, header...)
	frame = append(frame, resp.Extra...)
	frame = append(frame, resp.Key...)
	frame = append(frame, resp.Value...)

	if _, err := w.Write(frame); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

// readBody reads the body announced by h and splits it.
func readBody(r io.Reader, h Header) (extra, key, value []byte, err error) {
	if h.ValueLength() < 0 {
		return nil, nil, nil, &FormatError{Message: fmt.Sprintf(
			"body length %d shorter than extra %d + key %d", h.BodyLength, h.ExtraLength, h.KeyLength)}
	}
	if h.BodyLength > MaxBodyLength {
		return nil, nil, nil, &FormatError{Message: fmt.Sprintf("body length %d exceeds limit %d", h.BodyLength, MaxBodyLength)}
	}
	if h.BodyLength == 0 {
		return nil, nil, nil, nil
	}

	body := make([]byte, h.BodyLength)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, nil, nil, readError("body", err)
	}

	keyEnd := int(h.ExtraLength) + int(h.KeyLength)
	extra = body[:h.ExtraLength:h.ExtraLength]
	key = body[h.ExtraLength:keyEnd:keyEnd]
	value = body[keyEnd:]

	if len(extra) == 0 {
		extra = nil
	}
	if len(key) == 0 {
		key = nil
	}
	if len(value) == 0 {
		value = nil
	}
	return extra, key, value, nil
}
