package binprot

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// CAS is the opaque version stamp assigned by the server on each mutation.
// The zero value means "no token": writes carrying it are unconditional.
//
// The client never does arithmetic on it; it is carried as the 8 bytes
// found on the wire.
type CAS [8]byte

// NewCAS builds a CAS from an integer. Servers and tests use it to mint
// tokens; clients only echo what they received.
func NewCAS(v uint64) CAS {
	var c CAS
	binary.BigEndian.PutUint64(c[:], v)
	return c
}

func (c CAS) IsZero() bool {
	return c == CAS{}
}

func (c CAS) String() string {
	return hex.EncodeToString(c[:])
}

// Opaque is the correlation token echoed back by the server.
type Opaque [4]byte

// NewOpaque builds an Opaque from a counter value.
func NewOpaque(v uint32) Opaque {
	var o Opaque
	binary.BigEndian.PutUint32(o[:], v)
	return o
}

// Header is the fixed 24-byte frame header shared by requests and responses.
//
// Layout (big-endian):
//
//	0      magic
//	1      opcode
//	2..3   key length
//	4      extra length
//	5      data type (reserved, zero)
//	6..7   vbucket id (request) / status (response)
//	8..11  total body length (extra + key + value)
//	12..15 opaque
//	16..23 CAS
type Header struct {
	Magic       uint8
	Opcode      Opcode
	KeyLength   uint16
	ExtraLength uint8
	DataType    uint8

	// VBucketOrStatus holds the vbucket id on requests and the status code on
	// responses. Use VBucket or Status to read it.
	VBucketOrStatus uint16

	BodyLength uint32
	Opaque     Opaque
	CAS        CAS
}

func (h Header) IsResponse() bool {
	return h.Magic == MagicResponse
}

// Status returns the response status. Meaningless on request headers.
func (h Header) Status() Status {
	return Status(h.VBucketOrStatus)
}

// VBucket returns the vbucket id. Meaningless on response headers.
func (h Header) VBucket() uint16 {
	return h.VBucketOrStatus
}

// ValueLength is the part of the body left once extra and key are removed.
// It is negative when the header is inconsistent.
func (h Header) ValueLength() int {
	return int(h.BodyLength) - int(h.ExtraLength) - int(h.KeyLength)
}

// CheckLengths reports a FormatError when the header lengths do not describe
// the given body parts.
func (h Header) CheckLengths(extra, key, value []byte) error {
	body := uint64(len(extra)) + uint64(len(key)) + uint64(len(value))
	if int(h.ExtraLength) != len(extra) || int(h.KeyLength) != len(key) || uint64(h.BodyLength) != body {
		return &FormatError{Message: fmt.Sprintf(
			"header announces extra %d key %d body %d, frame holds extra %d key %d body %d",
			h.ExtraLength, h.KeyLength, h.BodyLength, len(extra), len(key), body)}
	}
	return nil
}

// AppendBinary appends the 24-byte encoding of h to b.
func (h Header) AppendBinary(b []byte) ([]byte, error) {
	if h.Magic != MagicRequest && h.Magic != MagicResponse {
		return b, &FormatError{Message: fmt.Sprintf("invalid magic 0x%02x", h.Magic)}
	}

	b = append(b, h.Magic, byte(h.Opcode))
	b = binary.BigEndian.AppendUint16(b, h.KeyLength)
	b = append(b, h.ExtraLength, h.DataType)
	b = binary.BigEndian.AppendUint16(b, h.VBucketOrStatus)
	b = binary.BigEndian.AppendUint32(b, h.BodyLength)
	b = append(b, h.Opaque[:]...)
	b = append(b, h.CAS[:]...)
	return b, nil
}

// MarshalBinary returns the 24-byte encoding of h.
func (h Header) MarshalBinary() ([]byte, error) {
	return h.AppendBinary(make([]byte, 0, HeaderLength))
}

// DecodeHeader parses the first 24 bytes of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLength {
		return Header{}, &FormatError{Message: fmt.Sprintf("header needs %d bytes, got %d", HeaderLength, len(b))}
	}

	h := Header{
		Magic:           b[0],
		Opcode:          Opcode(b[1]),
		KeyLength:       binary.BigEndian.Uint16(b[2:4]),
		ExtraLength:     b[4],
		DataType:        b[5],
		VBucketOrStatus: binary.BigEndian.Uint16(b[6:8]),
		BodyLength:      binary.BigEndian.Uint32(b[8:12]),
	}
	copy(h.Opaque[:], b[12:16])
	copy(h.CAS[:], b[16:24])

	if h.Magic != MagicRequest && h.Magic != MagicResponse {
		return Header{}, &FormatError{Message: fmt.Sprintf("invalid magic 0x%02x", h.Magic)}
	}

	return h, nil
}

// ReadHeader reads exactly one header from r.
//
// A clean EOF before the first byte is a TransportError (the peer closed the
// connection); an EOF in the middle of the header is a FormatError.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderLength]byte

	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, readError("header", err)
	}

	return DecodeHeader(buf[:])
}

func readError(what string, err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return &FormatError{Message: "truncated " + what, Err: err}
	}
	return &TransportError{Op: "read", Err: err}
}
