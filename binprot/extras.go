package binprot

import (
	"encoding/binary"
	"fmt"
)

// Extra payload layouts. Each command defines a fixed-size block sent
// between the header and the key.

const (
	GetExtraLength   = 4
	SetExtraLength   = 8
	TouchExtraLength = 4
)

// GetExtra is carried by get responses.
type GetExtra struct {
	Flags uint32
}

func (e GetExtra) MarshalBinary() ([]byte, error) {
	return binary.BigEndian.AppendUint32(make([]byte, 0, GetExtraLength), e.Flags), nil
}

func DecodeGetExtra(b []byte) (GetExtra, error) {
	if err := checkExtraLength("get", b, GetExtraLength); err != nil {
		return GetExtra{}, err
	}
	return GetExtra{Flags: binary.BigEndian.Uint32(b)}, nil
}

// SetExtra is carried by set, add and replace requests.
type SetExtra struct {
	Flags      uint32
	Expiration uint32
}

func (e SetExtra) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, SetExtraLength)
	b = binary.BigEndian.AppendUint32(b, e.Flags)
	b = binary.BigEndian.AppendUint32(b, e.Expiration)
	return b, nil
}

func DecodeSetExtra(b []byte) (SetExtra, error) {
	if err := checkExtraLength("set", b, SetExtraLength); err != nil {
		return SetExtra{}, err
	}
	return SetExtra{
		Flags:      binary.BigEndian.Uint32(b[0:4]),
		Expiration: binary.BigEndian.Uint32(b[4:8]),
	}, nil
}

// TouchExtra is carried by touch requests.
type TouchExtra struct {
	Expiration uint32
}

func (e TouchExtra) MarshalBinary() ([]byte, error) {
	return binary.BigEndian.AppendUint32(make([]byte, 0, TouchExtraLength), e.Expiration), nil
}

func DecodeTouchExtra(b []byte) (TouchExtra, error) {
	if err := checkExtraLength("touch", b, TouchExtraLength); err != nil {
		return TouchExtra{}, err
	}
	return TouchExtra{Expiration: binary.BigEndian.Uint32(b)}, nil
}

func checkExtraLength(name string, b []byte, want int) error {
	if len(b) != want {
		return &FormatError{Message: fmt.Sprintf("%s extra needs %d bytes, got %d", name, want, len(b))}
	}
	return nil
}
