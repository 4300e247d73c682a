package binprot

import "fmt"

// Magic bytes tag the direction of a frame.
const (
	MagicRequest  uint8 = 0x80
	MagicResponse uint8 = 0x81
)

// HeaderLength is the fixed size of request and response headers.
const HeaderLength = 24

// Protocol limits derived from the header field widths.
const (
	MaxKeyLength   = 0xFFFF
	MaxExtraLength = 0xFF
)

// MaxBodyLength bounds the body of a response before it is allocated.
// Memcached refuses items above 1 MiB by default, so anything in the tens of
// megabytes means the stream is out of sync.
const MaxBodyLength uint32 = 20 << 20

// Opcode identifies a command.
type Opcode uint8

const (
	OpGet           Opcode = 0x00
	OpSet           Opcode = 0x01
	OpAdd           Opcode = 0x02
	OpReplace       Opcode = 0x03
	OpDelete        Opcode = 0x04
	OpIncrement     Opcode = 0x05
	OpDecrement     Opcode = 0x06
	OpQuit          Opcode = 0x07
	OpFlush         Opcode = 0x08
	OpNoop          Opcode = 0x0a
	OpVersion       Opcode = 0x0b
	OpAppend        Opcode = 0x0e
	OpPrepend       Opcode = 0x0f
	OpTouch         Opcode = 0x1c
	OpSASLListMechs Opcode = 0x20
	OpSASLAuth      Opcode = 0x21
	OpSASLStep      Opcode = 0x22
)

var opcodeNames = map[Opcode]string{
	OpGet:           "get",
	OpSet:           "set",
	OpAdd:           "add",
	OpReplace:       "replace",
	OpDelete:        "delete",
	OpIncrement:     "increment",
	OpDecrement:     "decrement",
	OpQuit:          "quit",
	OpFlush:         "flush",
	OpNoop:          "noop",
	OpVersion:       "version",
	OpAppend:        "append",
	OpPrepend:       "prepend",
	OpTouch:         "touch",
	OpSASLListMechs: "sasl_list_mechs",
	OpSASLAuth:      "sasl_auth",
	OpSASLStep:      "sasl_step",
}

// IsStore reports whether o writes a value. The server answers a successful
// store with the new CAS.
func (o Opcode) IsStore() bool {
	switch o {
	case OpSet, OpAdd, OpReplace, OpAppend, OpPrepend:
		return true
	}
	return false
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("opcode(0x%02x)", uint8(o))
}

// Status is the response status code carried in the header.
//
// Status implements error so that callers can match a specific code through
// the typed errors with errors.Is:
//
//	if errors.Is(err, binprot.StatusKeyNotFound) { ... }
type Status uint16

const (
	StatusNoError             Status = 0x0000
	StatusKeyNotFound         Status = 0x0001
	StatusKeyExists           Status = 0x0002
	StatusValueTooLarge       Status = 0x0003
	StatusInvalidArguments    Status = 0x0004
	StatusItemNotStored       Status = 0x0005
	StatusNonNumeric          Status = 0x0006
	StatusVBucketNotMine      Status = 0x0007
	StatusAuthError           Status = 0x0008
	StatusAuthContinue        Status = 0x0009
	StatusAuthRequired        Status = 0x0020
	StatusFurtherAuthRequired Status = 0x0021
	StatusUnknownCommand      Status = 0x0081
	StatusOutOfMemory         Status = 0x0082
	StatusNotSupported        Status = 0x0083
	StatusInternalError       Status = 0x0084
	StatusBusy                Status = 0x0085
	StatusTemporaryFailure    Status = 0x0086
)

// ServerStatusThreshold separates client-caused statuses (below) from
// server-side failures (at or above).
const ServerStatusThreshold Status = 0x0080

var statusReasons = map[Status]string{
	StatusNoError:             "no error",
	StatusKeyNotFound:         "key not found",
	StatusKeyExists:           "key exists",
	StatusValueTooLarge:       "value too large",
	StatusInvalidArguments:    "invalid arguments",
	StatusItemNotStored:       "item not stored",
	StatusNonNumeric:          "incr/decr on non-numeric value",
	StatusVBucketNotMine:      "the vbucket belongs to another server",
	StatusAuthError:           "authentication error",
	StatusAuthContinue:        "authentication continue",
	StatusAuthRequired:        "authentication required / not successful",
	StatusFurtherAuthRequired: "further authentication step required",
	StatusUnknownCommand:      "unknown command",
	StatusOutOfMemory:         "out of memory",
	StatusNotSupported:        "not supported",
	StatusInternalError:       "internal error",
	StatusBusy:                "busy",
	StatusTemporaryFailure:    "temporary failure",
}

// String returns the human readable reason for the status.
func (s Status) String() string {
	if reason, ok := statusReasons[s]; ok {
		return reason
	}
	return fmt.Sprintf("unknown status 0x%04x", uint16(s))
}

func (s Status) Error() string {
	return s.String()
}

// IsServerSide reports whether the status is a server-side failure.
func (s Status) IsServerSide() bool {
	return s >= ServerStatusThreshold
}
