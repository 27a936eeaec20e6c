package message

import (
	"strings"

	"github.com/sessamekesh/kbengine-netcode-client/pkg/memstream"
)

const (
	IDLength      = 2
	LengthLength  = 2
	Length1Length = 4
	MaxSize       = 65535

	// VariableLength marks a descriptor whose body carries a length prefix.
	VariableLength int16 = -1

	// ShortLengthLimit is the largest body written with the 2 byte prefix.
	ShortLengthLimit = 254

	// LongLengthSentinel in the 2 byte prefix announces a uint32 length.
	LongLengthSentinel uint16 = 0xFFFF
)

// ArgsType mirrors the server's argument layout flag.
type ArgsType int8

const (
	ArgsVariable ArgsType = -1
	ArgsFixed    ArgsType = 0
)

// ArgType identifies how one message argument is encoded. Values are the
// server's data type ids.
type ArgType uint8

const (
	ArgUnknown ArgType = 0
	ArgString  ArgType = 1
	ArgUint8   ArgType = 2
	ArgUint16  ArgType = 3
	ArgUint32  ArgType = 4
	ArgUint64  ArgType = 5
	ArgInt8    ArgType = 6
	ArgInt16   ArgType = 7
	ArgInt32   ArgType = 8
	ArgInt64   ArgType = 9
	ArgPython  ArgType = 10
	ArgBlob    ArgType = 11
	ArgUnicode ArgType = 12
	ArgFloat   ArgType = 13
	ArgDouble  ArgType = 14
	ArgVector2 ArgType = 15
	ArgVector3 ArgType = 16
	ArgVector4 ArgType = 17

	// Client side markers for the quantized position fields.
	ArgPackXZ ArgType = 0xF0
	ArgPackY  ArgType = 0xF1
)

func (t ArgType) String() string {
	switch t {
	case ArgString:
		return "STRING"
	case ArgUint8:
		return "UINT8"
	case ArgUint16:
		return "UINT16"
	case ArgUint32:
		return "UINT32"
	case ArgUint64:
		return "UINT64"
	case ArgInt8:
		return "INT8"
	case ArgInt16:
		return "INT16"
	case ArgInt32:
		return "INT32"
	case ArgInt64:
		return "INT64"
	case ArgPython:
		return "PYTHON"
	case ArgBlob:
		return "BLOB"
	case ArgUnicode:
		return "UNICODE"
	case ArgFloat:
		return "FLOAT"
	case ArgDouble:
		return "DOUBLE"
	case ArgVector2:
		return "VECTOR2"
	case ArgVector3:
		return "VECTOR3"
	case ArgVector4:
		return "VECTOR4"
	case ArgPackXZ:
		return "PACK_XZ"
	case ArgPackY:
		return "PACK_Y"
	}
	return "UNKNOWN"
}

// Handler consumes the body of one incoming message. The stream is a view
// limited to that body.
type Handler func(body *memstream.MemoryStream) error

// Descriptor is the static metadata of one protocol message.
type Descriptor struct {
	ID       uint16
	Name     string
	Length   int16
	ArgsType ArgsType
	Args     []ArgType
	Handler  Handler
}

func (d *Descriptor) IsVariableLength() bool {
	return d.Length == VariableLength
}

// IsClientMethod reports whether the message is sent by the server to us.
func (d *Descriptor) IsClientMethod() bool {
	return strings.HasPrefix(d.Name, "Client_")
}
