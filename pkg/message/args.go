package message

import (
	"github.com/sessamekesh/kbengine-netcode-client/pkg/errors"
	"github.com/sessamekesh/kbengine-netcode-client/pkg/memstream"
)

type Vector2 struct{ X, Y float32 }
type Vector3 struct{ X, Y, Z float32 }
type Vector4 struct{ X, Y, Z, W float32 }

// EncodeArgs writes values in the layout declared by desc.Args. A descriptor
// without a declared layout accepts any values whose type can be inferred.
func EncodeArgs(s *memstream.MemoryStream, desc *Descriptor, values ...any) error {
	if len(desc.Args) == 0 {
		for i, v := range values {
			if err := EncodeArg(s, inferArgType(v), v); err != nil {
				return annotateArg(err, desc.Name, i)
			}
		}
		return nil
	}

	if len(values) != len(desc.Args) {
		return &errors.ArgumentCount{
			MessageName: desc.Name,
			Expected:    len(desc.Args),
			Provided:    len(values),
		}
	}

	for i, t := range desc.Args {
		if err := EncodeArg(s, t, values[i]); err != nil {
			return annotateArg(err, desc.Name, i)
		}
	}
	return nil
}

func annotateArg(err error, name string, index int) error {
	if mismatch, ok := err.(*errors.ArgumentMismatch); ok {
		mismatch.MessageName = name
		mismatch.Index = index
	}
	return err
}

func inferArgType(v any) ArgType {
	switch v.(type) {
	case string:
		return ArgString
	case []byte:
		return ArgBlob
	case uint8:
		return ArgUint8
	case uint16:
		return ArgUint16
	case uint32:
		return ArgUint32
	case uint64:
		return ArgUint64
	case int8:
		return ArgInt8
	case int16:
		return ArgInt16
	case int32:
		return ArgInt32
	case int64:
		return ArgInt64
	case float32:
		return ArgFloat
	case float64:
		return ArgDouble
	case Vector2:
		return ArgVector2
	case Vector3:
		return ArgVector3
	case Vector4:
		return ArgVector4
	}
	return ArgUnknown
}

// EncodeArg writes one value as t.
func EncodeArg(s *memstream.MemoryStream, t ArgType, v any) error {
	mismatch := &errors.ArgumentMismatch{Expected: t.String()}

	switch t {
	case ArgString:
		str, ok := v.(string)
		if !ok {
			return mismatch
		}
		return s.WriteString(str)
	case ArgUnicode:
		str, ok := v.(string)
		if !ok {
			return mismatch
		}
		return s.WriteBlob([]byte(str))
	case ArgBlob, ArgPython:
		switch b := v.(type) {
		case []byte:
			return s.WriteBlob(b)
		case string:
			return s.WriteBlob([]byte(b))
		}
		return mismatch
	case ArgUint8:
		n, ok := v.(uint8)
		if !ok {
			return mismatch
		}
		return s.WriteUint8(n)
	case ArgUint16:
		n, ok := v.(uint16)
		if !ok {
			return mismatch
		}
		return s.WriteUint16(n)
	case ArgUint32:
		n, ok := v.(uint32)
		if !ok {
			return mismatch
		}
		return s.WriteUint32(n)
	case ArgUint64:
		n, ok := v.(uint64)
		if !ok {
			return mismatch
		}
		return s.WriteUint64(n)
	case ArgInt8:
		n, ok := v.(int8)
		if !ok {
			return mismatch
		}
		return s.WriteInt8(n)
	case ArgInt16:
		n, ok := v.(int16)
		if !ok {
			return mismatch
		}
		return s.WriteInt16(n)
	case ArgInt32:
		n, ok := v.(int32)
		if !ok {
			return mismatch
		}
		return s.WriteInt32(n)
	case ArgInt64:
		n, ok := v.(int64)
		if !ok {
			return mismatch
		}
		return s.WriteInt64(n)
	case ArgFloat:
		f, ok := v.(float32)
		if !ok {
			return mismatch
		}
		return s.WriteFloat(f)
	case ArgDouble:
		f, ok := v.(float64)
		if !ok {
			return mismatch
		}
		return s.WriteDouble(f)
	case ArgVector2:
		vec, ok := v.(Vector2)
		if !ok {
			return mismatch
		}
		return writeFloats(s, vec.X, vec.Y)
	case ArgVector3:
		vec, ok := v.(Vector3)
		if !ok {
			return mismatch
		}
		return writeFloats(s, vec.X, vec.Y, vec.Z)
	case ArgVector4:
		vec, ok := v.(Vector4)
		if !ok {
			return mismatch
		}
		return writeFloats(s, vec.X, vec.Y, vec.Z, vec.W)
	case ArgPackXZ:
		vec, ok := v.(Vector2)
		if !ok {
			return mismatch
		}
		return s.WritePackXZ(vec.X, vec.Y)
	case ArgPackY:
		f, ok := v.(float32)
		if !ok {
			return mismatch
		}
		return s.WritePackY(f)
	}

	return &errors.InvalidEnumValue{EnumName: "ArgType", IntValue: uint8(t)}
}

// writeFloats writes all components or none of them.
func writeFloats(s *memstream.MemoryStream, components ...float32) error {
	start := s.WritePos()
	for _, c := range components {
		if err := s.WriteFloat(c); err != nil {
			s.Truncate(start)
			return err
		}
	}
	return nil
}

// DecodeArg reads one value of type t. The Go type of the result matches the
// one EncodeArg expects for t.
func DecodeArg(s *memstream.MemoryStream, t ArgType) (any, error) {
	switch t {
	case ArgString:
		return s.ReadString()
	case ArgUnicode:
		b, err := s.ReadBlob()
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case ArgBlob, ArgPython:
		b, err := s.ReadBlob()
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), b...), nil
	case ArgUint8:
		return s.ReadUint8()
	case ArgUint16:
		return s.ReadUint16()
	case ArgUint32:
		return s.ReadUint32()
	case ArgUint64:
		return s.ReadUint64()
	case ArgInt8:
		return s.ReadInt8()
	case ArgInt16:
		return s.ReadInt16()
	case ArgInt32:
		return s.ReadInt32()
	case ArgInt64:
		return s.ReadInt64()
	case ArgFloat:
		return s.ReadFloat()
	case ArgDouble:
		return s.ReadDouble()
	case ArgVector2:
		f, err := readFloats(s, 2)
		if err != nil {
			return nil, err
		}
		return Vector2{f[0], f[1]}, nil
	case ArgVector3:
		f, err := readFloats(s, 3)
		if err != nil {
			return nil, err
		}
		return Vector3{f[0], f[1], f[2]}, nil
	case ArgVector4:
		f, err := readFloats(s, 4)
		if err != nil {
			return nil, err
		}
		return Vector4{f[0], f[1], f[2], f[3]}, nil
	case ArgPackXZ:
		x, z, err := s.ReadPackXZ()
		if err != nil {
			return nil, err
		}
		return Vector2{x, z}, nil
	case ArgPackY:
		return s.ReadPackY()
	}

	return nil, &errors.InvalidEnumValue{EnumName: "ArgType", IntValue: uint8(t)}
}

func readFloats(s *memstream.MemoryStream, n int) ([]float32, error) {
	start := s.ReadPos()
	out := make([]float32, n)
	for i := range out {
		f, err := s.ReadFloat()
		if err != nil {
			s.Rewind(start)
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

// DecodeArgs reads every argument declared by desc.
func DecodeArgs(s *memstream.MemoryStream, desc *Descriptor) ([]any, error) {
	out := make([]any, 0, len(desc.Args))
	for _, t := range desc.Args {
		v, err := DecodeArg(s, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
