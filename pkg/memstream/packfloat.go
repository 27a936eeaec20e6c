package memstream

import (
	"math"
)

// Quantized position encoding.
//
// A value is stored as |v|+2 with the exponent bits above 0x40000000 and the
// top of the mantissa kept, plus a separate sign bit. Decoding seeds a float
// with 0x40000000 (2.0), ORs the stored bits back in, subtracts 2.0 and only
// then applies the sign. The bit positions below must match the server
// encoder exactly.
const (
	packSeed = 0x40000000

	packXMask     = 0x7ff000
	packZMask     = 0x0007ff
	packXSignMask = 0x800000
	packZSignMask = 0x000800

	packXShift     = 3
	packZShift     = 15
	packXSignShift = 8
	packZSignShift = 20

	packYMask      = 0x7fff
	packYSignMask  = 0x8000
	packYShift     = 12
	packYSignShift = 16

	// Width in bits of one packed horizontal axis and of the vertical value.
	packXZBits = 11
	packYBits  = 15

	// Position of the X code inside the 24-bit horizontal payload.
	packXField = 12
)

// unpackFloat applies the seed, subtract and sign steps to already positioned
// bits.
func unpackFloat(bits uint32, sign uint32) float32 {
	v := math.Float32frombits(packSeed|bits) - 2.0
	return math.Float32frombits(math.Float32bits(v) | sign)
}

// packFloat quantizes v into the width bits of |v|+2 that start at bit shift
// of the IEEE layout, returned at bit 0, plus a sign flag. Values beyond the
// representable range clamp to the largest code.
func packFloat(v float32, shift uint, width uint) (packed uint32, negative bool) {
	maxCode := uint32(1)<<width - 1
	if math.IsNaN(float64(v)) {
		return 0, false
	}
	negative = math.Signbit(float64(v))

	abs := float32(math.Abs(float64(v))) + 2.0
	if math.IsInf(float64(abs), 0) {
		return maxCode, negative
	}

	bits := math.Float32bits(abs)
	rounded := (bits + 1<<(shift-1)) >> shift
	base := uint32(packSeed) >> shift
	if rounded < base {
		return 0, negative
	}
	code := rounded - base
	if code > maxCode {
		code = maxCode
	}
	return code, negative
}

// ReadPackXZ decodes a 3 byte horizontal pair.
func (s *MemoryStream) ReadPackXZ() (x float32, z float32, err error) {
	if err := s.checkRead("ReadPackXZ", 3); err != nil {
		return 0, 0, err
	}
	v1, _ := s.ReadUint8()
	v2, _ := s.ReadUint8()
	v3, _ := s.ReadUint8()

	var data uint32
	data |= uint32(v1) << 16
	data |= uint32(v2) << 8
	data |= uint32(v3)

	x = unpackFloat((data&packXMask)<<packXShift, (data&packXSignMask)<<packXSignShift)
	z = unpackFloat((data&packZMask)<<packZShift, (data&packZSignMask)<<packZSignShift)
	return x, z, nil
}

// ReadPackY decodes a 2 byte vertical value.
func (s *MemoryStream) ReadPackY() (float32, error) {
	data, err := s.ReadUint16()
	if err != nil {
		return 0, err
	}
	d := uint32(data)
	return unpackFloat((d&packYMask)<<packYShift, (d&packYSignMask)<<packYSignShift), nil
}

// EncodePackXZ returns the 24-bit payload for a horizontal pair.
func EncodePackXZ(x float32, z float32) uint32 {
	var data uint32

	xCode, xNeg := packFloat(x, packZShift, packXZBits)
	data |= (xCode << packXField) & packXMask
	if xNeg {
		data |= packXSignMask
	}

	zCode, zNeg := packFloat(z, packZShift, packXZBits)
	data |= zCode & packZMask
	if zNeg {
		data |= packZSignMask
	}
	return data
}

// EncodePackY returns the 16-bit payload for a vertical value.
func EncodePackY(y float32) uint16 {
	code, neg := packFloat(y, packYShift, packYBits)
	data := code & packYMask
	if neg {
		data |= packYSignMask
	}
	return uint16(data)
}

func (s *MemoryStream) WritePackXZ(x float32, z float32) error {
	if err := s.reserve("WritePackXZ", 3); err != nil {
		return err
	}
	data := EncodePackXZ(x, z)
	s.WriteUint8(uint8(data >> 16))
	s.WriteUint8(uint8(data >> 8))
	s.WriteUint8(uint8(data))
	return nil
}

func (s *MemoryStream) WritePackY(y float32) error {
	return s.WriteUint16(EncodePackY(y))
}
