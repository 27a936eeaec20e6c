package memstream

// Int64Pair is a signed 64-bit wire value decomposed into 32-bit halves.
// Negative values are normalized to a magnitude plus Sign = -1.
type Int64Pair struct {
	Low  uint32
	High uint32
	Sign int
}

// NewInt64Pair normalizes the raw two's-complement halves read off the wire.
// A high half at or above 0x80000000 marks a negative value.
func NewInt64Pair(low, high uint32) Int64Pair {
	pair := Int64Pair{Low: low, High: high, Sign: 1}
	if high >= 0x80000000 {
		pair.Sign = -1
		pair.Low = uint32((1<<32 - uint64(low)) & 0xffffffff)
		if low > 0 {
			pair.High = 0xffffffff - high
		} else {
			pair.High = uint32(1<<32 - uint64(high))
		}
	}
	return pair
}

func (p Int64Pair) Int64() int64 {
	magnitude := uint64(p.High)<<32 | uint64(p.Low)
	if p.Sign < 0 {
		return -int64(magnitude)
	}
	return int64(magnitude)
}

// SplitInt64 returns the two's-complement halves of v in wire order.
func SplitInt64(v int64) (low uint32, high uint32) {
	raw := uint64(v)
	return uint32(raw), uint32(raw >> 32)
}

type Uint64Pair struct {
	Low  uint32
	High uint32
}

func (p Uint64Pair) Uint64() uint64 {
	return uint64(p.High)<<32 | uint64(p.Low)
}
