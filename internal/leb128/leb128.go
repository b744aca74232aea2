// Package leb128 implements the LEB128 variable-length integer encoding used by
// the WebAssembly binary format.
//
// Decoding is strict: an encoding longer than ceil(N/7) bytes for an N-bit
// integer is rejected, as are unused bits in the final byte that don't match
// the value (zero for unsigned, the sign bit for signed).
package leb128

import (
	"errors"
	"io"
)

const (
	continuation = 0x80
	payloadMask  = 0x7f
	signBit      = 0x40
)

var (
	errOverflow32 = errors.New("overflows a 32-bit integer")
	errOverflow33 = errors.New("overflows a 33-bit integer")
	errOverflow64 = errors.New("overflows a 64-bit integer")
)

// EncodeInt32 encodes the signed value into a buffer in LEB128 format
func EncodeInt32(value int32) []byte {
	return EncodeInt64(int64(value))
}

// EncodeInt64 encodes the signed value into a buffer in LEB128 format
func EncodeInt64(value int64) (buf []byte) {
	for {
		// Take 7 remaining low-order bits from the value into b.
		b := uint8(value & payloadMask)
		// Extract the sign bit.
		s := uint8(value & signBit)
		value >>= 7

		// The encoding unit is done when no more bits remain and the sign bit
		// agrees with the remaining value.
		if (value != -1 || s == 0) && (value != 0 || s != 0) {
			b = b | continuation
		}
		buf = append(buf, b)
		if b&continuation == 0 {
			break
		}
	}
	return buf
}

// EncodeUint32 encodes the value into a buffer in LEB128 format
func EncodeUint32(value uint32) []byte {
	return EncodeUint64(uint64(value))
}

// EncodeUint64 encodes the value into a buffer in LEB128 format
func EncodeUint64(value uint64) (buf []byte) {
	for {
		b := uint8(value & payloadMask)
		value >>= 7
		if value != 0 {
			b = b | continuation
		}
		buf = append(buf, b)
		if value == 0 {
			break
		}
	}
	return buf
}

// LoadUint32 decodes an unsigned 32-bit value from the head of buf, returning
// the number of bytes consumed.
func LoadUint32(buf []byte) (ret uint32, bytesRead uint64, err error) {
	v, n, err := loadUnsigned(buf, 32)
	return uint32(v), n, err
}

// LoadUint64 decodes an unsigned 64-bit value from the head of buf.
func LoadUint64(buf []byte) (ret uint64, bytesRead uint64, err error) {
	return loadUnsigned(buf, 64)
}

// LoadInt32 decodes a signed 32-bit value from the head of buf.
func LoadInt32(buf []byte) (ret int32, bytesRead uint64, err error) {
	v, n, err := loadSigned(buf, 32)
	return int32(v), n, err
}

// LoadInt33AsInt64 decodes a signed 33-bit value, used for block types.
func LoadInt33AsInt64(buf []byte) (ret int64, bytesRead uint64, err error) {
	return loadSigned(buf, 33)
}

// LoadInt64 decodes a signed 64-bit value from the head of buf.
func LoadInt64(buf []byte) (ret int64, bytesRead uint64, err error) {
	return loadSigned(buf, 64)
}

// DecodeUint32 is like LoadUint32, except it consumes from r.
func DecodeUint32(r io.ByteReader) (ret uint32, bytesRead uint64, err error) {
	v, n, err := decodeUnsigned(r, 32)
	return uint32(v), n, err
}

// DecodeUint64 is like LoadUint64, except it consumes from r.
func DecodeUint64(r io.ByteReader) (ret uint64, bytesRead uint64, err error) {
	return decodeUnsigned(r, 64)
}

// DecodeInt32 is like LoadInt32, except it consumes from r.
func DecodeInt32(r io.ByteReader) (ret int32, bytesRead uint64, err error) {
	v, n, err := decodeSigned(r, 32)
	return int32(v), n, err
}

// DecodeInt33AsInt64 is like LoadInt33AsInt64, except it consumes from r.
func DecodeInt33AsInt64(r io.ByteReader) (ret int64, bytesRead uint64, err error) {
	return decodeSigned(r, 33)
}

// DecodeInt64 is like LoadInt64, except it consumes from r.
func DecodeInt64(r io.ByteReader) (ret int64, bytesRead uint64, err error) {
	return decodeSigned(r, 64)
}

func maxLen(bits uint) int {
	return int((bits + 6) / 7)
}

func overflow(bits uint) error {
	switch bits {
	case 32:
		return errOverflow32
	case 33:
		return errOverflow33
	default:
		return errOverflow64
	}
}

// checkLastUnsigned returns false if the final byte of an unsigned encoding
// carries bits beyond the target width.
func checkLastUnsigned(b byte, bits, shift uint) bool {
	return b&continuation == 0 && b>>(bits-shift) == 0
}

// checkLastSigned returns false if the final byte of a signed encoding has
// unused bits which aren't copies of the sign bit.
func checkLastSigned(b byte, bits, shift uint) bool {
	if b&continuation != 0 {
		return false
	}
	used := bits - shift
	payload := b & payloadMask
	upper := payload >> used
	if (payload>>(used-1))&1 == 0 {
		return upper == 0
	}
	return upper == payloadMask>>used
}

func loadUnsigned(buf []byte, bits uint) (ret uint64, bytesRead uint64, err error) {
	limit := maxLen(bits)
	for i := 0; i < limit; i++ {
		if i >= len(buf) {
			return 0, 0, io.EOF
		}
		b := buf[i]
		shift := uint(i) * 7
		if i == limit-1 && !checkLastUnsigned(b, bits, shift) {
			return 0, 0, overflow(bits)
		}
		ret |= uint64(b&payloadMask) << shift
		if b&continuation == 0 {
			return ret, uint64(i + 1), nil
		}
	}
	return 0, 0, overflow(bits)
}

func decodeUnsigned(r io.ByteReader, bits uint) (ret uint64, bytesRead uint64, err error) {
	limit := maxLen(bits)
	for i := 0; i < limit; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, 0, io.EOF
		}
		shift := uint(i) * 7
		if i == limit-1 && !checkLastUnsigned(b, bits, shift) {
			return 0, 0, overflow(bits)
		}
		ret |= uint64(b&payloadMask) << shift
		if b&continuation == 0 {
			return ret, uint64(i + 1), nil
		}
	}
	return 0, 0, overflow(bits)
}

func loadSigned(buf []byte, bits uint) (ret int64, bytesRead uint64, err error) {
	limit := maxLen(bits)
	var shift uint
	for i := 0; i < limit; i++ {
		if i >= len(buf) {
			return 0, 0, io.EOF
		}
		b := buf[i]
		if i == limit-1 && !checkLastSigned(b, bits, shift) {
			return 0, 0, overflow(bits)
		}
		ret |= int64(b&payloadMask) << shift
		shift += 7
		if b&continuation == 0 {
			if shift < 64 && b&signBit != 0 {
				ret |= -1 << shift
			}
			return ret, uint64(i + 1), nil
		}
	}
	return 0, 0, overflow(bits)
}

func decodeSigned(r io.ByteReader, bits uint) (ret int64, bytesRead uint64, err error) {
	limit := maxLen(bits)
	var shift uint
	for i := 0; i < limit; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, 0, io.EOF
		}
		if i == limit-1 && !checkLastSigned(b, bits, shift) {
			return 0, 0, overflow(bits)
		}
		ret |= int64(b&payloadMask) << shift
		shift += 7
		if b&continuation == 0 {
			if shift < 64 && b&signBit != 0 {
				ret |= -1 << shift
			}
			return ret, uint64(i + 1), nil
		}
	}
	return 0, 0, overflow(bits)
}
