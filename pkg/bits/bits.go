// Package bits holds the bit and byte helpers every card decoder leans on.
//
// Byte-level helpers (Bit, IsSet, GetRange, Set) number bits from 1 (LSB) to 8 (MSB),
// the way card datasheets do. Buffer-level helpers (Uint, Field) read big-endian
// values from an arbitrary byte or bit offset.
package bits

import "fmt"

// Bit returns a byte with only the n-th bit set (1 to 8).
func Bit(n uint) byte {
	if n < 1 || n > 8 {
		return 0
	}
	return 1 << (n - 1)
}

// IsSet checks if the n-th bit is set (1 to 8).
func IsSet(b byte, n uint) bool {
	return b&Bit(n) != 0
}

// GetRange extracts the value from a range of bits (e.g., bits 4 to 3).
// Example: GetRange(0b00001100, 4, 3) returns 3 (0b11)
func GetRange(b byte, high, low uint) byte {
	if high < low || high > 8 || low < 1 {
		return 0
	}

	width := high - low + 1
	mask := byte((1 << width) - 1)

	return (b >> (low - 1)) & mask
}

// Set returns b with bit n raised.
func Set(b byte, n uint) byte {
	return b | Bit(n)
}

// Uint reads n bytes (1 to 8) starting at off as a big-endian unsigned integer.
func Uint(buf []byte, off, n int) (uint64, error) {
	if n < 1 || n > 8 {
		return 0, fmt.Errorf("width %d out of range (1-8 bytes)", n)
	}
	if off < 0 || off+n > len(buf) {
		return 0, fmt.Errorf("range [%d:%d] outside buffer of %d bytes", off, off+n, len(buf))
	}

	var v uint64
	for _, b := range buf[off : off+n] {
		v = v<<8 | uint64(b)
	}
	return v, nil
}

// UintLE is Uint for little-endian fields (DESFire sizes, FeliCa codes).
func UintLE(buf []byte, off, n int) (uint64, error) {
	if n < 1 || n > 8 {
		return 0, fmt.Errorf("width %d out of range (1-8 bytes)", n)
	}
	if off < 0 || off+n > len(buf) {
		return 0, fmt.Errorf("range [%d:%d] outside buffer of %d bytes", off, off+n, len(buf))
	}

	var v uint64
	for i := off + n - 1; i >= off; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return v, nil
}

// Field reads length bits starting at bit offset start, counting from the MSB of buf[0].
// Example: Field([]byte{0x0F, 0xF0}, 4, 8) returns 0xFF.
func Field(buf []byte, start, length int) (uint64, error) {
	if length < 1 || length > 64 {
		return 0, fmt.Errorf("bit length %d out of range (1-64)", length)
	}
	if start < 0 || start+length > len(buf)*8 {
		return 0, fmt.Errorf("bit range [%d:%d] outside buffer of %d bits", start, start+length, len(buf)*8)
	}

	var v uint64
	for i := start; i < start+length; i++ {
		bit := (buf[i/8] >> (7 - uint(i%8))) & 1
		v = v<<1 | uint64(bit)
	}
	return v, nil
}

// Signed reinterprets the low width bits of v as a two's-complement value.
// Example: Signed(0xFFFFFF, 24) returns -1.
func Signed(v uint64, width uint) int64 {
	if width == 0 || width >= 64 {
		return int64(v)
	}
	v &= (1 << width) - 1
	if v&(1<<(width-1)) != 0 {
		return int64(v) - (1 << width)
	}
	return int64(v)
}

// Reverse returns a copy of buf with the byte order flipped.
func Reverse(buf []byte) []byte {
	out := make([]byte, len(buf))
	for i, b := range buf {
		out[len(buf)-1-i] = b
	}
	return out
}

// Luhn reports whether the decimal string passes the Luhn (mod 10) check.
// Strings containing anything other than ASCII digits never pass.
func Luhn(digits string) bool {
	if len(digits) < 2 {
		return false
	}
	sum, ok := luhnSum(digits, false)
	return ok && sum%10 == 0
}

// LuhnDigit computes the check digit to append to the decimal payload.
func LuhnDigit(payload string) (byte, error) {
	sum, ok := luhnSum(payload, true)
	if !ok {
		return 0, fmt.Errorf("payload %q is not decimal", payload)
	}
	return byte('0' + (10-sum%10)%10), nil
}

// luhnSum walks right to left; double selects whether the rightmost digit is doubled.
func luhnSum(digits string, double bool) (int, bool) {
	sum := 0
	for i := len(digits) - 1; i >= 0; i-- {
		c := digits[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum, true
}
