// Package hexcodec converts between byte strings and the lowercase,
// separator-free hex text used on the command bus.
package hexcodec

import (
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	// ErrOddLength is returned when the input has an odd number of digits.
	ErrOddLength = errors.New("hexcodec: odd length")
	// ErrTooLong is returned when the decoded input would not fit the destination.
	ErrTooLong = errors.New("hexcodec: decoded length exceeds destination")
	// ErrLength is returned by DecodeExact when the decoded length differs from the requested size.
	ErrLength = errors.New("hexcodec: wrong decoded length")
)

// Encode renders b as lowercase hex, two digits per byte.
func Encode(b []byte) string {
	return hex.EncodeToString(b)
}

// Decode decodes s into dst and returns the number of bytes written.
// dst is left untouched unless the whole input decodes and fits.
func Decode(dst []byte, s string) (int, error) {
	if len(s)%2 != 0 {
		return 0, ErrOddLength
	}
	if len(s)/2 > len(dst) {
		return 0, fmt.Errorf("%w: %d > %d", ErrTooLong, len(s)/2, len(dst))
	}
	buf, err := hex.DecodeString(s)
	if err != nil {
		return 0, fmt.Errorf("hexcodec: %w", err)
	}
	return copy(dst, buf), nil
}

// DecodeExact decodes s and requires exactly n bytes.
func DecodeExact(s string, n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := Decode(buf, s)
	if err != nil {
		return nil, err
	}
	if got != n {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrLength, got, n)
	}
	return buf, nil
}

// DecodeArray8 decodes an 8-byte identifier such as an EUI-64 or extended PAN ID.
func DecodeArray8(s string) ([8]byte, error) {
	var out [8]byte
	b, err := DecodeExact(s, len(out))
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

// DecodeArray16 decodes a 16-byte key.
func DecodeArray16(s string) ([16]byte, error) {
	var out [16]byte
	b, err := DecodeExact(s, len(out))
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}
