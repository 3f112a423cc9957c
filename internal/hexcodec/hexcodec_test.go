package hexcodec

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeLowercase(t *testing.T) {
	got := Encode([]byte{0xDE, 0xAD, 0x00, 0x0F})
	if got != "dead000f" {
		t.Errorf("Encode = %q, want %q", got, "dead000f")
	}
}

func TestRoundTrip(t *testing.T) {
	for n := 0; n <= 32; n++ {
		b := make([]byte, n)
		for i := range b {
			b[i] = byte(i*37 + n)
		}
		dst := make([]byte, 32)
		got, err := Decode(dst, Encode(b))
		if err != nil {
			t.Fatalf("len %d: %v", n, err)
		}
		if !bytes.Equal(dst[:got], b) {
			t.Errorf("len %d: got %x, want %x", n, dst[:got], b)
		}
	}
}

func TestDecodeFailuresLeaveDestination(t *testing.T) {
	tests := []struct {
		name  string
		input string
		size  int
		want  error
	}{
		{"odd length", "abc", 8, ErrOddLength},
		{"too long", "001122334455667788", 8, ErrTooLong},
		{"invalid digit", "zz00", 8, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := bytes.Repeat([]byte{0xAA}, tt.size)
			n, err := Decode(dst, tt.input)
			if err == nil {
				t.Fatalf("Decode(%q) succeeded", tt.input)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if n != 0 {
				t.Errorf("n = %d, want 0", n)
			}
			if !bytes.Equal(dst, bytes.Repeat([]byte{0xAA}, tt.size)) {
				t.Errorf("destination modified: %x", dst)
			}
		})
	}
}

func TestDecodeExact(t *testing.T) {
	if _, err := DecodeExact("0011", 4); !errors.Is(err, ErrLength) {
		t.Errorf("short input: err = %v, want ErrLength", err)
	}
	b, err := DecodeExact("00112233", 4)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b, []byte{0x00, 0x11, 0x22, 0x33}) {
		t.Errorf("got %x", b)
	}
}

func TestDecodeArrays(t *testing.T) {
	eui, err := DecodeArray8("0011223344556677")
	if err != nil {
		t.Fatal(err)
	}
	if eui != [8]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77} {
		t.Errorf("eui = %x", eui)
	}
	if _, err := DecodeArray16("00112233445566778899aabbccddeeff00"); err == nil {
		t.Error("17-byte key accepted")
	}
	key, err := DecodeArray16("00112233445566778899AABBCCDDEEFF")
	if err != nil {
		t.Fatal(err)
	}
	if Encode(key[:]) != "00112233445566778899aabbccddeeff" {
		t.Errorf("key = %x", key)
	}
}
