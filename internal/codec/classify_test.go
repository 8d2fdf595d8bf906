package codec_test

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/macadriano/TQ/internal/codec"
)

// binaryFrameHex is a real position frame captured from a TQ terminal
// (device 2076668133, 2025-09-03 17:44:21 UTC).
const binaryFrameHex = "24207666813317442103092534391355060583202802002297ffffdfff00001c6a00000000000000df54000009"

// nmeaFrame is a real ASCII frame from the same fleet.
const nmeaFrame = "*HQ,2076668133,V1,224024,A,3438.2205,S,05832.7106,W,000.00,000,290825,FFFFF9FF,000,00,000000,00000#"

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex fixture: %v", err)
	}
	return b
}

func TestClassify(t *testing.T) {
	t.Parallel()

	// A registration frame carries protocol byte 01 at hex positions 6-7.
	regHex := "242076010001" + strings.Repeat("0", 48)

	tests := []struct {
		name string
		buf  []byte
		want codec.Kind
	}{
		{
			name: "binary position frame",
			buf:  mustHex(t, binaryFrameHex),
			want: codec.KindBinaryTQ,
		},
		{
			name: "ascii nmea frame",
			buf:  []byte(nmeaFrame),
			want: codec.KindNMEA,
		},
		{
			name: "nmea frame with trailing crlf",
			buf:  []byte(nmeaFrame + "\r\n"),
			want: codec.KindNMEA,
		},
		{
			name: "registration frame",
			buf:  mustHex(t, regHex),
			want: codec.KindRegistrationFrame,
		},
		{
			name: "empty buffer",
			buf:  nil,
			want: codec.KindUnknown,
		},
		{
			name: "short garbage",
			buf:  []byte("hello"),
			want: codec.KindUnknown,
		},
		{
			name: "dollar prefix but too short",
			buf:  mustHex(t, "2420766681"),
			want: codec.KindUnknown,
		},
		{
			name: "dollar prefix but oversized",
			buf:  append([]byte{0x24}, make([]byte, 150)...),
			want: codec.KindUnknown,
		},
		{
			name: "ascii frame without terminator",
			buf:  []byte("*HQ,2076668133,V1"),
			want: codec.KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := codec.Classify(tt.buf); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}
