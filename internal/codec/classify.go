package codec

import (
	"bytes"
	"encoding/hex"
)

// Kind classifies a raw ingress buffer by content. Frames are not
// length-prefixed; each TCP read is treated as one candidate frame.
type Kind uint8

const (
	// KindUnknown means the buffer matched no recognized wire shape.
	KindUnknown Kind = iota

	// KindNMEA is an ASCII "*...#" frame.
	KindNMEA

	// KindBinaryTQ is a '$'-prefixed binary position frame.
	KindBinaryTQ

	// KindRegistrationFrame is a binary TQ frame with protocol byte 01.
	KindRegistrationFrame
)

// Binary TQ frames render to between 60 and 200 hex characters. Anything
// outside that window is firmware noise or a partial read.
const (
	minTQHexLen = 60
	maxTQHexLen = 200
)

// tqProtocolRegistration is the protocol byte marking a registration frame,
// as rendered at hex positions 6-7.
const tqProtocolRegistration = "01"

// Classify inspects a received buffer and reports its wire shape.
//
// ASCII NMEA-like frames decode as ASCII, begin with '*' and end with '#'
// (trailing CR/LF tolerated). Binary TQ frames begin with 0x24 ('$'),
// render to 60-200 hex characters, and when decoded do not look like an
// NMEA frame (no leading '*', no commas). Registration frames are binary
// TQ frames whose protocol byte is 01.
func Classify(buf []byte) Kind {
	if len(buf) == 0 {
		return KindUnknown
	}

	if isNMEA(buf) {
		return KindNMEA
	}

	h := hex.EncodeToString(buf)
	if !isBinaryTQHex(h, buf) {
		return KindUnknown
	}

	if len(h) >= 8 && h[6:8] == tqProtocolRegistration {
		return KindRegistrationFrame
	}
	return KindBinaryTQ
}

// isNMEA reports whether the buffer is an ASCII "*...#" frame.
func isNMEA(buf []byte) bool {
	trimmed := bytes.TrimRight(buf, "\r\n \x00")
	if len(trimmed) < 2 {
		return false
	}
	if trimmed[0] != '*' || trimmed[len(trimmed)-1] != '#' {
		return false
	}
	for _, b := range trimmed {
		if b < 0x20 || b > 0x7e {
			return false
		}
	}
	return true
}

// isBinaryTQHex applies the binary TQ acceptance predicates to the hex
// rendering of the buffer.
func isBinaryTQHex(h string, raw []byte) bool {
	if len(h) < minTQHexLen || len(h) > maxTQHexLen {
		return false
	}
	if h[0:2] != "24" { // '$'
		return false
	}
	// An NMEA frame read as binary would start with '*' or carry commas.
	if raw[0] == '*' || bytes.ContainsRune(raw, ',') {
		return false
	}
	return true
}
