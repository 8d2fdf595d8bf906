// Package codec implements the TQ wire formats and the upstream RPG frame.
//
// Three inbound shapes are recognized from a raw TCP read:
//
//   - Binary TQ position frames: '$'-prefixed BCD frames carrying device id,
//     GPS timestamp, coordinates, speed and heading.
//   - Registration frames: binary TQ frames with protocol byte 01; they carry
//     no position, only the device identity.
//   - ASCII NMEA-like frames: vendor "*HQ,...#" text frames (not NMEA 0183
//     proper).
//
// Decoded reports are normalized into PositionReport values and re-encoded
// as RPG ASCII frames (">RGP...*CHK<", XOR checksum) for the upstream
// tracking platform.
//
// The package is a leaf: it has no knowledge of sessions, sinks or
// notification. Higher layers dispatch on DecodeResult.
package codec
