package codec

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Binary TQ frame layout, as hex-character offsets into the rendered frame.
// All position fields are BCD digit runs, not binary integers:
//
//	24 DDDDDDDDDD HHMMSS DDMMYY LLMMmmmm BB OOOMMmmmm F SSS CCC ...
//	^  device id  time   date   latitude ^  longitude ^ spd crs
//	                              (DDMM.MMMM)          flags
//
// BB is a power/battery byte, F a status nibble; neither is decoded here.
const (
	tqIDStart   = 2
	tqIDEnd     = 12
	tqTimeStart = 12
	tqTimeEnd   = 18
	tqDateStart = 18
	tqDateEnd   = 24
	tqLatStart  = 24
	tqLatEnd    = 32
	tqLonStart  = 34
	tqLonEnd    = 43
	tqSpdStart  = 44
	tqSpdEnd    = 47
	tqCrsStart  = 47
	tqCrsEnd    = 50
)

// Decode errors for binary TQ frames.
var (
	// ErrFrameTooShort indicates the frame ends before the coordinate fields.
	ErrFrameTooShort = errors.New("binary frame too short")

	// ErrBadDeviceID indicates the device id field is not ten decimal digits.
	ErrBadDeviceID = errors.New("device id is not ten decimal digits")

	// ErrBadCoordinate indicates a coordinate field is not a BCD digit run.
	ErrBadCoordinate = errors.New("coordinate field is not decimal digits")
)

// shortIDLen is the tail of the device id used inside RPG frames.
const shortIDLen = 5

// knotsToKmh is the knots to km/h conversion factor.
const knotsToKmh = 1.852

// maxSpeedKmh clamps decoded speeds; the fleet never legitimately exceeds it.
const maxSpeedKmh = 250.0

// decodeBinaryTQ decodes a classified binary TQ frame from its hex
// rendering. south/west select the deployment hemisphere: this firmware
// fleet transmits latitude and longitude as unsigned magnitudes.
func decodeBinaryTQ(h string, receivedAt time.Time, south, west bool) (*PositionReport, error) {
	if len(h) < tqCrsEnd {
		return nil, fmt.Errorf("%w: %d hex chars", ErrFrameTooShort, len(h))
	}

	deviceID := h[tqIDStart:tqIDEnd]
	if !allDigits(deviceID) {
		return nil, fmt.Errorf("%w: %q", ErrBadDeviceID, deviceID)
	}

	lat, err := parseLatDigits(h[tqLatStart:tqLatEnd])
	if err != nil {
		return nil, err
	}
	lon, err := parseLonDigits(h[tqLonStart:tqLonEnd])
	if err != nil {
		return nil, err
	}
	if south {
		lat = -lat
	}
	if west {
		lon = -lon
	}

	knots, heading := extractSpeedHeading(h)
	kmh := clampSpeedKmh(knots * knotsToKmh)

	return &PositionReport{
		DeviceID:       deviceID,
		ShortID:        deviceID[len(deviceID)-shortIDLen:],
		Latitude:       lat,
		Longitude:      lon,
		SpeedKnots:     knots,
		SpeedKmh:       kmh,
		HeadingDegrees: clampHeading(heading),
		GPSDate:        parseDateDigits(h[tqDateStart:tqDateEnd]),
		GPSTime:        parseTimeDigits(h[tqTimeStart:tqTimeEnd]),
		ReceivedAt:     receivedAt,
		RawHex:         h,
		Protocol:       ProtocolBinaryTQ,
	}, nil
}

// registrationShortID extracts the session identity from a registration
// frame. Registration frames carry no position.
func registrationShortID(h string) (string, error) {
	if len(h) < tqIDEnd {
		return "", fmt.Errorf("%w: %d hex chars", ErrFrameTooShort, len(h))
	}
	deviceID := h[tqIDStart:tqIDEnd]
	if !allDigits(deviceID) {
		return "", fmt.Errorf("%w: %q", ErrBadDeviceID, deviceID)
	}
	return deviceID[len(deviceID)-shortIDLen:], nil
}

// parseLatDigits converts a DDMMmmmm digit run into decimal degrees.
func parseLatDigits(s string) (float64, error) {
	if !allDigits(s) {
		return 0, fmt.Errorf("%w: latitude %q", ErrBadCoordinate, s)
	}
	deg, _ := strconv.Atoi(s[0:2])
	min, _ := strconv.ParseFloat(s[2:4]+"."+s[4:8], 64)
	return float64(deg) + min/60.0, nil
}

// parseLonDigits converts a DDDMMmmmm digit run into decimal degrees.
func parseLonDigits(s string) (float64, error) {
	if !allDigits(s) {
		return 0, fmt.Errorf("%w: longitude %q", ErrBadCoordinate, s)
	}
	deg, _ := strconv.Atoi(s[0:3])
	min, _ := strconv.ParseFloat(s[3:5]+"."+s[5:9], 64)
	return float64(deg) + min/60.0, nil
}

// parseDateDigits parses a DDMMYY digit run. Returns nil when the field is
// absent or implausible; the report then falls back to receipt time.
func parseDateDigits(s string) *GPSDate {
	if !allDigits(s) {
		return nil
	}
	d, _ := strconv.Atoi(s[0:2])
	m, _ := strconv.Atoi(s[2:4])
	y, _ := strconv.Atoi(s[4:6])
	if d < 1 || d > 31 || m < 1 || m > 12 {
		return nil
	}
	return &GPSDate{Day: d, Month: m, Year: y}
}

// parseTimeDigits parses an HHMMSS digit run, nil when implausible.
func parseTimeDigits(s string) *GPSTime {
	if !allDigits(s) {
		return nil
	}
	h, _ := strconv.Atoi(s[0:2])
	m, _ := strconv.Atoi(s[2:4])
	sec, _ := strconv.Atoi(s[4:6])
	if h > 23 || m > 59 || sec > 59 {
		return nil
	}
	return &GPSTime{Hour: h, Minute: m, Second: sec}
}

// extractSpeedHeading reads speed (knots) and heading from their fixed
// digit fields. Frames from older firmware scramble those fields; for them
// the hex-window scan below recovers plausible values.
func extractSpeedHeading(h string) (knots, heading float64) {
	spdOK := false
	crsOK := false

	if len(h) >= tqSpdEnd && allDigits(h[tqSpdStart:tqSpdEnd]) {
		v, _ := strconv.Atoi(h[tqSpdStart:tqSpdEnd])
		if v <= 200 {
			knots = float64(v)
			spdOK = true
		}
	}
	if len(h) >= tqCrsEnd && allDigits(h[tqCrsStart:tqCrsEnd]) {
		v, _ := strconv.Atoi(h[tqCrsStart:tqCrsEnd])
		if v <= 360 {
			heading = float64(v)
			crsOK = true
		}
	}
	if spdOK && crsOK {
		return knots, heading
	}

	sk, sh := scanSpeedHeading(h)
	if !spdOK {
		knots = sk
	}
	if !crsOK {
		heading = sh
	}
	return knots, heading
}

// scanSpeedHeading is the legacy window heuristic: walk two-character hex
// windows from the coordinate block onward; the first window valued in
// [0, 200] is speed, the first in [0, 360] is heading.
func scanSpeedHeading(h string) (knots, heading float64) {
	foundSpd := false
	foundCrs := false
	for i := tqLatStart; i+2 <= len(h); i += 2 {
		v, err := strconv.ParseUint(h[i:i+2], 16, 16)
		if err != nil {
			continue
		}
		if !foundSpd && v <= 200 {
			knots = float64(v)
			foundSpd = true
			continue
		}
		if foundSpd && !foundCrs && v <= 360 {
			heading = float64(v)
			foundCrs = true
			break
		}
	}
	return knots, heading
}

func clampSpeedKmh(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > maxSpeedKmh {
		return maxSpeedKmh
	}
	return v
}

func clampHeading(v float64) float64 {
	if v < 0 || v >= 360 {
		return 0
	}
	return v
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
