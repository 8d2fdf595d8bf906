package codec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// The vendor frame resembles NMEA 0183 but carries its own field order:
//
//	*HQ,<id>,V1,HHMMSS,A,DDMM.MMMM,N|S,DDDMM.MMMM,E|W,<knots>,<crs>,DDMMYY,...#
//
// Only the fields above are decoded; the trailing status words are ignored.
const (
	nmeaFieldVendor  = 0
	nmeaFieldID      = 1
	nmeaFieldTime    = 3
	nmeaFieldLat     = 5
	nmeaFieldLatHemi = 6
	nmeaFieldLon     = 7
	nmeaFieldLonHemi = 8
	nmeaFieldSpeed   = 9
	nmeaFieldHeading = 10
	nmeaFieldDate    = 11

	nmeaMinFields = 12
)

// ErrBadNMEAFrame indicates an ASCII frame that failed field validation.
var ErrBadNMEAFrame = errors.New("malformed nmea frame")

// decodeNMEA decodes a classified "*...#" ASCII frame.
func decodeNMEA(buf []byte, receivedAt time.Time) (*PositionReport, error) {
	text := strings.TrimRight(string(buf), "\r\n \x00")
	text = strings.TrimPrefix(text, "*")
	text = strings.TrimSuffix(text, "#")

	fields := strings.Split(text, ",")
	if len(fields) < nmeaMinFields {
		return nil, fmt.Errorf("%w: %d fields", ErrBadNMEAFrame, len(fields))
	}

	deviceID := fields[nmeaFieldID]
	if deviceID == "" {
		return nil, fmt.Errorf("%w: empty device id", ErrBadNMEAFrame)
	}

	lat, err := parseNMEACoord(fields[nmeaFieldLat], fields[nmeaFieldLatHemi])
	if err != nil {
		return nil, err
	}
	lon, err := parseNMEACoord(fields[nmeaFieldLon], fields[nmeaFieldLonHemi])
	if err != nil {
		return nil, err
	}

	knots := parseNMEAFloat(fields[nmeaFieldSpeed])
	heading := parseNMEAFloat(fields[nmeaFieldHeading])

	return &PositionReport{
		DeviceID:       deviceID,
		ShortID:        shortIDOf(deviceID),
		Latitude:       lat,
		Longitude:      lon,
		SpeedKnots:     knots,
		SpeedKmh:       clampSpeedKmh(knots * knotsToKmh),
		HeadingDegrees: clampHeading(heading),
		GPSDate:        parseDateDigits(fields[nmeaFieldDate]),
		GPSTime:        parseTimeDigits(fields[nmeaFieldTime]),
		ReceivedAt:     receivedAt,
		RawHex:         text,
		Protocol:       ProtocolNMEA,
	}, nil
}

// parseNMEACoord converts a DDMM.MMMM or DDDMM.MMMM field plus its
// hemisphere letter into signed decimal degrees.
func parseNMEACoord(field, hemi string) (float64, error) {
	v, err := strconv.ParseFloat(field, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: coordinate %q", ErrBadNMEAFrame, field)
	}

	deg := float64(int(v / 100))
	min := v - deg*100
	dd := deg + min/60.0

	switch hemi {
	case "N", "E", "":
	case "S", "W":
		dd = -dd
	default:
		return 0, fmt.Errorf("%w: hemisphere %q", ErrBadNMEAFrame, hemi)
	}
	return dd, nil
}

// parseNMEAFloat parses an optional numeric field, zero when absent or junk.
func parseNMEAFloat(field string) float64 {
	if field == "" {
		return 0
	}
	v, err := strconv.ParseFloat(field, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// shortIDOf returns the RPG identity for a device id of any length.
func shortIDOf(deviceID string) string {
	if len(deviceID) <= shortIDLen {
		return deviceID
	}
	return deviceID[len(deviceID)-shortIDLen:]
}
