package codec

import (
	"fmt"
	"time"
)

// Protocol identifies the wire shape a report was decoded from.
type Protocol uint8

const (
	// ProtocolUnknown is the zero value; no report carries it.
	ProtocolUnknown Protocol = iota

	// ProtocolBinaryTQ is the '$'-prefixed binary BCD position frame.
	ProtocolBinaryTQ

	// ProtocolNMEA is the vendor "*HQ,...#" ASCII frame.
	ProtocolNMEA

	// ProtocolRegistration is the binary TQ registration frame (protocol
	// byte 01). It carries identity only, never a position.
	ProtocolRegistration
)

// String returns the wire tag used in logs and daily log files.
func (p Protocol) String() string {
	switch p {
	case ProtocolBinaryTQ:
		return "binary-tq"
	case ProtocolNMEA:
		return "nmea"
	case ProtocolRegistration:
		return "registration"
	default:
		return "unknown"
	}
}

// GPSDate is a day/month/year-of-century date as carried on the wire.
// The century is fixed at 2000.
type GPSDate struct {
	Day   int
	Month int
	Year  int // 0-99
}

// String renders the date in RPG wire order (DDMMYY).
func (d GPSDate) String() string {
	return fmt.Sprintf("%02d%02d%02d", d.Day, d.Month, d.Year)
}

// GPSTime is a wall-clock time of day as carried on the wire.
type GPSTime struct {
	Hour   int
	Minute int
	Second int
}

// String renders the time in RPG wire order (HHMMSS).
func (t GPSTime) String() string {
	return fmt.Sprintf("%02d%02d%02d", t.Hour, t.Minute, t.Second)
}

// PositionReport is the normalized form of one decoded position frame.
// It is immutable once produced by the decoder; the filter and the RPG
// encoder only read it.
type PositionReport struct {
	// DeviceID is the 10-digit decimal terminal identity from the frame.
	DeviceID string

	// ShortID is the last five digits of DeviceID, used inside RPG frames.
	ShortID string

	// Latitude and Longitude are signed decimal degrees. (0,0) is the
	// no-fix sentinel and is rejected downstream, never emitted upstream.
	Latitude  float64
	Longitude float64

	// SpeedKnots is the speed as reported by the device.
	SpeedKnots float64

	// SpeedKmh is SpeedKnots converted to km/h, clamped to [0, 250].
	SpeedKmh float64

	// HeadingDegrees is the course over ground in [0, 360).
	HeadingDegrees float64

	// GPSDate and GPSTime are the timestamp captured from the frame.
	// Nil when the frame did not carry one.
	GPSDate *GPSDate
	GPSTime *GPSTime

	// ReceivedAt is the wall-clock instant the buffer arrived.
	ReceivedAt time.Time

	// RawHex is the hex rendering of the original frame, retained for the
	// mirror sink and the daily logs.
	RawHex string

	// Protocol tags the wire shape the report was decoded from.
	Protocol Protocol
}

// HasFix reports whether the coordinates are a real GPS fix. A report at
// (0,0) within 1e-6 degrees means the device has no lock.
func (r *PositionReport) HasFix() bool {
	return !(abs(r.Latitude) < coordEpsilon && abs(r.Longitude) < coordEpsilon)
}

// GPSInstant combines GPSDate and GPSTime into a UTC instant. The second
// return value is false when either component is missing; callers fall back
// to ReceivedAt.
func (r *PositionReport) GPSInstant() (time.Time, bool) {
	if r.GPSDate == nil || r.GPSTime == nil {
		return time.Time{}, false
	}
	return time.Date(
		2000+r.GPSDate.Year, time.Month(r.GPSDate.Month), r.GPSDate.Day,
		r.GPSTime.Hour, r.GPSTime.Minute, r.GPSTime.Second,
		0, time.UTC,
	), true
}

// coordEpsilon bounds the (0,0) no-fix sentinel comparison.
const coordEpsilon = 1e-6

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// ResultKind discriminates DecodeResult variants.
type ResultKind uint8

const (
	// KindFrame means a PositionReport was decoded.
	KindFrame ResultKind = iota + 1

	// KindRegistration means a registration frame updated the session
	// identity without carrying a position.
	KindRegistration

	// KindIgnore means the buffer matched no known wire shape and was
	// dropped with a diagnostic reason.
	KindIgnore

	// KindError means the buffer classified as a known shape but failed
	// to decode.
	KindError
)

// DecodeResult is the outcome of classifying and decoding one buffer.
// Exactly one of Report, ShortID, Reason, Err is meaningful, selected by
// Kind. The session loop dispatches on the variant.
type DecodeResult struct {
	Kind    ResultKind
	Report  *PositionReport
	ShortID string
	Reason  string
	Err     error
}

func frameResult(r *PositionReport) DecodeResult {
	return DecodeResult{Kind: KindFrame, Report: r}
}

func registrationResult(shortID string) DecodeResult {
	return DecodeResult{Kind: KindRegistration, ShortID: shortID}
}

func ignoreResult(reason string) DecodeResult {
	return DecodeResult{Kind: KindIgnore, Reason: reason}
}

func errorResult(err error) DecodeResult {
	return DecodeResult{Kind: KindError, Err: err}
}
