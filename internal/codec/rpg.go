package codec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// RPG framing constants. The fixed tail words are part of the platform's
// historic protocol and never vary.
const (
	rpgPrefix  = ">RGP"
	rpgTrailer = "000001;&01;ID="
	rpgSeq     = ";#0001"
)

// ErrBadRPGFrame indicates a frame that does not follow the RPG grammar.
var ErrBadRPGFrame = errors.New("malformed rpg frame")

// BuildRPG renders a report as one RPG ASCII frame:
//
//	>RGP DDMMYY HHMMSS LAT LON SPD CRS S 000001;&01;ID=<short>;#0001*CHK<
//
// The GPS timestamp is emitted verbatim in UTC; when the frame carried no
// timestamp the receipt instant is used instead.
func BuildRPG(r *PositionReport) string {
	date, tm := rpgTimestamp(r)

	status := "0"
	if r.HasFix() {
		status = "1"
	}

	var b strings.Builder
	b.Grow(80)
	b.WriteString(rpgPrefix)
	b.WriteString(date)
	b.WriteString(tm)
	b.WriteString(formatCoord(r.Latitude, 2))
	b.WriteString(formatCoord(r.Longitude, 3))
	fmt.Fprintf(&b, "%03d%03d", int(r.SpeedKmh+0.5), int(r.HeadingDegrees+0.5)%360)
	b.WriteString(status)
	b.WriteString(rpgTrailer)
	b.WriteString(r.ShortID)
	b.WriteString(rpgSeq)
	b.WriteByte('*')

	sum := xorFold(b.String())
	fmt.Fprintf(&b, "%02X", sum)
	b.WriteByte('<')
	return b.String()
}

// rpgTimestamp returns the DDMMYY and HHMMSS words for a report.
func rpgTimestamp(r *PositionReport) (date, tm string) {
	if r.GPSDate != nil && r.GPSTime != nil {
		return r.GPSDate.String(), r.GPSTime.String()
	}
	u := r.ReceivedAt.UTC()
	return u.Format("020106"), u.Format("150405")
}

// formatCoord renders signed decimal degrees as [-]D..DMM.MMMM with the
// degree part zero-padded to degDigits.
func formatCoord(dd float64, degDigits int) string {
	sign := ""
	if dd < 0 {
		sign = "-"
		dd = -dd
	}
	deg := int(dd)
	min := (dd - float64(deg)) * 60.0
	m := fmt.Sprintf("%07.4f", min)
	if strings.HasPrefix(m, "60") {
		deg++
		m = "00.0000"
	}
	return fmt.Sprintf("%s%0*d%s", sign, degDigits, deg, m)
}

// Checksum computes the two-digit XOR checksum of an RPG frame body. The
// input runs from the leading '>' through the '*' inclusive; pass either a
// complete frame or the body alone and the '*' is located from the right.
func Checksum(frame string) (string, error) {
	i := strings.LastIndexByte(frame, '*')
	if i < 0 {
		return "", fmt.Errorf("%w: no checksum delimiter", ErrBadRPGFrame)
	}
	return fmt.Sprintf("%02X", xorFold(frame[:i+1])), nil
}

// xorFold XORs every byte of s into an 8-bit accumulator.
func xorFold(s string) byte {
	var sum byte
	for i := 0; i < len(s); i++ {
		sum ^= s[i]
	}
	return sum
}

// RPGFrame is the parsed form of an RPG frame, used by the interactive
// shell and by round-trip verification.
type RPGFrame struct {
	Date      string // DDMMYY
	Time      string // HHMMSS
	Latitude  float64
	Longitude float64
	SpeedKmh  int
	Heading   int
	HasFix    bool
	ShortID   string
	Checksum  string
}

// ParseRPG parses a complete RPG frame and verifies its checksum.
func ParseRPG(frame string) (*RPGFrame, error) {
	if !strings.HasPrefix(frame, rpgPrefix) || !strings.HasSuffix(frame, "<") {
		return nil, fmt.Errorf("%w: bad framing", ErrBadRPGFrame)
	}
	star := strings.LastIndexByte(frame, '*')
	if star < 0 || len(frame) != star+4 {
		return nil, fmt.Errorf("%w: bad checksum framing", ErrBadRPGFrame)
	}
	want := fmt.Sprintf("%02X", xorFold(frame[:star+1]))
	got := frame[star+1 : star+3]
	if got != want {
		return nil, fmt.Errorf("%w: checksum %s, computed %s", ErrBadRPGFrame, got, want)
	}

	body := frame[len(rpgPrefix):star]
	if len(body) < 12 {
		return nil, fmt.Errorf("%w: truncated body", ErrBadRPGFrame)
	}
	f := &RPGFrame{
		Date:     body[0:6],
		Time:     body[6:12],
		Checksum: got,
	}
	rest := body[12:]

	var err error
	f.Latitude, rest, err = parseRPGCoord(rest, 2)
	if err != nil {
		return nil, err
	}
	f.Longitude, rest, err = parseRPGCoord(rest, 3)
	if err != nil {
		return nil, err
	}

	if len(rest) < 7 {
		return nil, fmt.Errorf("%w: truncated tail", ErrBadRPGFrame)
	}
	spd, err1 := strconv.Atoi(rest[0:3])
	crs, err2 := strconv.Atoi(rest[3:6])
	if err1 != nil || err2 != nil {
		return nil, fmt.Errorf("%w: bad speed/heading", ErrBadRPGFrame)
	}
	f.SpeedKmh, f.Heading = spd, crs
	f.HasFix = rest[6] == '1'
	rest = rest[7:]

	if !strings.HasPrefix(rest, rpgTrailer) {
		return nil, fmt.Errorf("%w: bad trailer", ErrBadRPGFrame)
	}
	rest = rest[len(rpgTrailer):]
	semi := strings.IndexByte(rest, ';')
	if semi < 0 || rest[semi:] != rpgSeq {
		return nil, fmt.Errorf("%w: bad id tail", ErrBadRPGFrame)
	}
	f.ShortID = rest[:semi]
	return f, nil
}

// parseRPGCoord consumes one [-]D..DMM.MMMM coordinate from the head of s.
func parseRPGCoord(s string, degDigits int) (float64, string, error) {
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	width := degDigits + 7 // MM.MMMM
	if len(s) < width {
		return 0, "", fmt.Errorf("%w: truncated coordinate", ErrBadRPGFrame)
	}
	deg, err1 := strconv.Atoi(s[:degDigits])
	min, err2 := strconv.ParseFloat(s[degDigits:width], 64)
	if err1 != nil || err2 != nil {
		return 0, "", fmt.Errorf("%w: bad coordinate %q", ErrBadRPGFrame, s[:width])
	}
	dd := float64(deg) + min/60.0
	if neg {
		dd = -dd
	}
	return dd, s[width:], nil
}
