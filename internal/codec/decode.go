package codec

import (
	"encoding/hex"
	"time"
)

// Decoder turns raw ingress buffers into DecodeResults. The zero value
// decodes northern/eastern magnitudes; deployments in other hemispheres set
// the flags, since binary frames carry no hemisphere of their own.
type Decoder struct {
	// South negates binary-frame latitudes.
	South bool

	// West negates binary-frame longitudes.
	West bool
}

// Decode classifies buf and decodes it. Never panics; unknown shapes come
// back as KindIgnore with a diagnostic reason, known shapes that fail field
// validation as KindError.
func (d *Decoder) Decode(buf []byte, receivedAt time.Time) DecodeResult {
	switch Classify(buf) {
	case KindNMEA:
		r, err := decodeNMEA(buf, receivedAt)
		if err != nil {
			return errorResult(err)
		}
		return frameResult(r)

	case KindBinaryTQ:
		r, err := decodeBinaryTQ(hex.EncodeToString(buf), receivedAt, d.South, d.West)
		if err != nil {
			return errorResult(err)
		}
		return frameResult(r)

	case KindRegistrationFrame:
		shortID, err := registrationShortID(hex.EncodeToString(buf))
		if err != nil {
			return errorResult(err)
		}
		return registrationResult(shortID)

	default:
		return ignoreResult("unrecognized frame shape")
	}
}
