package filter_test

import (
	"testing"
	"time"

	"github.com/macadriano/TQ/internal/codec"
	"github.com/macadriano/TQ/internal/filter"
)

// report builds a fixture with a GPS timestamp derived from t.
func report(deviceID string, lat, lon float64, t time.Time) *codec.PositionReport {
	u := t.UTC()
	return &codec.PositionReport{
		DeviceID:  deviceID,
		ShortID:   deviceID[max(0, len(deviceID)-5):],
		Latitude:  lat,
		Longitude: lon,
		GPSDate:   &codec.GPSDate{Day: u.Day(), Month: int(u.Month()), Year: u.Year() - 2000},
		GPSTime:   &codec.GPSTime{Hour: u.Hour(), Minute: u.Minute(), Second: u.Second()},
		// Receipt lags the fix slightly, as on a live link.
		ReceivedAt: u.Add(2 * time.Second),
		Protocol:   codec.ProtocolBinaryTQ,
	}
}

var t0 = time.Date(2025, 9, 3, 17, 44, 21, 0, time.UTC)

func TestNoFixRejectedRegardlessOfState(t *testing.T) {
	t.Parallel()

	f := filter.New(filter.DefaultConfig())

	if v := f.Check(report("2076668133", 0, 0, t0)); v.Accept || v.Reason != filter.ReasonGPSZero {
		t.Errorf("verdict = %+v, want gps_zero rejection", v)
	}

	// Establish state, then reject (0,0) again.
	if v := f.Check(report("2076668133", -34.6, -58.4, t0)); !v.Accept {
		t.Fatalf("verdict = %+v, want accept", v)
	}
	if v := f.Check(report("2076668133", 0, 0, t0.Add(time.Minute))); v.Accept || v.Reason != filter.ReasonGPSZero {
		t.Errorf("verdict = %+v, want gps_zero rejection", v)
	}
}

func TestFirstPointStartsSegment(t *testing.T) {
	t.Parallel()

	f := filter.New(filter.DefaultConfig())
	v := f.Check(report("2076668133", -34.6, -58.4, t0))
	if !v.Accept || !v.NewSegment {
		t.Errorf("verdict = %+v, want accept with new segment", v)
	}
}

func TestClockRegressionRejected(t *testing.T) {
	t.Parallel()

	f := filter.New(filter.DefaultConfig())
	if v := f.Check(report("2076668133", -34.6, -58.4, t0)); !v.Accept {
		t.Fatalf("verdict = %+v, want accept", v)
	}

	// A replayed point from before the last accepted fix.
	v := f.Check(report("2076668133", -34.6001, -58.4001, t0.Add(-time.Hour)))
	if v.Accept || v.Reason != filter.ReasonOutOfOrder || !v.NewSegment {
		t.Errorf("verdict = %+v, want out_of_order with new segment", v)
	}

	// The replay must not have displaced the stored point.
	if v := f.Check(report("2076668133", -34.6002, -58.4002, t0.Add(time.Minute))); !v.Accept {
		t.Errorf("verdict = %+v, want accept after replay", v)
	}
}

func TestStationaryResendRejected(t *testing.T) {
	t.Parallel()

	f := filter.New(filter.DefaultConfig())
	if v := f.Check(report("2076668133", -34.6, -58.4, t0)); !v.Accept {
		t.Fatalf("verdict = %+v, want accept", v)
	}

	// Same fix resent five seconds later.
	v := f.Check(report("2076668133", -34.6, -58.4, t0.Add(5*time.Second)))
	if v.Accept || v.Reason != filter.ReasonDupeOrNoise {
		t.Errorf("verdict = %+v, want dupe_or_noise", v)
	}
	if v.NewSegment {
		t.Error("a resend must not break the segment")
	}
}

func TestTeleportRejected(t *testing.T) {
	t.Parallel()

	f := filter.New(filter.DefaultConfig())
	if v := f.Check(report("2076668133", -34.6000, -58.4000, t0)); !v.Accept {
		t.Fatalf("verdict = %+v, want accept", v)
	}

	// 1.4 km in five seconds.
	v := f.Check(report("2076668133", -34.6100, -58.4100, t0.Add(5*time.Second)))
	if v.Accept || v.Reason != filter.ReasonJumpShortDT || !v.NewSegment {
		t.Errorf("verdict = %+v, want jump_shortdt with new segment", v)
	}
}

func TestImpliedSpeedRejected(t *testing.T) {
	t.Parallel()

	f := filter.New(filter.DefaultConfig())
	if v := f.Check(report("2076668133", -34.6000, -58.4000, t0)); !v.Accept {
		t.Fatalf("verdict = %+v, want accept", v)
	}

	// Roughly 5.6 km in one minute, an implied 330 km/h.
	v := f.Check(report("2076668133", -34.6500, -58.4000, t0.Add(time.Minute)))
	if v.Accept || v.Reason != filter.ReasonJumpSpeed || !v.NewSegment {
		t.Errorf("verdict = %+v, want jump_speed with new segment", v)
	}
}

func TestSegmentLatchCarriesToNextAccept(t *testing.T) {
	t.Parallel()

	f := filter.New(filter.DefaultConfig())
	if v := f.Check(report("2076668133", -34.6000, -58.4000, t0)); !v.Accept {
		t.Fatalf("verdict = %+v, want accept", v)
	}
	if v := f.Check(report("2076668133", -34.6100, -58.4100, t0.Add(5*time.Second))); v.Accept {
		t.Fatalf("verdict = %+v, want teleport rejection", v)
	}

	// Next plausible point starts a fresh segment, and only that one.
	v := f.Check(report("2076668133", -34.6005, -58.4000, t0.Add(time.Minute)))
	if !v.Accept || !v.NewSegment {
		t.Errorf("verdict = %+v, want accept with new segment", v)
	}
	v = f.Check(report("2076668133", -34.6010, -58.4000, t0.Add(2*time.Minute)))
	if !v.Accept || v.NewSegment {
		t.Errorf("verdict = %+v, want accept in same segment", v)
	}
}

func TestPlausibleMotionAccepted(t *testing.T) {
	t.Parallel()

	f := filter.New(filter.DefaultConfig())

	// A 60 km/h drive sampled once a minute; every point passes and the
	// accepted timestamps stay non-decreasing.
	lat := -34.6000
	var prev time.Time
	for i := 0; i < 10; i++ {
		r := report("2076668133", lat, -58.4000, t0.Add(time.Duration(i)*time.Minute))
		v := f.Check(r)
		if !v.Accept {
			t.Fatalf("point %d: verdict = %+v, want accept", i, v)
		}
		inst, _ := r.GPSInstant()
		if inst.Before(prev) {
			t.Fatalf("point %d: accepted time %v before %v", i, inst, prev)
		}
		prev = inst
		lat += 0.009 // ~1 km south to north per minute
	}
}

func TestDevicesAreIndependent(t *testing.T) {
	t.Parallel()

	f := filter.New(filter.DefaultConfig())

	if v := f.Check(report("2076668133", -34.6000, -58.4000, t0)); !v.Accept {
		t.Fatalf("verdict = %+v, want accept", v)
	}

	// A second device at a far location gets first-point treatment, and
	// its stream does not disturb the first device's state.
	if v := f.Check(report("2076600042", -31.4000, -64.2000, t0.Add(time.Second))); !v.Accept || !v.NewSegment {
		t.Errorf("verdict = %+v, want first-point accept", v)
	}
	if v := f.Check(report("2076668133", -34.6005, -58.4000, t0.Add(time.Minute))); !v.Accept {
		t.Errorf("verdict = %+v, want accept", v)
	}

	if n := f.Devices(); n != 2 {
		t.Errorf("Devices() = %d, want 2", n)
	}
}

func TestReceiptTimeFallback(t *testing.T) {
	t.Parallel()

	f := filter.New(filter.DefaultConfig())

	// Frames without GPS timestamps fall back to receipt-time deltas.
	a := &codec.PositionReport{
		DeviceID: "2076668133", Latitude: -34.6000, Longitude: -58.4000,
		ReceivedAt: t0,
	}
	b := &codec.PositionReport{
		DeviceID: "2076668133", Latitude: -34.6000, Longitude: -58.4000,
		ReceivedAt: t0.Add(5 * time.Second),
	}
	if v := f.Check(a); !v.Accept {
		t.Fatalf("verdict = %+v, want accept", v)
	}
	if v := f.Check(b); v.Accept || v.Reason != filter.ReasonDupeOrNoise {
		t.Errorf("verdict = %+v, want dupe_or_noise on receipt-time delta", v)
	}
}

func TestForget(t *testing.T) {
	t.Parallel()

	f := filter.New(filter.DefaultConfig())
	if v := f.Check(report("2076668133", -34.6, -58.4, t0)); !v.Accept {
		t.Fatalf("verdict = %+v, want accept", v)
	}
	f.Forget("2076668133")

	// Even a teleport-distance point is a first point again.
	if v := f.Check(report("2076668133", -31.4, -64.2, t0.Add(time.Second))); !v.Accept || !v.NewSegment {
		t.Errorf("verdict = %+v, want first-point accept after Forget", v)
	}
}

func TestSetConfigAppliesNewThresholds(t *testing.T) {
	t.Parallel()

	f := filter.New(filter.DefaultConfig())
	if v := f.Check(report("2076668133", -34.6, -58.4, t0)); !v.Accept {
		t.Fatalf("verdict = %+v, want accept", v)
	}

	// ~3 m north, 5 s later: a resend under the default 5 m threshold.
	resend := report("2076668133", -34.6+0.000027, -58.4, t0.Add(5*time.Second))
	if v := f.Check(resend); v.Accept || v.Reason != filter.ReasonDupeOrNoise {
		t.Fatalf("verdict = %+v, want dupe_or_noise rejection", v)
	}

	// Lowering the resend threshold lets the same point through.
	f.SetConfig(filter.Config{MinMoveM: 1})
	if v := f.Check(resend); !v.Accept {
		t.Errorf("verdict after SetConfig = %+v, want accept", v)
	}
}
