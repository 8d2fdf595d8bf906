package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/macadriano/TQ/internal/codec"
	"github.com/macadriano/TQ/internal/logfile"
)

// readBufSize is the per-iteration read size. Device firmware emits one
// frame per TCP segment, so every read is treated as one candidate frame.
const readBufSize = 1024

// session is one connected device. The read loop is the only writer of
// its fields; the sweeper and the operator shell read the atomics.
type session struct {
	id     uint64
	conn   net.Conn
	srv    *Server
	logger *slog.Logger
	remote string

	activityNanos atomic.Int64
	messages      atomic.Uint64
	evicted       atomic.Bool
	closeOnce     sync.Once

	mu      sync.Mutex
	shortID string
}

func newSession(id uint64, conn net.Conn, srv *Server) *session {
	sess := &session{
		id:     id,
		conn:   conn,
		srv:    srv,
		remote: conn.RemoteAddr().String(),
		logger: srv.logger.With(
			slog.Uint64("session", id),
			slog.String("remote", conn.RemoteAddr().String()),
		),
	}
	sess.touch(time.Now())
	return sess
}

// run is the session read loop. It exits on EOF, read error, idle
// timeout or shutdown, and settles the session exactly once.
func (sess *session) run(ctx context.Context) {
	defer sess.srv.unregister(sess)
	defer sess.close()

	buf := make([]byte, readBufSize)

	for {
		if ctx.Err() != nil {
			return
		}

		if err := sess.conn.SetReadDeadline(time.Now().Add(sess.srv.cfg.Listen.ReadTimeout)); err != nil {
			sess.logger.Debug("read deadline", slog.String("error", err.Error()))
			return
		}

		n, err := sess.conn.Read(buf)
		now := time.Now()

		if n > 0 {
			sess.touch(now)
			sess.messages.Add(1)
			sess.srv.totalMessages.Add(1)
			sess.handleBuffer(now, buf[:n])
		}

		if err != nil {
			sess.logReadEnd(err)
			return
		}
	}
}

// handleBuffer runs one received buffer through the pipeline. Nothing
// here may escape: a bad frame is counted and the next read proceeds.
func (sess *session) handleBuffer(now time.Time, raw []byte) {
	if sess.srv.mirror != nil {
		sess.srv.mirror.Enqueue(raw)
	}

	res := sess.srv.decoder.Decode(raw, now)

	switch res.Kind {
	case codec.KindFrame:
		sess.handleReport(res.Report, raw)

	case codec.KindRegistration:
		sess.setShortID(res.ShortID)
		sess.srv.metrics.IncFrameReceived(codec.ProtocolRegistration.String())
		sess.logger.Info("terminal registered", slog.String("short_id", res.ShortID))
		sess.daily("", "REG "+res.ShortID)

	case codec.KindIgnore:
		sess.srv.metrics.IncFrameDiscarded("ignored")
		sess.logger.Debug("buffer ignored",
			slog.String("reason", res.Reason),
			slog.Int("bytes", len(raw)),
		)

	case codec.KindError:
		sess.srv.metrics.IncFrameDiscarded("decode_error")
		sess.logger.Warn("frame decode failed", slog.String("error", res.Err.Error()))
	}
}

// handleReport filters one decoded position and forwards it upstream
// when accepted.
func (sess *session) handleReport(r *codec.PositionReport, raw []byte) {
	srv := sess.srv
	srv.metrics.IncFrameReceived(r.Protocol.String())
	sess.setShortID(r.ShortID)
	sess.logIngress(r, raw)

	verdict := srv.filter.Check(r)
	if !verdict.Accept {
		srv.metrics.IncReportRejected(verdict.Reason)
		sess.logger.Debug("report rejected",
			slog.String("device", r.DeviceID),
			slog.String("reason", verdict.Reason),
		)
		return
	}

	frame := codec.BuildRPG(r)
	if err := srv.platform.Send(frame); err != nil {
		srv.metrics.IncSinkError("platform")
	}
	srv.metrics.IncReportAccepted()
	sess.daily(logfile.TagUDP, frame)

	sess.logger.Debug("report forwarded",
		slog.String("device", r.DeviceID),
		slog.Float64("lat", r.Latitude),
		slog.Float64("lon", r.Longitude),
		slog.Float64("speed_kmh", r.SpeedKmh),
		slog.Bool("new_segment", verdict.NewSegment),
	)
}

// logIngress writes the received frame to the daily activity log in the
// operators' historic format: NMEA frames verbatim, binary frames as hex.
func (sess *session) logIngress(r *codec.PositionReport, raw []byte) {
	if r.Protocol == codec.ProtocolNMEA {
		sess.daily(logfile.TagNMEA, string(bytes.TrimSpace(raw)))
		return
	}
	sess.daily("", r.DeviceID+" "+strings.ToUpper(r.RawHex))
}

func (sess *session) daily(tag, message string) {
	if err := sess.srv.daily.Log(tag, message); err != nil {
		sess.logger.Debug("daily log write failed", slog.String("error", err.Error()))
	}
}

func (sess *session) logReadEnd(err error) {
	switch {
	case errors.Is(err, io.EOF):
		sess.logger.Info("session EOF")
	case sess.evicted.Load():
		// Sweeper closed the socket; eviction was already logged.
	case isTimeout(err):
		sess.logger.Info("session idle timeout")
	case errors.Is(err, net.ErrClosed):
		sess.logger.Debug("session socket closed")
	default:
		sess.logger.Info("session read error", slog.String("error", err.Error()))
	}
}

func (sess *session) close() {
	sess.closeOnce.Do(func() {
		if err := sess.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			sess.logger.Debug("session close", slog.String("error", err.Error()))
		}
	})
}

func (sess *session) touch(now time.Time) {
	sess.activityNanos.Store(now.UnixNano())
}

func (sess *session) lastActivity() time.Time {
	return time.Unix(0, sess.activityNanos.Load())
}

func (sess *session) setShortID(id string) {
	if id == "" {
		return
	}
	sess.mu.Lock()
	sess.shortID = id
	sess.mu.Unlock()
}

func (sess *session) cachedShortID() string {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.shortID
}
