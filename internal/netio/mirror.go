package netio

import (
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Mirror sink sizing. The queue absorbs bursts while the mirror host is
// slow; workers bound the number of concurrent dials.
const (
	DefaultMirrorQueueDepth = 256
	DefaultMirrorWorkers    = 4
)

// MirrorSink copies every raw ingress buffer to a secondary TCP endpoint,
// one short-lived connection per buffer. The session read loop must never
// wait on the mirror, so writes go through a bounded queue with drop-oldest
// overflow and a small worker pool.
type MirrorSink struct {
	addr    string
	timeout time.Duration
	logger  *slog.Logger

	queue chan []byte
	wg    sync.WaitGroup

	closeOnce sync.Once

	sent    atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewMirrorSink starts the worker pool. queueDepth and workers fall back
// to the defaults when zero.
func NewMirrorSink(addr string, timeout time.Duration, queueDepth, workers int, logger *slog.Logger) *MirrorSink {
	if queueDepth <= 0 {
		queueDepth = DefaultMirrorQueueDepth
	}
	if workers <= 0 {
		workers = DefaultMirrorWorkers
	}

	m := &MirrorSink{
		addr:    addr,
		timeout: timeout,
		logger: logger.With(
			slog.String("component", "netio.mirror"),
			slog.String("remote", addr),
		),
		queue: make(chan []byte, queueDepth),
	}

	m.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go m.worker()
	}
	return m
}

// Enqueue copies buf onto the queue. When the queue is full the oldest
// pending buffer is discarded to make room; the caller never blocks.
func (m *MirrorSink) Enqueue(buf []byte) {
	b := make([]byte, len(buf))
	copy(b, buf)

	for {
		select {
		case m.queue <- b:
			return
		default:
		}
		select {
		case <-m.queue:
			m.dropped.Add(1)
		default:
		}
	}
}

// Stats returns the sent, dropped and failed counters.
func (m *MirrorSink) Stats() (sent, dropped, failed uint64) {
	return m.sent.Load(), m.dropped.Load(), m.failed.Load()
}

// Close drains the workers. Buffers still queued are written before the
// workers exit.
func (m *MirrorSink) Close() error {
	m.closeOnce.Do(func() {
		close(m.queue)
	})
	m.wg.Wait()
	return nil
}

func (m *MirrorSink) worker() {
	defer m.wg.Done()
	for buf := range m.queue {
		if err := m.writeOnce(buf); err != nil {
			m.failed.Add(1)
			m.logger.Warn("mirror write failed", slog.String("error", err.Error()))
			continue
		}
		m.sent.Add(1)
	}
}

// writeOnce opens a fresh connection, writes the exact original bytes and
// closes. The timeout covers both connect and write.
func (m *MirrorSink) writeOnce(buf []byte) error {
	conn, err := net.DialTimeout("tcp", m.addr, m.timeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(m.timeout)); err != nil {
		return err
	}
	_, err = conn.Write(buf)
	return err
}
