// Package pump moves a byte stream between a host-side source or sink and a
// serial link, pacing itself on the link's FIFO occupancy when the link has
// no read timeout configured.
package pump

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jmhodges/clock"
	"go.uber.org/zap"
)

// Pump drives bytes between one Link and a source or sink. A Pump owns its
// link exclusively and is not safe for concurrent use.
type Pump struct {
	link     Link
	limit    int64
	fifoSize int
	interval time.Duration
	clock    clock.Clock
	log      *zap.Logger
	metrics  *Metrics
}

// New returns a Pump for link. Without options the transfer is unbounded,
// the FIFO is DefaultFIFOSize and polls sleep DefaultPollInterval.
func New(link Link, opts ...Option) *Pump {
	p := &Pump{
		link:     link,
		limit:    NoLimit,
		fifoSize: DefaultFIFOSize,
		interval: DefaultPollInterval,
		clock:    clock.New(),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Limit returns the configured quota, or NoLimit.
func (p *Pump) Limit() int64 {
	return p.limit
}

// BufferSize is the working buffer size used per read/write cycle.
func (p *Pump) BufferSize() int {
	return p.fifoSize / 4
}

// chunk caps n so the running total lands on the limit and never past it.
func (p *Pump) chunk(n int, done int64) int {
	if p.limit < 0 {
		return n
	}
	if left := p.limit - done; int64(n) > left {
		return int(left)
	}
	return n
}

func (p *Pump) reached(done int64) bool {
	return p.limit >= 0 && done >= p.limit
}

// Upload copies src into the link until src is exhausted, the limit is
// reached or an I/O error occurs. A read of zero bytes or io.EOF ends the
// upload successfully.
func (p *Pump) Upload(src io.Reader) error {
	log := p.log.With(zap.String("direction", Upload))
	buf := make([]byte, p.BufferSize())
	var sent, polls int64

	if p.reached(sent) {
		return nil
	}
	for {
		pending, err := p.link.BytesToWrite()
		if err != nil {
			return fmt.Errorf("query outbound fifo: %w", err)
		}
		if p.link.Timeout() == 0 && pending > p.fifoSize/2 {
			polls++
			p.metrics.poll(Upload)
			p.clock.Sleep(p.interval)
			continue
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			c := p.chunk(n, sent)
			if err := writeFull(p.link, buf[:c]); err != nil {
				return fmt.Errorf("write link: %w", err)
			}
			if err := p.link.Flush(); err != nil {
				return fmt.Errorf("flush link: %w", err)
			}
			sent += int64(c)
			p.metrics.chunk(Upload, c)
		}
		switch {
		case p.reached(sent):
			log.Debug("limit reached", zap.Int64("bytes", sent), zap.Int64("polls", polls))
			return nil
		case rerr == nil && n > 0:
		case rerr == nil, errors.Is(rerr, io.EOF):
			log.Debug("end of input", zap.Int64("bytes", sent), zap.Int64("polls", polls))
			return nil
		default:
			return fmt.Errorf("read source: %w", rerr)
		}
	}
}

// Download copies bytes from the link into dst until the limit is reached
// or an I/O error occurs. Without a limit it only returns on error, for
// example when the link is closed from another goroutine.
func (p *Pump) Download(dst Sink) error {
	log := p.log.With(zap.String("direction", Download))
	buf := make([]byte, p.BufferSize())
	var received, polls int64

	if p.reached(received) {
		return nil
	}
	for {
		avail, err := p.link.BytesToRead()
		if err != nil {
			return fmt.Errorf("query inbound fifo: %w", err)
		}
		if p.link.Timeout() == 0 && avail == 0 {
			polls++
			p.metrics.poll(Download)
			p.clock.Sleep(p.interval)
			continue
		}

		n, rerr := p.link.Read(buf)
		if n > 0 {
			c := p.chunk(n, received)
			if err := writeFull(dst, buf[:c]); err != nil {
				return fmt.Errorf("write sink: %w", err)
			}
			if err := dst.Flush(); err != nil {
				return fmt.Errorf("flush sink: %w", err)
			}
			received += int64(c)
			p.metrics.chunk(Download, c)
		}
		if rerr != nil {
			return fmt.Errorf("read link: %w", rerr)
		}
		if p.reached(received) {
			log.Debug("limit reached", zap.Int64("bytes", received), zap.Int64("polls", polls))
			return nil
		}
	}
}

// Transfer is a loopback self-test: it writes all of in to the link, waits
// for the bytes to come back and copies whatever the link has received to
// out. The limit and backpressure pacing do not apply.
func (p *Pump) Transfer(in io.Reader, out io.Writer) error {
	log := p.log.With(zap.String("direction", Loopback))

	sent, err := io.Copy(p.link, in)
	p.metrics.chunk(Loopback, int(sent))
	if err != nil {
		return fmt.Errorf("write link: %w", err)
	}
	if err := p.link.Flush(); err != nil {
		return fmt.Errorf("flush link: %w", err)
	}

	wait := LoopbackWait(p.link.BaudRate())
	log.Debug("waiting for loopback", zap.Int64("sent", sent), zap.Duration("wait", wait))
	p.clock.Sleep(wait)

	buf := make([]byte, p.fifoSize)
	var received int64
	for {
		avail, err := p.link.BytesToRead()
		if err != nil {
			return fmt.Errorf("query inbound fifo: %w", err)
		}
		if avail == 0 {
			break
		}
		n, err := p.link.Read(buf[:min(avail, len(buf))])
		if n > 0 {
			if err := writeFull(out, buf[:n]); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			received += int64(n)
		}
		if err != nil {
			return fmt.Errorf("read link: %w", err)
		}
		if n == 0 {
			break
		}
	}
	log.Debug("loopback complete", zap.Int64("sent", sent), zap.Int64("received", received))
	return nil
}

// LoopbackWait estimates how long a FIFO-sized block takes to travel out
// and back at baud: 1024 / (baud / 4096) milliseconds.
func LoopbackWait(baud int) time.Duration {
	div := baud / 4096
	if div <= 0 {
		div = 1
	}
	return time.Duration(1024/div) * time.Millisecond
}

func writeFull(w io.Writer, b []byte) error {
	if len(b) == 0 {
		return nil
	}
	n, err := w.Write(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return io.ErrShortWrite
	}
	return nil
}
