package pump

import (
	"time"

	"github.com/jmhodges/clock"
	"go.uber.org/zap"
)

const (
	// DefaultFIFOSize is the nominal hardware FIFO capacity of a UART.
	DefaultFIFOSize = 256
	// DefaultPollInterval is the sleep between FIFO occupancy polls.
	DefaultPollInterval = 100 * time.Microsecond
	// NoLimit disables the transfer quota.
	NoLimit int64 = -1
)

// Option configures a Pump.
type Option func(*Pump)

// WithLimit caps the total number of bytes moved by one Upload or Download.
// A negative value removes the cap.
func WithLimit(n int64) Option {
	return func(p *Pump) {
		if n < 0 {
			n = NoLimit
		}
		p.limit = n
	}
}

// WithFIFOSize sets the nominal hardware FIFO capacity. The working buffer
// is a quarter of it and upload backpressure starts above half of it.
func WithFIFOSize(n int) Option {
	return func(p *Pump) {
		if n >= 4 {
			p.fifoSize = n
		}
	}
}

// WithPollInterval sets the sleep used while the link is not ready.
func WithPollInterval(d time.Duration) Option {
	return func(p *Pump) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithClock replaces the clock used for sleeping.
func WithClock(c clock.Clock) Option {
	return func(p *Pump) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pump) {
		if l != nil {
			p.log = l
		}
	}
}

// WithMetrics records transfer statistics into m.
func WithMetrics(m *Metrics) Option {
	return func(p *Pump) {
		p.metrics = m
	}
}
