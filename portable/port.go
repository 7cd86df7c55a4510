// Package portable adapts github.com/tarm/serial to the pump link
// interface. tarm/serial works on every platform it supports but cannot
// report FIFO occupancy, so the adapter reports an always-writable outbound
// queue and an always-readable inbound queue and lets the driver's blocking
// read and write pace the transfer.
package portable

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/tarm/serial"

	root "github.com/luhtfiimanal/serialpump"
)

// ErrUnsupportedFlow is returned when flow control is requested; tarm/serial
// always opens ports without it.
var ErrUnsupportedFlow = errors.New("flow control not supported by the portable driver")

// idleReadTimeout bounds driver reads when no timeout is configured, so a
// Read on a silent port returns (0, nil) instead of blocking until Close.
const idleReadTimeout = 100 * time.Millisecond

// Port is a tarm/serial port.
type Port struct {
	port   *serial.Port
	config root.Config
	closed atomic.Bool
}

// Open opens cfg.Device through tarm/serial.
func Open(cfg root.Config) (*Port, error) {
	c, err := tarmConfig(cfg)
	if err != nil {
		return nil, err
	}
	p, err := serial.OpenPort(c)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Device, err)
	}
	return &Port{port: p, config: cfg}, nil
}

func tarmConfig(cfg root.Config) (*serial.Config, error) {
	c := &serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.BaudRate,
		ReadTimeout: idleReadTimeout,
		Size:        serial.DefaultSize,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	}
	switch cfg.DataBits {
	case 0:
	case 5, 6, 7, 8:
		c.Size = byte(cfg.DataBits)
	default:
		return nil, fmt.Errorf("%w: %d", root.ErrBadDataBits, cfg.DataBits)
	}
	switch cfg.Parity {
	case root.ParityNone:
	case root.ParityOdd:
		c.Parity = serial.ParityOdd
	case root.ParityEven:
		c.Parity = serial.ParityEven
	default:
		return nil, fmt.Errorf("%w: %v", root.ErrBadParity, cfg.Parity)
	}
	switch cfg.StopBits {
	case 0, root.StopBits1:
	case root.StopBits2:
		c.StopBits = serial.Stop2
	default:
		return nil, fmt.Errorf("%w: %d", root.ErrBadStopBits, cfg.StopBits)
	}
	if cfg.ReadTimeout > 0 {
		c.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.FlowControl != root.FlowNone {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFlow, cfg.FlowControl)
	}
	return c, nil
}

// Read reads from the port. An expired read timeout returns 0, nil.
func (p *Port) Read(b []byte) (int, error) {
	n, err := p.port.Read(b)
	if err != nil && p.closed.Load() {
		return n, root.ErrClosed
	}
	if n == 0 && errors.Is(err, io.EOF) {
		// tarm/serial reports VTIME expiry as a zero-length read.
		return 0, nil
	}
	return n, err
}

func (p *Port) Write(b []byte) (int, error) {
	n, err := p.port.Write(b)
	if err != nil && p.closed.Load() {
		return n, root.ErrClosed
	}
	return n, err
}

// Flush is a no-op: writes go straight to the device, and tarm's own
// Flush discards queued data instead of draining it.
func (p *Port) Flush() error {
	return nil
}

// BytesToRead cannot be measured through tarm/serial and always reports a
// pending byte so callers fall through to Read.
func (p *Port) BytesToRead() (int, error) {
	if p.closed.Load() {
		return 0, root.ErrClosed
	}
	return 1, nil
}

// BytesToWrite always reports an empty outbound queue.
func (p *Port) BytesToWrite() (int, error) {
	if p.closed.Load() {
		return 0, root.ErrClosed
	}
	return 0, nil
}

func (p *Port) Timeout() time.Duration {
	return p.config.ReadTimeout
}

func (p *Port) BaudRate() int {
	return p.config.BaudRate
}

func (p *Port) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.port.Close()
}
