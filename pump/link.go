package pump

import (
	"io"
	"time"
)

// Link is an open, configured serial device.
//
// A Read that hits the configured timeout returns 0, nil.
type Link interface {
	io.Reader
	io.Writer

	// Flush pushes written bytes out of any host-side buffer.
	Flush() error
	// BytesToRead reports received bytes waiting in the inbound FIFO.
	BytesToRead() (int, error)
	// BytesToWrite reports bytes still queued in the outbound FIFO.
	BytesToWrite() (int, error)
	// Timeout is the configured read timeout; zero means none.
	Timeout() time.Duration
	BaudRate() int
}

// Sink consumes downloaded bytes.
type Sink interface {
	io.Writer
	Flush() error
}
