// Package serial provides a minimal, Linux-only serial port adapter
// designed for raw byte pumping between a host stream and an embedded device.
//
// The Port type opens a UART-style device in raw mode and exposes the
// primitives a flow-paced byte pump needs on top of plain reads and writes:
// FIFO occupancy queries, a drain-style flush and the configured read timeout.
//
// Features:
//   - Raw syscall-based serial I/O on Linux, no buffering delays
//   - Configurable data bits, parity, stop bits and software/hardware flow control
//   - Pending inbound/outbound byte counts (TIOCINQ / TIOCOUTQ)
//   - Poll-based read timeout; a timed-out read returns zero bytes and no error
//   - Self-pipe mechanism so Close unblocks a pending Read
//   - PTY-based tests for reliability
//
// This package does **not** support Windows. The portable sub-package offers
// a tarm/serial based adapter for other platforms.
//
// Example usage:
//
//	cfg := serial.DefaultConfig("/dev/ttyUSB0")
//	cfg.BaudRate = 115200
//	port, err := serial.Open(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer port.Close()
//
//	p := pump.New(port, pump.WithLimit(4096))
//	if err := p.Download(sink); err != nil {
//	    log.Println("download failed:", err)
//	}
//
//	// ... to stop a blocked Read, call port.Close() from another goroutine
package serial
