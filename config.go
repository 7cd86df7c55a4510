package serial

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrClosed is returned by operations on a port after Close.
	ErrClosed = errors.New("serial port closed")
	// ErrBadBaudRate is returned by Open for rates the termios layer cannot express.
	ErrBadBaudRate = errors.New("unsupported baud rate")
	// ErrBadDataBits is returned for data sizes outside 5..8.
	ErrBadDataBits = errors.New("unsupported data bits")
	// ErrBadParity is returned for unknown parity names.
	ErrBadParity = errors.New("unsupported parity")
	// ErrBadStopBits is returned for stop bit counts other than 1 and 2.
	ErrBadStopBits = errors.New("unsupported stop bits")
	// ErrBadFlowControl is returned for unknown flow control names.
	ErrBadFlowControl = errors.New("unsupported flow control")
)

// Parity selects the parity bit mode.
type Parity int

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
)

func (p Parity) String() string {
	switch p {
	case ParityNone:
		return "none"
	case ParityOdd:
		return "odd"
	case ParityEven:
		return "even"
	}
	return fmt.Sprintf("Parity(%d)", int(p))
}

// ParseParity accepts "none", "odd" and "even".
func ParseParity(s string) (Parity, error) {
	switch strings.ToLower(s) {
	case "none", "n":
		return ParityNone, nil
	case "odd", "o":
		return ParityOdd, nil
	case "even", "e":
		return ParityEven, nil
	}
	return ParityNone, fmt.Errorf("%w: %q", ErrBadParity, s)
}

// StopBits is the number of stop bits per character.
type StopBits int

const (
	StopBits1 StopBits = 1
	StopBits2 StopBits = 2
)

// ParseStopBits accepts "1" and "2".
func ParseStopBits(s string) (StopBits, error) {
	switch s {
	case "1":
		return StopBits1, nil
	case "2":
		return StopBits2, nil
	}
	return StopBits1, fmt.Errorf("%w: %q", ErrBadStopBits, s)
}

// FlowControl selects the link-level flow control.
type FlowControl int

const (
	FlowNone FlowControl = iota
	FlowSoftware
	FlowHardware
)

func (f FlowControl) String() string {
	switch f {
	case FlowNone:
		return "off"
	case FlowSoftware:
		return "soft"
	case FlowHardware:
		return "hard"
	}
	return fmt.Sprintf("FlowControl(%d)", int(f))
}

// ParseFlowControl accepts "off", "soft" and "hard" (and their first letters).
func ParseFlowControl(s string) (FlowControl, error) {
	switch strings.ToLower(s) {
	case "off", "none", "":
		return FlowNone, nil
	case "soft", "s", "xonxoff":
		return FlowSoftware, nil
	case "hard", "h", "rtscts":
		return FlowHardware, nil
	}
	return FlowNone, fmt.Errorf("%w: %q", ErrBadFlowControl, s)
}

// ParseDataBits accepts "5" through "8".
func ParseDataBits(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 5 || n > 8 {
		return 0, fmt.Errorf("%w: %q", ErrBadDataBits, s)
	}
	return n, nil
}

// Config holds configuration parameters for opening a serial port.
type Config struct {
	Device      string
	BaudRate    int
	DataBits    int // 5..8, 0 means 8
	Parity      Parity
	StopBits    StopBits // 0 means 1
	FlowControl FlowControl
	// ReadTimeout bounds a single Read. Zero blocks until data arrives.
	ReadTimeout time.Duration
}

// DefaultConfig returns 115200 8N1 without flow control or read timeout.
func DefaultConfig(device string) Config {
	return Config{
		Device:   device,
		BaudRate: 115200,
		DataBits: 8,
		Parity:   ParityNone,
		StopBits: StopBits1,
	}
}
