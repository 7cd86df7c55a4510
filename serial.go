//go:build linux

package serial

import (
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Port provides raw, killable access to a Linux serial port.
// Read and Close may be called from different goroutines; everything else
// expects a single owner.
type Port struct {
	fd        int
	file      *os.File
	done      chan struct{}
	closeOnce sync.Once
	config    Config
	pipeR     int // self-pipe read fd
	pipeW     int // self-pipe write fd
}

// Open opens a serial port using the provided Config and returns a Port.
// The port is configured for raw, non-canonical operation.
func Open(cfg Config) (*Port, error) {
	if cfg.DataBits == 0 {
		cfg.DataBits = 8
	}
	if cfg.StopBits == 0 {
		cfg.StopBits = StopBits1
	}
	// Reject bad settings before touching the device.
	if err := applyConfig(&unix.Termios{}, cfg); err != nil {
		return nil, err
	}

	fd, err := syscall.Open(cfg.Device, syscall.O_RDWR|syscall.O_NOCTTY|syscall.O_NONBLOCK, 0666)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Device, err)
	}

	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("get termios: %w", err)
	}
	if err := applyConfig(termios, cfg); err != nil {
		syscall.Close(fd)
		return nil, err
	}
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("set termios: %w", err)
	}

	// Turn back into blocking mode now that config is done
	if err := syscall.SetNonblock(fd, false); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("set blocking: %w", err)
	}

	// Create self-pipe for killability
	pipeFds := make([]int, 2)
	if err := unix.Pipe(pipeFds); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("pipe: %w", err)
	}

	file := os.NewFile(uintptr(fd), cfg.Device)
	return &Port{
		fd:     fd,
		file:   file,
		done:   make(chan struct{}),
		config: cfg,
		pipeR:  pipeFds[0],
		pipeW:  pipeFds[1],
	}, nil
}

// applyConfig puts termios into raw mode with the line settings of cfg.
func applyConfig(termios *unix.Termios, cfg Config) error {
	baud, ok := baudToUnix(cfg.BaudRate)
	if !ok {
		return fmt.Errorf("%w: %d", ErrBadBaudRate, cfg.BaudRate)
	}
	size, ok := dataBitsToUnix(cfg.DataBits)
	if !ok {
		return fmt.Errorf("%w: %d", ErrBadDataBits, cfg.DataBits)
	}

	// Raw mode
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL |
		unix.IXON | unix.IXOFF | unix.IXANY | unix.INPCK
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB | unix.CRTSCTS | unix.CBAUD
	termios.Cflag |= unix.CLOCAL | unix.CREAD | size | baud
	termios.Ispeed = baud
	termios.Ospeed = baud

	switch cfg.Parity {
	case ParityNone:
	case ParityOdd:
		termios.Cflag |= unix.PARENB | unix.PARODD
		termios.Iflag |= unix.INPCK
	case ParityEven:
		termios.Cflag |= unix.PARENB
		termios.Iflag |= unix.INPCK
	default:
		return fmt.Errorf("%w: %v", ErrBadParity, cfg.Parity)
	}

	switch cfg.StopBits {
	case StopBits1:
	case StopBits2:
		termios.Cflag |= unix.CSTOPB
	default:
		return fmt.Errorf("%w: %d", ErrBadStopBits, cfg.StopBits)
	}

	switch cfg.FlowControl {
	case FlowNone:
	case FlowSoftware:
		termios.Iflag |= unix.IXON | unix.IXOFF
	case FlowHardware:
		termios.Cflag |= unix.CRTSCTS
	default:
		return fmt.Errorf("%w: %v", ErrBadFlowControl, cfg.FlowControl)
	}

	// VMIN=1, VTIME=0: the read timeout is enforced with poll instead.
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0
	return nil
}

// Read reads up to len(b) bytes. It waits at most Config.ReadTimeout for
// data to arrive (forever when zero) and returns 0, nil when the wait
// expires. A concurrent Close makes Read return ErrClosed.
func (p *Port) Read(b []byte) (int, error) {
	if p.closed() {
		return 0, ErrClosed
	}
	timeout := -1
	if p.config.ReadTimeout > 0 {
		timeout = int(p.config.ReadTimeout / time.Millisecond)
		if timeout == 0 {
			timeout = 1
		}
	}

	// Use poll to wait for data or kill signal
	pfd := []unix.PollFd{
		{Fd: int32(p.fd), Events: unix.POLLIN},
		{Fd: int32(p.pipeR), Events: unix.POLLIN},
	}
	var (
		n   int
		err error
	)
	for {
		n, err = unix.Poll(pfd, timeout)
		if err != unix.EINTR {
			break
		}
	}
	// Check killability
	if p.closed() {
		return 0, ErrClosed
	}
	if err != nil {
		return 0, fmt.Errorf("poll: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	if pfd[1].Revents&unix.POLLIN != 0 {
		return 0, ErrClosed
	}
	if pfd[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) == 0 {
		return 0, nil
	}
	n, err = p.file.Read(b)
	return n, p.wrapErr(err)
}

// Write writes b to the port. It blocks while the kernel output queue is full.
func (p *Port) Write(b []byte) (int, error) {
	if p.closed() {
		return 0, ErrClosed
	}
	n, err := p.file.Write(b)
	return n, p.wrapErr(err)
}

// Flush waits until all output written to the port has been transmitted.
func (p *Port) Flush() error {
	if p.closed() {
		return ErrClosed
	}
	// TCSBRK with a non-zero argument is tcdrain(3).
	if err := unix.IoctlSetInt(p.fd, unix.TCSBRK, 1); err != nil {
		return p.wrapErr(fmt.Errorf("tcdrain: %w", err))
	}
	return nil
}

// BytesToRead returns the number of received bytes waiting to be read.
func (p *Port) BytesToRead() (int, error) {
	if p.closed() {
		return 0, ErrClosed
	}
	n, err := unix.IoctlGetInt(p.fd, unix.TIOCINQ)
	if err != nil {
		return 0, p.wrapErr(fmt.Errorf("TIOCINQ: %w", err))
	}
	return n, nil
}

// BytesToWrite returns the number of bytes queued for transmission.
func (p *Port) BytesToWrite() (int, error) {
	if p.closed() {
		return 0, ErrClosed
	}
	n, err := unix.IoctlGetInt(p.fd, unix.TIOCOUTQ)
	if err != nil {
		return 0, p.wrapErr(fmt.Errorf("TIOCOUTQ: %w", err))
	}
	return n, nil
}

// Timeout returns the configured read timeout; zero means none.
func (p *Port) Timeout() time.Duration {
	return p.config.ReadTimeout
}

// BaudRate returns the configured baud rate.
func (p *Port) BaudRate() int {
	return p.config.BaudRate
}

// Name returns the device path.
func (p *Port) Name() string {
	return p.config.Device
}

func (p *Port) closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// wrapErr reports failures caused by a concurrent Close as ErrClosed.
func (p *Port) wrapErr(err error) error {
	if err != nil && p.closed() {
		return ErrClosed
	}
	return err
}

// Close closes the serial port and unblocks any pending Read.
// Safe to call multiple times; subsequent calls are no-ops.
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		// Wake up poll using self-pipe
		unix.Write(p.pipeW, []byte{1})
		err = p.file.Close()
		unix.Close(p.pipeR)
		unix.Close(p.pipeW)
	})
	return err
}

var baudRates = map[int]uint32{
	1200:    unix.B1200,
	2400:    unix.B2400,
	4800:    unix.B4800,
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	500000:  unix.B500000,
	576000:  unix.B576000,
	921600:  unix.B921600,
	1000000: unix.B1000000,
	1500000: unix.B1500000,
	2000000: unix.B2000000,
	3000000: unix.B3000000,
	4000000: unix.B4000000,
}

func baudToUnix(baud int) (uint32, bool) {
	b, ok := baudRates[baud]
	return b, ok
}

func dataBitsToUnix(bits int) (uint32, bool) {
	switch bits {
	case 5:
		return unix.CS5, true
	case 6:
		return unix.CS6, true
	case 7:
		return unix.CS7, true
	case 8:
		return unix.CS8, true
	}
	return 0, false
}
