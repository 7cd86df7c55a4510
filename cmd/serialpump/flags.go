package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"time"

	serial "github.com/luhtfiimanal/serialpump"
	"github.com/luhtfiimanal/serialpump/pump"
)

var errUsage = errors.New("usage")

type options struct {
	port        string
	baud        string
	timeoutMS   uint
	flow        string
	parity      string
	dataBits    string
	stopBits    string
	limit       int64
	driver      string
	wait        time.Duration
	metricsAddr string
	progress    time.Duration
	logLevel    string

	path string // input for upload, output for download
	info bool   // detailed list output
}

func stringFlag(fs *flag.FlagSet, p *string, long, short, value, usage string) {
	fs.StringVar(p, long, value, usage)
	if short != "" {
		fs.StringVar(p, short, value, "shorthand for --"+long)
	}
}

func envOr(getenv func(string) string, key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

// newFlagSet returns the flag set for a subcommand. Serial link flags are
// only registered for commands that open a port.
func newFlagSet(name string, o *options, getenv func(string) string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.logLevel, "log-level", "info", "log level: debug, info, warn, error")

	switch name {
	case "list":
		fs.BoolVar(&o.info, "info", false, "print detailed port information")
		fs.BoolVar(&o.info, "i", false, "shorthand for --info")
		return fs
	case "upload":
		stringFlag(fs, &o.path, "input", "i", "", "input file (default stdin)")
		fs.DurationVar(&o.progress, "progress", 0, "log upload progress at this interval (files only)")
	case "download":
		stringFlag(fs, &o.path, "output", "o", "", "output file (default stdout)")
	}

	fs.StringVar(&o.baud, "baud", envOr(getenv, "PUMP_BAUDRATE", "115200"), "baud rate ($PUMP_BAUDRATE)")
	fs.UintVar(&o.timeoutMS, "timeout", 0, "read timeout in milliseconds, 0 polls the FIFO instead")
	fs.UintVar(&o.timeoutMS, "t", 0, "shorthand for --timeout")
	stringFlag(fs, &o.flow, "flow", "f", envOr(getenv, "PUMP_FLOW", "off"), "flow control: off, soft, hard ($PUMP_FLOW)")
	stringFlag(fs, &o.parity, "parity", "p", "none", "parity: none, odd, even")
	stringFlag(fs, &o.dataBits, "data-bits", "d", "8", "data bits: 5, 6, 7, 8")
	stringFlag(fs, &o.stopBits, "stop-bits", "s", "1", "stop bits: 1, 2")
	fs.Int64Var(&o.limit, "limit", pump.NoLimit, "stop after this many bytes")
	fs.Int64Var(&o.limit, "l", pump.NoLimit, "shorthand for --limit")
	fs.StringVar(&o.driver, "driver", driverTermios, "serial driver: termios, tarm")
	fs.DurationVar(&o.wait, "wait", 0, "keep retrying to open a missing port for this long")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	o.port = getenv("PUMP_PORT")
	return fs
}

// parseArgs lets flags and positional arguments be interleaved.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

// applyPositional assigns PORT and BAUDRATE.
func (o *options) applyPositional(args []string) error {
	switch len(args) {
	case 2:
		o.baud = args[1]
		fallthrough
	case 1:
		o.port = args[0]
	case 0:
	default:
		return fmt.Errorf("%w: unexpected arguments %q", errUsage, args[2:])
	}
	if o.port == "" {
		return fmt.Errorf("%w: PORT is required (or set $PUMP_PORT)", errUsage)
	}
	return nil
}

// serialConfig validates the link flags.
func (o *options) serialConfig() (serial.Config, error) {
	cfg := serial.DefaultConfig(o.port)
	var err error

	if cfg.BaudRate, err = strconv.Atoi(o.baud); err != nil || cfg.BaudRate <= 0 {
		return cfg, fmt.Errorf("%w: invalid baudrate %q", errUsage, o.baud)
	}
	if cfg.FlowControl, err = serial.ParseFlowControl(o.flow); err != nil {
		return cfg, fmt.Errorf("%w: %v", errUsage, err)
	}
	if cfg.Parity, err = serial.ParseParity(o.parity); err != nil {
		return cfg, fmt.Errorf("%w: %v", errUsage, err)
	}
	if cfg.DataBits, err = serial.ParseDataBits(o.dataBits); err != nil {
		return cfg, fmt.Errorf("%w: %v", errUsage, err)
	}
	if cfg.StopBits, err = serial.ParseStopBits(o.stopBits); err != nil {
		return cfg, fmt.Errorf("%w: %v", errUsage, err)
	}
	if o.limit < 0 && o.limit != pump.NoLimit {
		return cfg, fmt.Errorf("%w: invalid limit %d", errUsage, o.limit)
	}
	switch o.driver {
	case driverTermios, driverTarm:
	default:
		return cfg, fmt.Errorf("%w: unknown driver %q", errUsage, o.driver)
	}
	cfg.ReadTimeout = time.Duration(o.timeoutMS) * time.Millisecond
	return cfg, nil
}
