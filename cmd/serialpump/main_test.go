package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	serial "github.com/luhtfiimanal/serialpump"
)

func testEnv(fs afero.Fs) (env, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	return env{
		fs:     fs,
		stdin:  bytes.NewReader(nil),
		stdout: &stdout,
		stderr: &stderr,
		getenv: func(string) string { return "" },
		clock:  clock.New(),
	}, &stdout, &stderr
}

func TestRun_Usage(t *testing.T) {
	e, _, stderr := testEnv(afero.NewMemMapFs())
	require.Equal(t, 0, run(context.Background(), nil, e))
	require.Contains(t, stderr.String(), "Usage:")
}

func TestRun_UnknownCommand(t *testing.T) {
	e, _, stderr := testEnv(afero.NewMemMapFs())
	require.Equal(t, 2, run(context.Background(), []string{"flash"}, e))
	require.Contains(t, stderr.String(), `unknown command "flash"`)
}

func TestRun_ValidationErrors(t *testing.T) {
	for _, args := range [][]string{
		{"upload"},
		{"up", "/dev/ttyUSB0", "--parity", "mark"},
		{"down", "/dev/ttyUSB0", "fast"},
		{"down", "/dev/ttyUSB0", "115200", "extra"},
		{"up", "/dev/ttyUSB0", "-l", "-5"},
		{"up", "/dev/ttyUSB0", "--driver", "ftdi"},
		{"up", "/dev/ttyUSB0", "--data-bits", "9"},
		{"up", "/dev/ttyUSB0", "--stop-bits", "3"},
		{"up", "/dev/ttyUSB0", "--flow", "maybe"},
		{"up", "/dev/ttyUSB0", "--log-level", "chatty"},
		{"up", "/dev/ttyUSB0", "--no-such-flag"},
		{"ls", "extra"},
	} {
		t.Run(fmt.Sprint(args), func(t *testing.T) {
			e, _, _ := testEnv(afero.NewMemMapFs())
			require.Equal(t, 2, run(context.Background(), args, e))
		})
	}
}

func TestOptions_EnvironmentDefaults(t *testing.T) {
	environ := map[string]string{
		"PUMP_PORT":     "/dev/ttyACM0",
		"PUMP_BAUDRATE": "57600",
		"PUMP_FLOW":     "soft",
	}
	var o options
	fs := newFlagSet("download", &o, func(k string) string { return environ[k] }, &bytes.Buffer{})
	positional, err := parseArgs(fs, []string{"-t", "250", "--parity", "even"})
	require.NoError(t, err)
	require.NoError(t, o.applyPositional(positional))

	cfg, err := o.serialConfig()
	require.NoError(t, err)
	require.Equal(t, "/dev/ttyACM0", cfg.Device)
	require.Equal(t, 57600, cfg.BaudRate)
	require.Equal(t, serial.FlowSoftware, cfg.FlowControl)
	require.Equal(t, serial.ParityEven, cfg.Parity)
	require.Equal(t, 250*time.Millisecond, cfg.ReadTimeout)
}

func TestOptions_InterleavedArguments(t *testing.T) {
	var o options
	fs := newFlagSet("upload", &o, func(string) string { return "" }, &bytes.Buffer{})
	positional, err := parseArgs(fs, []string{"-i", "fw.bin", "/dev/ttyUSB1", "--limit", "10", "9600", "-d", "7"})
	require.NoError(t, err)
	require.NoError(t, o.applyPositional(positional))

	cfg, err := o.serialConfig()
	require.NoError(t, err)
	require.Equal(t, "fw.bin", o.path)
	require.Equal(t, int64(10), o.limit)
	require.Equal(t, "/dev/ttyUSB1", cfg.Device)
	require.Equal(t, 9600, cfg.BaudRate)
	require.Equal(t, 7, cfg.DataBits)
}

func TestRun_List(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/sys/class/tty/ttyUSB0/device", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/sys/class/tty/ttyUSB0/device/uevent", []byte("DRIVER=ch341\n"), 0o644))
	require.NoError(t, fs.MkdirAll("/sys/class/tty/console", 0o755))

	e, stdout, _ := testEnv(fs)
	require.Equal(t, 0, run(context.Background(), []string{"ls"}, e))
	require.Equal(t, "/dev/ttyUSB0\n", stdout.String())

	stdout.Reset()
	require.Equal(t, 0, run(context.Background(), []string{"list", "-i"}, e))
	require.Equal(t, "/dev/ttyUSB0\n  - Port Type: Unknown\n\n", stdout.String())
}

func TestRun_ListWithoutSysfs(t *testing.T) {
	e, _, _ := testEnv(afero.NewMemMapFs())
	require.Equal(t, 1, run(context.Background(), []string{"list"}, e))
}

func TestGraceful(t *testing.T) {
	live := context.Background()
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	epipe := fmt.Errorf("write sink: %w", &os.PathError{Op: "write", Path: "/dev/stdout", Err: syscall.EPIPE})
	closed := fmt.Errorf("read link: %w", serial.ErrClosed)

	require.True(t, graceful(live, epipe))
	require.False(t, graceful(live, closed))
	require.True(t, graceful(cancelled, closed))
	require.True(t, graceful(cancelled, context.Canceled))
	require.False(t, graceful(cancelled, errors.New("EIO")))
}

func TestServeMetrics_ListenError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	var g errgroup.Group
	err = serveMetrics(context.Background(), &g, l.Addr().String(), prometheus.NewRegistry())
	require.ErrorIs(t, err, syscall.EADDRINUSE)
}
