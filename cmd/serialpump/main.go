// Command serialpump moves bytes between a file or standard stream and a
// serial port.
//
//	serialpump list [--info]
//	serialpump upload PORT [BAUDRATE] [--input FILE] [--limit N]
//	serialpump download PORT [BAUDRATE] [--output FILE] [--limit N]
//	serialpump loopback PORT [BAUDRATE]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmhodges/clock"
	"github.com/machinebox/progress"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	serial "github.com/luhtfiimanal/serialpump"
	"github.com/luhtfiimanal/serialpump/endpoint"
	"github.com/luhtfiimanal/serialpump/enumerate"
	"github.com/luhtfiimanal/serialpump/internal/logger"
	"github.com/luhtfiimanal/serialpump/pump"
)

// env is everything run touches outside the process arguments.
type env struct {
	fs        afero.Fs
	stdin     io.Reader
	stdout    io.Writer
	stderr    io.Writer
	getenv    func(string) string
	describer enumerate.Describer
	clock     clock.Clock
}

var aliases = map[string]string{
	"list":     "list",
	"ls":       "list",
	"upload":   "upload",
	"up":       "upload",
	"download": "download",
	"down":     "download",
	"loopback": "loopback",
	"loop":     "loopback",
}

const usage = `serialpump - serial port pump

Usage:
  serialpump list|ls [--info]
  serialpump upload|up PORT [BAUDRATE] [--input FILE] [flags]
  serialpump download|down PORT [BAUDRATE] [--output FILE] [flags]
  serialpump loopback|loop PORT [BAUDRATE] [flags]

Run "serialpump <command> -h" for the flags of a command.
`

func main() {
	// Writes to a closed stdout pipe must return EPIPE instead of killing
	// the process so the download can end cleanly.
	signal.Notify(make(chan os.Signal, 1), syscall.SIGPIPE)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		// The first signal starts a clean shutdown; a second one kills.
		<-ctx.Done()
		stop()
	}()

	os.Exit(run(ctx, os.Args[1:], env{
		fs:        afero.NewOsFs(),
		stdin:     os.Stdin,
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		getenv:    os.Getenv,
		describer: enumerate.USBDescriber{},
		clock:     clock.New(),
	}))
}

// run executes one command and returns the process exit status.
func run(ctx context.Context, args []string, e env) int {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		fmt.Fprint(e.stderr, usage)
		return 0
	}
	cmd, ok := aliases[args[0]]
	if !ok {
		fmt.Fprintf(e.stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	var o options
	fs := newFlagSet(cmd, &o, e.getenv, e.stderr)
	positional, err := parseArgs(fs, args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		return 2
	}

	log, err := logger.New(e.stderr, o.logLevel)
	if err != nil {
		fmt.Fprintln(e.stderr, err)
		return 2
	}
	defer log.Sync()

	if cmd == "list" {
		if len(positional) > 0 {
			fmt.Fprintf(e.stderr, "unexpected arguments %q\n", positional)
			return 2
		}
		if err := list(e, o.info); err != nil {
			log.Error("list ports", zap.Error(err))
			return 1
		}
		return 0
	}

	err = o.applyPositional(positional)
	var cfg serial.Config
	if err == nil {
		cfg, err = o.serialConfig()
	}
	if err != nil {
		fmt.Fprintln(e.stderr, err)
		fs.Usage()
		return 2
	}

	err = transfer(ctx, cmd, cfg, &o, e, log)
	switch {
	case err == nil:
		return 0
	case graceful(ctx, err):
		log.Debug("stopped", zap.Error(err))
		return 0
	default:
		log.Error(cmd+" failed", zap.String("port", cfg.Device), zap.Error(err))
		return 1
	}
}

// graceful reports errors that end a transfer without failing it: the
// reader of our output went away, or the user interrupted an unbounded
// download and the port was closed under the pump.
func graceful(ctx context.Context, err error) bool {
	if errors.Is(err, syscall.EPIPE) {
		return true
	}
	return ctx.Err() != nil && (errors.Is(err, serial.ErrClosed) || errors.Is(err, context.Canceled))
}

func list(e env, info bool) error {
	ports, err := enumerate.List(e.fs, e.describer)
	if err != nil {
		return err
	}
	return enumerate.Format(e.stdout, ports, info)
}

func transfer(ctx context.Context, cmd string, cfg serial.Config, o *options, e env, log *zap.Logger) error {
	l, err := openWithRetry(ctx, cfg, o.driver, o.wait, e.clock, log)
	if err != nil {
		return err
	}
	defer l.Close()
	log.Debug("port open",
		zap.String("port", cfg.Device),
		zap.Int("baud", cfg.BaudRate),
		zap.Duration("timeout", cfg.ReadTimeout),
		zap.Int64("limit", o.limit))

	opts := []pump.Option{pump.WithLimit(o.limit), pump.WithLogger(log)}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	// Standard input may sit idle forever; reads on it must observe shutdown.
	e.stdin = endpoint.WithContext(gctx, e.stdin)

	if o.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		m, err := pump.NewMetrics(reg)
		if err != nil {
			return err
		}
		opts = append(opts, pump.WithMetrics(m))
		if err := serveMetrics(gctx, g, o.metricsAddr, reg); err != nil {
			return err
		}
	}
	p := pump.New(l, opts...)

	// The pump has no cancellation of its own; closing the port unblocks it.
	g.Go(func() error {
		<-gctx.Done()
		l.Close()
		return nil
	})
	g.Go(func() error {
		defer cancel()
		switch cmd {
		case "upload":
			return upload(p, o, e, log)
		case "download":
			return download(p, o, e)
		default:
			return p.Transfer(e.stdin, e.stdout)
		}
	})
	return g.Wait()
}

func upload(p *pump.Pump, o *options, e env, log *zap.Logger) error {
	src, size, err := endpoint.OpenSource(e.fs, o.path, e.stdin)
	if err != nil {
		return err
	}
	defer src.Close()

	var r io.Reader = src
	if o.progress > 0 && size > 0 {
		pr, stop := endpoint.Progress(src, size, o.progress, func(pg progress.Progress) {
			log.Info("upload progress",
				zap.Int64("bytes", pg.N()),
				zap.Int64("size", pg.Size()),
				zap.Float64("percent", pg.Percent()),
				zap.Duration("remaining", pg.Remaining()))
		})
		defer stop()
		r = pr
	}
	return p.Upload(r)
}

func download(p *pump.Pump, o *options, e env) error {
	sink, err := endpoint.CreateSink(e.fs, o.path, e.stdout)
	if err != nil {
		return err
	}
	err = p.Download(sink)
	if cerr := sink.Close(); err == nil {
		err = cerr
	}
	return err
}

// serveMetrics exposes reg on addr until ctx is done.
func serveMetrics(ctx context.Context, g *errgroup.Group, addr string, reg *prometheus.Registry) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("could not listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux}
	g.Go(func() error {
		if err := srv.Serve(l); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return srv.Close()
	})
	return nil
}
