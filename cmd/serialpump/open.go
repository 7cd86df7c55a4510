package main

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/jmhodges/clock"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	serial "github.com/luhtfiimanal/serialpump"
	"github.com/luhtfiimanal/serialpump/portable"
	"github.com/luhtfiimanal/serialpump/pump"
)

const (
	driverTermios = "termios"
	driverTarm    = "tarm"
)

type link interface {
	pump.Link
	io.Closer
}

var _ link = (*portable.Port)(nil)

func openLink(cfg serial.Config, driver string) (link, error) {
	switch driver {
	case driverTarm:
		p, err := portable.Open(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return openTermios(cfg)
	}
}

// openWithRetry opens the port, retrying for up to wait while the device
// node does not exist yet, e.g. while a USB adapter re-enumerates after a
// reset.
func openWithRetry(ctx context.Context, cfg serial.Config, driver string, wait time.Duration, clk clock.Clock, log *zap.Logger) (link, error) {
	b := &backoff.Backoff{
		Min:    50 * time.Millisecond,
		Max:    time.Second,
		Factor: 2,
	}
	deadline := clk.Now().Add(wait)
	for {
		l, err := openLink(cfg, driver)
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		d := b.Duration()
		if clk.Now().Add(d).After(deadline) {
			return nil, err
		}
		log.Info("waiting for port", zap.String("port", cfg.Device), zap.Duration("retry_in", d))
		t := clk.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}
