//go:build linux

package main

import (
	serial "github.com/luhtfiimanal/serialpump"
)

var _ link = (*serial.Port)(nil)

func openTermios(cfg serial.Config) (link, error) {
	p, err := serial.Open(cfg)
	if err != nil {
		return nil, err
	}
	return p, nil
}
