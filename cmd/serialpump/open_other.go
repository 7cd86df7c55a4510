//go:build !linux

package main

import (
	"errors"

	serial "github.com/luhtfiimanal/serialpump"
)

func openTermios(serial.Config) (link, error) {
	return nil, errors.New("the termios driver is only available on linux, use --driver tarm")
}
