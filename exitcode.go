package main

import (
	"errors"

	"github.com/stupid-simple/devbackup/backuperr"
)

const (
	exitOK = iota
	exitFailed
	exitConfig
	exitPartial
	exitNotFound
	exitAuth
	exitCorruption
	exitBusy
)

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	if errors.Is(err, errPartial) {
		return exitPartial
	}
	switch backuperr.Class(err) {
	case backuperr.ErrConfig:
		return exitConfig
	case backuperr.ErrNotFound:
		return exitNotFound
	case backuperr.ErrAuth:
		return exitAuth
	case backuperr.ErrCorruption, backuperr.ErrRepository:
		return exitCorruption
	case backuperr.ErrBusy:
		return exitBusy
	}
	return exitFailed
}
