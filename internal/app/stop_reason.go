package app

import (
	"os"
	"syscall"
)

// StopReason records why the daemon is shutting down.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
)

func StopReasonFromSignal(s os.Signal) StopReason {
	switch s {
	case os.Interrupt:
		return StopSIGINT
	case syscall.SIGTERM:
		return StopSIGTERM
	default:
		return StopUnknown
	}
}
