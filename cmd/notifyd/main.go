package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"notifyd/internal/app"

	"github.com/spf13/pflag"
)

var version = "dev"

func main() {
	var (
		cfgPath     string
		stopTimeout time.Duration
		showVersion bool
	)
	pflag.StringVarP(&cfgPath, "config", "c", "./notifyd.yaml", "path to config (json or yaml)")
	pflag.DurationVar(&stopTimeout, "stop-timeout", 10*time.Second, "max time to wait for a graceful stop")
	pflag.BoolVar(&showVersion, "version", false, "print version and exit")
	pflag.Parse()

	if showVersion {
		fmt.Println("notifyd", version)
		return
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}

	reason := app.StopUnknown
	select {
	case s := <-sigs:
		reason = app.StopReasonFromSignal(s)
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	stopErr := a.Stop(ctx, reason)
	if reason == app.StopFatalError {
		fmt.Fprintln(os.Stderr, "fatal:", a.Err())
		os.Exit(1)
	}
	if stopErr != nil {
		fmt.Fprintln(os.Stderr, "stop:", stopErr)
		os.Exit(1)
	}
}
