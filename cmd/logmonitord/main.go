// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/logmonitor/lib/codec"
	"github.com/bureau-foundation/logmonitor/lib/config"
	"github.com/bureau-foundation/logmonitor/lib/poller"
	"github.com/bureau-foundation/logmonitor/lib/schema/logging"
	"github.com/bureau-foundation/logmonitor/lib/wire"
)

// Exit codes, printed by --help. MissingAddress is the only usage
// error with its own code; everything else unrecoverable is Panic.
const (
	exitPanic          = 1
	exitMissingAddress = 2
)

var exitNames = map[int]string{
	exitPanic:          "Panic",
	exitMissingAddress: "MissingAddress",
}

// controlTag marks the transport descriptor in the outer wait set.
type controlTag struct{}

// signalTag marks the termination-signal descriptor.
type signalTag struct{}

func main() {
	os.Exit(run(os.Args[1:]))
}

// exitError prints the symbolic name of a fatal exit code, matching
// the names --help documents.
func exitError(code int) int {
	fmt.Fprintf(os.Stderr, "Error: %s\n", exitNames[code])
	return code
}

func run(args []string) int {
	flags := flag.NewFlagSet("logmonitord", flag.ContinueOnError)
	var (
		configPath string
		journalDir string
		logLevel   string
	)
	flags.StringVar(&configPath, "config", "", "path to the logmonitor config file")
	flags.StringVar(&journalDir, "journal-dir", "", "journal store directory (overrides config)")
	flags.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	flags.Usage = func() {
		fmt.Fprintf(flags.Output(), "Usage: logmonitord [flags] ADDRESS\n\n")
		fmt.Fprintf(flags.Output(), "Serve the journal store as a query/stream service on ADDRESS.\n\n")
		flags.PrintDefaults()
		fmt.Fprintf(flags.Output(), "\nReturn values:\n")
		for code := 1; code <= len(exitNames); code++ {
			fmt.Fprintf(flags.Output(), " %3d %s\n", code, exitNames[code])
		}
	}
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return exitError(exitPanic)
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadFile(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logmonitord: %v\n", err)
			return exitError(exitPanic)
		}
		cfg = loaded
	}
	if journalDir != "" {
		cfg.JournalDir = journalDir
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	level, err := cfg.SlogLevel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logmonitord: %v\n", err)
		return exitError(exitPanic)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	address := flags.Arg(0)

	// An activator may have passed the listening socket as fd 3; then
	// ADDRESS is informational and the inherited socket wins.
	var service *wire.Service
	if fd, inherited := activationListener(); inherited {
		service, err = wire.NewServiceFromListener(fd, logger)
	} else {
		if address == "" {
			return exitError(exitMissingAddress)
		}
		service, err = wire.NewService(address, logger)
	}
	if err != nil {
		logger.Error("transport setup failed", "error", err)
		return exitError(exitPanic)
	}
	defer service.Close()

	signalFd, stopSignals, err := newTerminationPipe()
	if err != nil {
		logger.Error("signal setup failed", "error", err)
		return exitError(exitPanic)
	}
	defer stopSignals()

	waitSet, err := poller.New()
	if err != nil {
		logger.Error("multiplexer setup failed", "error", err)
		return exitError(exitPanic)
	}
	defer waitSet.Close()

	if err := waitSet.Add(service.Fd(), controlTag{}); err != nil {
		logger.Error("registering transport failed", "error", err)
		return exitError(exitPanic)
	}
	if err := waitSet.Add(signalFd, signalTag{}); err != nil {
		logger.Error("registering signal descriptor failed", "error", err)
		return exitError(exitPanic)
	}

	context := &serviceContext{
		waitSet:    waitSet,
		journalDir: cfg.JournalDir,
		logger:     logger,
	}
	service.Handle(logging.MethodMonitor, func(call *wire.Call, parameters codec.RawMessage) error {
		return handleMonitor(context, call, parameters)
	})

	logger.Info("logmonitord running",
		"address", address,
		"journal_dir", cfg.JournalDir,
	)

	return runLoop(waitSet, service, signalFd, logger)
}

// runLoop is the single-threaded event loop: wait for one ready
// source, dispatch it to completion, repeat. Returns the process exit
// code.
func runLoop(waitSet *poller.Poller, service *wire.Service, signalFd int, logger *slog.Logger) int {
	for {
		event, err := waitSet.Wait()
		if err != nil {
			if errors.Is(err, poller.ErrInterrupted) {
				continue
			}
			logger.Error("wait failed", "error", err)
			return exitError(exitPanic)
		}

		switch tag := event.Tag.(type) {
		case controlTag:
			if err := service.ProcessEvents(); err != nil {
				logger.Error("transport failed", "error", err)
				return exitError(exitPanic)
			}

		case signalTag:
			signal, err := readTerminationSignal(signalFd)
			if err != nil {
				logger.Error("reading signal failed", "error", err)
				return exitError(exitPanic)
			}
			switch signal {
			case syscall.SIGINT, syscall.SIGTERM:
				logger.Info("shutting down", "signal", signal.String())
				return 0
			default:
				logger.Error("unexpected signal", "signal", signal.String())
				return exitError(exitPanic)
			}

		case *monitor:
			tag.dispatch()

		default:
			logger.Error("ready descriptor has unknown tag", "fd", event.Fd)
			return exitError(exitPanic)
		}
	}
}

// activationListener reports whether an activator passed a listening
// socket as file descriptor 3.
func activationListener() (fd int, ok bool) {
	var stat unix.Stat_t
	if err := unix.Fstat(3, &stat); err != nil {
		return 0, false
	}
	if stat.Mode&unix.S_IFMT != unix.S_IFSOCK {
		return 0, false
	}
	return 3, true
}
