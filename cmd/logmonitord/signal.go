// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
)

// newTerminationPipe turns termination signals into a pollable
// descriptor. SIGINT and SIGTERM are forwarded as single bytes into a
// non-blocking pipe whose read end joins the event loop's wait set,
// so signal handling flows through the same dispatch path as every
// other event source.
//
// The returned stop function unsubscribes from signals and closes
// both pipe ends.
func newTerminationPipe() (readFd int, stop func(), err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return 0, nil, fmt.Errorf("pipe2: %w", err)
	}

	signals := make(chan os.Signal, 4)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		for received := range signals {
			number, ok := received.(syscall.Signal)
			if !ok {
				continue
			}
			// A full pipe means earlier signals are still queued;
			// dropping the write loses nothing the loop does not
			// already know.
			unix.Write(fds[1], []byte{byte(number)})
		}
	}()

	stop = func() {
		signal.Stop(signals)
		close(signals)
		unix.Close(fds[1])
		unix.Close(fds[0])
	}
	return fds[0], stop, nil
}

// readTerminationSignal reads one forwarded signal from the pipe.
func readTerminationSignal(readFd int) (syscall.Signal, error) {
	var buffer [1]byte
	for {
		n, err := unix.Read(readFd, buffer[:])
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return 0, fmt.Errorf("reading signal pipe: %w", err)
		}
		if n != 1 {
			return 0, fmt.Errorf("signal pipe returned %d bytes", n)
		}
		return syscall.Signal(buffer[0]), nil
	}
}
