// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/logmonitor/lib/codec"
	"github.com/bureau-foundation/logmonitor/lib/schema/logging"
	"github.com/bureau-foundation/logmonitor/lib/wire"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "logmonitor: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, output io.Writer) error {
	var (
		socketPath string
		lines      int64
		follow     bool
		showCursor bool
	)

	flags := pflag.NewFlagSet("logmonitor", pflag.ContinueOnError)
	flags.StringVar(&socketPath, "socket", "", "path to the logmonitord socket")
	flags.Int64VarP(&lines, "lines", "n", logging.DefaultInitialLines, "number of most recent entries to request")
	flags.BoolVarP(&follow, "follow", "f", false, "keep the call open and print entries as they arrive")
	flags.BoolVar(&showCursor, "show-cursor", false, "prefix each entry with its resume cursor")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if socketPath == "" {
		return errors.New("--socket is required")
	}

	client, err := wire.Dial(socketPath)
	if err != nil {
		return err
	}
	defer client.Close()

	parameters := logging.MonitorParameters{InitialLines: &lines}

	if !follow {
		var reply logging.MonitorReply
		if err := client.Call(logging.MethodMonitor, parameters, &reply); err != nil {
			return describeCallError(err)
		}
		printEntries(output, reply.Entries, showCursor)
		return nil
	}

	stream, err := client.CallMore(logging.MethodMonitor, parameters)
	if err != nil {
		return describeCallError(err)
	}
	for {
		var reply logging.MonitorReply
		continues, err := stream.Next(&reply)
		if err != nil {
			return describeCallError(err)
		}
		printEntries(output, reply.Entries, showCursor)
		if !continues {
			return nil
		}
	}
}

// printEntries renders a batch in the classic log line shape:
// timestamp, optional process, message, with the severity appended
// when the service knew it.
func printEntries(output io.Writer, entries []logging.Entry, showCursor bool) {
	for _, entry := range entries {
		if showCursor {
			fmt.Fprintf(output, "%s ", entry.Cursor)
		}
		fmt.Fprintf(output, "%s ", entry.Time)
		if entry.Process != "" {
			fmt.Fprintf(output, "%s: ", entry.Process)
		}
		fmt.Fprint(output, entry.Message)
		if entry.Priority != "" {
			fmt.Fprintf(output, " [%s]", entry.Priority)
		}
		fmt.Fprintln(output)
	}
}

// describeCallError expands a service error reply into a readable
// message; transport errors pass through unchanged.
func describeCallError(err error) error {
	var callError *wire.CallError
	if !errors.As(err, &callError) {
		return err
	}
	switch callError.Kind {
	case logging.ErrorInvalidParameter:
		var detail logging.InvalidParameterError
		if decodeErr := codec.Unmarshal(callError.Parameters, &detail); decodeErr == nil && detail.Parameter != "" {
			return fmt.Errorf("service rejected parameter %q", detail.Parameter)
		}
		return fmt.Errorf("service rejected the request parameters")
	case logging.ErrorPanic:
		return fmt.Errorf("service hit an internal error")
	default:
		return err
	}
}
