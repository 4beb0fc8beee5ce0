// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/logmonitor/lib/config"
	"github.com/bureau-foundation/logmonitor/lib/journal"
	"github.com/bureau-foundation/logmonitor/lib/schema/logging"
)

func main() {
	if err := run(os.Args[1:], os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "logmonitor-ingest: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, input io.Reader) error {
	var (
		configPath string
		journalDir string
		identifier string
		priority   string
	)

	flags := pflag.NewFlagSet("logmonitor-ingest", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to the logmonitor config file")
	flags.StringVar(&journalDir, "journal-dir", "", "journal store directory (overrides config)")
	flags.StringVarP(&identifier, "identifier", "t", "", "record this identifier on every entry")
	flags.StringVarP(&priority, "priority", "p", "", "record this severity on every entry (name or level 0-7)")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	priorityField, err := resolvePriority(priority)
	if err != nil {
		return err
	}

	cfg := config.Default()
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
		if err != nil {
			return err
		}
	}
	if journalDir != "" {
		cfg.JournalDir = journalDir
	}

	writer, err := journal.Open(cfg.JournalDir, cfg.JournalOptions())
	if err != nil {
		return err
	}
	defer writer.Close()

	return ingest(writer, input, identifier, priorityField)
}

// ingest appends one record per input line. Lines longer than the
// scanner default are accepted up to 1 MiB; the trailing newline is
// not part of the message.
func ingest(writer *journal.Writer, input io.Reader, identifier, priorityField string) error {
	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		fields := map[string]string{
			journal.FieldMessage: scanner.Text(),
		}
		if identifier != "" {
			fields[journal.FieldSyslogIdentifier] = identifier
		}
		if priorityField != "" {
			fields[journal.FieldPriority] = priorityField
		}
		if _, err := writer.Append(fields); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// resolvePriority accepts either a severity name or a numeric level
// and returns the canonical numeric field value. Empty input means no
// priority field.
func resolvePriority(priority string) (string, error) {
	if priority == "" {
		return "", nil
	}
	if level, ok := logging.SeverityLevel(priority); ok {
		return strconv.FormatInt(level, 10), nil
	}
	level, err := strconv.ParseInt(priority, 10, 64)
	if err != nil {
		return "", fmt.Errorf("unknown priority %q", priority)
	}
	if _, ok := logging.SeverityName(level); !ok {
		return "", fmt.Errorf("priority level %d is outside 0-7", level)
	}
	return strconv.FormatInt(level, 10), nil
}
