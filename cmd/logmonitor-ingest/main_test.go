// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"strings"
	"testing"

	"github.com/bureau-foundation/logmonitor/lib/journal"
)

func TestResolvePriority(t *testing.T) {
	cases := []struct {
		input string
		want  string
		valid bool
	}{
		{"", "", true},
		{"warning", "3", true},
		{"debug", "0", true},
		{"emergency", "7", true},
		{"5", "5", true},
		{"0", "0", true},
		{"8", "", false},
		{"-1", "", false},
		{"loud", "", false},
	}
	for _, c := range cases {
		got, err := resolvePriority(c.input)
		if c.valid {
			if err != nil {
				t.Errorf("resolvePriority(%q): %v", c.input, err)
			} else if got != c.want {
				t.Errorf("resolvePriority(%q) = %q, want %q", c.input, got, c.want)
			}
		} else if err == nil {
			t.Errorf("resolvePriority(%q) accepted an invalid priority", c.input)
		}
	}
}

func TestIngestAppendsOneRecordPerLine(t *testing.T) {
	dir := t.TempDir()
	writer, err := journal.Open(dir, journal.Options{})
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	defer writer.Close()

	input := strings.NewReader("boot ok\ndisk warn\nheartbeat\n")
	if err := ingest(writer, input, "testd", "4"); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	reader, err := journal.OpenReader(dir)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer reader.Close()

	want := []string{"boot ok", "disk warn", "heartbeat"}
	for i, message := range want {
		ok, err := reader.Next()
		if err != nil || !ok {
			t.Fatalf("Next %d: ok=%v err=%v", i, ok, err)
		}
		if got, _ := reader.Field(journal.FieldMessage); got != message {
			t.Errorf("record %d message = %q, want %q", i, got, message)
		}
		if got, _ := reader.Field(journal.FieldSyslogIdentifier); got != "testd" {
			t.Errorf("record %d identifier = %q, want testd", i, got)
		}
		if got, _ := reader.Field(journal.FieldPriority); got != "4" {
			t.Errorf("record %d priority = %q, want 4", i, got)
		}
	}
	if ok, _ := reader.Next(); ok {
		t.Error("store holds more records than input lines")
	}
}

func TestIngestWithoutOptionalFields(t *testing.T) {
	dir := t.TempDir()
	writer, err := journal.Open(dir, journal.Options{})
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	defer writer.Close()

	if err := ingest(writer, strings.NewReader("plain\n"), "", ""); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	reader, err := journal.OpenReader(dir)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer reader.Close()

	ok, err := reader.Next()
	if err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	if _, present := reader.Field(journal.FieldSyslogIdentifier); present {
		t.Error("identifier recorded despite empty flag")
	}
	if _, present := reader.Field(journal.FieldPriority); present {
		t.Error("priority recorded despite empty flag")
	}
}
