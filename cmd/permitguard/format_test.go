package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/permitguard/permitguard/internal/models"
)

// captureStdout replaces os.Stdout with a pipe, calls f, then returns the
// captured output and restores os.Stdout. It is NOT safe for parallel use
// because os.Stdout is a package-level variable.
func captureStdout(t *testing.T, f func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	orig := os.Stdout
	os.Stdout = w

	done := make(chan struct{})
	var buf bytes.Buffer
	go func() {
		io.Copy(&buf, r) //nolint:errcheck // test helper
		close(done)
	}()

	f()

	w.Close()
	<-done
	os.Stdout = orig
	r.Close()
	return buf.String()
}

func TestPrintChainReport_JSON(t *testing.T) {
	flagFmt = "json"

	report := &models.ChainReport{SubjectID: "alice", Entries: 4, Valid: false, BrokenAt: "e3", BrokenReason: "hash mismatch"}
	got := captureStdout(t, func() { printChainReport(report) })

	var out models.ChainReport
	if err := json.Unmarshal([]byte(got), &out); err != nil {
		t.Fatalf("output is not valid JSON: %v\noutput: %s", err, got)
	}
	if out != *report {
		t.Errorf("round trip = %+v, want %+v", out, *report)
	}
}

func TestPrintEntryReport_Table(t *testing.T) {
	flagFmt = "table"
	t.Cleanup(func() { flagFmt = "json" })

	report := &models.IntegrityReport{
		EntryID:      "e1",
		Valid:        true,
		StoredHash:   strings.Repeat("ab", 32),
		AnchorStatus: models.AnchorStatusAnchored,
	}
	got := captureStdout(t, func() { printEntryReport(report) })

	lines := strings.Split(strings.TrimSpace(got), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header, separator and one row, got %d lines:\n%s", len(lines), got)
	}
	if !strings.HasPrefix(lines[0], "ENTRY") || !strings.HasPrefix(lines[1], "-----") {
		t.Errorf("unexpected header:\n%s", got)
	}
	if !strings.Contains(lines[2], "abababababababab...") || !strings.Contains(lines[2], "anchored") {
		t.Errorf("row = %q", lines[2])
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 16); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
	if got := truncate("0123456789", 4); got != "0123..." {
		t.Errorf("truncate = %q", got)
	}
}
