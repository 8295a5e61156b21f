package command

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func testRunner() *ExecRunner {
	return NewRunner(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRunCapturesOutput(t *testing.T) {
	res := testRunner().Run(context.Background(), Command{
		Program: "echo",
		Args:    []string{"hello"},
	})
	if res.Failed() {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if strings.TrimSpace(res.Output) != "hello" {
		t.Fatalf("unexpected output %q", res.Output)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", res.ExitCode)
	}
}

func TestRunSurfacesNonZeroExitAsError(t *testing.T) {
	res := testRunner().Run(context.Background(), Command{
		Program: "sh",
		Args:    []string{"-c", "echo boom >&2; exit 3"},
	})
	if !res.Failed() {
		t.Fatal("expected failure result")
	}
	if res.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", res.ExitCode)
	}
	if !strings.Contains(res.Error, "boom") {
		t.Fatalf("expected captured stderr in error, got %q", res.Error)
	}
}

func TestRunMissingProgram(t *testing.T) {
	res := testRunner().Run(context.Background(), Command{Program: "definitely-not-a-real-binary"})
	if !res.Failed() {
		t.Fatal("expected failure for missing program")
	}
	if res.ExitCode == 0 {
		t.Fatal("expected non-zero exit code")
	}
}

func TestRunStdin(t *testing.T) {
	res := testRunner().Run(context.Background(), Command{
		Program: "cat",
		Stdin:   "piped",
	})
	if res.Failed() {
		t.Fatalf("unexpected error: %q", res.Error)
	}
	if res.Output != "piped" {
		t.Fatalf("unexpected output %q", res.Output)
	}
}
