package remote

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestQuote(t *testing.T) {
	cases := map[string]string{
		"plain":          "'plain'",
		"with space":     "'with space'",
		"semi;colon":     "'semi;colon'",
		"it's quoted":    `'it'\''s quoted'`,
		"$HOME `whoami`": "'$HOME `whoami`'",
	}
	for in, want := range cases {
		if got := Quote(in); got != want {
			t.Errorf("Quote(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLocalExecutorCapturesOutput(t *testing.T) {
	exec := NewLocalExecutor()
	ctx := context.Background()

	out, err := exec.Run(ctx, "echo hello; echo oops >&2; exit 3", 5*time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(out.Stdout) != "hello" {
		t.Fatalf("stdout: got %q", out.Stdout)
	}
	if strings.TrimSpace(out.Stderr) != "oops" {
		t.Fatalf("stderr: got %q", out.Stderr)
	}
	if out.ExitCode != 3 {
		t.Fatalf("exit code: got %d", out.ExitCode)
	}
}

func TestLocalExecutorTimeout(t *testing.T) {
	exec := NewLocalExecutor()
	ctx := context.Background()

	if _, err := exec.Run(ctx, "sleep 5", 50*time.Millisecond); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestRunCheckedWrapsNonZeroExit(t *testing.T) {
	exec := NewLocalExecutor()
	ctx := context.Background()

	_, err := RunChecked(ctx, exec, "echo broken >&2; exit 1", 5*time.Second)
	if err == nil {
		t.Fatal("expected error")
	}
	cmdErr, ok := err.(*CommandError)
	if !ok {
		t.Fatalf("expected CommandError, got %T", err)
	}
	if cmdErr.ExitCode != 1 || !strings.Contains(cmdErr.Stderr, "broken") {
		t.Fatalf("unexpected CommandError %+v", cmdErr)
	}
}
