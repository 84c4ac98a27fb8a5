package runner

import (
	"context"
	"runtime"
	"testing"
	"time"
)

func TestStartPTY_StreamsOutputLines(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixture targets unix shells")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := StartPTY(ctx, "/bin/sh", []string{"-c", "echo one; echo two"}, "")
	if err != nil {
		t.Fatalf("StartPTY: %v", err)
	}
	defer sess.Stop()

	var lines []string
	timeout := time.After(2 * time.Second)
collect:
	for len(lines) < 2 {
		select {
		case line, ok := <-sess.Output():
			if !ok {
				break collect
			}
			if line != "" {
				lines = append(lines, line)
			}
		case <-timeout:
			break collect
		}
	}

	if len(lines) < 2 {
		t.Fatalf("expected at least 2 output lines, got %v", lines)
	}
}

func TestPTYSession_StopIsIdempotent(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixture targets unix shells")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := StartPTY(ctx, "/bin/sh", []string{"-c", "sleep 5"}, "")
	if err != nil {
		t.Fatalf("StartPTY: %v", err)
	}

	sess.Stop()
	sess.Stop() // must not panic or double-close
}
