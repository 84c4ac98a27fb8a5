package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// PTYSession drives an engine binary that has no one-shot "--json exec"
// mode and must instead be talked to over a pseudo-terminal, adapted from
// the teacher's internal/adapters/codex/codex.go startInteractive (PTY
// start, pipe fallback on EPERM, line-oriented read loop). Used by runners
// built with Options.Interactive instead of Runner's default JSONL one-shot
// invocation.
type PTYSession struct {
	cmd    *exec.Cmd
	pty    *os.File
	stdin  io.Writer
	lines  chan string
	wmu    sync.Mutex
	closed chan struct{}
}

// StartPTY launches cmdPath under a pty, falling back to plain pipes if the
// environment disallows PTY allocation (EPERM is common in containers).
func StartPTY(ctx context.Context, cmdPath string, args []string, dir string) (*PTYSession, error) {
	cmd := exec.CommandContext(ctx, cmdPath, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Env = append(os.Environ(), "NO_COLOR=1", "CLICOLOR=0", "FORCE_COLOR=0")

	f, err := pty.Start(cmd)
	s := &PTYSession{lines: make(chan string, 256), closed: make(chan struct{})}
	if err != nil {
		ptyErr := err
		cmd = exec.CommandContext(ctx, cmdPath, args...)
		if dir != "" {
			cmd.Dir = dir
		}
		cmd.Env = append(os.Environ(), "NO_COLOR=1", "CLICOLOR=0", "FORCE_COLOR=0")
		setProcessGroup(cmd)
		stdin, errIn := cmd.StdinPipe()
		stdout, errOut := cmd.StdoutPipe()
		if errIn != nil || errOut != nil {
			return nil, fmt.Errorf("pty.Start: %v; pipe fallback: %v / %v", ptyErr, errIn, errOut)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("pty.Start: %v; Start: %w", ptyErr, err)
		}
		s.cmd = cmd
		s.stdin = stdin
		go s.readLoop(stdout)
		go s.waitLoop()
		return s, nil
	}

	_ = pty.Setsize(f, &pty.Winsize{Rows: 40, Cols: 120})
	s.cmd = cmd
	s.pty = f
	s.stdin = f
	go s.readLoop(f)
	go s.waitLoop()
	return s, nil
}

func (s *PTYSession) readLoop(r io.Reader) {
	defer close(s.lines)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		select {
		case s.lines <- sc.Text():
		case <-s.closed:
			return
		}
	}
}

func (s *PTYSession) waitLoop() {
	_ = s.cmd.Wait()
}

// Output streams decoded output lines until the process exits.
func (s *PTYSession) Output() <-chan string { return s.lines }

// Send writes text followed by a newline to the session's stdin.
func (s *PTYSession) Send(text string) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, err := io.WriteString(s.stdin, text+"\n")
	return err
}

// Stop terminates the session's process group.
func (s *PTYSession) Stop() {
	select {
	case <-s.closed:
		return
	default:
		close(s.closed)
	}
	terminateProcessGroup(s.cmd)
	if s.pty != nil {
		_ = s.pty.Close()
	}
}
