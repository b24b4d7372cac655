package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

type UCIEngine struct {
	path string
	args []string
	name string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  chan string
	exited chan struct{}
}

func NewUCIEngine(path string, args []string) *UCIEngine {
	return &UCIEngine{path: path, args: args}
}

// Start launches the process and completes the uci handshake. The process
// lives until ctx is cancelled or Close/Kill is called.
func (e *UCIEngine) Start(ctx context.Context) error {
	e.cmd = exec.CommandContext(ctx, e.path, e.args...)
	stdout, err := e.cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stdin, err := e.cmd.StdinPipe()
	if err != nil {
		return err
	}
	e.stdin = stdin
	e.lines = make(chan string, 64)
	e.exited = make(chan struct{})

	if err := e.cmd.Start(); err != nil {
		return err
	}
	go e.readLoop(stdout)

	if err := e.Send("uci"); err != nil {
		return err
	}
	deadline := time.NewTimer(5 * time.Second)
	defer deadline.Stop()
	for {
		line, err := e.next(ctx, deadline.C)
		if err != nil {
			return fmt.Errorf("uci handshake: %w", err)
		}
		if name, ok := strings.CutPrefix(line, "id name "); ok {
			e.name = strings.TrimSpace(name)
		}
		if line == "uciok" {
			return nil
		}
	}
}

// readLoop owns stdout: Wait runs only after every line has been read.
func (e *UCIEngine) readLoop(stdout io.Reader) {
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		e.lines <- strings.TrimSpace(sc.Text())
	}
	close(e.lines)
	_ = e.cmd.Wait()
	close(e.exited)
}

// Name is the engine's "id name", or the executable path if it sent none.
func (e *UCIEngine) Name() string {
	if e.name == "" {
		return e.path
	}
	return e.name
}

func (e *UCIEngine) Close() error {
	if e.cmd == nil {
		return nil
	}
	if e.stdin != nil {
		_ = e.Send("quit")
		_ = e.stdin.Close()
	}

	select {
	case <-e.exited:
		return nil
	case <-time.After(2 * time.Second):
		return e.Kill()
	}
}

// Kill stops the process without the quit handshake.
func (e *UCIEngine) Kill() error {
	if e.cmd == nil || e.cmd.Process == nil {
		return nil
	}
	if e.stdin != nil {
		_ = e.stdin.Close()
	}
	_ = e.cmd.Process.Kill()
	go func() {
		for range e.lines {
		}
	}()
	<-e.exited
	return nil
}

func (e *UCIEngine) Send(line string) error {
	if e.stdin == nil {
		return fmt.Errorf("engine not started")
	}
	_, err := io.WriteString(e.stdin, line+"\n")
	return err
}

func (e *UCIEngine) next(ctx context.Context, deadline <-chan time.Time) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-deadline:
		return "", ErrTimeout
	case line, ok := <-e.lines:
		if !ok {
			return "", io.ErrUnexpectedEOF
		}
		return line, nil
	}
}

func (e *UCIEngine) ReadUntilPrefix(ctx context.Context, prefix string, timeout time.Duration) (string, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		line, err := e.next(ctx, deadline.C)
		if err != nil {
			return "", fmt.Errorf("waiting for %q: %w", prefix, err)
		}
		if strings.HasPrefix(line, prefix) {
			return line, nil
		}
	}
}

func (e *UCIEngine) IsReady(ctx context.Context) error {
	if err := e.Send("isready"); err != nil {
		return err
	}
	_, err := e.ReadUntilPrefix(ctx, "readyok", 5*time.Second)
	return err
}

// Analyse searches fen for movetime and returns the deepest complete
// evaluation reported before bestmove. The caller bounds the wait with ctx.
func (e *UCIEngine) Analyse(ctx context.Context, fen string, movetime time.Duration) (Eval, error) {
	ms := movetime.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	if err := e.Send("position fen " + fen); err != nil {
		return Eval{}, err
	}
	if err := e.Send(fmt.Sprintf("go movetime %d", ms)); err != nil {
		return Eval{}, err
	}

	var best Eval
	found := false
	for {
		line, err := e.next(ctx, nil)
		if err != nil {
			return Eval{}, err
		}
		if strings.HasPrefix(line, "bestmove") {
			if !found {
				return Eval{}, fmt.Errorf("no score before %q", line)
			}
			return best, nil
		}
		if ev, ok := parseInfoLine(line); ok && ev.Depth >= best.Depth {
			best = ev
			found = true
		}
	}
}

func applyInit(ctx context.Context, e *UCIEngine, init string) error {
	lines := strings.Split(init, "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := e.Send(line); err != nil {
			return err
		}
	}
	return e.IsReady(ctx)
}
