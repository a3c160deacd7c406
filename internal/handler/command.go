// Package handler implements the importer adapters by running external
// handler executables.
//
// A handler writes its graph files into the directory it is given and prints
// one JSON statistic record per line on stdout. Anything printed on stderr is
// forwarded to the log.
package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// stderrTail is how many stderr lines are kept for error messages.
const stderrTail = 20

// Command is an external handler invocation prefix, e.g. ["python", "-m", "kg.ontologies"].
type Command struct {
	argv   []string
	logger *zap.Logger
}

// NewCommand returns a Command for argv. Subcommand arguments are appended
// to argv on every run.
func NewCommand(argv []string, logger *zap.Logger) (*Command, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, errors.New("empty handler command")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Command{argv: append([]string(nil), argv...), logger: logger}, nil
}

// String returns the command line prefix.
func (c *Command) String() string {
	return strings.Join(c.argv, " ")
}

// run executes the handler with args and returns its stdout.
func (c *Command) run(ctx context.Context, args ...string) ([]byte, error) {
	full := append(append([]string(nil), c.argv[1:]...), args...)
	cmd := exec.CommandContext(ctx, c.argv[0], full...)

	var stdout bytes.Buffer
	stderr := newLogWriter(c.logger.With(zap.String("handler", c.argv[0]), zap.Strings("args", args)))
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	stderr.flush()
	if err != nil {
		if tail := stderr.tail(); tail != "" {
			return nil, fmt.Errorf("%s %s: %w: %s", c.argv[0], strings.Join(args, " "), err, tail)
		}
		return nil, fmt.Errorf("%s %s: %w", c.argv[0], strings.Join(args, " "), err)
	}
	return stdout.Bytes(), nil
}

// logWriter logs each complete line written to it and remembers the last few.
type logWriter struct {
	logger *zap.Logger

	mu      sync.Mutex
	partial []byte
	last    []string
}

func newLogWriter(logger *zap.Logger) *logWriter {
	return &logWriter{logger: logger}
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.emit(string(w.partial[:i]))
		w.partial = w.partial[i+1:]
	}
	return len(p), nil
}

func (w *logWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.partial) > 0 {
		w.emit(string(w.partial))
		w.partial = nil
	}
}

func (w *logWriter) emit(line string) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return
	}
	w.logger.Info(line)
	w.last = append(w.last, line)
	if len(w.last) > stderrTail {
		w.last = w.last[len(w.last)-stderrTail:]
	}
}

func (w *logWriter) tail() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.Join(w.last, "\n")
}
