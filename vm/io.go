package vm

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// Sink is the VM's character output stream. Write must consume the full
// string before returning (a blocking write, per the spec).
type Sink interface {
	Write(text string) error
}

// Source is the VM's character input stream. ReadLine returns one line
// including its trailing '\n'.
type Source interface {
	ReadLine() (string, error)
}

// StdoutSink writes guest OUT bytes straight to an io.Writer (typically
// os.Stdout for the plain `run` subcommand).
type StdoutSink struct {
	w *bufio.Writer
}

// NewStdoutSink wraps w for buffered writes.
func NewStdoutSink(w io.Writer) *StdoutSink {
	return &StdoutSink{w: bufio.NewWriter(w)}
}

func (s *StdoutSink) Write(text string) error {
	if _, err := s.w.WriteString(text); err != nil {
		return err
	}
	return s.w.Flush()
}

// StdinSource reads line-buffered input from an io.Reader (typically
// os.Stdin for the plain `run` subcommand).
type StdinSource struct {
	r *bufio.Reader
}

// NewStdinSource wraps r for line reads.
func NewStdinSource(r io.Reader) *StdinSource {
	return &StdinSource{r: bufio.NewReader(r)}
}

func (s *StdinSource) ReadLine() (string, error) {
	line, err := s.r.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	if err == io.EOF && line == "" {
		return "", io.EOF
	}
	return line, nil
}

// BufferSink accumulates output in memory; the debugger's output viewport
// drains it after every Step.
type BufferSink struct {
	b strings.Builder
}

func (s *BufferSink) Write(text string) error {
	s.b.WriteString(text)
	return nil
}

// Drain returns everything written since the last Drain and resets the
// buffer.
func (s *BufferSink) Drain() string {
	out := s.b.String()
	s.b.Reset()
	return out
}

// BufferSource is preloaded once from a feed file rather than reading from a
// live stream, for the plain `run` subcommand's --input mode: a transcript of
// answers to every IN prompt the program will make, replayed without a
// terminal attached. The engine only calls ReadLine when break_on_input is
// false, which is exactly how `run` constructs its VM, so this path never
// needs the suspend/resume dance the debugger uses instead.
type BufferSource struct {
	pending string
}

// Fill appends text (including embedded newlines) for the engine to consume
// a line at a time.
func (s *BufferSource) Fill(text string) {
	s.pending += text
}

// Empty reports whether there is no pending input.
func (s *BufferSource) Empty() bool {
	return s.pending == ""
}

func (s *BufferSource) ReadLine() (string, error) {
	if s.pending == "" {
		return "", errors.New("synacor: input buffer empty")
	}
	i := strings.IndexByte(s.pending, '\n')
	if i < 0 {
		line := s.pending
		s.pending = ""
		return line, nil
	}
	line := s.pending[:i+1]
	s.pending = s.pending[i+1:]
	return line, nil
}
