package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Binary is the ffmpeg executable used by Open.
var Binary = "ffmpeg"

// ErrDecoder reports ffmpeg exiting with a failure status on its own.
var ErrDecoder = errors.New("decoder failed")

// stderrTail bounds how much of ffmpeg's stderr is kept for errors.
const stderrTail = 2048

// Args builds the ffmpeg arguments decoding input to raw PCM on stdout,
// starting at seek.
func Args(input string, seek time.Duration) []string {
	var args []string
	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
		)
	}
	if seek > 0 {
		args = append(args, "-ss", strconv.FormatFloat(seek.Seconds(), 'f', 3, 64))
	}
	return append(args,
		"-i", input,
		"-vn",
		"-f", "s16le",
		"-ar", strconv.Itoa(SampleRate),
		"-ac", strconv.Itoa(Channels),
		"-loglevel", "warning",
		"pipe:1",
	)
}

type process struct {
	io.ReadCloser
	ctx    context.Context
	cmd    *exec.Cmd
	stderr *tail
}

// Close stops ffmpeg and reaps it. An exit failure that was not caused by
// the kill or by ctx is returned as ErrDecoder with the end of stderr.
func (p *process) Close() error {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	err := p.cmd.Wait()
	_ = p.ReadCloser.Close()

	var exit *exec.ExitError
	if !errors.As(err, &exit) || !exit.Exited() || p.ctx.Err() != nil {
		return nil
	}
	msg := strings.TrimSpace(p.stderr.String())
	if msg == "" {
		return fmt.Errorf("%w: exit status %d", ErrDecoder, exit.ExitCode())
	}
	return fmt.Errorf("%w: exit status %d: %s", ErrDecoder, exit.ExitCode(), msg)
}

// Open starts ffmpeg for input. The process dies with ctx or on Close.
func Open(ctx context.Context, input string, seek time.Duration) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, Binary, Args(input, seek)...)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	errs := &tail{max: stderrTail}
	cmd.Stderr = errs
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	return &process{ReadCloser: out, ctx: ctx, cmd: cmd, stderr: errs}, nil
}

// tail keeps the last max bytes written to it.
type tail struct {
	max int
	buf []byte
}

func (t *tail) Write(b []byte) (int, error) {
	t.buf = append(t.buf, b...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(b), nil
}

func (t *tail) String() string { return string(t.buf) }
