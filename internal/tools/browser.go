package tools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

const DefaultBrowserBinary = "firefox"

var ErrBrowserBinaryRequired = errors.New("tools: browser binary required")

// BrowserOptions describes how to start a browser with marionette enabled.
// Profile names an existing profile; ProfilePath points at a profile
// directory. Profile wins when both are set.
type BrowserOptions struct {
	Binary      string
	Headless    bool
	Profile     string
	ProfilePath string
	ExtraArgs   []string
}

// BrowserArgs builds the command line for opts.
func BrowserArgs(opts BrowserOptions) []string {
	args := []string{"--marionette"}
	if opts.Headless {
		args = append(args, "--headless")
	}
	switch {
	case strings.TrimSpace(opts.Profile) != "":
		args = append(args, "-P", strings.TrimSpace(opts.Profile))
	case strings.TrimSpace(opts.ProfilePath) != "":
		args = append(args, "--profile", strings.TrimSpace(opts.ProfilePath))
	}
	return append(args, opts.ExtraArgs...)
}

// BrowserVersion runs "<binary> --version" and returns the last field, e.g.
// "128.0" for "Mozilla Firefox 128.0".
func BrowserVersion(ctx context.Context, runner CommandRunner, binary string) (string, error) {
	out, err := runner.Run(ctx, binary, "--version")
	if err != nil {
		return "", fmt.Errorf("tools: %s --version (exit %d): %w", binary, out.ExitCode, err)
	}
	fields := strings.Fields(string(out.Stdout))
	if len(fields) == 0 {
		return "", fmt.Errorf("tools: %s --version printed nothing", binary)
	}
	return fields[len(fields)-1], nil
}

// Browser is a running browser process. Its console output is logged at
// debug level.
type Browser struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error

	stopOnce sync.Once
}

func LaunchBrowser(ctx context.Context, opts BrowserOptions) (*Browser, error) {
	binary := strings.TrimSpace(opts.Binary)
	if binary == "" {
		return nil, ErrBrowserBinaryRequired
	}
	args := BrowserArgs(opts)
	cmd := exec.CommandContext(ctx, binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("tools: start %s: %w", binary, err)
	}
	log.Info().Str("binary", binary).Strs("args", args).Int("pid", cmd.Process.Pid).Msg("tools.LaunchBrowser started")

	b := &Browser{cmd: cmd, done: make(chan struct{})}
	var pipes sync.WaitGroup
	pipes.Add(2)
	go logConsole(&pipes, "stdout", stdout)
	go logConsole(&pipes, "stderr", stderr)
	go func() {
		pipes.Wait()
		b.err = cmd.Wait()
		close(b.done)
	}()
	return b, nil
}

func logConsole(wg *sync.WaitGroup, stream string, r io.Reader) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		log.Debug().Str("stream", stream).Msg("browser: " + scanner.Text())
	}
}

func (b *Browser) Pid() int {
	return b.cmd.Process.Pid
}

// Done is closed when the process exits.
func (b *Browser) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until the process exits and returns its exit error.
func (b *Browser) Wait() error {
	<-b.done
	return b.err
}

// Stop kills the process and waits for it. Stopping an exited browser is a
// no-op.
func (b *Browser) Stop() error {
	b.stopOnce.Do(func() {
		select {
		case <-b.done:
			return
		default:
		}
		_ = b.cmd.Process.Kill()
		<-b.done
		log.Info().Int("pid", b.Pid()).Msg("tools.Browser stopped")
	})
	return nil
}
