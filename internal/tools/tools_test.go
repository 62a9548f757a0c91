package tools

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/marionette/internal/testutil/testlog"
)

type fakeRunner struct {
	out Output
	err error
	got []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (Output, error) {
	f.got = append([]string{name}, args...)
	return f.out, f.err
}

func TestBrowserArgs(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		opts BrowserOptions
		want string
	}{
		{BrowserOptions{}, "--marionette"},
		{BrowserOptions{Headless: true}, "--marionette --headless"},
		{BrowserOptions{Headless: true, Profile: "automation"}, "--marionette --headless -P automation"},
		{BrowserOptions{ProfilePath: "/tmp/profile"}, "--marionette --profile /tmp/profile"},
		{BrowserOptions{Profile: "a", ProfilePath: "/b", ExtraArgs: []string{"--new-instance"}}, "--marionette -P a --new-instance"},
	}
	for _, tc := range cases {
		if got := strings.Join(BrowserArgs(tc.opts), " "); got != tc.want {
			t.Fatalf("BrowserArgs(%+v)=%q want %q", tc.opts, got, tc.want)
		}
	}
}

func TestBrowserVersion(t *testing.T) {
	testlog.Start(t)
	r := &fakeRunner{out: Output{Stdout: []byte("Mozilla Firefox 128.0.3\n")}}
	v, err := BrowserVersion(context.Background(), r, "firefox")
	if err != nil || v != "128.0.3" {
		t.Fatalf("version=%q err=%v", v, err)
	}
	if strings.Join(r.got, " ") != "firefox --version" {
		t.Fatalf("unexpected invocation: %v", r.got)
	}

	r = &fakeRunner{out: Output{ExitCode: 127}, err: errors.New("not found")}
	if _, err := BrowserVersion(context.Background(), r, "firefox"); err == nil {
		t.Fatalf("expected error")
	}
	r = &fakeRunner{}
	if _, err := BrowserVersion(context.Background(), r, "firefox"); err == nil {
		t.Fatalf("expected error for empty output")
	}
}

func TestExecRunnerExitCodes(t *testing.T) {
	testlog.Start(t)
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	out, err := ExecRunner{}.Run(context.Background(), "sh", "-c", "echo hi; exit 3")
	if err == nil || out.ExitCode != 3 || strings.TrimSpace(string(out.Stdout)) != "hi" {
		t.Fatalf("unexpected output: %+v err=%v", out, err)
	}
	out, err = ExecRunner{}.Run(context.Background(), "definitely-not-a-binary-xyz")
	if err == nil || out.ExitCode != 127 {
		t.Fatalf("expected exit 127, got %+v err=%v", out, err)
	}
}

func fakeBrowser(t *testing.T, body string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "fake-firefox")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake browser: %v", err)
	}
	return path
}

func TestLaunchAndStopBrowser(t *testing.T) {
	testlog.Start(t)
	b, err := LaunchBrowser(context.Background(), BrowserOptions{
		Binary:   fakeBrowser(t, `echo "marionette listening: $*"; exec sleep 30`),
		Headless: true,
	})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if b.Pid() <= 0 {
		t.Fatalf("expected a pid")
	}
	select {
	case <-b.Done():
		t.Fatalf("browser exited early: %v", b.Wait())
	case <-time.After(50 * time.Millisecond):
	}
	if err := b.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case <-b.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("browser not stopped")
	}
	if err := b.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestLaunchBrowserThatExits(t *testing.T) {
	testlog.Start(t)
	b, err := LaunchBrowser(context.Background(), BrowserOptions{Binary: fakeBrowser(t, "exit 2")})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	var exitErr *exec.ExitError
	if err := b.Wait(); !errors.As(err, &exitErr) || exitErr.ExitCode() != 2 {
		t.Fatalf("expected exit 2, got %v", err)
	}
	if err := b.Stop(); err != nil {
		t.Fatalf("stop after exit: %v", err)
	}
}

func TestLaunchBrowserRequiresBinary(t *testing.T) {
	testlog.Start(t)
	if _, err := LaunchBrowser(context.Background(), BrowserOptions{}); !errors.Is(err, ErrBrowserBinaryRequired) {
		t.Fatalf("expected ErrBrowserBinaryRequired, got %v", err)
	}
}
