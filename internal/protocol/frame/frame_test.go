package frame

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/danmuck/marionette/internal/protocol"
)

func TestReadWriteFrameRoundTrip(t *testing.T) {
	payload := []byte(`[1,1,null,{"sessionId":"abc","capabilities":{}}]`)
	var buf bytes.Buffer
	if err := WriteFrame(&buf, payload, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "48:") {
		t.Fatalf("unexpected prefix: %q", buf.String())
	}
	out, err := ReadFrame(bufio.NewReader(&buf), DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Fatalf("payload mismatch: %q", out)
	}
}

func TestReadFrameDecimalPrefix(t *testing.T) {
	raw := `30:[1,1,null,{"sessionId":"abc"}]`
	out, err := ReadFrame(strings.NewReader(raw), DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if string(out) != `[1,1,null,{"sessionId":"abc"}]` {
		t.Fatalf("unexpected payload: %q", out)
	}
}

func TestReadFrameBackToBack(t *testing.T) {
	r := strings.NewReader("3:abc0:2:de")
	for _, want := range []string{"abc", "", "de"} {
		got, err := ReadFrame(r, DefaultLimits())
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if string(got) != want {
			t.Fatalf("got %q want %q", got, want)
		}
	}
	if _, err := ReadFrame(r, DefaultLimits()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	_, err := ReadFrame(strings.NewReader("5:abc"), DefaultLimits())
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
	if !errors.Is(err, protocol.ErrFraming) {
		t.Fatalf("truncation should be a framing error: %v", err)
	}
}

func TestReadFrameStreamEndsBeforeSeparator(t *testing.T) {
	_, err := ReadFrame(strings.NewReader("12"), DefaultLimits())
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestReadFrameMalformedPrefix(t *testing.T) {
	cases := map[string]error{
		"x:abc":                    ErrInvalidPrefix,
		"1a:abc":                   ErrInvalidPrefix,
		"-1:a":                     ErrInvalidPrefix,
		":abc":                     ErrEmptyPrefix,
		"123456789012345678901:a":  ErrPrefixTooLong,
		"99999999999999999999:abc": ErrPayloadTooLarge,
	}
	for raw, want := range cases {
		_, err := ReadFrame(strings.NewReader(raw), DefaultLimits())
		if !errors.Is(err, want) {
			t.Fatalf("%q: expected %v, got %v", raw, want, err)
		}
		if !errors.Is(err, protocol.ErrFraming) {
			t.Fatalf("%q: expected framing error, got %v", raw, err)
		}
	}
}

func TestReadFrameRespectsLimit(t *testing.T) {
	_, err := ReadFrame(strings.NewReader("10:0123456789"), Limits{MaxPayloadBytes: 4})
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestReadFramePassesThroughReaderErrors(t *testing.T) {
	boom := errors.New("reset")
	r := bufio.NewReader(io.MultiReader(strings.NewReader("4:ab"), errReader{err: boom}))
	_, err := ReadFrame(r, DefaultLimits())
	if !errors.Is(err, boom) {
		t.Fatalf("expected reader error, got %v", err)
	}
	if errors.Is(err, protocol.ErrFraming) {
		t.Fatalf("i/o errors must not be reported as framing errors")
	}
}

func TestWriteFrameSingleWrite(t *testing.T) {
	w := &countingWriter{}
	if err := WriteFrame(w, []byte("hello"), DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if w.calls != 1 {
		t.Fatalf("expected one write, got %d", w.calls)
	}
	if w.buf.String() != "5:hello" {
		t.Fatalf("unexpected bytes: %q", w.buf.String())
	}
}

func TestWriteFrameRespectsLimit(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, []byte("hello"), Limits{MaxPayloadBytes: 2})
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("nothing should be written")
	}
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

type countingWriter struct {
	buf   bytes.Buffer
	calls int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.calls++
	return w.buf.Write(p)
}
