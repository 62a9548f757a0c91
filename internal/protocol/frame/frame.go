package frame

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/danmuck/marionette/internal/protocol"
)

const (
	// Separator ends the decimal length prefix.
	Separator byte = ':'
	// MaxPrefixDigits bounds the prefix scan; a uint64 never needs more.
	MaxPrefixDigits = 20
)

var (
	ErrEmptyPrefix     = fmt.Errorf("%w: frame: empty length prefix", protocol.ErrFraming)
	ErrInvalidPrefix   = fmt.Errorf("%w: frame: non-numeric length prefix", protocol.ErrFraming)
	ErrPrefixTooLong   = fmt.Errorf("%w: frame: length prefix too long", protocol.ErrFraming)
	ErrTruncated       = fmt.Errorf("%w: frame: stream ended inside frame", protocol.ErrFraming)
	ErrPayloadTooLarge = fmt.Errorf("%w: frame: payload too large", protocol.ErrFraming)
)

// Reader is what ReadFrame needs: byte-wise prefix scanning plus bulk reads.
// *bufio.Reader and *bytes.Reader both qualify.
type Reader interface {
	io.Reader
	io.ByteReader
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 64 * 1024 * 1024,
	}
}

// ReadFrame reads one `<len>:<payload>` frame. A stream that ends before any
// prefix byte returns io.EOF unchanged; a stream that ends anywhere later
// returns ErrTruncated. Other reader errors are returned as-is.
func ReadFrame(r Reader, limits Limits) ([]byte, error) {
	var (
		size   uint64
		digits int
	)
	for {
		b, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if digits == 0 {
					return nil, io.EOF
				}
				return nil, ErrTruncated
			}
			return nil, err
		}
		if b == Separator {
			break
		}
		if b < '0' || b > '9' {
			return nil, ErrInvalidPrefix
		}
		digits++
		if digits > MaxPrefixDigits {
			return nil, ErrPrefixTooLong
		}
		d := uint64(b - '0')
		if size > (math.MaxUint64-d)/10 {
			return nil, ErrPayloadTooLarge
		}
		size = size*10 + d
	}
	if digits == 0 {
		return nil, ErrEmptyPrefix
	}
	if size > limits.MaxPayloadBytes {
		return nil, ErrPayloadTooLarge
	}

	payload := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return nil, ErrTruncated
			}
			return nil, err
		}
	}
	return payload, nil
}

// WriteFrame writes prefix and payload with a single Write call.
func WriteFrame(w io.Writer, payload []byte, limits Limits) error {
	buf, err := AppendFrame(nil, payload, limits)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// AppendFrame appends the encoded frame to dst.
func AppendFrame(dst, payload []byte, limits Limits) ([]byte, error) {
	if uint64(len(payload)) > limits.MaxPayloadBytes {
		return nil, ErrPayloadTooLarge
	}
	dst = strconv.AppendUint(dst, uint64(len(payload)), 10)
	dst = append(dst, Separator)
	return append(dst, payload...), nil
}
