package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/danmuck/marionette/internal/observability"
	"github.com/danmuck/marionette/internal/protocol"
	"github.com/danmuck/marionette/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

const (
	anomalyFraming    = "framing"
	anomalyUndecoded  = "undecodable"
	anomalyUnmatched  = "unmatched_id"
	anomalyNoResponse = "no_response"
)

// Transport is the frame-level connection a Dispatcher drives.
type Transport interface {
	SendFrame(payload []byte) error
	ReceiveFrame(deadline time.Time) ([]byte, error)
	Interrupt()
	Resume()
	Close() error
}

// Result is one successfully matched response.
type Result struct {
	MessageID uint64
	Command   string
	Value     json.RawMessage
}

type Option func(*Dispatcher)

// WithResultHook registers fn to observe every successful result. fn runs on
// the dispatching goroutine before Dispatch returns.
func WithResultHook(fn func(Result)) Option {
	return func(d *Dispatcher) {
		d.onResult = fn
	}
}

// Dispatcher runs one command at a time over a Transport and correlates the
// response by message_id. Concurrent callers are served in arrival order.
type Dispatcher struct {
	conn     Transport
	cfg      session.Config
	turn     *turnstile
	pending  *session.PendingTable
	onResult func(Result)

	// nextID is only touched by the turn holder.
	nextID uint64

	mu       sync.Mutex
	closed   bool
	closeErr error
	done     chan struct{}
}

func New(conn Transport, cfg session.Config, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		conn:    conn,
		cfg:     cfg.WithDefaults(),
		turn:    newTurnstile(),
		pending: session.NewPendingTable(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch sends name with params and waits for the matching response.
// timeout <= 0 uses the configured CommandTimeout; a nearer ctx deadline wins.
// A timeout or cancellation after the command was sent tears the connection
// down, because a late response could otherwise be taken for a later
// command's.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, params any, timeout time.Duration) (json.RawMessage, error) {
	if err := d.turn.acquire(ctx); err != nil {
		return nil, err
	}
	defer d.turn.release()

	if err := d.Err(); err != nil {
		observability.RecordCommand(name, observability.OutcomeClosed, 0)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		observability.RecordCommand(name, observability.OutcomeRejected, 0)
		return nil, err
	}

	d.nextID++
	id := d.nextID
	if timeout <= 0 {
		timeout = d.cfg.CommandTimeout
	}
	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	start := time.Now()
	ctx, span := observability.StartCommandSpan(ctx, name, id)
	result, outcome, err := d.roundTrip(ctx, id, name, params, timeout, deadline)
	observability.EndCommandSpan(span, err)
	observability.RecordCommand(name, outcome, time.Since(start))
	return result, err
}

func (d *Dispatcher) roundTrip(
	ctx context.Context,
	id uint64,
	name string,
	params any,
	timeout time.Duration,
	deadline time.Time,
) (json.RawMessage, string, error) {
	if err := d.pending.Register(session.PendingRequest{
		MessageID: id,
		Command:   name,
		SentAt:    time.Now(),
		Deadline:  deadline,
	}); err != nil {
		return nil, observability.OutcomeRejected, err
	}
	payload, err := protocol.EncodeCommand(id, name, params)
	if err != nil {
		d.pending.Resolve(id)
		return nil, observability.OutcomeRejected, err
	}
	if err := d.conn.SendFrame(payload); err != nil {
		if errors.Is(err, protocol.ErrFraming) {
			d.pending.Resolve(id)
			return nil, observability.OutcomeRejected, err
		}
		return nil, observability.OutcomeLost, d.teardown(err)
	}
	log.Debug().Str("command", name).Uint64("message_id", id).Msg("dispatch.Dispatch sent")

	// A cancellation that lands after the response was read still interrupts
	// the transport; undo it so the next command reads normally.
	interrupted := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(interrupted)
		d.conn.Interrupt()
	})
	defer func() {
		if !stop() {
			<-interrupted
			d.conn.Resume()
		}
	}()

	var anomalies int
	for {
		raw, err := d.conn.ReceiveFrame(deadline)
		if err != nil {
			switch {
			case ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded):
				return nil, observability.OutcomeLost, d.teardown(
					fmt.Errorf("%w: %s id=%d: %w", protocol.ErrConnectionLost, name, id, ctx.Err()))
			case errors.Is(err, os.ErrDeadlineExceeded) || ctx.Err() != nil:
				observability.RecordAnomaly(anomalyNoResponse)
				return nil, observability.OutcomeTimeout, d.teardown(
					fmt.Errorf("%w: %s id=%d after %s: %w", protocol.ErrTimeout, name, id, timeout, err))
			case errors.Is(err, protocol.ErrFraming):
				if lost := d.anomaly(&anomalies, anomalyFraming, name, id, err); lost != nil {
					return nil, observability.OutcomeLost, lost
				}
				continue
			default:
				return nil, d.lostOutcome(), d.teardown(err)
			}
		}

		resp, err := protocol.DecodeResponse(raw)
		if err != nil {
			if lost := d.anomaly(&anomalies, anomalyUndecoded, name, id, err); lost != nil {
				return nil, observability.OutcomeLost, lost
			}
			continue
		}
		if _, ok := d.pending.Resolve(resp.MessageID); !ok {
			err := fmt.Errorf("%w: no pending request for message_id=%d", protocol.ErrProtocol, resp.MessageID)
			if lost := d.anomaly(&anomalies, anomalyUnmatched, name, id, err); lost != nil {
				return nil, observability.OutcomeLost, lost
			}
			continue
		}

		if resp.Error != nil {
			log.Debug().Str("command", name).Uint64("message_id", id).Str("kind", resp.Error.Kind).Msg("dispatch.Dispatch remote error")
			return nil, observability.OutcomeRemoteError, resp.Error
		}
		if d.onResult != nil {
			d.onResult(Result{MessageID: id, Command: name, Value: resp.Result})
		}
		return resp.Result, observability.OutcomeOK, nil
	}
}

// anomaly counts one dropped frame and tears down once the bound is passed.
func (d *Dispatcher) anomaly(count *int, kind, name string, id uint64, cause error) error {
	*count++
	observability.RecordAnomaly(kind)
	log.Warn().
		Str("kind", kind).
		Str("command", name).
		Uint64("message_id", id).
		Int("count", *count).
		Err(cause).
		Msg("dispatch.Dispatch dropped frame")
	if *count <= d.cfg.MaxAnomalies {
		return nil
	}
	return d.teardown(fmt.Errorf("%w: %d anomalies while awaiting %s id=%d: %w",
		protocol.ErrConnectionLost, *count, name, id, cause))
}

func (d *Dispatcher) lostOutcome() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return observability.OutcomeClosed
	}
	return observability.OutcomeLost
}

// teardown closes the connection and cancels everything pending. It returns
// the error the current caller should see.
func (d *Dispatcher) teardown(cause error) error {
	d.mu.Lock()
	if d.closed {
		err := d.closeErr
		d.mu.Unlock()
		return err
	}
	d.closed = true
	d.closeErr = cause
	close(d.done)
	d.mu.Unlock()

	for _, req := range d.pending.CancelAll() {
		log.Debug().Str("command", req.Command).Uint64("message_id", req.MessageID).Msg("dispatch.teardown cancelled pending request")
	}
	_ = d.conn.Close()
	observability.RecordConnection("lost")
	log.Warn().Err(cause).Msg("dispatch.teardown connection lost")
	return cause
}

// Close tears the connection down. An in-flight or queued Dispatch fails with
// ErrConnectionClosed. Calling Close again is a no-op.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.closeErr = protocol.ErrConnectionClosed
	close(d.done)
	d.mu.Unlock()

	d.pending.CancelAll()
	return d.conn.Close()
}

// Err reports why the dispatcher stopped, or nil while it is usable.
func (d *Dispatcher) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		return nil
	}
	if errors.Is(d.closeErr, protocol.ErrConnectionClosed) {
		return d.closeErr
	}
	return fmt.Errorf("%w: dispatch: %v", protocol.ErrConnectionClosed, d.closeErr)
}

// Done is closed once the dispatcher has stopped.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Pending reports how many requests await a response.
func (d *Dispatcher) Pending() int {
	return d.pending.Len()
}
