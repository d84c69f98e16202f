// ABOUTME: Outbound dispatcher that frames and sends envelopes on a channel
// ABOUTME: Retries sends issued before the socket is ready, bounded by the channel lifetime

package outbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tailscale.com/util/backoff"

	"github.com/2389/cardea-console/internal/channel"
	"github.com/2389/cardea-console/internal/envelope"
)

var (
	// ErrChannelClosed means the target channel's lifetime ended before the
	// envelope could be written.
	ErrChannelClosed = errors.New("channel closed before send")
	// ErrRetriesExhausted means the channel never became ready within the
	// configured attempts.
	ErrRetriesExhausted = errors.New("send retries exhausted")
)

var errNotReady = errors.New("channel not ready")

const (
	defaultMaxAttempts = 50
	defaultMaxBackoff  = 2 * time.Second
)

// Writer is the part of the channel manager the dispatcher needs.
type Writer interface {
	Write(ctx context.Context, kind channel.Kind, data []byte) error
	Ready(kind channel.Kind) bool
	Done(kind channel.Kind) <-chan struct{}
}

// Options configures a Dispatcher.
type Options struct {
	MaxAttempts int
	MaxBackoff  time.Duration
	// OnError receives failures of sends issued through Post.
	OnError func(kind channel.Kind, env envelope.Envelope, err error)
	Logger  *slog.Logger
}

// Dispatcher sends envelopes to the controller.
type Dispatcher struct {
	w           Writer
	maxAttempts int
	maxBackoff  time.Duration
	onError     func(kind channel.Kind, env envelope.Envelope, err error)
	logger      *slog.Logger

	wg sync.WaitGroup
}

// New creates a dispatcher writing through w.
func New(w Writer, opts Options) *Dispatcher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		w:           w,
		maxAttempts: opts.MaxAttempts,
		maxBackoff:  opts.MaxBackoff,
		onError:     opts.OnError,
		logger:      opts.Logger.With("component", "outbound"),
	}
}

// Send frames data and writes it on kind, waiting for the channel to become
// ready if needed. It blocks until the envelope is written or fails.
func (d *Dispatcher) Send(ctx context.Context, kind channel.Kind, c envelope.Context, t envelope.Type, data any) error {
	env, err := envelope.New(c, t, data)
	if err != nil {
		return err
	}
	return d.send(ctx, kind, env)
}

// Post sends env without blocking on readiness. A ready channel is written
// at once, keeping order with other posts; otherwise the send is retried in
// the background and failures go to OnError.
func (d *Dispatcher) Post(ctx context.Context, kind channel.Kind, c envelope.Context, t envelope.Type, data any) {
	env, err := envelope.New(c, t, data)
	if err != nil {
		d.fail(kind, env, err)
		return
	}

	if d.w.Ready(kind) {
		b, err := env.Encode()
		if err != nil {
			d.fail(kind, env, err)
			return
		}
		err = d.w.Write(ctx, kind, b)
		if err == nil {
			d.logger.Debug("sent", "channel", kind.String(), "context", env.Context, "type", env.Type)
			return
		}
		if !errors.Is(err, channel.ErrNotOpen) {
			d.fail(kind, env, err)
			return
		}
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.send(ctx, kind, env); err != nil {
			d.fail(kind, env, err)
		}
	}()
}

// Wait blocks until every background send has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) send(ctx context.Context, kind channel.Kind, env envelope.Envelope) error {
	b, err := env.Encode()
	if err != nil {
		return err
	}

	done := d.w.Done(kind)
	lctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-done:
			cancel()
		case <-lctx.Done():
		}
	}()

	log := d.logger.With("channel", kind.String(), "context", env.Context, "type", env.Type)
	bo := backoff.NewBackoff("send", func(format string, args ...any) {
		log.Debug(fmt.Sprintf(format, args...))
	}, d.maxBackoff)

	for attempt := 1; ; attempt++ {
		if d.w.Ready(kind) {
			err := d.w.Write(lctx, kind, b)
			if err == nil {
				if attempt > 1 {
					log.Debug("sent after retry", "attempt", attempt)
				} else {
					log.Debug("sent")
				}
				return nil
			}
			if !errors.Is(err, channel.ErrNotOpen) {
				return err
			}
		}

		select {
		case <-done:
			return fmt.Errorf("%w: %s", ErrChannelClosed, kind)
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if attempt >= d.maxAttempts {
			return fmt.Errorf("%w: %s after %d attempts", ErrRetriesExhausted, env, attempt)
		}
		bo.BackOff(lctx, errNotReady)
	}
}

func (d *Dispatcher) fail(kind channel.Kind, env envelope.Envelope, err error) {
	d.logger.Warn("send failed", "channel", kind.String(), "context", env.Context, "type", env.Type, "error", err)
	if d.onError != nil {
		d.onError(kind, env, err)
	}
}
