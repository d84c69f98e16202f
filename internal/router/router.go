// ABOUTME: Message router dispatching inbound envelopes through the routing table
// ABOUTME: Maps unknown pairs and handler failures to user notifications, never to errors

package router

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/2389/cardea-console/internal/barrier"
	"github.com/2389/cardea-console/internal/envelope"
	"github.com/2389/cardea-console/internal/model"
	"github.com/2389/cardea-console/internal/state"
)

// Options configures a Router.
type Options struct {
	// Table defaults to DefaultTable.
	Table   Table
	Store   *state.Store
	Barrier *barrier.Barrier
	Notify  func(state.Notification)
	// OnTheme receives every theme the controller pushes so it can be
	// persisted for the next start.
	OnTheme func(model.Theme)
	Logger  *slog.Logger
}

// Router performs no I/O of its own; it only invokes the mapped action.
type Router struct {
	table   Table
	store   *state.Store
	barrier *barrier.Barrier
	notify  func(state.Notification)
	onTheme func(model.Theme)
	logger  *slog.Logger
}

// New creates a router.
func New(opts Options) *Router {
	if opts.Table == nil {
		opts.Table = DefaultTable()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Notify == nil {
		opts.Notify = func(state.Notification) {}
	}
	return &Router{
		table:   opts.Table,
		store:   opts.Store,
		barrier: opts.Barrier,
		notify:  opts.Notify,
		onTheme: opts.OnTheme,
		logger:  opts.Logger.With("component", "router"),
	}
}

// Dispatch handles one inbound envelope fully. It reports whether a route
// handled the envelope successfully.
func (r *Router) Dispatch(env envelope.Envelope) (handled bool) {
	log := r.logger.With("context", env.Context, "type", env.Type)

	defer func() {
		if p := recover(); p != nil {
			log.Error("route panicked", "panic", p)
			r.notify(state.ClientError())
			handled = false
		}
	}()

	route, ok, contextKnown := r.table.Lookup(env.Context, env.Type)
	if !ok {
		name := string(env.Type)
		if !contextKnown {
			name = string(env.Context)
		}
		log.Warn("unrecognized message")
		r.notify(state.Unrecognized(name))
		return false
	}

	if err := r.apply(route, env.Data); err != nil {
		log.Warn("route failed", "kind", route.Kind.String(), "error", err)
		r.notify(state.ClientError())
		return false
	}

	if env.Context == envelope.ContextSettings && env.Type == envelope.TypeSettingsTheme && r.onTheme != nil {
		r.onTheme(r.store.Snapshot().Theme)
	}

	log.Debug("message routed", "kind", route.Kind.String())
	return true
}

func (r *Router) apply(route Route, data json.RawMessage) error {
	switch route.Kind {
	case Notify:
		if route.Message == nil {
			return fmt.Errorf("notify route without message")
		}
		n, err := route.Message(data)
		if err != nil {
			return err
		}
		r.notify(n)
		return nil

	case ClearBarrier:
		if err := route.Apply(r.store, data); err != nil {
			return err
		}
		if r.barrier != nil {
			r.barrier.ClearAll()
		}
		return nil

	case ErrorSurface:
		return route.Apply(r.store, data)

	case Assign, Reconcile:
		if err := route.Apply(r.store, data); err != nil {
			return err
		}
		if route.Resolves != "" && r.barrier != nil {
			r.barrier.Resolve(route.Resolves)
		}
		return nil

	default:
		return fmt.Errorf("unknown route kind %s", route.Kind)
	}
}
