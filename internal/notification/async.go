package notification

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"changeflow/pkg/requestcontext"
)

const defaultNotifyTimeout = 10 * time.Second

// Async sends notifications on background goroutines after the caller's transaction has
// committed. Send never blocks on delivery and never returns an error: failures are
// logged and counted.
type Async struct {
	dispatcher Dispatcher
	logger     *slog.Logger
	metrics    *Metrics
	timeout    time.Duration
	wg         sync.WaitGroup
}

type AsyncOption func(*Async)

func WithLogger(logger *slog.Logger) AsyncOption {
	return func(a *Async) {
		a.logger = logger
	}
}

func WithMetrics(m *Metrics) AsyncOption {
	return func(a *Async) {
		a.metrics = m
	}
}

// WithTimeout bounds each delivery attempt.
func WithTimeout(d time.Duration) AsyncOption {
	return func(a *Async) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func NewAsync(dispatcher Dispatcher, opts ...AsyncOption) *Async {
	a := &Async{
		dispatcher: dispatcher,
		logger:     slog.Default(),
		timeout:    defaultNotifyTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Send dispatches n in the background. The request's cancellation does not reach the
// dispatch, but its values (request id) do.
func (a *Async) Send(ctx context.Context, n Notification) {
	if a == nil || a.dispatcher == nil {
		return
	}
	if n.RequestID == "" {
		n.RequestID = requestcontext.RequestID(ctx)
	}
	detached := requestcontext.Detach(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				a.metrics.IncFailure(n.Kind)
				a.logger.ErrorContext(detached, "notification dispatcher panicked",
					"kind", n.Kind,
					"cr_number", n.ChangeRequest.CRNumber,
					"panic", r,
				)
			}
		}()

		dctx, cancel := context.WithTimeout(detached, a.timeout)
		defer cancel()

		start := time.Now()
		err := a.dispatcher.Notify(dctx, n)
		a.metrics.ObserveDispatch(time.Since(start).Seconds())
		if err != nil {
			a.metrics.IncFailure(n.Kind)
			a.logger.WarnContext(dctx, "notification dispatch failed",
				"kind", n.Kind,
				"cr_number", n.ChangeRequest.CRNumber,
				"request_id", n.RequestID,
				"error", err,
			)
			return
		}
		a.metrics.IncDispatched(n.Kind)
	}()
}

// Wait blocks until every in-flight Send has finished. Used on shutdown and in tests.
func (a *Async) Wait() {
	if a == nil {
		return
	}
	a.wg.Wait()
}
