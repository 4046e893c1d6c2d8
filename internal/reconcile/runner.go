package reconcile

import (
	"context"
	"errors"
	"time"

	"log/slog"

	"callbridge-backend/internal/callreq"
)

const (
	// DefaultPollInterval paces the pending-list backstop pull.
	DefaultPollInterval = 5 * time.Second
	// DefaultAcceptPollInterval paces the faster poll on the outstanding
	// request, so an accept is noticed sooner than the general backstop
	// would notice it.
	DefaultAcceptPollInterval = 1500 * time.Millisecond
)

// Client is the coordinator surface a reconciling party calls, bound to that
// party's identity.
type Client interface {
	ListPending(ctx context.Context) ([]callreq.CallRequest, error)
	GetByID(ctx context.Context, requestID string) (callreq.CallRequest, error)
	Cancel(ctx context.Context, requestID string) (callreq.CallRequest, error)
}

// Runner merges the push feed and the polling backstops into a single View.
// Push is for latency; the pulls are for correctness when push delivery gaps.
type Runner struct {
	logger *slog.Logger
	view   *View
	client Client
	events <-chan callreq.Event

	pollInterval       time.Duration
	acceptPollInterval time.Duration
}

func NewRunner(logger *slog.Logger, view *View, client Client, events <-chan callreq.Event) *Runner {
	return &Runner{
		logger:             logger.With("component", "reconcile"),
		view:               view,
		client:             client,
		events:             events,
		pollInterval:       DefaultPollInterval,
		acceptPollInterval: DefaultAcceptPollInterval,
	}
}

// Run blocks until ctx is canceled.
func (r *Runner) Run(ctx context.Context) {
	pollTicker := time.NewTicker(r.pollInterval)
	defer pollTicker.Stop()
	acceptTicker := time.NewTicker(r.acceptPollInterval)
	defer acceptTicker.Stop()

	events := r.events
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			r.view.ApplyEvent(ev)

		case <-pollTicker.C:
			r.pollPending(ctx)

		case <-acceptTicker.C:
			r.pollOutstanding(ctx)
		}
	}
}

func (r *Runner) pollPending(ctx context.Context) {
	list, err := r.client.ListPending(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.Debug("pending poll failed", "error", err)
		return
	}
	r.view.ReconcilePending(list)
}

func (r *Runner) pollOutstanding(ctx context.Context) {
	outstanding, ok := r.view.Outstanding()
	if !ok {
		return
	}

	req, err := r.client.GetByID(ctx, outstanding.ID)
	if err != nil {
		if errors.Is(err, callreq.ErrNotFound) {
			r.view.Drop(outstanding.ID)
			return
		}
		if ctx.Err() != nil {
			return
		}
		r.logger.Debug("outstanding poll failed", "error", err, "requestId", outstanding.ID)
		return
	}

	if req.Terminal() {
		r.view.ApplyUpdate(req)
	}
}

// Cancel withdraws this party's outstanding request. The local view drops
// the request even when the write fails; a later sweep or reconciliation
// pull corrects any divergence.
func (r *Runner) Cancel(ctx context.Context, requestID string) error {
	_, err := r.client.Cancel(ctx, requestID)
	r.view.Drop(requestID)
	if err != nil && !errors.Is(err, callreq.ErrAlreadyResolved) {
		return err
	}
	return nil
}
