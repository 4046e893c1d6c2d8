package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"log/slog"

	"callbridge-backend/internal/callreq"
	"callbridge-backend/internal/storage"
)

const deliverTimeout = 5 * time.Second

// Store is the slice of the record store the side-channel writes through.
type Store interface {
	InsertNotification(ctx context.Context, recipientID, actorID, kind, title string, metaJSON []byte, nowMs int64) (storage.NotificationRow, error)
	InsertNotificationPrivileged(ctx context.Context, recipientID, actorID, kind, title string, metaJSON []byte, nowMs int64) (storage.NotificationRow, error)
}

// Notifier delivers the best-effort alert for a new call request through a
// three-tier fallback ladder:
//
//  1. privileged insert that bypasses the recipient's write ACL,
//  2. direct insert as the requester, subject to the ACL,
//  3. direct insert with the structured metadata dropped, in case the
//     failure was a payload-shape problem rather than access control.
//
// Total failure is logged and never surfaces to the caller of Create; the
// call request itself is the only write with transactional significance.
type Notifier struct {
	logger     *slog.Logger
	store      Store
	privileged bool
	timeout    time.Duration
	now        func() time.Time
}

// New builds a Notifier. privileged declares whether the elevated-privilege
// insert path is available in this deployment; without it tier 1 is skipped.
func New(logger *slog.Logger, store Store, privileged bool) *Notifier {
	return &Notifier{
		logger:     logger.With("component", "notify"),
		store:      store,
		privileged: privileged,
		timeout:    deliverTimeout,
		now:        time.Now,
	}
}

// Deliver runs the fallback ladder within its own deadline. It is safe to
// call from a bare goroutine; it never panics on a nil receiver field and
// never returns an error.
func (n *Notifier) Deliver(req callreq.CallRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	title := "Incoming audio call"
	if req.CallType == storage.CallTypeVideo {
		title = "Incoming video call"
	}

	metaJSON := notificationMeta(req)
	nowMs := n.now().UnixMilli()

	// Tier 1: elevated-privilege path.
	if n.privileged {
		_, err := n.store.InsertNotificationPrivileged(ctx, req.RecipientID, req.RequesterID, storage.NotificationKindCallRequest, title, metaJSON, nowMs)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			n.logger.Warn("notification delivery abandoned", "requestId", req.ID, "error", ctx.Err())
			return
		}
		n.logger.Debug("privileged notification insert failed", "requestId", req.ID, "error", err)
	}

	// Tier 2: ordinary insert under the recipient's write ACL.
	_, err := n.store.InsertNotification(ctx, req.RecipientID, req.RequesterID, storage.NotificationKindCallRequest, title, metaJSON, nowMs)
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		n.logger.Warn("notification delivery abandoned", "requestId", req.ID, "error", ctx.Err())
		return
	}
	if errors.Is(err, storage.ErrInsertForbidden) {
		// The recipient's list forbids third-party inserts; a reduced
		// payload cannot change that outcome.
		n.logger.Info("notification insert forbidden by recipient", "requestId", req.ID, "recipientId", req.RecipientID)
		return
	}
	n.logger.Debug("direct notification insert failed", "requestId", req.ID, "error", err)

	// Tier 3: reduced payload, in case the failure was payload shape.
	_, err = n.store.InsertNotification(ctx, req.RecipientID, req.RequesterID, storage.NotificationKindCallRequest, title, nil, nowMs)
	if err != nil {
		n.logger.Warn("notification delivery failed on all tiers", "requestId", req.ID, "recipientId", req.RecipientID, "error", err)
	}
}

func notificationMeta(req callreq.CallRequest) []byte {
	meta := map[string]any{
		"requestId":   req.ID,
		"requesterId": req.RequesterID,
		"callType":    req.CallType,
		"expiresAtMs": req.ExpiresAtMs,
	}
	if len(req.Metadata) > 0 {
		meta["metadata"] = req.Metadata
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	return b
}
