package reconcile

import (
	"sync"

	"callbridge-backend/internal/callreq"
	"callbridge-backend/internal/storage"
)

// Callbacks are the UI-facing hooks. They are invoked outside the view's
// lock, in the goroutine that applied the change.
type Callbacks struct {
	// OnIncoming fires when a new pending request addressed to this party
	// becomes visible, via push or pull.
	OnIncoming func(callreq.CallRequest)
	// OnResolved fires when a held request leaves the pending set for any
	// terminal reason other than expiry, or when the tracked outstanding
	// request resolves without being accepted.
	OnResolved func(callreq.CallRequest)
	// OnAccepted fires when the tracked outstanding request is accepted;
	// the latency-sensitive hook that drives joining a live session.
	OnAccepted func(callreq.CallRequest)
	// OnExpired fires when a held request expires.
	OnExpired func(callreq.CallRequest)
}

// View is one party's local picture of "requests pending for me" plus the
// single outstanding request they are waiting on. It is advisory and
// self-correcting: the record store stays authoritative, and the view
// converges on it through events and reconciliation pulls.
type View struct {
	selfID string
	cb     Callbacks

	mu          sync.Mutex
	order       []string
	pending     map[string]callreq.CallRequest
	outstanding *callreq.CallRequest
}

func NewView(selfID string, cb Callbacks) *View {
	return &View{
		selfID:  selfID,
		cb:      cb,
		pending: make(map[string]callreq.CallRequest),
	}
}

func (v *View) ApplyEvent(ev callreq.Event) {
	switch ev.Kind {
	case callreq.EventInsert:
		v.applyInsert(ev.Request)
	case callreq.EventUpdate:
		v.ApplyUpdate(ev.Request)
	}
}

func (v *View) applyInsert(req callreq.CallRequest) {
	if req.RecipientID != v.selfID {
		return
	}
	// Under adverse delivery an already-terminal row can arrive before (or
	// instead of) its pending snapshot; the latest status wins.
	if req.Terminal() {
		v.ApplyUpdate(req)
		return
	}

	v.mu.Lock()
	if _, ok := v.pending[req.ID]; ok {
		// Push and pull can independently observe the same new row.
		v.mu.Unlock()
		return
	}
	v.pending[req.ID] = req
	v.order = append([]string{req.ID}, v.order...)
	v.mu.Unlock()

	if v.cb.OnIncoming != nil {
		v.cb.OnIncoming(req)
	}
}

func (v *View) ApplyUpdate(req callreq.CallRequest) {
	if !req.Terminal() {
		return
	}

	v.mu.Lock()
	_, held := v.pending[req.ID]
	if held {
		v.removeLocked(req.ID)
	}

	var wasOutstanding bool
	if v.outstanding != nil && v.outstanding.ID == req.ID {
		wasOutstanding = true
		v.outstanding = nil
	}
	v.mu.Unlock()

	if wasOutstanding {
		if req.Status == storage.CallRequestStatusAccepted {
			if v.cb.OnAccepted != nil {
				v.cb.OnAccepted(req)
			}
		} else if v.cb.OnResolved != nil {
			v.cb.OnResolved(req)
		}
		return
	}

	if held {
		if req.Status == storage.CallRequestStatusExpired {
			if v.cb.OnExpired != nil {
				v.cb.OnExpired(req)
			}
		} else if v.cb.OnResolved != nil {
			v.cb.OnResolved(req)
		}
	}
}

// ReconcilePending replaces the advisory picture with the store's answer:
// unseen requests are added, locally held requests the store no longer
// reports are dropped. This is the pull backstop that corrects events missed
// while the push path was down.
func (v *View) ReconcilePending(list []callreq.CallRequest) {
	current := make(map[string]callreq.CallRequest, len(list))
	for _, req := range list {
		current[req.ID] = req
	}

	var added, removed []callreq.CallRequest

	v.mu.Lock()
	for id := range v.pending {
		if _, ok := current[id]; !ok {
			removed = append(removed, v.pending[id])
			v.removeLocked(id)
		}
	}
	// Walk the store's order backwards so the newest entry ends up first.
	for i := len(list) - 1; i >= 0; i-- {
		req := list[i]
		if req.RecipientID != v.selfID || req.Terminal() {
			continue
		}
		if _, ok := v.pending[req.ID]; ok {
			continue
		}
		v.pending[req.ID] = req
		v.order = append([]string{req.ID}, v.order...)
		added = append(added, req)
	}
	v.mu.Unlock()

	for _, req := range removed {
		// The terminal event was missed; the final status is unknown here.
		if v.cb.OnResolved != nil {
			v.cb.OnResolved(req)
		}
	}
	for _, req := range added {
		if v.cb.OnIncoming != nil {
			v.cb.OnIncoming(req)
		}
	}
}

// Pending returns the held requests, newest first.
func (v *View) Pending() []callreq.CallRequest {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]callreq.CallRequest, 0, len(v.order))
	for _, id := range v.order {
		if req, ok := v.pending[id]; ok {
			out = append(out, req)
		}
	}
	return out
}

// SetOutstanding tracks the request this party created and is waiting on.
func (v *View) SetOutstanding(req callreq.CallRequest) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.outstanding = &req
}

func (v *View) Outstanding() (callreq.CallRequest, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.outstanding == nil {
		return callreq.CallRequest{}, false
	}
	return *v.outstanding, true
}

// Drop removes a request from the local view without firing callbacks.
// Used by the optimistic cancel path.
func (v *View) Drop(requestID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.removeLocked(requestID)
	if v.outstanding != nil && v.outstanding.ID == requestID {
		v.outstanding = nil
	}
}

func (v *View) removeLocked(requestID string) {
	if _, ok := v.pending[requestID]; !ok {
		return
	}
	delete(v.pending, requestID)
	for i, id := range v.order {
		if id == requestID {
			v.order = append(v.order[:i], v.order[i+1:]...)
			break
		}
	}
}
