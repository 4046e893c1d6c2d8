package ws

import (
	"context"

	"callbridge-backend/internal/callreq"
)

// PumpEvents forwards change-feed events to the parties' sockets until ctx
// is canceled or the channel closes. Insert events reach the recipient only;
// update events reach both parties, so a requester learns about an accept
// and a recipient's other devices learn about a cancel.
func (m *Manager) PumpEvents(ctx context.Context, events <-chan callreq.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.dispatch(ev)
		}
	}
}

func (m *Manager) dispatch(ev callreq.Event) {
	env := Envelope{
		Type:      envelopeType(ev),
		RequestID: ev.Request.ID,
		Payload: map[string]any{
			"callRequest": ev.Request,
		},
	}

	switch ev.Kind {
	case callreq.EventInsert:
		m.SendToUser(ev.Request.RecipientID, env)
	case callreq.EventUpdate:
		m.SendToUsers([]string{ev.Request.RequesterID, ev.Request.RecipientID}, env)
	}
}

func envelopeType(ev callreq.Event) string {
	if ev.Kind == callreq.EventInsert {
		return "call_request.incoming"
	}
	return "call_request." + ev.Request.Status
}
