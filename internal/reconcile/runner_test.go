package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"callbridge-backend/internal/callreq"
)

type fakeClient struct {
	mu        sync.Mutex
	pending   []callreq.CallRequest
	byID      map[string]callreq.CallRequest
	cancelErr error
	canceled  []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{byID: map[string]callreq.CallRequest{}}
}

func (c *fakeClient) ListPending(ctx context.Context) ([]callreq.CallRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]callreq.CallRequest(nil), c.pending...), nil
}

func (c *fakeClient) GetByID(ctx context.Context, requestID string) (callreq.CallRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.byID[requestID]
	if !ok {
		return callreq.CallRequest{}, callreq.ErrNotFound
	}
	return req, nil
}

func (c *fakeClient) Cancel(ctx context.Context, requestID string) (callreq.CallRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.canceled = append(c.canceled, requestID)
	if c.cancelErr != nil {
		return callreq.CallRequest{}, c.cancelErr
	}
	return terminalReq(requestID, "bob", "canceled"), nil
}

func (c *fakeClient) set(req callreq.CallRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[req.ID] = req
}

func runnerLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func TestRunnerAppliesPushEvents(t *testing.T) {
	log := &callbackLog{}
	v := NewView("bob", log.callbacks())
	events := make(chan callreq.Event, 1)
	r := NewRunner(runnerLogger(), v, newFakeClient(), events)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	events <- callreq.Event{Kind: callreq.EventInsert, Request: pendingReq("r1", "bob")}

	deadline := time.After(2 * time.Second)
	for len(v.Pending()) == 0 {
		select {
		case <-deadline:
			t.Fatal("Push event never reached the view")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestRunnerPollBackstopFindsMissedRequests(t *testing.T) {
	log := &callbackLog{}
	v := NewView("bob", log.callbacks())
	client := newFakeClient()
	client.pending = []callreq.CallRequest{pendingReq("missed", "bob")}

	// Closed event channel simulates a dead push path; only polling remains.
	events := make(chan callreq.Event)
	close(events)

	r := NewRunner(runnerLogger(), v, client, events)
	r.pollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for len(v.Pending()) == 0 {
		select {
		case <-deadline:
			t.Fatal("Poll backstop never surfaced the missed request")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestRunnerOutstandingPollNoticesAccept(t *testing.T) {
	log := &callbackLog{}
	v := NewView("alice", log.callbacks())
	client := newFakeClient()

	out := pendingReq("r1", "bob")
	v.SetOutstanding(out)
	client.set(out)

	r := NewRunner(runnerLogger(), v, client, make(chan callreq.Event))
	r.acceptPollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	// The recipient accepts on the server while push delivery is gapped.
	client.set(terminalReq("r1", "bob", "accepted"))

	deadline := time.After(2 * time.Second)
	for {
		log.mu.Lock()
		accepted := len(log.accepted)
		log.mu.Unlock()
		if accepted == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Accept was never noticed by the outstanding poll")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestRunnerCancelIsOptimistic(t *testing.T) {
	log := &callbackLog{}
	v := NewView("alice", log.callbacks())
	client := newFakeClient()
	r := NewRunner(runnerLogger(), v, client, make(chan callreq.Event))

	v.SetOutstanding(pendingReq("r1", "bob"))
	if err := r.Cancel(context.Background(), "r1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := v.Outstanding(); ok {
		t.Error("Cancel must drop the outstanding request")
	}

	// Losing the race to accept is not an error for the canceling party.
	v.SetOutstanding(pendingReq("r2", "bob"))
	client.cancelErr = callreq.ErrAlreadyResolved
	if err := r.Cancel(context.Background(), "r2"); err != nil {
		t.Errorf("Already-resolved cancel must be silent, got %v", err)
	}
	if _, ok := v.Outstanding(); ok {
		t.Error("View must drop the request even when the race was lost")
	}

	// A hard failure still drops locally but is reported.
	v.SetOutstanding(pendingReq("r3", "bob"))
	client.cancelErr = errors.New("store down")
	if err := r.Cancel(context.Background(), "r3"); err == nil {
		t.Error("Expected the store failure to be reported")
	}
	if _, ok := v.Outstanding(); ok {
		t.Error("View must drop the request even on write failure")
	}
}
