package reconcile

import (
	"context"

	"callbridge-backend/internal/callreq"
)

// Coordinator is the identity-taking surface CoordinatorClient curries.
// *callreq.Coordinator satisfies it.
type Coordinator interface {
	ListPending(ctx context.Context, userID string) ([]callreq.CallRequest, error)
	GetByID(ctx context.Context, userID, requestID string) (callreq.CallRequest, error)
	Cancel(ctx context.Context, userID, requestID string) (callreq.CallRequest, error)
}

// CoordinatorClient binds a coordinator to one party's identity so it
// satisfies Client for in-process reconciliation.
type CoordinatorClient struct {
	coordinator Coordinator
	selfID      string
}

func NewCoordinatorClient(coordinator Coordinator, selfID string) *CoordinatorClient {
	return &CoordinatorClient{coordinator: coordinator, selfID: selfID}
}

func (c *CoordinatorClient) ListPending(ctx context.Context) ([]callreq.CallRequest, error) {
	return c.coordinator.ListPending(ctx, c.selfID)
}

func (c *CoordinatorClient) GetByID(ctx context.Context, requestID string) (callreq.CallRequest, error) {
	return c.coordinator.GetByID(ctx, c.selfID, requestID)
}

func (c *CoordinatorClient) Cancel(ctx context.Context, requestID string) (callreq.CallRequest, error) {
	return c.coordinator.Cancel(ctx, c.selfID, requestID)
}
