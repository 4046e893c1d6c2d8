package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"callbridge-backend/internal/callreq"
)

type createCallRequestRequest struct {
	RecipientID    string            `json:"recipientId"`
	CallType       string            `json:"callType"`
	TimeoutSeconds int               `json:"timeoutSeconds,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type callRequestResponse struct {
	CallRequest callreq.CallRequest `json:"callRequest"`
	RemainingMs int64               `json:"remainingMs"`
}

type listCallRequestsResponse struct {
	CallRequests []callreq.CallRequest `json:"callRequests"`
}

func (api *v1API) handleCallRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
		return
	}
	api.handleCreateCallRequest(w, r)
}

func (api *v1API) handleCallRequestSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/call-requests/")
	parts := splitPath(rest)

	switch len(parts) {
	case 1:
		if parts[0] == "pending" {
			if r.Method != http.MethodGet {
				writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
				return
			}
			api.handleListPendingCallRequests(w, r)
			return
		}
		if r.Method != http.MethodGet {
			writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
			return
		}
		api.handleGetCallRequest(w, r, parts[0])
	case 2:
		if r.Method != http.MethodPost {
			writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
			return
		}
		requestID := parts[0]
		switch parts[1] {
		case "accept":
			api.handleResolveCallRequest(w, r, requestID, api.coordinator.Accept)
		case "reject":
			api.handleResolveCallRequest(w, r, requestID, api.coordinator.Reject)
		case "cancel":
			api.handleResolveCallRequest(w, r, requestID, api.coordinator.Cancel)
		default:
			writeAPIError(w, ErrCodeNotFound, "not found")
		}
	default:
		writeAPIError(w, ErrCodeNotFound, "not found")
	}
}

func (api *v1API) handleCreateCallRequest(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		writeAPIError(w, ErrCodeTokenInvalid, "authentication required")
		return
	}

	var req createCallRequestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAPIError(w, ErrCodeValidation, "invalid JSON body")
		return
	}

	created, err := api.coordinator.Create(r.Context(), userID, callreq.CreateParams{
		RecipientID:    strings.TrimSpace(req.RecipientID),
		CallType:       strings.TrimSpace(req.CallType),
		TimeoutSeconds: req.TimeoutSeconds,
		Metadata:       req.Metadata,
	})
	if err != nil {
		api.writeCallRequestError(w, err, "create call request failed")
		return
	}

	writeJSON(w, http.StatusOK, callRequestResponse{
		CallRequest: created,
		RemainingMs: created.RemainingMs(time.Now().UnixMilli()),
	})
}

func (api *v1API) handleResolveCallRequest(w http.ResponseWriter, r *http.Request, requestID string, op func(ctx context.Context, userID, requestID string) (callreq.CallRequest, error)) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		writeAPIError(w, ErrCodeTokenInvalid, "authentication required")
		return
	}

	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		writeAPIError(w, ErrCodeValidation, "invalid requestId")
		return
	}

	resolved, err := op(r.Context(), userID, requestID)
	if err != nil {
		api.writeCallRequestError(w, err, "resolve call request failed")
		return
	}

	writeJSON(w, http.StatusOK, callRequestResponse{
		CallRequest: resolved,
		RemainingMs: resolved.RemainingMs(time.Now().UnixMilli()),
	})
}

func (api *v1API) handleGetCallRequest(w http.ResponseWriter, r *http.Request, requestID string) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		writeAPIError(w, ErrCodeTokenInvalid, "authentication required")
		return
	}

	req, err := api.coordinator.GetByID(r.Context(), userID, strings.TrimSpace(requestID))
	if err != nil {
		api.writeCallRequestError(w, err, "get call request failed")
		return
	}

	writeJSON(w, http.StatusOK, callRequestResponse{
		CallRequest: req,
		RemainingMs: req.RemainingMs(time.Now().UnixMilli()),
	})
}

func (api *v1API) handleListPendingCallRequests(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		writeAPIError(w, ErrCodeTokenInvalid, "authentication required")
		return
	}

	reqs, err := api.coordinator.ListPending(r.Context(), userID)
	if err != nil {
		api.writeCallRequestError(w, err, "list pending call requests failed")
		return
	}

	writeJSON(w, http.StatusOK, listCallRequestsResponse{CallRequests: reqs})
}

func (api *v1API) writeCallRequestError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, callreq.ErrUnauthenticated):
		writeAPIError(w, ErrCodeTokenInvalid, "authentication required")
	case errors.Is(err, callreq.ErrInvalidArgument):
		writeAPIError(w, ErrCodeValidation, err.Error())
	case errors.Is(err, callreq.ErrNotFound):
		writeAPIError(w, ErrCodeCallRequestNotFound, "call request not found")
	case errors.Is(err, callreq.ErrAccessDenied):
		writeAPIError(w, ErrCodeCallRequestAccessDenied, "access denied")
	case errors.Is(err, callreq.ErrAlreadyResolved):
		writeAPIError(w, ErrCodeCallRequestAlreadyResolved, "call request already resolved")
	case errors.Is(err, callreq.ErrStoreUnavailable):
		api.logger.Error(logMsg, "error", err)
		writeAPIError(w, ErrCodeStoreUnavailable, "store unavailable")
	default:
		api.logger.Error(logMsg, "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
	}
}
