package storage

import "errors"

const (
	CallTypeVideo = "video"
	CallTypeAudio = "audio"
)

const (
	CallRequestStatusPending  = "pending"
	CallRequestStatusAccepted = "accepted"
	CallRequestStatusRejected = "rejected"
	CallRequestStatusExpired  = "expired"
	CallRequestStatusCanceled = "canceled"
)

const NotificationKindCallRequest = "call_request"

var (
	ErrNotFound        = errors.New("not found")
	ErrUsernameExists  = errors.New("username exists")
	ErrCannotCallSelf  = errors.New("cannot call self")
	ErrAccessDenied    = errors.New("access denied")
	ErrTokenInvalid    = errors.New("token invalid")
	ErrTokenExpired    = errors.New("token expired")
	ErrAlreadyResolved = errors.New("already resolved")
	ErrInsertForbidden = errors.New("notification inserts forbidden")
	ErrPayloadInvalid  = errors.New("notification payload invalid")
)

// IsTerminalCallRequestStatus reports whether no further transition is
// permitted from status.
func IsTerminalCallRequestStatus(status string) bool {
	switch status {
	case CallRequestStatusAccepted, CallRequestStatusRejected,
		CallRequestStatusExpired, CallRequestStatusCanceled:
		return true
	}
	return false
}

type UserRow struct {
	ID                 string
	Username           string
	PasswordHash       string
	DisplayName        string
	AllowNotifyInserts bool
	CreatedAtMs        int64
	UpdatedAtMs        int64
}

type AuthTokenRow struct {
	Token       string
	UserID      string
	DeviceInfo  *string
	CreatedAtMs int64
	ExpiresAtMs int64
}

type CallRequestRow struct {
	ID           string
	RequesterID  string
	RecipientID  string
	CallType     string
	Status       string
	CreatedAtMs  int64
	ExpiresAtMs  int64
	AcceptedAtMs *int64
	RejectedAtMs *int64
	CanceledAtMs *int64
	MetadataJSON []byte
}

type NotificationRow struct {
	ID          string
	RecipientID string
	ActorID     string
	Kind        string
	Title       string
	MetaJSON    []byte
	CreatedAtMs int64
}
