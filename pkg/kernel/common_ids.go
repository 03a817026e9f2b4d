package kernel

import "github.com/google/uuid"

// UserID, TenantID and ClientID are newtype wrappers over opaque identifiers.
// They are never interchangeable at compile time even though all three are
// strings under the hood, mirroring 128-bit identifiers serialized as
// canonical hex.
type UserID string

func NewUserID(id string) UserID { return UserID(id) }
func GenerateUserID() UserID     { return UserID(uuid.NewString()) }
func (u UserID) String() string  { return string(u) }
func (u UserID) IsEmpty() bool   { return string(u) == "" }

type TenantID string

func NewTenantID(id string) TenantID { return TenantID(id) }
func GenerateTenantID() TenantID     { return TenantID(uuid.NewString()) }
func (t TenantID) String() string    { return string(t) }
func (t TenantID) IsEmpty() bool     { return string(t) == "" }

// ClientID is an opaque string chosen by the OAuth2 authorization server,
// not necessarily a UUID (RFC 6749 leaves the format to the AS).
type ClientID string

func NewClientID(id string) ClientID { return ClientID(id) }
func (c ClientID) String() string    { return string(c) }
func (c ClientID) IsEmpty() bool     { return string(c) == "" }

// NotificationKind enumerates the lifecycle events that can be fanned out
// over a user's notification stream. Lives here rather than in
// internal/oauth2client or internal/sse so neither package has to import
// the other to agree on the wire vocabulary.
type NotificationKind string

const (
	NotificationConnected     NotificationKind = "provider_connected"
	NotificationConnectFailed NotificationKind = "provider_connect_failed"
	NotificationRefreshFailed NotificationKind = "provider_refresh_failed"
	NotificationDisconnected  NotificationKind = "provider_disconnected"
)
