// Package oauth2client brokers OAuth2 against downstream fitness
// providers (Strava, Fitbit, etc.) on behalf of Pierre's users, storing
// encrypted refresh tokens scoped by (user, tenant, provider) and
// single-flighting concurrent refreshes for the same key. Grounded on
// pkg/iam/auth/jwt_service.go's HMAC-signing idiom for the OAuth state
// parameter and on golang.org/x/oauth2 (already present in the retrieved
// pack's dependency graph via mansoorceksport-metamorph and
// rakunlabs-at) for the exchange/refresh plumbing itself.
package oauth2client

// ProviderDescriptor is the static, per-provider configuration: OAuth
// endpoints, API base URL, default scopes and capability flags. Per-tenant
// client_id/client_secret are NOT here — those live in provider_credentials,
// looked up at request time, enabling customer-owned OAuth apps.
type ProviderDescriptor struct {
	Name           string
	AuthURL        string
	TokenURL       string
	RevokeURL      string // empty if the provider has no revoke endpoint
	APIBaseURL     string
	DefaultScopes  []string
	SupportsRevoke bool
}

// Registry is the static tool_name-style lookup table of supported
// providers, mirroring ToolRegistry's "static mapping" shape at §4.7.
type Registry struct {
	descriptors map[string]ProviderDescriptor
}

func NewRegistry() *Registry {
	return &Registry{descriptors: map[string]ProviderDescriptor{
		"strava": {
			Name:           "strava",
			AuthURL:        "https://www.strava.com/oauth/authorize",
			TokenURL:       "https://www.strava.com/oauth/token",
			RevokeURL:      "https://www.strava.com/oauth/deauthorize",
			APIBaseURL:     "https://www.strava.com/api/v3",
			DefaultScopes:  []string{"read", "activity:read_all"},
			SupportsRevoke: true,
		},
		"fitbit": {
			Name:          "fitbit",
			AuthURL:       "https://www.fitbit.com/oauth2/authorize",
			TokenURL:      "https://api.fitbit.com/oauth2/token",
			RevokeURL:     "https://api.fitbit.com/oauth2/revoke",
			APIBaseURL:    "https://api.fitbit.com",
			DefaultScopes: []string{"activity", "sleep", "heartrate"},
			SupportsRevoke: true,
		},
		"oura": {
			Name:          "oura",
			AuthURL:       "https://cloud.ouraring.com/oauth/authorize",
			TokenURL:      "https://api.ouraring.com/oauth/token",
			APIBaseURL:    "https://api.ouraring.com/v2",
			DefaultScopes: []string{"daily", "heartrate"},
		},
	}}
}

func (r *Registry) Get(name string) (ProviderDescriptor, bool) {
	d, ok := r.descriptors[name]
	return d, ok
}

func (r *Registry) Register(d ProviderDescriptor) { r.descriptors[d.Name] = d }
