// Package oauth2server implements Pierre's own OAuth2 authorization server
// (RFC 6749 + RFC 7591 dynamic client registration + RFC 7636 PKCE),
// grounded on original_source/src/oauth2_server/models.rs for the exact
// request/response/error shapes and on pkg/iam/auth's Fiber
// Handlers.RegisterRoutes idiom for route wiring.
package oauth2server

import "time"

// GrantType and ResponseType enumerate RFC 6749 values this AS supports.
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantClientCredentials GrantType = "client_credentials"
	GrantRefreshToken      GrantType = "refresh_token"
	GrantPassword          GrantType = "password" // ROPC, first-party only
)

type ResponseType string

const ResponseTypeCode ResponseType = "code"

type CodeChallengeMethod string

const (
	ChallengePlain CodeChallengeMethod = "plain"
	ChallengeS256  CodeChallengeMethod = "S256"
)

// ErrorCode is the RFC 6749 §5.2/§4.1.2.1 error vocabulary.
type ErrorCode string

const (
	ErrInvalidRequest       ErrorCode = "invalid_request"
	ErrInvalidClient        ErrorCode = "invalid_client"
	ErrInvalidGrant         ErrorCode = "invalid_grant"
	ErrUnsupportedGrantType ErrorCode = "unsupported_grant_type"
	ErrUnauthorizedClient   ErrorCode = "unauthorized_client"
	ErrInvalidScope         ErrorCode = "invalid_scope"
	ErrRateLimitExceeded    ErrorCode = "rate_limit_exceeded"
)

// ErrorResponse is the wire shape for every OAuth2 error in this server,
// including the RFC 6749 §4.1.2.1 error_uri pointing back at the relevant
// RFC section — the convention models.rs follows for its own error type.
type ErrorResponse struct {
	Error            ErrorCode `json:"error"`
	ErrorDescription string    `json:"error_description,omitempty"`
	ErrorURI         string    `json:"error_uri,omitempty"`
}

func NewError(code ErrorCode, description string) *ErrorResponse {
	return &ErrorResponse{Error: code, ErrorDescription: description, ErrorURI: errorURI(code)}
}

func errorURI(code ErrorCode) string {
	const base = "https://www.rfc-editor.org/rfc/rfc6749#section-"
	switch code {
	case ErrInvalidScope, ErrInvalidRequest, ErrUnauthorizedClient, ErrUnsupportedGrantType:
		return base + "4.1.2.1"
	case ErrInvalidGrant:
		return base + "5.2"
	case ErrInvalidClient:
		return base + "5.2"
	default:
		return ""
	}
}

type Client struct {
	ID               string    `db:"id" json:"-"`
	ClientID         string    `db:"client_id" json:"client_id"`
	ClientSecretHash string    `db:"client_secret_hash" json:"-"`
	RedirectURIs     []string  `db:"-" json:"redirect_uris"`
	GrantTypes       []string  `db:"-" json:"grant_types"`
	ResponseTypes    []string  `db:"-" json:"response_types"`
	Scope            string    `db:"scope" json:"scope,omitempty"`
	ClientName       string    `db:"client_name" json:"client_name,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	ExpiresAt        *time.Time `db:"expires_at" json:"expires_at,omitempty"`
}

func (c *Client) SupportsGrant(g GrantType) bool {
	for _, s := range c.GrantTypes {
		if s == string(g) {
			return true
		}
	}
	return false
}

func (c *Client) HasRedirectURI(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

type AuthCode struct {
	Code                string
	ClientID            string
	UserID              string
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod CodeChallengeMethod
	ExpiresAt           time.Time
	Used                bool
}

type RefreshToken struct {
	TokenHash string
	ClientID  string
	UserID    *string
	Scope     string
	ExpiresAt time.Time
	Revoked   bool
}

// RegisterClientRequest/Response follow RFC 7591.
type RegisterClientRequest struct {
	RedirectURIs  []string `json:"redirect_uris"`
	GrantTypes    []string `json:"grant_types,omitempty"`
	ResponseTypes []string `json:"response_types,omitempty"`
	Scope         string   `json:"scope,omitempty"`
	ClientName    string   `json:"client_name,omitempty"`
	ExpiresIn     *int64   `json:"expires_in,omitempty"` // seconds
}

type RegisterClientResponse struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	RedirectURIs []string `json:"redirect_uris"`
	ClientName   string   `json:"client_name,omitempty"`
	ExpiresAt    *int64   `json:"client_secret_expires_at,omitempty"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

type ValidateRefreshStatus string

const (
	StatusValid    ValidateRefreshStatus = "Valid"
	StatusRefreshed ValidateRefreshStatus = "Refreshed"
	StatusInvalid  ValidateRefreshStatus = "Invalid"
)

type ValidateRefreshResponse struct {
	Status ValidateRefreshStatus `json:"status"`
	Tokens *TokenResponse         `json:"tokens,omitempty"`
}

// Metadata is the RFC 8414 authorization-server metadata document.
type Metadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	JwksURI                           string   `json:"jwks_uri"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
}

func BuildMetadata(baseURL string) Metadata {
	return Metadata{
		Issuer:                            baseURL,
		AuthorizationEndpoint:             baseURL + "/oauth2/authorize",
		TokenEndpoint:                     baseURL + "/oauth2/token",
		RegistrationEndpoint:              baseURL + "/oauth2/register",
		RevocationEndpoint:                baseURL + "/oauth2/revoke",
		JwksURI:                           baseURL + "/.well-known/jwks.json",
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "client_credentials", "refresh_token"},
		CodeChallengeMethodsSupported:     []string{"plain", "S256"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_post", "client_secret_basic"},
	}
}
