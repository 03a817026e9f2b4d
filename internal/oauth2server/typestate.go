package oauth2server

// The OAuth2 flow is modeled as four distinct Go types so an illegal
// transition (e.g. exchanging an Initial flow for tokens without first
// authorizing it) is a compile error, not a runtime check — grounded on
// original_source/tests/oauth2_typestate_test.rs and design note §9's
// "OAuth2 flow state machine" requirement.

// InitialFlow carries whatever the client supplied before authorization:
// the optional PKCE verifier, which must flow forward to the token
// exchange unchanged.
type InitialFlow struct {
	ClientID     string
	RedirectURI  string
	Scope        string
	CodeVerifier string // empty if PKCE was not used
}

// Authorize consumes an InitialFlow and produces an AuthorizedFlow,
// carrying the issued code forward together with the verifier so the
// token exchange can check it.
func (f InitialFlow) Authorize(code string) AuthorizedFlow {
	return AuthorizedFlow{Code: code, ClientID: f.ClientID, RedirectURI: f.RedirectURI, CodeVerifier: f.CodeVerifier}
}

// AuthorizedFlow holds an issued, not-yet-redeemed code.
type AuthorizedFlow struct {
	Code         string
	ClientID     string
	RedirectURI  string
	CodeVerifier string
}

// Authenticate consumes an AuthorizedFlow exactly once (the caller must
// not reuse the AuthorizedFlow value afterward) and produces the token
// pair wrapped in an AuthenticatedFlow.
func (f AuthorizedFlow) Authenticate(tokens TokenResponse) AuthenticatedFlow {
	return AuthenticatedFlow{Tokens: tokens, ClientID: f.ClientID}
}

// AuthenticatedFlow holds a live token pair.
type AuthenticatedFlow struct {
	Tokens   TokenResponse
	ClientID string
}

// Expire transitions an AuthenticatedFlow whose access token has lapsed
// into a RefreshableFlow, the only state from which a refresh grant is
// legal.
func (f AuthenticatedFlow) Expire() RefreshableFlow {
	return RefreshableFlow{RefreshToken: f.Tokens.RefreshToken, ClientID: f.ClientID}
}

// RefreshableFlow holds a refresh token eligible for the refresh_token
// grant.
type RefreshableFlow struct {
	RefreshToken string
	ClientID     string
}

// Refresh consumes a RefreshableFlow (the refresh token is rotated, so the
// caller must discard this value) and produces a fresh AuthenticatedFlow.
func (f RefreshableFlow) Refresh(tokens TokenResponse) AuthenticatedFlow {
	return AuthenticatedFlow{Tokens: tokens, ClientID: f.ClientID}
}
