package oauth2server

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/pierre-mcp/pierre/internal/jwks"
	"github.com/pierre-mcp/pierre/internal/keymanager"
	"github.com/pierre-mcp/pierre/internal/user"
)

// Repository persists OAuth2 clients, auth codes and refresh tokens.
type Repository interface {
	SaveClient(ctx context.Context, c *Client) error
	FindClientByClientID(ctx context.Context, clientID string) (*Client, error)
	SaveAuthCode(ctx context.Context, code *AuthCode) error
	FindAuthCode(ctx context.Context, code string) (*AuthCode, error)
	MarkAuthCodeUsed(ctx context.Context, code string) error
	SaveRefreshToken(ctx context.Context, t *RefreshToken, ciphertext, nonce []byte) error
	FindRefreshTokenByHash(ctx context.Context, hash string) (token *RefreshToken, ciphertext []byte, err error)
	RevokeRefreshToken(ctx context.Context, hash string) error
}

// accessTokenClaims is the JWT payload for tokens this authorization
// server issues, mirroring internal/auth.Claims's shape (registered
// claims plus a couple of OAuth2-specific fields) but keyed by client_id
// rather than a first-party user session.
type accessTokenClaims struct {
	ClientID string `json:"client_id"`
	Scope    string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

const (
	accessTokenTTL  = time.Hour
	authCodeTTL     = 10 * time.Minute
	refreshTokenTTL = 30 * 24 * time.Hour
)

type Server struct {
	repo    Repository
	jwksMgr *jwks.Manager
	keyMgr  *keymanager.KeyManager
	users   *user.Service
	issuer  string
}

func NewServer(repo Repository, jwksMgr *jwks.Manager, keyMgr *keymanager.KeyManager, users *user.Service, issuer string) *Server {
	return &Server{repo: repo, jwksMgr: jwksMgr, keyMgr: keyMgr, users: users, issuer: issuer}
}

// RegisterClient implements RFC 7591 dynamic client registration.
// Redirect URIs must be https or loopback http://127.0.0.1:*.
func (s *Server) RegisterClient(ctx context.Context, req RegisterClientRequest) (*RegisterClientResponse, *ErrorResponse) {
	for _, uri := range req.RedirectURIs {
		if !isAllowedRedirectURI(uri) {
			return nil, NewError(ErrInvalidRequest, "redirect_uri must be https or a loopback http://127.0.0.1 address")
		}
	}
	if len(req.RedirectURIs) == 0 {
		return nil, NewError(ErrInvalidRequest, "redirect_uris is required")
	}

	grantTypes := req.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{string(GrantAuthorizationCode)}
	}
	responseTypes := req.ResponseTypes
	if len(responseTypes) == 0 {
		responseTypes = []string{string(ResponseTypeCode)}
	}

	clientID := "pierre_" + ulid.Make().String()
	secretRaw := make([]byte, 32)
	_, _ = rand.Read(secretRaw)
	secret := base64.RawURLEncoding.EncodeToString(secretRaw)
	secretHash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, NewError(ErrInvalidRequest, "failed to register client")
	}

	client := &Client{
		ID:               ulid.Make().String(),
		ClientID:         clientID,
		ClientSecretHash: string(secretHash),
		RedirectURIs:     req.RedirectURIs,
		GrantTypes:       grantTypes,
		ResponseTypes:    responseTypes,
		Scope:            req.Scope,
		ClientName:       req.ClientName,
		CreatedAt:        time.Now().UTC(),
	}
	if req.ExpiresIn != nil {
		t := time.Now().UTC().Add(time.Duration(*req.ExpiresIn) * time.Second)
		client.ExpiresAt = &t
	}
	if err := s.repo.SaveClient(ctx, client); err != nil {
		return nil, NewError(ErrInvalidRequest, "failed to persist client")
	}

	resp := &RegisterClientResponse{
		ClientID:     clientID,
		ClientSecret: secret,
		RedirectURIs: client.RedirectURIs,
		ClientName:   client.ClientName,
	}
	if client.ExpiresAt != nil {
		ts := client.ExpiresAt.Unix()
		resp.ExpiresAt = &ts
	}
	return resp, nil
}

func isAllowedRedirectURI(uri string) bool {
	if strings.HasPrefix(uri, "https://") {
		return true
	}
	return strings.HasPrefix(uri, "http://127.0.0.1:") || strings.HasPrefix(uri, "http://127.0.0.1/")
}

// AuthorizeRequest is the validated GET /oauth2/authorize query.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	UserID              string
}

// Authorize validates the request against the registered client and, on
// success, issues a single-use code.
func (s *Server) Authorize(ctx context.Context, req AuthorizeRequest) (code string, errResp *ErrorResponse) {
	client, err := s.repo.FindClientByClientID(ctx, req.ClientID)
	if err != nil || client == nil {
		return "", NewError(ErrInvalidClient, "unknown client_id")
	}
	if !client.HasRedirectURI(req.RedirectURI) {
		return "", NewError(ErrInvalidRequest, "redirect_uri does not match registration")
	}
	if req.ResponseType != string(ResponseTypeCode) {
		return "", NewError(ErrUnsupportedGrantType, "only response_type=code is supported")
	}
	if !scopeSubsetOf(req.Scope, client.Scope) {
		return "", NewError(ErrInvalidScope, "requested scope exceeds registered scope")
	}

	codeValue := ulid.Make().String() + ulid.Make().String()
	ac := &AuthCode{
		Code:                codeValue,
		ClientID:            req.ClientID,
		UserID:              req.UserID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: CodeChallengeMethod(req.CodeChallengeMethod),
		ExpiresAt:           time.Now().UTC().Add(authCodeTTL),
	}
	if err := s.repo.SaveAuthCode(ctx, ac); err != nil {
		return "", NewError(ErrInvalidRequest, "failed to persist authorization code")
	}
	return codeValue, nil
}

func scopeSubsetOf(requested, registered string) bool {
	if requested == "" {
		return true
	}
	if registered == "" {
		return false
	}
	registeredSet := make(map[string]bool)
	for _, s := range strings.Fields(registered) {
		registeredSet[s] = true
	}
	for _, s := range strings.Fields(requested) {
		if !registeredSet[s] {
			return false
		}
	}
	return true
}

// TokenRequest captures every grant's form-encoded fields.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string
	CodeVerifier string
	RefreshToken string
	Username     string
	Password     string
	Scope        string
}

// Token dispatches on grant_type per RFC 6749 §4.
func (s *Server) Token(ctx context.Context, req TokenRequest) (*TokenResponse, *ErrorResponse) {
	switch GrantType(req.GrantType) {
	case GrantAuthorizationCode:
		return s.exchangeAuthorizationCode(ctx, req)
	case GrantClientCredentials:
		return s.exchangeClientCredentials(ctx, req)
	case GrantRefreshToken:
		return s.exchangeRefreshToken(ctx, req)
	case GrantPassword:
		return s.exchangePassword(ctx, req)
	default:
		return nil, NewError(ErrUnsupportedGrantType, string(req.GrantType))
	}
}

func (s *Server) authenticateClient(ctx context.Context, clientID, clientSecret string) (*Client, *ErrorResponse) {
	client, err := s.repo.FindClientByClientID(ctx, clientID)
	if err != nil || client == nil {
		return nil, NewError(ErrInvalidClient, "unknown client_id")
	}
	if bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(clientSecret)) != nil {
		return nil, NewError(ErrInvalidClient, "client authentication failed")
	}
	return client, nil
}

func (s *Server) exchangeAuthorizationCode(ctx context.Context, req TokenRequest) (*TokenResponse, *ErrorResponse) {
	ac, err := s.repo.FindAuthCode(ctx, req.Code)
	if err != nil || ac == nil {
		return nil, NewError(ErrInvalidGrant, "unknown authorization code")
	}
	if ac.Used {
		return nil, NewError(ErrInvalidGrant, "authorization code already redeemed")
	}
	if time.Now().UTC().After(ac.ExpiresAt) {
		return nil, NewError(ErrInvalidGrant, "authorization code expired")
	}
	if ac.ClientID != req.ClientID || ac.RedirectURI != req.RedirectURI {
		return nil, NewError(ErrInvalidGrant, "client_id/redirect_uri mismatch")
	}
	if ac.CodeChallenge != "" {
		if !verifyPKCE(ac.CodeChallenge, ac.CodeChallengeMethod, req.CodeVerifier) {
			return nil, NewError(ErrInvalidGrant, "code_verifier does not match code_challenge")
		}
	}
	// Mark used before issuing tokens so a concurrent redemption racing
	// this one observes Used=true regardless of ordering with the insert
	// below; invariant 3 requires at-most-once redemption.
	if err := s.repo.MarkAuthCodeUsed(ctx, ac.Code); err != nil {
		return nil, NewError(ErrInvalidGrant, "failed to consume authorization code")
	}

	return s.issueTokenPair(ctx, ac.ClientID, &ac.UserID, ac.Scope)
}

// verifyPKCE implements RFC 7636 §4.6: plain compares verbatim, S256
// compares base64url(sha256(verifier)) to the stored challenge.
func verifyPKCE(challenge string, method CodeChallengeMethod, verifier string) bool {
	if verifier == "" {
		return false
	}
	switch method {
	case ChallengeS256:
		sum := sha256.Sum256([]byte(verifier))
		computed := base64.RawURLEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
	default: // "plain" or unset
		return subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) == 1
	}
}

func (s *Server) exchangeClientCredentials(ctx context.Context, req TokenRequest) (*TokenResponse, *ErrorResponse) {
	client, errResp := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if errResp != nil {
		return nil, errResp
	}
	if !client.SupportsGrant(GrantClientCredentials) {
		return nil, NewError(ErrUnauthorizedClient, "client is not authorized for client_credentials")
	}
	return s.issueTokenPair(ctx, client.ClientID, nil, req.Scope)
}

func (s *Server) exchangePassword(ctx context.Context, req TokenRequest) (*TokenResponse, *ErrorResponse) {
	u, err := s.users.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		return nil, NewError(ErrInvalidGrant, "invalid resource owner credentials")
	}
	userID := u.ID.String()
	return s.issueTokenPair(ctx, req.ClientID, &userID, req.Scope)
}

func (s *Server) exchangeRefreshToken(ctx context.Context, req TokenRequest) (*TokenResponse, *ErrorResponse) {
	hash := sha256Hex(req.RefreshToken)
	stored, _, err := s.repo.FindRefreshTokenByHash(ctx, hash)
	if err != nil || stored == nil {
		return nil, NewError(ErrInvalidGrant, "unknown refresh token")
	}
	if stored.Revoked || time.Now().UTC().After(stored.ExpiresAt) {
		return nil, NewError(ErrInvalidGrant, "refresh token revoked or expired")
	}
	if stored.ClientID != req.ClientID {
		return nil, NewError(ErrInvalidGrant, "client mismatch")
	}
	// Rotate: issue a new pair and revoke the presented token so it can
	// never be replayed, even if the new pair's request later fails.
	if err := s.repo.RevokeRefreshToken(ctx, hash); err != nil {
		return nil, NewError(ErrInvalidGrant, "failed to rotate refresh token")
	}
	return s.issueTokenPair(ctx, stored.ClientID, stored.UserID, stored.Scope)
}

func (s *Server) issueTokenPair(ctx context.Context, clientID string, userID *string, scope string) (*TokenResponse, *ErrorResponse) {
	now := time.Now().UTC()
	claims := accessTokenClaims{
		ClientID: clientID,
		Scope:    scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(accessTokenTTL)),
		},
	}
	if userID != nil {
		claims.Subject = *userID
	}

	access, err := s.jwksMgr.Sign(&claims)
	if err != nil {
		return nil, NewError(ErrInvalidRequest, "failed to sign access token")
	}

	refreshRaw := make([]byte, 32)
	_, _ = rand.Read(refreshRaw)
	refresh := base64.RawURLEncoding.EncodeToString(refreshRaw)
	ciphertext, nonce, encErr := s.keyMgr.EncryptString(refresh)
	if encErr != nil {
		return nil, NewError(ErrInvalidRequest, "failed to encrypt refresh token")
	}
	rt := &RefreshToken{
		TokenHash: sha256Hex(refresh),
		ClientID:  clientID,
		UserID:    userID,
		Scope:     scope,
		ExpiresAt: time.Now().UTC().Add(refreshTokenTTL),
	}
	if err := s.repo.SaveRefreshToken(ctx, rt, ciphertext, nonce); err != nil {
		return nil, NewError(ErrInvalidRequest, "failed to persist refresh token")
	}

	return &TokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int64(accessTokenTTL.Seconds()),
		RefreshToken: refresh,
		Scope:        scope,
	}, nil
}

// Revoke implements POST /oauth2/revoke for either token type: an access
// token can't be un-signed, so revocation there is a no-op success (it
// will simply expire); a refresh token is marked revoked so it cannot be
// redeemed again.
func (s *Server) Revoke(ctx context.Context, token string) {
	_ = s.repo.RevokeRefreshToken(ctx, sha256Hex(token))
}

// ValidateRefresh implements POST /oauth2/validate-refresh: check the
// presented access token, and if it fails verification for any reason
// (expired, malformed or otherwise invalid) but its pairing refresh token
// still validates, transparently refresh it.
func (s *Server) ValidateRefresh(ctx context.Context, accessToken string, refreshToken string, clientID string) *ValidateRefreshResponse {
	claims := &accessTokenClaims{}
	if err := s.jwksMgr.Verify(accessToken, claims); err == nil {
		return &ValidateRefreshResponse{Status: StatusValid}
	}
	tokens, errResp := s.exchangeRefreshToken(ctx, TokenRequest{RefreshToken: refreshToken, ClientID: clientID})
	if errResp != nil {
		return &ValidateRefreshResponse{Status: StatusInvalid}
	}
	return &ValidateRefreshResponse{Status: StatusRefreshed, Tokens: tokens}
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
