package oauth2server_test

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/pierre-mcp/pierre/internal/jwks"
	"github.com/pierre-mcp/pierre/internal/keymanager"
	"github.com/pierre-mcp/pierre/internal/oauth2server"
)

type fakeJwksRepo struct {
	mu   sync.Mutex
	keys map[string]jwks.StoredKey
}

func newFakeJwksRepo() *fakeJwksRepo { return &fakeJwksRepo{keys: make(map[string]jwks.StoredKey)} }

func (r *fakeJwksRepo) SaveKey(ctx context.Context, kid string, privEnc, privNonce []byte, pubPEM []byte, active bool, createdAt time.Time, notAfter *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[kid] = jwks.StoredKey{Kid: kid, PrivateKeyPEMEnc: privEnc, PrivateKeyNonce: privNonce, PublicKeyPEM: string(pubPEM), Active: active, CreatedAt: createdAt, NotAfter: notAfter}
	return nil
}

func (r *fakeJwksRepo) LoadActiveKeys(ctx context.Context) ([]jwks.StoredKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]jwks.StoredKey, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, k)
	}
	return out, nil
}

func (r *fakeJwksRepo) DeactivatePrevious(ctx context.Context, exceptKid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for kid, k := range r.keys {
		if kid != exceptKid {
			k.Active = false
			r.keys[kid] = k
		}
	}
	return nil
}

type fakeSecretStore struct {
	wrapped []byte
	ok      bool
}

func (s *fakeSecretStore) GetWrappedDEK(ctx context.Context) ([]byte, bool, error) { return s.wrapped, s.ok, nil }
func (s *fakeSecretStore) SaveWrappedDEK(ctx context.Context, wrapped []byte) error {
	s.wrapped, s.ok = wrapped, true
	return nil
}

type fakeRepo struct {
	mu            sync.Mutex
	clients       map[string]*oauth2server.Client
	codes         map[string]*oauth2server.AuthCode
	refreshByHash map[string]*oauth2server.RefreshToken
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		clients:       make(map[string]*oauth2server.Client),
		codes:         make(map[string]*oauth2server.AuthCode),
		refreshByHash: make(map[string]*oauth2server.RefreshToken),
	}
}

func (r *fakeRepo) SaveClient(ctx context.Context, c *oauth2server.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ClientID] = c
	return nil
}

func (r *fakeRepo) FindClientByClientID(ctx context.Context, clientID string) (*oauth2server.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clients[clientID], nil
}

func (r *fakeRepo) SaveAuthCode(ctx context.Context, code *oauth2server.AuthCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *code
	r.codes[code.Code] = &cp
	return nil
}

func (r *fakeRepo) FindAuthCode(ctx context.Context, code string) (*oauth2server.AuthCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ac, ok := r.codes[code]
	if !ok {
		return nil, nil
	}
	cp := *ac
	return &cp, nil
}

func (r *fakeRepo) MarkAuthCodeUsed(ctx context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ac, ok := r.codes[code]; ok {
		ac.Used = true
	}
	return nil
}

func (r *fakeRepo) SaveRefreshToken(ctx context.Context, t *oauth2server.RefreshToken, ciphertext, nonce []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.refreshByHash[t.TokenHash] = &cp
	return nil
}

func (r *fakeRepo) FindRefreshTokenByHash(ctx context.Context, hash string) (*oauth2server.RefreshToken, []byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.refreshByHash[hash]
	if !ok {
		return nil, nil, nil
	}
	cp := *t
	return &cp, nil, nil
}

func (r *fakeRepo) RevokeRefreshToken(ctx context.Context, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.refreshByHash[hash]; ok {
		t.Revoked = true
	}
	return nil
}

func newTestServer(t *testing.T) (*oauth2server.Server, *fakeRepo) {
	t.Helper()
	km, err := keymanager.Bootstrap(t.TempDir() + "/mek")
	if err != nil {
		t.Fatalf("keymanager.Bootstrap: %v", err)
	}
	if err := km.CompleteInitialization(context.Background(), &fakeSecretStore{}); err != nil {
		t.Fatalf("CompleteInitialization: %v", err)
	}
	jwksMgr, err := jwks.NewManager(context.Background(), newFakeJwksRepo(), km, time.Hour)
	if err != nil {
		t.Fatalf("jwks.NewManager: %v", err)
	}
	repo := newFakeRepo()
	return oauth2server.NewServer(repo, jwksMgr, km, nil, "https://pierre.test"), repo
}

func registerClient(t *testing.T, srv *oauth2server.Server, grantTypes []string) (clientID, clientSecret string) {
	t.Helper()
	resp, errResp := srv.RegisterClient(context.Background(), oauth2server.RegisterClientRequest{
		RedirectURIs: []string{"https://client.example/callback"},
		GrantTypes:   grantTypes,
	})
	if errResp != nil {
		t.Fatalf("RegisterClient: %s", errResp.ErrorDescription)
	}
	return resp.ClientID, resp.ClientSecret
}

func TestAuthorizationCodeGrantWithPKCE(t *testing.T) {
	srv, _ := newTestServer(t)
	clientID, _ := registerClient(t, srv, []string{"authorization_code"})

	verifier := "test-code-verifier-value-long-enough"
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	code, errResp := srv.Authorize(context.Background(), oauth2server.AuthorizeRequest{
		ClientID:            clientID,
		RedirectURI:         "https://client.example/callback",
		ResponseType:        "code",
		UserID:              "user-1",
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	})
	if errResp != nil {
		t.Fatalf("Authorize: %s", errResp.ErrorDescription)
	}

	tokens, errResp := srv.Token(context.Background(), oauth2server.TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		ClientID:     clientID,
		RedirectURI:  "https://client.example/callback",
		CodeVerifier: verifier,
	})
	if errResp != nil {
		t.Fatalf("Token: %s", errResp.ErrorDescription)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Fatal("expected both an access token and a refresh token")
	}
}

func TestAuthorizationCodeRejectsWrongVerifier(t *testing.T) {
	srv, _ := newTestServer(t)
	clientID, _ := registerClient(t, srv, []string{"authorization_code"})

	sum := sha256.Sum256([]byte("the-real-verifier"))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	code, errResp := srv.Authorize(context.Background(), oauth2server.AuthorizeRequest{
		ClientID:            clientID,
		RedirectURI:         "https://client.example/callback",
		ResponseType:        "code",
		UserID:              "user-1",
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	})
	if errResp != nil {
		t.Fatalf("Authorize: %s", errResp.ErrorDescription)
	}

	_, errResp = srv.Token(context.Background(), oauth2server.TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		ClientID:     clientID,
		RedirectURI:  "https://client.example/callback",
		CodeVerifier: "not-the-right-verifier",
	})
	if errResp == nil {
		t.Fatal("expected a mismatched code_verifier to be rejected")
	}
}

func TestAuthorizationCodeCannotBeRedeemedTwice(t *testing.T) {
	srv, _ := newTestServer(t)
	clientID, _ := registerClient(t, srv, []string{"authorization_code"})

	code, errResp := srv.Authorize(context.Background(), oauth2server.AuthorizeRequest{
		ClientID:     clientID,
		RedirectURI:  "https://client.example/callback",
		ResponseType: "code",
		UserID:       "user-1",
	})
	if errResp != nil {
		t.Fatalf("Authorize: %s", errResp.ErrorDescription)
	}

	req := oauth2server.TokenRequest{GrantType: "authorization_code", Code: code, ClientID: clientID, RedirectURI: "https://client.example/callback"}
	if _, errResp := srv.Token(context.Background(), req); errResp != nil {
		t.Fatalf("first redemption: %s", errResp.ErrorDescription)
	}
	if _, errResp := srv.Token(context.Background(), req); errResp == nil {
		t.Fatal("expected the second redemption of the same code to be rejected")
	}
}

func TestClientCredentialsGrantRequiresSupportedGrant(t *testing.T) {
	srv, _ := newTestServer(t)
	clientID, clientSecret := registerClient(t, srv, []string{"authorization_code"})

	_, errResp := srv.Token(context.Background(), oauth2server.TokenRequest{
		GrantType:    "client_credentials",
		ClientID:     clientID,
		ClientSecret: clientSecret,
	})
	if errResp == nil {
		t.Fatal("expected client_credentials to be rejected for a client not registered for that grant")
	}
}

func TestClientCredentialsGrantIssuesTokens(t *testing.T) {
	srv, _ := newTestServer(t)
	clientID, clientSecret := registerClient(t, srv, []string{"client_credentials"})

	tokens, errResp := srv.Token(context.Background(), oauth2server.TokenRequest{
		GrantType:    "client_credentials",
		ClientID:     clientID,
		ClientSecret: clientSecret,
	})
	if errResp != nil {
		t.Fatalf("Token: %s", errResp.ErrorDescription)
	}
	if tokens.AccessToken == "" {
		t.Fatal("expected an access token")
	}
	if tokens.RefreshToken == "" {
		t.Fatal("expected client_credentials to still issue a refresh token")
	}
}

func TestRefreshTokenRotationInvalidatesThePresentedToken(t *testing.T) {
	srv, _ := newTestServer(t)
	clientID, clientSecret := registerClient(t, srv, []string{"client_credentials", "refresh_token"})

	first, errResp := srv.Token(context.Background(), oauth2server.TokenRequest{
		GrantType: "client_credentials", ClientID: clientID, ClientSecret: clientSecret,
	})
	if errResp != nil {
		t.Fatalf("Token: %s", errResp.ErrorDescription)
	}

	refreshed, errResp := srv.Token(context.Background(), oauth2server.TokenRequest{
		GrantType: "refresh_token", RefreshToken: first.RefreshToken, ClientID: clientID,
	})
	if errResp != nil {
		t.Fatalf("refresh: %s", errResp.ErrorDescription)
	}
	if refreshed.RefreshToken == first.RefreshToken {
		t.Fatal("expected a rotated refresh token to differ from the presented one")
	}

	if _, errResp := srv.Token(context.Background(), oauth2server.TokenRequest{
		GrantType: "refresh_token", RefreshToken: first.RefreshToken, ClientID: clientID,
	}); errResp == nil {
		t.Fatal("expected the original refresh token to be rejected after rotation")
	}
}

func TestValidateRefreshRefreshesAnInvalidAccessToken(t *testing.T) {
	srv, _ := newTestServer(t)
	clientID, clientSecret := registerClient(t, srv, []string{"client_credentials"})

	tokens, errResp := srv.Token(context.Background(), oauth2server.TokenRequest{
		GrantType: "client_credentials", ClientID: clientID, ClientSecret: clientSecret,
	})
	if errResp != nil {
		t.Fatalf("Token: %s", errResp.ErrorDescription)
	}

	result := srv.ValidateRefresh(context.Background(), "not-a-real-access-token", tokens.RefreshToken, clientID)
	if result.Status != oauth2server.StatusRefreshed {
		t.Fatalf("expected status Refreshed for an invalid access token with a valid refresh token, got %s", result.Status)
	}
	if result.Tokens == nil || result.Tokens.AccessToken == "" {
		t.Fatal("expected a fresh token pair")
	}
}

func TestTypestateChainCarriesClientIDAndVerifierForward(t *testing.T) {
	initial := oauth2server.InitialFlow{ClientID: "client-1", RedirectURI: "https://client.example/callback", CodeVerifier: "verifier-1"}
	authorized := initial.Authorize("code-1")
	if authorized.ClientID != "client-1" || authorized.CodeVerifier != "verifier-1" {
		t.Fatal("expected Authorize to carry client_id and code_verifier forward unchanged")
	}

	authenticated := authorized.Authenticate(oauth2server.TokenResponse{AccessToken: "at-1", RefreshToken: "rt-1"})
	if authenticated.ClientID != "client-1" {
		t.Fatal("expected Authenticate to carry client_id forward")
	}

	refreshable := authenticated.Expire()
	if refreshable.RefreshToken != "rt-1" || refreshable.ClientID != "client-1" {
		t.Fatal("expected Expire to surface the refresh token and client_id for the next grant")
	}

	again := refreshable.Refresh(oauth2server.TokenResponse{AccessToken: "at-2", RefreshToken: "rt-2"})
	if again.Tokens.AccessToken != "at-2" || again.ClientID != "client-1" {
		t.Fatal("expected Refresh to produce a fresh AuthenticatedFlow for the same client")
	}
}
