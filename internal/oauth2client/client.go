package oauth2client

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	xoauth2 "golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/pierre-mcp/pierre/internal/db"
	"github.com/pierre-mcp/pierre/internal/keymanager"
	"github.com/pierre-mcp/pierre/pkg/errx"
	"github.com/pierre-mcp/pierre/pkg/kernel"
	"github.com/pierre-mcp/pierre/pkg/logx"
)

var ErrRegistry = errx.NewRegistry("OAUTH2CLIENT")

var (
	codeUnknownProvider = ErrRegistry.Register("unknown_provider", errx.TypeValidation, 400, "unknown downstream provider")
	codeNoCredential    = ErrRegistry.Register("no_credential", errx.TypeNotFound, 404, "no provider credential configured for tenant")
	codeNotConnected    = ErrRegistry.Register("not_connected", errx.TypeNotFound, 404, "provider not connected for user")
	codeExchangeFailed  = ErrRegistry.Register("exchange_failed", errx.TypeExternal, 502, "provider token exchange failed")
	codeRefreshFailed   = ErrRegistry.Register("refresh_failed", errx.TypeExternal, 502, "provider token refresh failed")
)

// refreshThreshold is how far ahead of expiry GetValidToken proactively
// refreshes, so a caller never observes a token that expires mid-request.
const refreshThreshold = 5 * time.Minute

// Notifier fans a downstream-provider lifecycle event out to whatever
// transport is listening for the user's notification stream. Declared as a
// narrow local interface — rather than importing internal/sse directly —
// so this package has no forward dependency on the SSE session manager.
type Notifier interface {
	NotifyUser(ctx context.Context, userID kernel.UserID, tenantID kernel.TenantID, kind kernel.NotificationKind, detail map[string]any) error
}

// CredentialRepository is the tenant-scoped downstream OAuth2 app
// credential store. Satisfied by db.ProviderCredentialRepo.
type CredentialRepository interface {
	FindCredential(ctx context.Context, tenantID kernel.TenantID, provider string) (clientID string, clientSecretCiphertext, clientSecretNonce []byte, redirectURI string, err error)
	SaveCredential(ctx context.Context, tenantID kernel.TenantID, provider, clientID string, clientSecretCiphertext, clientSecretNonce []byte, redirectURI string) error
}

// TokenRepository is the per-(user, tenant, provider) encrypted token
// store. Satisfied by db.ProviderTokenRepo.
type TokenRepository interface {
	Save(ctx context.Context, userID kernel.UserID, tenantID kernel.TenantID, provider string, t db.StoredProviderToken) error
	Find(ctx context.Context, userID kernel.UserID, tenantID kernel.TenantID, provider string) (*db.StoredProviderToken, error)
	Delete(ctx context.Context, userID kernel.UserID, tenantID kernel.TenantID, provider string) error
}

// Client brokers downstream OAuth2 authorization and token refresh for
// every connected fitness provider. One instance serves every tenant and
// user; tenant isolation comes entirely from the (user, tenant, provider)
// key threaded through every method.
type Client struct {
	registry    *Registry
	creds       CredentialRepository
	tokens      TokenRepository
	keyMgr      *keymanager.KeyManager
	notifier    Notifier
	stateSecret []byte
	httpClient  *http.Client

	sf singleflight.Group
}

func NewClient(registry *Registry, creds CredentialRepository, tokens TokenRepository, keyMgr *keymanager.KeyManager, notifier Notifier, stateSecret []byte) *Client {
	return &Client{
		registry:    registry,
		creds:       creds,
		tokens:      tokens,
		keyMgr:      keyMgr,
		notifier:    notifier,
		stateSecret: stateSecret,
		httpClient:  http.DefaultClient,
	}
}

// SetNotifier installs the lifecycle notifier after construction, for
// composition roots that build the downstream client before the
// notifier (typically an *sse.Manager) exists.
func (c *Client) SetNotifier(notifier Notifier) {
	c.notifier = notifier
}

func (c *Client) oauthConfig(ctx context.Context, tenantID kernel.TenantID, provider string) (*xoauth2.Config, error) {
	desc, ok := c.registry.Get(provider)
	if !ok {
		return nil, ErrRegistry.New(codeUnknownProvider).WithDetail("provider", provider)
	}
	clientID, secretCiphertext, secretNonce, redirectURI, err := c.creds.FindCredential(ctx, tenantID, provider)
	if err != nil {
		return nil, ErrRegistry.NewWithCause(codeNoCredential, err).WithDetail("provider", provider)
	}
	secret, err := c.keyMgr.DecryptString(secretCiphertext, secretNonce)
	if err != nil {
		return nil, err
	}
	return &xoauth2.Config{
		ClientID:     clientID,
		ClientSecret: secret,
		Endpoint: xoauth2.Endpoint{
			AuthURL:  desc.AuthURL,
			TokenURL: desc.TokenURL,
		},
		RedirectURL: redirectURI,
		Scopes:      desc.DefaultScopes,
	}, nil
}

// AuthorizeURL builds the provider consent-screen URL a client should
// redirect the user to, along with the opaque state token handle_callback
// must receive unmodified.
func (c *Client) AuthorizeURL(ctx context.Context, userID kernel.UserID, tenantID kernel.TenantID, provider string) (authURL, state string, err error) {
	cfg, err := c.oauthConfig(ctx, tenantID, provider)
	if err != nil {
		return "", "", err
	}
	state, err = c.signState(userID, tenantID, provider, time.Now())
	if err != nil {
		return "", "", err
	}
	return cfg.AuthCodeURL(state, xoauth2.AccessTypeOffline), state, nil
}

// HandleCallback redeems the authorization code the provider issued,
// verifying state was signed by this process and has not expired, and
// persists the resulting token pair encrypted at rest.
func (c *Client) HandleCallback(ctx context.Context, code, state string) error {
	payload, err := c.verifyState(state, time.Now())
	if err != nil {
		return err
	}
	if payload.UserID == "" || payload.TenantID == "" {
		return ErrInvalidState
	}
	userID := kernel.NewUserID(payload.UserID)
	tenantID := kernel.NewTenantID(payload.TenantID)

	cfg, err := c.oauthConfig(ctx, tenantID, payload.Provider)
	if err != nil {
		c.notifyBestEffort(ctx, userID, tenantID, kernel.NotificationConnectFailed, map[string]any{"provider": payload.Provider, "reason": "credential_lookup_failed"})
		return err
	}
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		c.notifyBestEffort(ctx, userID, tenantID, kernel.NotificationConnectFailed, map[string]any{"provider": payload.Provider, "reason": "exchange_failed"})
		return ErrRegistry.NewWithCause(codeExchangeFailed, err)
	}
	if err := c.storeToken(userID, tenantID, payload.Provider, tok); err != nil {
		return err
	}
	c.notifyBestEffort(ctx, userID, tenantID, kernel.NotificationConnected, map[string]any{"provider": payload.Provider})
	return nil
}

func (c *Client) storeToken(userID kernel.UserID, tenantID kernel.TenantID, provider string, tok *xoauth2.Token) error {
	accessEnc, accessNonce, err := c.keyMgr.EncryptString(tok.AccessToken)
	if err != nil {
		return err
	}
	var refreshEnc, refreshNonce []byte
	if tok.RefreshToken != "" {
		refreshEnc, refreshNonce, err = c.keyMgr.EncryptString(tok.RefreshToken)
		if err != nil {
			return err
		}
	}
	scope, _ := tok.Extra("scope").(string)
	return c.tokens.Save(context.Background(), userID, tenantID, provider, db.StoredProviderToken{
		AccessTokenEnc:    accessEnc,
		AccessTokenNonce:  accessNonce,
		RefreshTokenEnc:   refreshEnc,
		RefreshTokenNonce: refreshNonce,
		ExpiresAt:         tok.Expiry,
		Scopes:            splitScopeString(scope),
	})
}

func splitScopeString(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}

// GetValidToken returns a usable access token for (user, tenant,
// provider), refreshing inline if it is within refreshThreshold of
// expiry. Concurrent callers for the same key share one in-flight
// refresh via singleflight.
func (c *Client) GetValidToken(ctx context.Context, userID kernel.UserID, tenantID kernel.TenantID, provider string) (string, error) {
	stored, err := c.tokens.Find(ctx, userID, tenantID, provider)
	if err != nil {
		return "", err
	}
	if stored == nil {
		return "", ErrRegistry.New(codeNotConnected).WithDetail("provider", provider)
	}

	if time.Until(stored.ExpiresAt) > refreshThreshold {
		return c.keyMgr.DecryptString(stored.AccessTokenEnc, stored.AccessTokenNonce)
	}

	sfKey := userID.String() + "|" + tenantID.String() + "|" + provider
	v, err, _ := c.sf.Do(sfKey, func() (interface{}, error) {
		return c.refresh(ctx, userID, tenantID, provider, stored)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) refresh(ctx context.Context, userID kernel.UserID, tenantID kernel.TenantID, provider string, stored *db.StoredProviderToken) (string, error) {
	if len(stored.RefreshTokenEnc) == 0 {
		return "", ErrRegistry.New(codeRefreshFailed).WithDetail("reason", "no_refresh_token")
	}
	refreshToken, err := c.keyMgr.DecryptString(stored.RefreshTokenEnc, stored.RefreshTokenNonce)
	if err != nil {
		return "", err
	}
	cfg, err := c.oauthConfig(ctx, tenantID, provider)
	if err != nil {
		return "", err
	}
	src := cfg.TokenSource(ctx, &xoauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		if derr := c.tokens.Delete(ctx, userID, tenantID, provider); derr != nil {
			logx.WithError(derr).Warn("failed to clear provider token after refresh failure")
		}
		c.notifyBestEffort(ctx, userID, tenantID, kernel.NotificationRefreshFailed, map[string]any{"provider": provider})
		return "", ErrRegistry.NewWithCause(codeRefreshFailed, err).WithDetail("provider", provider)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	if err := c.storeToken(userID, tenantID, provider, tok); err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Disconnect revokes the provider's grant (best-effort, when the
// provider exposes a revoke endpoint) and deletes the stored tokens
// unconditionally.
func (c *Client) Disconnect(ctx context.Context, userID kernel.UserID, tenantID kernel.TenantID, provider string) error {
	desc, ok := c.registry.Get(provider)
	if ok && desc.SupportsRevoke {
		if stored, err := c.tokens.Find(ctx, userID, tenantID, provider); err == nil && stored != nil {
			if access, derr := c.keyMgr.DecryptString(stored.AccessTokenEnc, stored.AccessTokenNonce); derr == nil {
				c.revokeBestEffort(ctx, desc, access)
			}
		}
	}
	if err := c.tokens.Delete(ctx, userID, tenantID, provider); err != nil {
		return err
	}
	c.notifyBestEffort(ctx, userID, tenantID, kernel.NotificationDisconnected, map[string]any{"provider": provider})
	return nil
}

func (c *Client) revokeBestEffort(ctx context.Context, desc ProviderDescriptor, accessToken string) {
	if desc.RevokeURL == "" {
		return
	}
	form := url.Values{"token": {accessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, desc.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logx.WithError(err).WithField("provider", desc.Name).Warn("provider revoke call failed")
		return
	}
	defer resp.Body.Close()
}

func (c *Client) notifyBestEffort(ctx context.Context, userID kernel.UserID, tenantID kernel.TenantID, kind kernel.NotificationKind, detail map[string]any) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.NotifyUser(ctx, userID, tenantID, kind, detail); err != nil {
		logx.WithError(err).Warn("failed to emit oauth notification")
	}
}
