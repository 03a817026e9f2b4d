package db

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pierre-mcp/pierre/internal/oauth2server"
)

// OAuth2ClientRepo persists registered OAuth2 clients, satisfying
// oauth2server.Repository's client half. Redirect URIs / grant types /
// response types are stored as a single JSON-encoded TEXT column so the
// same SQL works against SQLite and Postgres without relying on
// Postgres-only array types.
type OAuth2ClientRepo struct {
	db *DB
}

func NewOAuth2ClientRepo(d *DB) *OAuth2ClientRepo { return &OAuth2ClientRepo{db: d} }

func (r *OAuth2ClientRepo) SaveClient(ctx context.Context, c *oauth2server.Client) error {
	redirectURIs, _ := json.Marshal(c.RedirectURIs)
	grantTypes, _ := json.Marshal(c.GrantTypes)
	responseTypes, _ := json.Marshal(c.ResponseTypes)
	query := r.db.Rebind(`INSERT INTO oauth2_clients
		(id, client_id, client_secret_hash, redirect_uris, grant_types, response_types, scope, client_name, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query, c.ID, c.ClientID, c.ClientSecretHash,
		string(redirectURIs), string(grantTypes), string(responseTypes), c.Scope, c.ClientName, c.CreatedAt, c.ExpiresAt)
	if err != nil {
		return ErrConflict(err.Error())
	}
	return nil
}

func (r *OAuth2ClientRepo) FindClientByClientID(ctx context.Context, clientID string) (*oauth2server.Client, error) {
	query := r.db.Rebind(`SELECT id, client_id, client_secret_hash, redirect_uris, grant_types, response_types, scope, client_name, created_at, expires_at
		FROM oauth2_clients WHERE client_id = ?`)
	var redirectURIs, grantTypes, responseTypes string
	c := &oauth2server.Client{}
	err := r.db.QueryRowxContext(ctx, query, clientID).Scan(&c.ID, &c.ClientID, &c.ClientSecretHash,
		&redirectURIs, &grantTypes, &responseTypes, &c.Scope, &c.ClientName, &c.CreatedAt, &c.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, ErrConflict(err.Error())
	}
	_ = json.Unmarshal([]byte(redirectURIs), &c.RedirectURIs)
	_ = json.Unmarshal([]byte(grantTypes), &c.GrantTypes)
	_ = json.Unmarshal([]byte(responseTypes), &c.ResponseTypes)
	return c, nil
}
