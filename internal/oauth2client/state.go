package oauth2client

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/pierre-mcp/pierre/pkg/kernel"
)

// stateTTL bounds how long an authorize_url's state parameter remains
// redeemable by handle_callback, per the downstream OAuth2 contract.
const stateTTL = 15 * time.Minute

var ErrInvalidState = errors.New("oauth2client: invalid or expired state")

// statePayload is HMAC-signed (not encrypted — it carries no secrets) so
// handle_callback can verify authenticity without a round trip to storage.
// Grounded on pkg/iam/auth/jwt_service.go's HMAC-over-claims idiom in the
// teacher, adapted here to a bespoke opaque token rather than a JWT since
// the payload never needs third-party verification.
type statePayload struct {
	UserID    string `json:"uid"`
	TenantID  string `json:"tid"`
	Provider  string `json:"p"`
	Nonce     string `json:"n"`
	IssuedAt  int64  `json:"iat"`
}

func (c *Client) signState(userID kernel.UserID, tenantID kernel.TenantID, provider string, now time.Time) (string, error) {
	payload := statePayload{
		UserID:   userID.String(),
		TenantID: tenantID.String(),
		Provider: provider,
		Nonce:    ulid.Make().String(),
		IssuedAt: now.Unix(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, c.stateSecret)
	mac.Write(body)
	sig := mac.Sum(nil)

	encBody := base64.RawURLEncoding.EncodeToString(body)
	encSig := base64.RawURLEncoding.EncodeToString(sig)
	return encBody + "." + encSig, nil
}

func (c *Client) verifyState(state string, now time.Time) (*statePayload, error) {
	dot := -1
	for i := 0; i < len(state); i++ {
		if state[i] == '.' {
			dot = i
			break
		}
	}
	if dot < 0 {
		return nil, ErrInvalidState
	}
	body, err := base64.RawURLEncoding.DecodeString(state[:dot])
	if err != nil {
		return nil, ErrInvalidState
	}
	sig, err := base64.RawURLEncoding.DecodeString(state[dot+1:])
	if err != nil {
		return nil, ErrInvalidState
	}
	mac := hmac.New(sha256.New, c.stateSecret)
	mac.Write(body)
	expected := mac.Sum(nil)
	if subtle.ConstantTimeCompare(sig, expected) != 1 {
		return nil, ErrInvalidState
	}

	var payload statePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, ErrInvalidState
	}
	if now.Sub(time.Unix(payload.IssuedAt, 0)) > stateTTL {
		return nil, ErrInvalidState
	}
	return &payload, nil
}
