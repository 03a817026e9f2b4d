// Package admintoken implements the two-tier admin-token model: opaque
// bearer secrets hashed with argon2id, carrying bitflag permissions and
// usage telemetry. Grounded on pkg/iam/apikey/apikeysrv/service.go's
// generate-hash-store / validate-by-hash shape, upgraded from the
// teacher's reversible hash to argon2id.
package admintoken

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/argon2"

	"github.com/pierre-mcp/pierre/pkg/asyncx"
	"github.com/pierre-mcp/pierre/pkg/errx"
)

var ErrRegistry = errx.NewRegistry("ADMINTOKEN")

var (
	codeInvalid      = ErrRegistry.Register("invalid", errx.TypeAuthorization, 401, "invalid admin token")
	codeInactive     = ErrRegistry.Register("inactive", errx.TypeAuthorization, 403, "admin token is inactive")
	codeExpired      = ErrRegistry.Register("expired", errx.TypeAuthorization, 401, "admin token expired")
	codeMissingScope = ErrRegistry.Register("missing_permission", errx.TypeAuthorization, 403, "admin token lacks required permission")
)

// Permission is a bitflag set, e.g. Permission(PermProvision | PermRevoke).
type Permission uint64

const (
	PermProvision Permission = 1 << iota
	PermRevoke
	PermApproveUsers
	PermManageTools
	PermManageTenants
	PermSuperAdmin = 1 << 63
)

func (p Permission) Has(flag Permission) bool {
	return p&flag != 0 || p&PermSuperAdmin != 0
}

// Token is the persisted record.
type Token struct {
	ID            string
	ServiceName   string
	LookupHash    string // sha256(secret), indexed for O(1) lookup
	TokenHash     string // argon2id "salt_hex:digest_hex", verified in constant time
	TokenPrefix   string
	Permissions   Permission
	IsSuperAdmin  bool
	IsActive      bool
	CreatedAt     time.Time
	ExpiresAt     *time.Time
	LastUsedAt    *time.Time
	LastUsedIP    string
	UsageCount    int64
}

// Repository persists admin tokens.
type Repository interface {
	Save(ctx context.Context, t *Token) error
	FindByHash(ctx context.Context, hash string) (*Token, error)
	FindByID(ctx context.Context, id string) (*Token, error)
	ListActive(ctx context.Context) ([]*Token, error)
	RecordUsage(ctx context.Context, id string, ip string, at time.Time) error
	Revoke(ctx context.Context, id string) error
}

// argon2 parameters: time=1, memory=64MB, parallelism=4, keyLen=32 —
// OWASP-recommended minimums for interactive verification.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// Service issues and validates admin tokens.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

// Issue generates a new opaque secret, hashes it with argon2id, and
// persists the record. The plaintext secret is returned exactly once.
func (s *Service) Issue(ctx context.Context, serviceName string, perms Permission, isSuperAdmin bool, expiresAt *time.Time) (secret string, record *Token, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, errx.Wrap(err, "failed to generate admin token", errx.TypeInternal)
	}
	secret = "padm_" + base64.RawURLEncoding.EncodeToString(raw)
	hash, err := hashSecret(secret)
	if err != nil {
		return "", nil, err
	}

	record = &Token{
		ID:           ulid.Make().String(),
		ServiceName:  serviceName,
		LookupHash:   sha256Hex(secret),
		TokenHash:    hash,
		TokenPrefix:  secret[:10],
		Permissions:  perms,
		IsSuperAdmin: isSuperAdmin,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
		ExpiresAt:    expiresAt,
	}
	if err := s.repo.Save(ctx, record); err != nil {
		return "", nil, err
	}
	return secret, record, nil
}

// Validate checks a presented secret, enforces is_active/expiry/permission,
// and records usage (caller supplies the observed client IP).
func (s *Service) Validate(ctx context.Context, secret, clientIP string, required Permission) (*Token, error) {
	record, err := s.repo.FindByHash(ctx, sha256Hex(secret))
	if err != nil || record == nil {
		return nil, ErrRegistry.New(codeInvalid)
	}
	if !verifySecret(secret, record.TokenHash) {
		return nil, ErrRegistry.New(codeInvalid)
	}
	if !record.IsActive {
		return nil, ErrRegistry.New(codeInactive)
	}
	if record.ExpiresAt != nil && time.Now().UTC().After(*record.ExpiresAt) {
		return nil, ErrRegistry.New(codeExpired)
	}
	if required != 0 && !record.Permissions.Has(required) && !record.IsSuperAdmin {
		return nil, ErrRegistry.New(codeMissingScope)
	}
	asyncx.Do(func() {
		_ = s.repo.RecordUsage(context.Background(), record.ID, clientIP, time.Now().UTC())
	})
	return record, nil
}

func (s *Service) Revoke(ctx context.Context, id string) error {
	return s.repo.Revoke(ctx, id)
}

// ListActive passes through to the repository for admin-facing token
// listing endpoints; handlers never see Repository directly.
func (s *Service) ListActive(ctx context.Context) ([]*Token, error) {
	return s.repo.ListActive(ctx)
}

// hashSecret derives a salted argon2id digest, storing salt alongside the
// hash as "salt_hex:hash_hex" so Validate can re-derive deterministically.
func hashSecret(secret string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", errx.Wrap(err, "failed to generate salt", errx.TypeInternal)
	}
	digest := argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(digest), nil
}

func verifySecret(secret, stored string) bool {
	saltHex, digestHex, ok := splitHash(stored)
	if !ok {
		return false
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false
	}
	wantDigest, err := hex.DecodeString(digestHex)
	if err != nil {
		return false
	}
	gotDigest := argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(gotDigest, wantDigest) == 1
}

func splitHash(stored string) (salt, digest string, ok bool) {
	for i := 0; i < len(stored); i++ {
		if stored[i] == ':' {
			return stored[:i], stored[i+1:], true
		}
	}
	return "", "", false
}

// sha256Hex is used only as an indexed lookup key (FindByHash); the
// security-relevant comparison is always verifySecret's constant-time
// argon2id check below, never this value alone.
func sha256Hex(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
