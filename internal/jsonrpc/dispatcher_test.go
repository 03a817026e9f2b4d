package jsonrpc_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pierre-mcp/pierre/internal/auth"
	"github.com/pierre-mcp/pierre/internal/jsonrpc"
	"github.com/pierre-mcp/pierre/internal/jwks"
	"github.com/pierre-mcp/pierre/internal/keymanager"
	"github.com/pierre-mcp/pierre/internal/sse"
	"github.com/pierre-mcp/pierre/internal/tenant"
	"github.com/pierre-mcp/pierre/internal/tools"
	"github.com/pierre-mcp/pierre/pkg/kernel"
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

type fakeOverrideRepo struct {
	mu        sync.Mutex
	overrides map[string]*tools.TenantOverride
}

func newFakeOverrideRepo() *fakeOverrideRepo {
	return &fakeOverrideRepo{overrides: make(map[string]*tools.TenantOverride)}
}

func overrideKey(tenantID kernel.TenantID, toolName string) string { return tenantID.String() + "|" + toolName }

func (r *fakeOverrideRepo) FindOverride(ctx context.Context, tenantID kernel.TenantID, toolName string) (*tools.TenantOverride, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overrides[overrideKey(tenantID, toolName)], nil
}

func (r *fakeOverrideRepo) ListOverrides(ctx context.Context, tenantID kernel.TenantID) ([]*tools.TenantOverride, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*tools.TenantOverride
	for _, o := range r.overrides {
		if o.TenantID == tenantID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *fakeOverrideRepo) CountOverrides(ctx context.Context, tenantID kernel.TenantID) (int, error) {
	out, _ := r.ListOverrides(ctx, tenantID)
	return len(out), nil
}

func (r *fakeOverrideRepo) SaveOverride(ctx context.Context, o *tools.TenantOverride) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[overrideKey(o.TenantID, o.ToolName)] = o
	return nil
}

func (r *fakeOverrideRepo) DeleteOverride(ctx context.Context, tenantID kernel.TenantID, toolName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.overrides, overrideKey(tenantID, toolName))
	return nil
}

type fakePlanLookup struct{ plan tenant.Plan }

func (p fakePlanLookup) GetPlan(ctx context.Context, tenantID kernel.TenantID) (tenant.Plan, error) {
	return p.plan, nil
}

type echoParams struct {
	Message string `json:"message"`
}

type testHarness struct {
	dispatcher *jsonrpc.Dispatcher
	authMgr    *auth.Manager
}

func newTestHarness(t *testing.T, plan tenant.Plan) *testHarness {
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
	authMgr := auth.NewManager(jwksMgr, "https://pierre.test", time.Hour, 15*time.Minute, nil)
	sseMgr := sse.NewManager(authMgr)

	registry := tools.NewRegistry()
	registry.Register(
		tools.CatalogEntry{ToolName: "echo", DisplayName: "Echo", Category: tools.CategoryConfiguration, IsEnabledByDefault: true, MinPlan: tenant.PlanStarter},
		func() any { return &echoParams{} },
		func(tc *tools.ToolContext, params any) (*tools.ToolResult, *tools.ToolError) {
			p := params.(*echoParams)
			return &tools.ToolResult{Data: map[string]string{"echo": p.Message}}, nil
		},
	)
	registry.Register(
		tools.CatalogEntry{ToolName: "enterprise_only", DisplayName: "Enterprise Only", Category: tools.CategoryConfiguration, IsEnabledByDefault: true, MinPlan: tenant.PlanEnterprise},
		func() any { return &struct{}{} },
		func(tc *tools.ToolContext, params any) (*tools.ToolResult, *tools.ToolError) {
			return &tools.ToolResult{Data: "ok"}, nil
		},
	)

	selection := tools.NewSelectionService(registry, newFakeOverrideRepo(), tools.SelectionConfig{})
	dispatcher := jsonrpc.NewDispatcher(authMgr, registry, selection, fakePlanLookup{plan: plan}, sseMgr, nil)

	return &testHarness{dispatcher: dispatcher, authMgr: authMgr}
}

func (h *testHarness) token(t *testing.T, userID kernel.UserID, tenantID kernel.TenantID) string {
	t.Helper()
	tok, _, err := h.authMgr.GenerateToken(auth.UserSnapshot{
		ID: userID, Email: "athlete@example.com", TenantID: tenantID, Role: "member", Status: auth.StatusActive,
	})
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return tok
}

func TestPingRequiresNoAuthToken(t *testing.T) {
	h := newTestHarness(t, tenant.PlanStarter)
	resp := h.dispatcher.Dispatch(context.Background(), &jsonrpc.Request{JSONRPC: "2.0", Method: "ping", ID: 1})
	if resp.Error != nil {
		t.Fatalf("expected ping to succeed without auth, got %+v", resp.Error)
	}
}

func TestDispatchRejectsMissingAuthToken(t *testing.T) {
	h := newTestHarness(t, tenant.PlanStarter)
	resp := h.dispatcher.Dispatch(context.Background(), &jsonrpc.Request{JSONRPC: "2.0", Method: "tools/list", ID: 1})
	if resp.Error == nil || resp.Error.Code != jsonrpc.CodeAuthRequired {
		t.Fatalf("expected CodeAuthRequired, got %+v", resp.Error)
	}
}

func TestToolCallHappyPath(t *testing.T) {
	h := newTestHarness(t, tenant.PlanStarter)
	token := h.token(t, "user-1", "tenant-1")

	params, _ := json.Marshal(map[string]any{"name": "echo", "arguments": map[string]string{"message": "hi"}})
	resp := h.dispatcher.Dispatch(context.Background(), &jsonrpc.Request{
		JSONRPC: "2.0", Method: "tools/call", ID: 1, AuthToken: token, Params: params,
	})
	if resp.Error != nil {
		t.Fatalf("expected tool call to succeed, got %+v", resp.Error)
	}
	data, ok := resp.Result.(map[string]string)
	if !ok || data["echo"] != "hi" {
		t.Fatalf("expected echoed message, got %+v", resp.Result)
	}
}

func TestToolCallRejectsUnknownTool(t *testing.T) {
	h := newTestHarness(t, tenant.PlanStarter)
	token := h.token(t, "user-1", "tenant-1")

	params, _ := json.Marshal(map[string]any{"name": "not_a_real_tool"})
	resp := h.dispatcher.Dispatch(context.Background(), &jsonrpc.Request{
		JSONRPC: "2.0", Method: "tools/call", ID: 1, AuthToken: token, Params: params,
	})
	if resp.Error == nil || resp.Error.Code != jsonrpc.CodeMethodNotFound {
		t.Fatalf("expected CodeMethodNotFound, got %+v", resp.Error)
	}
}

func TestToolCallBlockedByPlanGating(t *testing.T) {
	h := newTestHarness(t, tenant.PlanStarter)
	token := h.token(t, "user-1", "tenant-1")

	params, _ := json.Marshal(map[string]any{"name": "enterprise_only"})
	resp := h.dispatcher.Dispatch(context.Background(), &jsonrpc.Request{
		JSONRPC: "2.0", Method: "tools/call", ID: 1, AuthToken: token, Params: params,
	})
	if resp.Error == nil || resp.Error.Code != jsonrpc.CodeToolDisabled {
		t.Fatalf("expected CodeToolDisabled for a plan-gated tool under a lower plan, got %+v", resp.Error)
	}
}

func TestToolCallAllowedOnceEnterprisePlanMeetsMinimum(t *testing.T) {
	h := newTestHarness(t, tenant.PlanEnterprise)
	token := h.token(t, "user-1", "tenant-1")

	params, _ := json.Marshal(map[string]any{"name": "enterprise_only"})
	resp := h.dispatcher.Dispatch(context.Background(), &jsonrpc.Request{
		JSONRPC: "2.0", Method: "tools/call", ID: 1, AuthToken: token, Params: params,
	})
	if resp.Error != nil {
		t.Fatalf("expected enterprise-gated tool to succeed at PlanEnterprise, got %+v", resp.Error)
	}
}
