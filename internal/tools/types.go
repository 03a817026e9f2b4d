// Package tools implements the static tool catalog, per-tenant
// enable/disable overrides, and the bounded-cache selection service that
// gates every tool invocation the JSON-RPC dispatcher routes. Grounded on
// internal/tenant's Plan ordering for plan-gating and on
// internal/ratelimit's mutex-guarded map idiom, split across shards, for
// the selection cache.
package tools

import (
	"context"
	"time"

	"github.com/pierre-mcp/pierre/internal/tenant"
	"github.com/pierre-mcp/pierre/pkg/kernel"
)

// Category groups catalog entries for discovery/listing endpoints.
type Category string

const (
	CategoryFitness       Category = "Fitness"
	CategoryAnalysis      Category = "Analysis"
	CategoryGoals         Category = "Goals"
	CategoryNutrition     Category = "Nutrition"
	CategoryRecipes       Category = "Recipes"
	CategorySleep         Category = "Sleep"
	CategoryConfiguration Category = "Configuration"
	CategoryConnections   Category = "Connections"
)

// CatalogEntry is the static, build-time description of one tool.
type CatalogEntry struct {
	ToolName           string
	DisplayName        string
	Description        string
	Category           Category
	IsEnabledByDefault bool
	RequiresProvider   string // empty if the tool needs no downstream provider
	MinPlan            tenant.Plan
}

// TenantOverride is a tenant-specific enable/disable decision, unique on
// (TenantID, ToolName).
type TenantOverride struct {
	TenantID      kernel.TenantID
	ToolName      string
	IsEnabled     bool
	EnabledByUser *kernel.UserID
	Reason        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Source records which layer of ToolSelectionService's resolution
// decided a tool's enabled state, surfaced to callers on rejection.
type Source string

const (
	SourceDefault         Source = "Default"
	SourceTenantOverride   Source = "TenantOverride"
	SourcePlanRestriction  Source = "PlanRestriction"
	SourceGlobalDisabled   Source = "GlobalDisabled"
)

// EffectiveTool is the resolved view of a tool for one tenant: the
// catalog entry plus the final enabled/disabled decision and its source.
type EffectiveTool struct {
	CatalogEntry
	IsEnabled bool
	Source    Source
}

// OverrideRepository persists TenantOverride rows.
type OverrideRepository interface {
	FindOverride(ctx context.Context, tenantID kernel.TenantID, toolName string) (*TenantOverride, error)
	ListOverrides(ctx context.Context, tenantID kernel.TenantID) ([]*TenantOverride, error)
	CountOverrides(ctx context.Context, tenantID kernel.TenantID) (int, error)
	SaveOverride(ctx context.Context, o *TenantOverride) error
	DeleteOverride(ctx context.Context, tenantID kernel.TenantID, toolName string) error
}

// ToolResult is a successful tool invocation's outcome: a JSON-serializable
// payload plus any notifications to fan out over SSE afterward.
type ToolResult struct {
	Data          any
	Notifications []Notification
}

// Notification is a best-effort, post-invocation side channel event (e.g.
// "goal achieved") distinct from the JSON-RPC response itself.
type Notification struct {
	Kind    string
	Payload map[string]any
}

// ToolError is the structured failure a handler returns; the dispatcher
// maps it onto a JsonRpcError.
type ToolError struct {
	Code    string
	Message string
}

func (e *ToolError) Error() string { return e.Message }

// ProviderAccessor is the narrow surface tool handlers get for reaching
// downstream fitness providers, satisfied by *oauth2client.Client. Kept
// local (rather than importing internal/oauth2client) so tools has no
// forward dependency on the OAuth2 client package.
type ProviderAccessor interface {
	GetValidToken(ctx context.Context, userID kernel.UserID, tenantID kernel.TenantID, provider string) (string, error)
}

// ToolContext is threaded into every handler invocation.
type ToolContext struct {
	Context   context.Context
	UserID    kernel.UserID
	TenantID  kernel.TenantID
	Plan      tenant.Plan
	Providers ProviderAccessor
}

// Handler is the typed signature every registered tool implements,
// receiving already-deserialized parameters.
type Handler func(tc *ToolContext, params any) (*ToolResult, *ToolError)
