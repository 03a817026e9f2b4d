package tools

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/pierre-mcp/pierre/internal/tenant"
	"github.com/pierre-mcp/pierre/pkg/errx"
	"github.com/pierre-mcp/pierre/pkg/kernel"
)

const (
	defaultCacheSize     = 1000
	defaultCacheTTL      = 300 * time.Second
	minCacheTTL          = 30 * time.Second
	maxCacheTTL          = 3600 * time.Second
	defaultOverrideLimit = 100
	disabledToolsEnvVar  = "PIERRE_DISABLED_TOOLS"
)

var ErrRegistry = errx.NewRegistry("TOOLS")

var (
	codeOverrideLimitExceeded = ErrRegistry.Register("override_limit_exceeded", errx.TypeValidation, 400, "tenant has reached its tool-override limit")
	codeUnknownTool           = ErrRegistry.Register("unknown_tool", errx.TypeNotFound, 404, "tool not found in catalog")
)

// SelectionConfig tunes the selection cache and override cap; zero values
// fall back to the documented defaults.
type SelectionConfig struct {
	CacheSize     int
	CacheTTL      time.Duration
	OverrideLimit int
}

func (c SelectionConfig) normalize() SelectionConfig {
	if c.CacheSize <= 0 {
		c.CacheSize = defaultCacheSize
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = defaultCacheTTL
	}
	if c.CacheTTL < minCacheTTL {
		c.CacheTTL = minCacheTTL
	}
	if c.CacheTTL > maxCacheTTL {
		c.CacheTTL = maxCacheTTL
	}
	if c.OverrideLimit <= 0 {
		c.OverrideLimit = defaultOverrideLimit
	}
	return c
}

// SelectionService layers global env disables, catalog defaults, tenant
// overrides and plan gating into one IsEnabledForTenant decision, caching
// the result per (tenant_id, tool_name) until its TTL lapses, it is
// evicted from its LRU shard, or the next override write for that tenant.
type SelectionService struct {
	registry      *Registry
	overrides     OverrideRepository
	cache         *selectionCache
	overrideLimit int
	disabled      map[string]bool
}

func NewSelectionService(registry *Registry, overrides OverrideRepository, cfg SelectionConfig) *SelectionService {
	cfg = cfg.normalize()
	return &SelectionService{
		registry:      registry,
		overrides:     overrides,
		cache:         newSelectionCache(cfg.CacheSize, cfg.CacheTTL),
		overrideLimit: cfg.OverrideLimit,
		disabled:      parseDisabledTools(os.Getenv(disabledToolsEnvVar)),
	}
}

func parseDisabledTools(raw string) map[string]bool {
	out := make(map[string]bool)
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			out[name] = true
		}
	}
	return out
}

func cacheKey(tenantID kernel.TenantID, toolName string) string {
	return tenantID.String() + "|" + toolName
}

// IsEnabledForTenant resolves the effective enabled state for toolName
// under tenantID at plan, consulting the cache first.
func (s *SelectionService) IsEnabledForTenant(ctx context.Context, tenantID kernel.TenantID, toolName string, plan tenant.Plan) (EffectiveTool, error) {
	key := cacheKey(tenantID, toolName)
	if cached, ok := s.cache.get(key); ok {
		return cached, nil
	}

	catalog, ok := s.registry.CatalogEntry(toolName)
	if !ok {
		return EffectiveTool{}, ErrRegistry.New(codeUnknownTool).WithDetail("tool_name", toolName)
	}

	result := s.resolve(ctx, tenantID, catalog, plan)
	s.cache.set(key, result)
	return result, nil
}

func (s *SelectionService) resolve(ctx context.Context, tenantID kernel.TenantID, catalog CatalogEntry, plan tenant.Plan) EffectiveTool {
	if s.disabled[catalog.ToolName] {
		return EffectiveTool{CatalogEntry: catalog, IsEnabled: false, Source: SourceGlobalDisabled}
	}

	enabled := catalog.IsEnabledByDefault
	source := SourceDefault

	if override, err := s.overrides.FindOverride(ctx, tenantID, catalog.ToolName); err == nil && override != nil {
		enabled = override.IsEnabled
		source = SourceTenantOverride
	}

	if enabled && !plan.MeetsMinimum(catalog.MinPlan) {
		return EffectiveTool{CatalogEntry: catalog, IsEnabled: false, Source: SourcePlanRestriction}
	}

	return EffectiveTool{CatalogEntry: catalog, IsEnabled: enabled, Source: source}
}

// SetOverride writes a tenant override, enforcing the per-tenant override
// cap, then invalidates every cached decision for that tenant.
func (s *SelectionService) SetOverride(ctx context.Context, o *TenantOverride) error {
	existing, err := s.overrides.FindOverride(ctx, o.TenantID, o.ToolName)
	if err != nil {
		return err
	}
	if existing == nil {
		count, cerr := s.overrides.CountOverrides(ctx, o.TenantID)
		if cerr != nil {
			return cerr
		}
		if count >= s.overrideLimit {
			return ErrRegistry.New(codeOverrideLimitExceeded).WithDetail("limit", s.overrideLimit)
		}
	}
	if err := s.overrides.SaveOverride(ctx, o); err != nil {
		return err
	}
	s.cache.invalidateTenant(o.TenantID.String() + "|")
	return nil
}

// ListEffective returns the effective view of every catalog tool for
// tenantID at plan — used by discovery/listing endpoints.
func (s *SelectionService) ListEffective(ctx context.Context, tenantID kernel.TenantID, plan tenant.Plan) []EffectiveTool {
	catalog := s.registry.List()
	out := make([]EffectiveTool, 0, len(catalog))
	for _, c := range catalog {
		out = append(out, s.resolve(ctx, tenantID, c, plan))
	}
	return out
}
