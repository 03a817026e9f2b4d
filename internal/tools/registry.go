package tools

import "github.com/pierre-mcp/pierre/internal/tenant"

// entry bundles a catalog row with its typed parameter factory and handler.
type entry struct {
	catalog   CatalogEntry
	newParams func() any
	handler   Handler
}

// Registry is the static tool_name -> {schema, handler, catalog entry}
// mapping. Registration happens once at process startup via Register;
// lookups are lock-free reads of a map built before any concurrent access
// begins, matching oauth2client.Registry's read-mostly shape.
type Registry struct {
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a tool. newParams must return a fresh pointer suitable
// for json.Unmarshal on every call — never a shared instance.
func (r *Registry) Register(catalog CatalogEntry, newParams func() any, handler Handler) {
	r.entries[catalog.ToolName] = entry{catalog: catalog, newParams: newParams, handler: handler}
}

func (r *Registry) Lookup(toolName string) (CatalogEntry, func() any, Handler, bool) {
	e, ok := r.entries[toolName]
	if !ok {
		return CatalogEntry{}, nil, nil, false
	}
	return e.catalog, e.newParams, e.handler, true
}

func (r *Registry) CatalogEntry(toolName string) (CatalogEntry, bool) {
	e, ok := r.entries[toolName]
	return e.catalog, ok
}

// List returns every registered catalog entry, in no particular order.
func (r *Registry) List() []CatalogEntry {
	out := make([]CatalogEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.catalog)
	}
	return out
}

// DefaultRegistry seeds the catalog with Pierre's built-in fitness
// intelligence tools. Handlers are intentionally thin here — they return
// placeholder payloads and carry no analytics or provider-fetch bodies;
// what matters for the registry itself is the catalog shape and plan
// gating.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(CatalogEntry{
		ToolName:           "get_activities",
		DisplayName:        "Get Activities",
		Description:        "Fetch recent workouts from a connected provider",
		Category:           CategoryFitness,
		IsEnabledByDefault: true,
		RequiresProvider:   "strava",
		MinPlan:            tenant.PlanStarter,
	}, func() any { return &GetActivitiesParams{} }, handleGetActivities)

	r.Register(CatalogEntry{
		ToolName:           "analyze_training_load",
		DisplayName:        "Analyze Training Load",
		Description:        "Compute acute:chronic workload ratio over a window",
		Category:           CategoryAnalysis,
		IsEnabledByDefault: true,
		MinPlan:            tenant.PlanStarter,
	}, func() any { return &AnalyzeTrainingLoadParams{} }, handleAnalyzeTrainingLoad)

	r.Register(CatalogEntry{
		ToolName:           "set_goal",
		DisplayName:        "Set Goal",
		Description:        "Create or update a training goal",
		Category:           CategoryGoals,
		IsEnabledByDefault: true,
		MinPlan:            tenant.PlanStarter,
	}, func() any { return &SetGoalParams{} }, handleSetGoal)

	r.Register(CatalogEntry{
		ToolName:           "get_sleep_summary",
		DisplayName:        "Get Sleep Summary",
		Description:        "Summarize sleep stages and duration for a date range",
		Category:           CategorySleep,
		IsEnabledByDefault: true,
		RequiresProvider:   "oura",
		MinPlan:            tenant.PlanProfessional,
	}, func() any { return &GetSleepSummaryParams{} }, handleGetSleepSummary)

	r.Register(CatalogEntry{
		ToolName:           "get_nutrition_summary",
		DisplayName:        "Get Nutrition Summary",
		Description:        "Summarize logged macro/calorie intake for a date range",
		Category:           CategoryNutrition,
		IsEnabledByDefault: true,
		MinPlan:            tenant.PlanProfessional,
	}, func() any { return &DateRangeParams{} }, handleGetNutritionSummary)

	r.Register(CatalogEntry{
		ToolName:           "suggest_recipe",
		DisplayName:        "Suggest Recipe",
		Description:        "Suggest a recipe matching remaining daily macros",
		Category:           CategoryRecipes,
		IsEnabledByDefault: true,
		MinPlan:            tenant.PlanProfessional,
	}, func() any { return &SuggestRecipeParams{} }, handleSuggestRecipe)

	r.Register(CatalogEntry{
		ToolName:           "list_connections",
		DisplayName:        "List Connections",
		Description:        "List the downstream providers connected for this user",
		Category:           CategoryConnections,
		IsEnabledByDefault: true,
		MinPlan:            tenant.PlanStarter,
	}, func() any { return &struct{}{} }, handleListConnections)

	r.Register(CatalogEntry{
		ToolName:           "configure_tool_preferences",
		DisplayName:        "Configure Tool Preferences",
		Description:        "Enable or disable a tool for the calling tenant",
		Category:           CategoryConfiguration,
		IsEnabledByDefault: true,
		MinPlan:            tenant.PlanEnterprise,
	}, func() any { return &ConfigureToolPreferencesParams{} }, handleConfigureToolPreferences)

	return r
}

type GetActivitiesParams struct {
	Limit int `json:"limit"`
}

type AnalyzeTrainingLoadParams struct {
	WindowDays int `json:"window_days"`
}

type SetGoalParams struct {
	Name   string  `json:"name"`
	Target float64 `json:"target"`
	Unit   string  `json:"unit"`
}

type GetSleepSummaryParams struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type DateRangeParams struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type SuggestRecipeParams struct {
	RemainingCalories int `json:"remaining_calories"`
}

type ConfigureToolPreferencesParams struct {
	ToolName  string `json:"tool_name"`
	IsEnabled bool   `json:"is_enabled"`
	Reason    string `json:"reason"`
}
