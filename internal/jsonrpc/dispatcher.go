package jsonrpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pierre-mcp/pierre/internal/auth"
	"github.com/pierre-mcp/pierre/internal/sse"
	"github.com/pierre-mcp/pierre/internal/tenant"
	"github.com/pierre-mcp/pierre/internal/tools"
	"github.com/pierre-mcp/pierre/pkg/kernel"
	"github.com/pierre-mcp/pierre/pkg/logx"
)

// PlanLookup resolves a tenant's current plan for ToolSelectionService's
// plan-gating layer, satisfied by *tenant.Service.
type PlanLookup interface {
	GetPlan(ctx context.Context, tenantID kernel.TenantID) (tenant.Plan, error)
}

// methodHandler serves one non-tool-invocation RPC method.
type methodHandler func(ctx context.Context, authCtx *kernel.AuthContext, req *Request) (any, *Error)

// Dispatcher routes a Request through authentication, method resolution
// and (for tool calls) the ToolSelectionService/ToolRegistry pipeline
// §4.6 specifies, producing exactly one Response per Request.
type Dispatcher struct {
	authMgr    *auth.Manager
	registry   *tools.Registry
	selection  *tools.SelectionService
	planLookup PlanLookup
	sseMgr     *sse.Manager
	providers  tools.ProviderAccessor

	methods map[string]methodHandler
}

func NewDispatcher(authMgr *auth.Manager, registry *tools.Registry, selection *tools.SelectionService, planLookup PlanLookup, sseMgr *sse.Manager, providers tools.ProviderAccessor) *Dispatcher {
	d := &Dispatcher{
		authMgr:    authMgr,
		registry:   registry,
		selection:  selection,
		planLookup: planLookup,
		sseMgr:     sseMgr,
		providers:  providers,
		methods:    make(map[string]methodHandler),
	}
	d.registerBuiltins()
	return d
}

func (d *Dispatcher) registerBuiltins() {
	ping := func(ctx context.Context, _ *kernel.AuthContext, req *Request) (any, *Error) {
		return map[string]string{"status": "ok"}, nil
	}
	initialize := func(ctx context.Context, authCtx *kernel.AuthContext, req *Request) (any, *Error) {
		return map[string]any{
			"protocolVersion": "2025-06-18",
			"serverInfo":      map[string]string{"name": "pierre", "version": "1.0"},
		}, nil
	}
	toolsList := func(ctx context.Context, authCtx *kernel.AuthContext, req *Request) (any, *Error) {
		plan, err := d.planLookup.GetPlan(ctx, authCtx.TenantID)
		if err != nil {
			return nil, &Error{Code: CodeInternalError, Message: "failed to resolve tenant plan"}
		}
		effective := d.selection.ListEffective(ctx, authCtx.TenantID, plan)
		out := make([]map[string]any, 0, len(effective))
		for _, e := range effective {
			if !e.IsEnabled {
				continue
			}
			out = append(out, map[string]any{
				"name":        e.ToolName,
				"description": e.Description,
				"category":    string(e.Category),
			})
		}
		return map[string]any{"tools": out}, nil
	}

	d.methods["ping"] = ping
	d.methods["initialize"] = initialize
	d.methods["a2a/initialize"] = initialize
	d.methods["tools/list"] = toolsList
	d.methods["a2a/tools/list"] = toolsList
	d.methods["resources/list"] = func(ctx context.Context, _ *kernel.AuthContext, _ *Request) (any, *Error) {
		return map[string]any{"resources": []any{}}, nil
	}
	d.methods["prompts/list"] = func(ctx context.Context, _ *kernel.AuthContext, _ *Request) (any, *Error) {
		return map[string]any{"prompts": []any{}}, nil
	}
	d.methods["completion/complete"] = func(ctx context.Context, _ *kernel.AuthContext, _ *Request) (any, *Error) {
		return map[string]any{"completion": nil}, nil
	}
}

// Dispatch authenticates and routes req, returning exactly one Response.
// Tool invocation methods run through handleToolCall's seven-step
// sequence; every other registered method runs through the plain
// methodHandler table.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) *Response {
	if req.JSONRPC != "2.0" {
		return errorResponse(req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\"", nil)
	}

	var authCtx *kernel.AuthContext
	if req.Method != "ping" {
		var authErr *Error
		authCtx, authErr = d.authenticate(ctx, req.AuthToken)
		if authErr != nil {
			return &Response{JSONRPC: "2.0", ID: req.ID, Error: authErr}
		}
	}

	if req.Method == "tools/call" || req.Method == "a2a/tools/call" {
		result, rpcErr := d.handleToolCall(ctx, authCtx, req)
		if rpcErr != nil {
			return &Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
		}
		return successResponse(req.ID, result)
	}

	handler, ok := d.methods[req.Method]
	if !ok {
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method), nil)
	}
	result, rpcErr := handler(ctx, authCtx, req)
	if rpcErr != nil {
		return &Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
	}
	return successResponse(req.ID, result)
}

func (d *Dispatcher) authenticate(ctx context.Context, token string) (*kernel.AuthContext, *Error) {
	if token == "" {
		return nil, &Error{Code: CodeAuthRequired, Message: "auth_token is required"}
	}
	claims, err := d.authMgr.ValidateToken(ctx, token)
	if err != nil {
		return nil, &Error{Code: CodeAuthRequired, Message: "invalid or expired token"}
	}
	return &kernel.AuthContext{
		UserID:   &claims.UserID,
		TenantID: claims.TenantID,
		Email:    claims.Email,
		Scopes:   []string{"role:" + claims.Role},
		Kind:     kernel.AuthKindUserJWT,
	}, nil
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolCall implements the seven-step tool-call sequence: resolve
// from ToolRegistry, consult ToolSelectionService, deserialize params,
// build ToolContext, invoke, convert to a response, fan out
// notifications best-effort.
func (d *Dispatcher) handleToolCall(ctx context.Context, authCtx *kernel.AuthContext, req *Request) (any, *Error) {
	var call toolCallParams
	if err := json.Unmarshal(req.Params, &call); err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "malformed tool call params", Data: err.Error()}
	}

	_, newParams, handler, ok := d.registry.Lookup(call.Name)
	if !ok {
		return nil, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("unknown tool %q", call.Name)}
	}

	plan, err := d.planLookup.GetPlan(ctx, authCtx.TenantID)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: "failed to resolve tenant plan"}
	}
	effective, err := d.selection.IsEnabledForTenant(ctx, authCtx.TenantID, call.Name, plan)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: "failed to resolve tool selection"}
	}
	if !effective.IsEnabled {
		return nil, &Error{
			Code:    CodeToolDisabled,
			Message: "tool disabled for tenant",
			Data:    map[string]string{"tool_name": call.Name, "source": string(effective.Source)},
		}
	}

	params := newParams()
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, params); err != nil {
			return nil, &Error{Code: CodeInvalidParams, Message: "invalid tool arguments", Data: err.Error()}
		}
	}

	tc := &tools.ToolContext{
		Context:   ctx,
		UserID:    *authCtx.UserID,
		TenantID:  authCtx.TenantID,
		Plan:      plan,
		Providers: d.providers,
	}

	result, toolErr := handler(tc, params)
	if toolErr != nil {
		return nil, &Error{Code: CodeExecutionFailed, Message: "tool execution failed", Data: map[string]string{"tool_name": call.Name, "code": toolErr.Code, "details": toolErr.Message}}
	}

	if d.sseMgr != nil {
		for _, n := range result.Notifications {
			if err := d.sseMgr.SendNotification(ctx, *authCtx.UserID, sse.Event{Kind: sse.EventNotification, Data: map[string]any{"kind": n.Kind, "payload": n.Payload}}); err != nil {
				logx.WithError(err).WithField("tool_name", call.Name).Debug("no SSE sessions to deliver tool notification to")
			}
		}
	}

	return result.Data, nil
}
