package mcp

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/glueco/keywarden/internal/model"
)

// registerTools registers all Keywarden MCP tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	// ----- Inspection tools -----

	srv.AddTool(
		mcp.NewTool("keywarden_list_apps",
			mcp.WithDescription(
				"List all apps paired with this gateway. Returns each app's ID, name, "+
					"status (ACTIVE, SUSPENDED, REVOKED), and when it was paired. Use this "+
					"first to discover which apps hold access.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListApps,
	)

	srv.AddTool(
		mcp.NewTool("keywarden_list_resources",
			mcp.WithDescription(
				"List the upstream credentials shared through this gateway. Returns each "+
					"resource's identifier (type:provider), name, and active status. "+
					"Secrets are never returned.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListResources,
	)

	srv.AddTool(
		mcp.NewTool("keywarden_app_permissions",
			mcp.WithDescription(
				"List the permissions held by one app, including constraints, rate "+
					"limits, quotas, and token budgets. Revoked permissions are included "+
					"with their status.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("app_id",
				mcp.Required(),
				mcp.Description("ID of the app to inspect"),
			),
		),
		s.handleAppPermissions,
	)

	srv.AddTool(
		mcp.NewTool("keywarden_app_usage",
			mcp.WithDescription(
				"Summarize an app's proxied usage: request count, token totals, and "+
					"error count over the last N days (default 30).",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("app_id",
				mcp.Required(),
				mcp.Description("ID of the app to summarize"),
			),
			mcp.WithNumber("days",
				mcp.Description("Look-back window in days (default 30, max 365)"),
			),
		),
		s.handleAppUsage,
	)

	srv.AddTool(
		mcp.NewTool("keywarden_recent_requests",
			mcp.WithDescription(
				"Show recent proxied requests, newest first, optionally filtered to one "+
					"app. Each entry carries the resource, action, status, token counts, "+
					"and latency.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("app_id",
				mcp.Description("Only show requests from this app"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum entries to return (default 50, max 500)"),
			),
		),
		s.handleRecentRequests,
	)

	srv.AddTool(
		mcp.NewTool("keywarden_pending_connects",
			mcp.WithDescription(
				"List connect requests awaiting a decision. Each entry shows the "+
					"requesting app's metadata and the permissions it asked for. Decisions "+
					"are made in the admin UI, not through this tool.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handlePendingConnects,
	)

	// ----- Containment tool -----

	srv.AddTool(
		mcp.NewTool("keywarden_suspend_app",
			mcp.WithDescription(
				"Suspend an app, blocking all of its requests until it is resumed from "+
					"the admin UI. Suspension is reversible; this tool cannot revoke.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("app_id",
				mcp.Required(),
				mcp.Description("ID of the app to suspend"),
			),
		),
		s.handleSuspendApp,
	)
}

func (s *MCPServer) handleListApps(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	apps, err := s.store.ListApps(ctx)
	if err != nil {
		return toolError("failed to list apps: %v", err)
	}
	return successJSON(map[string]interface{}{"apps": apps, "count": len(apps)})
}

func (s *MCPServer) handleListResources(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resources, err := s.store.ListResources(ctx)
	if err != nil {
		return toolError("failed to list resources: %v", err)
	}
	return successJSON(map[string]interface{}{"resources": resources, "count": len(resources)})
}

func (s *MCPServer) handleAppPermissions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	appID, err := requireString(request, "app_id")
	if err != nil {
		return toolError("%v", err)
	}
	perms, err := s.store.ListPermissionsByApp(ctx, appID)
	if err != nil {
		return toolError("failed to list permissions: %v", err)
	}
	return successJSON(map[string]interface{}{"app_id": appID, "permissions": perms})
}

func (s *MCPServer) handleAppUsage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	appID, err := requireString(request, "app_id")
	if err != nil {
		return toolError("%v", err)
	}
	days := clamp(optionalInt(request, "days", 30), 1, 365)
	since := time.Now().AddDate(0, 0, -days)

	summary, err := s.store.SummarizeUsage(ctx, appID, since)
	if err != nil {
		return toolError("failed to summarize usage: %v", err)
	}
	return successJSON(map[string]interface{}{"since": since, "summary": summary})
}

func (s *MCPServer) handleRecentRequests(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := clamp(optionalInt(request, "limit", 50), 1, 500)
	logs, err := s.store.ListRequestLogs(ctx, optionalString(request, "app_id"), limit)
	if err != nil {
		return toolError("failed to list requests: %v", err)
	}
	return successJSON(map[string]interface{}{"requests": logs, "count": len(logs)})
}

func (s *MCPServer) handlePendingConnects(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	crs, err := s.store.ListConnectRequests(ctx, model.ConnectPending)
	if err != nil {
		return toolError("failed to list connect requests: %v", err)
	}
	return successJSON(map[string]interface{}{"connect_requests": crs, "count": len(crs)})
}

func (s *MCPServer) handleSuspendApp(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	appID, err := requireString(request, "app_id")
	if err != nil {
		return toolError("%v", err)
	}
	app, err := s.store.GetApp(ctx, appID)
	if err != nil {
		return toolError("app %q not found", appID)
	}
	if app.Status == model.AppRevoked {
		return toolError("app %q is revoked; revocation is terminal", appID)
	}
	if err := s.store.UpdateAppStatus(ctx, appID, model.AppSuspended); err != nil {
		return toolError("failed to suspend app: %v", err)
	}
	return successJSON(map[string]interface{}{"app_id": appID, "status": model.AppSuspended})
}
