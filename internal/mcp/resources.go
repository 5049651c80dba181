package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// registerResources adds MCP resource definitions to the server. Resources
// provide read-only data that LLM clients can load into their context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {

	// -------------------------------------------------------------------
	// keywarden://apps — list of all paired apps
	// -------------------------------------------------------------------
	srv.AddResource(
		mcp.NewResource(
			"keywarden://apps",
			"Paired Apps",
			mcp.WithResourceDescription(
				"List of all apps paired with this gateway, including their "+
					"lifecycle status.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleAppsResource,
	)

	// -------------------------------------------------------------------
	// keywarden://permissions/{app} — an app's permission grants (template)
	// -------------------------------------------------------------------
	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"keywarden://permissions/{app}",
			"App Permissions",
			mcp.WithTemplateDescription(
				"All permission grants held by one app, with constraints, "+
					"rate limits, quotas, and token budgets.",
			),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handlePermissionsResource,
	)
}

// handleAppsResource returns a JSON list of all paired apps.
func (s *MCPServer) handleAppsResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	apps, err := s.store.ListApps(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list apps: %w", err)
	}

	b, err := json.MarshalIndent(apps, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal apps: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "keywarden://apps",
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

// handlePermissionsResource returns the grants held by one app.
func (s *MCPServer) handlePermissionsResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	// Extract app ID from URI: "keywarden://permissions/{app}"
	uri := request.Params.URI
	appID := strings.TrimPrefix(uri, "keywarden://permissions/")
	if appID == "" || appID == uri {
		return nil, fmt.Errorf("invalid permissions URI %q: expected keywarden://permissions/{app}", uri)
	}

	perms, err := s.store.ListPermissionsByApp(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions for %q: %w", appID, err)
	}

	b, err := json.MarshalIndent(perms, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal permissions: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
