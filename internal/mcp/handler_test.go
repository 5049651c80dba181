package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/glueco/keywarden/internal/model"
	"github.com/glueco/keywarden/internal/store"
)

func TestClamp(t *testing.T) {
	tests := []struct {
		name     string
		val      int
		min      int
		max      int
		expected int
	}{
		{"value in range", 5, 1, 10, 5},
		{"value below min", -3, 1, 10, 1},
		{"value above max", 15, 1, 10, 10},
		{"value equals min", 1, 1, 10, 1},
		{"value equals max", 10, 1, 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := clamp(tt.val, tt.min, tt.max)
			if got != tt.expected {
				t.Errorf("clamp(%d, %d, %d) = %d, want %d", tt.val, tt.min, tt.max, got, tt.expected)
			}
		})
	}
}

func newTestMCP(t *testing.T) (*MCPServer, *store.Store) {
	t.Helper()
	st, err := store.NewStore("")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewMCPServer(st, logger), st
}

func toolRequest(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	tc, ok := mcp.AsTextContent(res.Content[0])
	if !ok {
		t.Fatalf("unexpected content type %T", res.Content[0])
	}
	return tc.Text
}

func TestListAppsTool(t *testing.T) {
	s, st := newTestMCP(t)
	app := &model.App{Name: "Note taker", Status: model.AppActive, PublicKey: "cGs"}
	if err := st.CreateApp(context.Background(), app); err != nil {
		t.Fatalf("seed app: %v", err)
	}

	res, err := s.handleListApps(context.Background(), toolRequest(nil))
	if err != nil {
		t.Fatalf("handleListApps: %v", err)
	}
	text := resultText(t, res)
	if !strings.Contains(text, "Note taker") {
		t.Errorf("expected app name in result: %s", text)
	}

	var payload struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if payload.Count != 1 {
		t.Errorf("expected count 1, got %d", payload.Count)
	}
}

func TestAppUsageToolRequiresAppID(t *testing.T) {
	s, _ := newTestMCP(t)
	res, err := s.handleAppUsage(context.Background(), toolRequest(nil))
	if err != nil {
		t.Fatalf("handleAppUsage: %v", err)
	}
	if !res.IsError {
		t.Error("expected tool error without app_id")
	}
}

func TestSuspendAppTool(t *testing.T) {
	s, st := newTestMCP(t)
	app := &model.App{Name: "Rogue app", Status: model.AppActive, PublicKey: "cGs"}
	if err := st.CreateApp(context.Background(), app); err != nil {
		t.Fatalf("seed app: %v", err)
	}

	res, err := s.handleSuspendApp(context.Background(), toolRequest(map[string]interface{}{"app_id": app.ID}))
	if err != nil {
		t.Fatalf("handleSuspendApp: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, res))
	}

	stored, err := st.GetApp(context.Background(), app.ID)
	if err != nil {
		t.Fatalf("get app: %v", err)
	}
	if stored.Status != model.AppSuspended {
		t.Errorf("expected SUSPENDED, got %s", stored.Status)
	}
}

func TestSuspendRevokedAppRejected(t *testing.T) {
	s, st := newTestMCP(t)
	app := &model.App{Name: "Gone app", Status: model.AppActive, PublicKey: "cGs"}
	if err := st.CreateApp(context.Background(), app); err != nil {
		t.Fatalf("seed app: %v", err)
	}
	if err := st.UpdateAppStatus(context.Background(), app.ID, model.AppRevoked); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	res, err := s.handleSuspendApp(context.Background(), toolRequest(map[string]interface{}{"app_id": app.ID}))
	if err != nil {
		t.Fatalf("handleSuspendApp: %v", err)
	}
	if !res.IsError {
		t.Error("expected tool error suspending a revoked app")
	}
}
