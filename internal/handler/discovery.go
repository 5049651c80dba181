package handler

import (
	"net/http"

	"github.com/glueco/keywarden/internal/plugin"
	"github.com/glueco/keywarden/internal/pop"
	"github.com/glueco/keywarden/internal/store"
)

// DiscoveryHandler advertises the gateway's active resources so an app can
// see what it could request before initiating the connect flow. Secrets and
// per-app grants never appear here.
type DiscoveryHandler struct {
	store   *store.Store
	plugins *plugin.Registry
}

// NewDiscoveryHandler creates a new DiscoveryHandler.
func NewDiscoveryHandler(st *store.Store, plugins *plugin.Registry) *DiscoveryHandler {
	return &DiscoveryHandler{store: st, plugins: plugins}
}

// constraintSupport lists the constraint dimensions a resource type accepts.
func constraintSupport(resourceType string) []string {
	switch resourceType {
	case "llm":
		return []string{"allowedModels", "maxOutputTokens", "allowStreaming", "allowTools"}
	case "email":
		return []string{"allowedSenders", "maxRecipients"}
	default:
		return nil
	}
}

// Discover returns the list of active resources with their supported actions
// and the PoP scheme apps must implement.
// GET /discovery
func (h *DiscoveryHandler) Discover(w http.ResponseWriter, r *http.Request) {
	resources, err := h.store.ListResources(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Failed to list resources")
		return
	}

	out := make([]map[string]interface{}, 0, len(resources))
	for _, res := range resources {
		if !res.IsActive {
			continue
		}
		entry := map[string]interface{}{
			"resourceId": res.ResourceID,
			"name":       res.Name,
			"auth": map[string]interface{}{
				"pop": map[string]interface{}{"version": pop.Version},
			},
		}
		if pl, err := h.plugins.Get(res.ResourceType, res.Provider); err == nil {
			entry["actions"] = pl.Actions()
		} else {
			entry["actions"] = []string{}
		}
		if supports := constraintSupport(res.ResourceType); supports != nil {
			entry["constraints"] = map[string]interface{}{"supports": supports}
		}
		out = append(out, entry)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"resource": out})
}
