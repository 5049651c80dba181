// Package openapi generates the gateway's OpenAPI 3.1 document from its
// configured resources and registered plugins. The document covers the proxy
// surface apps call, not the admin API.
package openapi

import (
	"fmt"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/glueco/keywarden/internal/model"
	"github.com/glueco/keywarden/internal/plugin"
)

// popHeaders are the proof-of-possession headers every proxied request
// carries. They are documented as required header parameters on each
// operation rather than as a securityScheme, since OpenAPI has no native
// request-signing scheme.
var popHeaders = []string{"x-pop-v", "x-app-id", "x-ts", "x-nonce", "x-sig"}

// GenerateSpec builds the proxy-surface document for the given resources.
// Inactive resources and resources without a registered plugin are skipped.
func GenerateSpec(resources []model.Resource, plugins *plugin.Registry, baseURL string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Keywarden Gateway API",
			Description: "Proxy surface for apps holding a connection handle. Every request is authenticated per call with an Ed25519 proof-of-possession signature.",
			Version:     "1.0.0",
		},
		Servers: openapi3.Servers{
			{URL: strings.TrimRight(baseURL, "/")},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	doc.Components = &components

	doc.Components.Schemas["ErrorResponse"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"error": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"object"},
						Properties: openapi3.Schemas{
							"code":      &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
							"message":   &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
							"requestId": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
						},
					},
				},
			},
		},
	}

	doc.Paths = openapi3.NewPaths()
	for _, res := range resources {
		if !res.IsActive {
			continue
		}
		pl, err := plugins.Get(res.ResourceType, res.Provider)
		if err != nil {
			continue
		}
		for _, action := range pl.Actions() {
			addActionPath(doc, res, action)
		}
	}
	return doc
}

// addActionPath registers one proxied operation. Actions use dot notation
// ("chat.completions") which maps to slash-separated path segments.
func addActionPath(doc *openapi3.T, res model.Resource, action string) {
	path := fmt.Sprintf("/r/%s/%s/%s",
		res.ResourceType, res.Provider, strings.ReplaceAll(action, ".", "/"))

	op := openapi3.NewOperation()
	op.OperationID = fmt.Sprintf("%s_%s_%s", res.ResourceType, res.Provider,
		strings.ReplaceAll(action, ".", "_"))
	op.Summary = fmt.Sprintf("Proxy %s to %s", action, res.Provider)
	op.Description = fmt.Sprintf("Forwards the request body to %s with the owner's credential injected. "+
		"Input is validated and constrained by the caller's permission before anything reaches the provider.",
		res.Provider)
	op.Tags = []string{res.ResourceID}

	for _, h := range popHeaders {
		param := openapi3.NewHeaderParameter(h)
		param.Required = true
		param.Schema = openapi3.NewStringSchema().NewRef()
		op.AddParameter(param)
	}

	body := openapi3.NewRequestBody().
		WithRequired(true).
		WithJSONSchema(openapi3.NewObjectSchema())
	op.RequestBody = &openapi3.RequestBodyRef{Value: body}

	okDesc := "Provider response, relayed verbatim"
	op.AddResponse(200, openapi3.NewResponse().WithDescription(okDesc).
		WithJSONSchema(openapi3.NewObjectSchema()))
	for status, desc := range map[int]string{
		400: "Malformed input or unsupported protocol version",
		401: "Authentication failed",
		403: "Permission denied or constraint violation",
		404: "Unknown resource or action",
		429: "Rate limit or budget exceeded",
		502: "Upstream provider error",
	} {
		op.AddResponse(status, openapi3.NewResponse().WithDescription(desc).WithJSONSchemaRef(
			openapi3.NewSchemaRef("#/components/schemas/ErrorResponse", nil)))
	}

	doc.Paths.Set(path, &openapi3.PathItem{Post: op})
}
