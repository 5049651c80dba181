// Package gateway composes verification, permission resolution, policy
// enforcement, and provider execution into the per-request proxy pipeline.
package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/glueco/keywarden/internal/model"
	"github.com/glueco/keywarden/internal/plugin"
	"github.com/glueco/keywarden/internal/policy"
	"github.com/glueco/keywarden/internal/pop"
	"github.com/glueco/keywarden/internal/secret"
	mw "github.com/glueco/keywarden/internal/server/middleware"
	"github.com/glueco/keywarden/internal/store"
)

// StreamOverrun selects what happens when a streaming response pushes token
// spend past its budget mid-stream.
const (
	OverrunFinish = "finish"
	OverrunCut    = "cut"
)

// defaultMaxBody bounds inbound request bodies.
const defaultMaxBody = 10 << 20

// ResourceSource looks up shared credentials by their "type:provider" ID.
type ResourceSource interface {
	GetResource(ctx context.Context, resourceID string) (*model.Resource, error)
}

// LogSink receives append-only request records. Failures are logged and
// dropped: the response has already been committed.
type LogSink interface {
	InsertRequestLog(ctx context.Context, rl *model.RequestLog) error
}

// Config assembles a Gateway.
type Config struct {
	Verifier  *pop.Verifier
	Resolver  *policy.Resolver
	Enforcer  *policy.Enforcer
	Plugins   *plugin.Registry
	Resources ResourceSource
	Secrets   *secret.Box
	Logs      LogSink
	Logger    *slog.Logger

	// UpstreamTimeout bounds buffered provider calls. Zero means no bound
	// beyond the inbound request's own lifetime.
	UpstreamTimeout time.Duration
	// StreamOverrun is OverrunFinish or OverrunCut.
	StreamOverrun string
	// MaxBodyBytes bounds inbound bodies; zero selects the default.
	MaxBodyBytes int64
	// HTTPClient overrides the upstream client. Intended for tests.
	HTTPClient *http.Client
}

// Gateway is the request orchestrator mounted under /r/.
type Gateway struct {
	cfg Config
}

// New creates a Gateway.
func New(cfg Config) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBody
	}
	if cfg.StreamOverrun == "" {
		cfg.StreamOverrun = OverrunFinish
	}
	return &Gateway{cfg: cfg}
}

// target is the parsed proxy destination.
type target struct {
	ResourceType string
	Provider     string
	Action       string
}

func (t target) ResourceID() string { return t.ResourceType + ":" + t.Provider }

// parseTarget extracts the resource and action from a proxy path of the form
// /{type}/{provider}/{action...}. A leading v1 segment is tolerated, and
// multi-segment actions join with dots (chat/completions -> chat.completions).
func parseTarget(path string) (target, bool) {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	if len(segs) > 0 && segs[0] == "v1" {
		segs = segs[1:]
	}
	if len(segs) < 3 {
		return target{}, false
	}
	for _, s := range segs {
		if s == "" {
			return target{}, false
		}
	}
	return target{
		ResourceType: segs[0],
		Provider:     segs[1],
		Action:       strings.Join(segs[2:], "."),
	}, true
}

// ServeHTTP runs the proxy pipeline. Mount with the target path rooted at
// the handler (e.g. r.Handle("/r/*", http.StripPrefix("/r", gw))).
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	ctx := r.Context()

	// Routing facts are checked before authentication: unknown destinations
	// 404 without a signature.
	tgt, ok := parseTarget(r.URL.Path)
	if !ok {
		g.writeErr(w, r, newAPIError(http.StatusNotFound, CodeUnknownResource, "unknown resource path"))
		return
	}
	res, err := g.cfg.Resources.GetResource(ctx, tgt.ResourceID())
	if err != nil {
		if err == store.ErrNotFound {
			g.writeErr(w, r, newAPIError(http.StatusNotFound, CodeUnknownResource, "resource "+tgt.ResourceID()+" is not configured"))
			return
		}
		g.fail(w, r, err)
		return
	}
	if !res.IsActive {
		g.writeErr(w, r, newAPIError(http.StatusNotFound, CodeUnknownResource, "resource "+tgt.ResourceID()+" is not configured"))
		return
	}
	pl, err := g.cfg.Plugins.Get(tgt.ResourceType, tgt.Provider)
	if err != nil {
		g.writeErr(w, r, newAPIError(http.StatusNotFound, CodeUnknownResource, "resource "+tgt.ResourceID()+" is not configured"))
		return
	}
	if !plugin.SupportsAction(pl, tgt.Action) {
		g.writeErr(w, r, newAPIError(http.StatusNotFound, CodeUnsupportedAction, "action "+tgt.Action+" is not supported by "+tgt.ResourceID()))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, g.cfg.MaxBodyBytes+1))
	if err != nil {
		g.writeErr(w, r, newAPIError(http.StatusBadRequest, CodeInvalidRequest, "failed to read request body"))
		return
	}
	if int64(len(body)) > g.cfg.MaxBodyBytes {
		g.writeErr(w, r, newAPIError(http.StatusBadRequest, CodeInvalidRequest, "request body too large"))
		return
	}

	app, err := g.cfg.Verifier.Verify(ctx, r, body)
	if err != nil {
		g.fail(w, r, err)
		return
	}

	// Non-JSON payloads reach the plugin as empty input; whether the action
	// accepts such a body is the plugin's call, not the pipeline's.
	input := map[string]interface{}{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &input); err != nil {
			input = map[string]interface{}{}
		}
	}

	perm, err := g.cfg.Resolver.Resolve(ctx, app.ID, tgt.ResourceID(), tgt.Action)
	if err != nil {
		g.fail(w, r, err)
		return
	}

	// Policy runs before input shaping: the counter increment is the
	// enforcement point, so every resolved request consumes its slot, and
	// an exhausted limit outranks a constraint violation.
	if err := g.cfg.Enforcer.Check(ctx, perm); err != nil {
		g.logRequest(r, app, perm, tgt, nil, classify(err).Code, classify(err).Status, false, started)
		g.fail(w, r, err)
		return
	}

	shaped, err := pl.ValidateAndShape(tgt.Action, input, perm.Constraints)
	if err != nil {
		g.logRequest(r, app, perm, tgt, nil, classify(err).Code, classify(err).Status, false, started)
		g.fail(w, r, err)
		return
	}

	apiKey, err := g.cfg.Secrets.Open(res.SecretEnc)
	if err != nil {
		g.cfg.Logger.Error("open resource secret", "resource", res.ResourceID, "error", err)
		g.writeErr(w, r, newAPIError(http.StatusInternalServerError, CodeInternal, "internal error"))
		return
	}

	result, err := pl.Execute(ctx, tgt.Action, shaped, plugin.Credentials{
		Secret: apiKey,
		Config: res.Config,
	}, plugin.Options{
		Timeout:    g.cfg.UpstreamTimeout,
		HTTPClient: g.cfg.HTTPClient,
	})
	if err != nil {
		mapped := pl.MapError(err)
		g.cfg.Logger.Warn("upstream call failed",
			"resource", res.ResourceID, "action", tgt.Action, "code", mapped.Code, "error", err)
		g.logRequest(r, app, perm, tgt, nil, mapped.Code, mapped.Status, false, started)
		g.writeErr(w, r, newAPIError(mapped.Status, mapped.Code, mapped.Message))
		return
	}

	if result.Stream != nil {
		g.relayStream(w, r, result, pl, app, perm, tgt, started)
		return
	}

	usage, err := pl.ExtractUsage(result.JSON)
	if err != nil {
		g.cfg.Logger.Warn("extract usage", "resource", res.ResourceID, "error", err)
	}
	if usage != nil {
		if err := g.cfg.Enforcer.RecordUsage(ctx, perm, *usage); err != nil {
			g.cfg.Logger.Error("record usage", "resource", res.ResourceID, "error", err)
		}
	}
	g.logRequest(r, app, perm, tgt, usage, "", http.StatusOK, false, started)

	contentType := result.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(result.JSON)
}

// relayStream copies the upstream SSE stream to the caller chunk by chunk,
// watching usage-bearing events so token spend can be recorded after the
// stream ends. Under the cut policy the relay stops as soon as recorded
// spend exhausts the budget.
func (g *Gateway) relayStream(w http.ResponseWriter, r *http.Request, result *plugin.Result, pl plugin.Plugin, app *model.App, perm *model.Permission, tgt target, started time.Time) {
	defer result.Stream.Close()
	ctx := r.Context()

	contentType := result.ContentType
	if contentType == "" {
		contentType = "text/event-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	// ResponseController sees through middleware wrappers that expose
	// Unwrap, unlike a direct Flusher assertion.
	rc := http.NewResponseController(w)
	reader := bufio.NewReader(result.Stream)

	var lastUsage *model.Usage
	var recorded int64
	cut := false

	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if _, werr := w.Write(line); werr != nil {
				break
			}
			rc.Flush()

			// Usage arrives inside data: events; cumulative totals, so
			// record only the delta since the last sighting.
			if payload, ok := bytes.CutPrefix(bytes.TrimSpace(line), []byte("data: ")); ok && !bytes.Equal(payload, []byte("[DONE]")) {
				if u, uerr := pl.ExtractUsage(payload); uerr == nil && u != nil {
					lastUsage = u
					if delta := u.TotalTokens - recorded; delta > 0 {
						if rerr := g.cfg.Enforcer.RecordUsage(ctx, perm, model.Usage{TotalTokens: delta}); rerr != nil {
							g.cfg.Logger.Error("record stream usage", "resource", tgt.ResourceID(), "error", rerr)
						}
						recorded = u.TotalTokens
					}
					if g.cfg.StreamOverrun == OverrunCut && perm.Tokens != nil {
						exhausted, berr := g.cfg.Enforcer.BudgetExhausted(ctx, perm)
						if berr == nil && exhausted {
							cut = true
							break
						}
					}
				}
			}
		}
		if err != nil {
			break
		}
	}

	// The counters already hold the full recorded total; the request log
	// carries the per-request breakdown when the provider reported one.
	usage := lastUsage
	if usage == nil && recorded > 0 {
		usage = &model.Usage{TotalTokens: recorded}
	}
	code := ""
	if cut {
		code = CodeBudgetExceeded
	}
	g.logRequest(r, app, perm, tgt, usage, code, http.StatusOK, true, started)
}

// logRequest appends a usage record without blocking the response path.
func (g *Gateway) logRequest(r *http.Request, app *model.App, perm *model.Permission, tgt target, usage *model.Usage, errorCode string, status int, streamed bool, started time.Time) {
	if g.cfg.Logs == nil {
		return
	}
	rl := &model.RequestLog{
		AppID:      app.ID,
		ResourceID: tgt.ResourceID(),
		Action:     tgt.Action,
		StatusCode: status,
		ErrorCode:  errorCode,
		Streamed:   streamed,
		LatencyMs:  float64(time.Since(started).Microseconds()) / 1000,
	}
	if perm != nil {
		rl.PermissionID = perm.ID
	}
	if usage != nil {
		rl.Model = usage.Model
		rl.InputTokens = usage.InputTokens
		rl.OutputTokens = usage.OutputTokens
		rl.TotalTokens = usage.TotalTokens
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.cfg.Logs.InsertRequestLog(ctx, rl); err != nil {
			g.cfg.Logger.Error("insert request log", "app", rl.AppID, "error", err)
		}
	}()
}

// fail classifies err and writes the error envelope.
func (g *Gateway) fail(w http.ResponseWriter, r *http.Request, err error) {
	ae := classify(err)
	if ae.Code == CodeInternal {
		g.cfg.Logger.Error("request pipeline failed", "path", r.URL.Path, "error", err)
	}
	g.writeErr(w, r, ae)
}

func (g *Gateway) writeErr(w http.ResponseWriter, r *http.Request, ae *apiError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ae.Status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:      ae.Code,
			Message:   ae.Message,
			RequestID: mw.GetRequestID(r.Context()),
		},
	})
}
