// Package telemetry reports anonymous usage heartbeats so deployment scale
// and feature use can be understood without collecting request contents,
// secrets, or app identities.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	posthogEndpoint = "https://us.i.posthog.com/capture/"
	flushInterval   = 1 * time.Hour
	httpTimeout     = 3 * time.Second
)

// posthogAPIKey is injected at build time via -ldflags. An empty key
// disables telemetry entirely, so source builds never report.
var posthogAPIKey = ""

// SettingsStore is the interface the telemetry package needs from the store.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Properties holds the telemetry payload sent to PostHog. Counts only —
// never names, keys, or request contents.
type Properties struct {
	Version   string   `json:"version"`
	GoVersion string   `json:"go_version"`
	OS        string   `json:"os"`
	Arch      string   `json:"arch"`
	Providers []string `json:"providers"`
	Resources int      `json:"resource_count"`
	Apps      int      `json:"app_count"`
	UptimeHrs float64  `json:"uptime_hours"`
}

// PropertiesFunc is called each flush to gather current state.
type PropertiesFunc func() Properties

// Tracker manages anonymous telemetry reporting to PostHog.
type Tracker struct {
	instanceID string
	propsFn    PropertiesFunc
	client     *http.Client
	startedAt  time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Tracker. It resolves (or generates) the instance ID from the
// settings store. Returns nil if telemetry is disabled: no build-time key,
// KEYWARDEN_TELEMETRY env var, or the telemetry.enabled setting.
func New(ctx context.Context, store SettingsStore, propsFn PropertiesFunc) *Tracker {
	if posthogAPIKey == "" {
		return nil
	}

	switch strings.ToLower(os.Getenv("KEYWARDEN_TELEMETRY")) {
	case "0", "false", "off", "no":
		return nil
	}

	if store != nil {
		val, err := store.GetSetting(ctx, "telemetry.enabled")
		if err == nil && (val == "false" || val == "0") {
			return nil
		}
	}

	instanceID := resolveInstanceID(ctx, store)

	return &Tracker{
		instanceID: instanceID,
		propsFn:    propsFn,
		client:     &http.Client{Timeout: httpTimeout},
		startedAt:  time.Now(),
	}
}

// Start begins the background telemetry loop. It sends an initial event
// immediately and then repeats every hour. Non-blocking.
func (t *Tracker) Start() {
	if t == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		// Initial capture
		t.flush()

		ticker := time.NewTicker(flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				t.flush()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the background loop and sends a final event.
func (t *Tracker) Shutdown() {
	if t == nil {
		return
	}
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
	// Final capture with latest state
	t.flush()
}

func (t *Tracker) flush() {
	props := t.propsFn()
	props.UptimeHrs = time.Since(t.startedAt).Hours()
	t.capture("gateway_heartbeat", props)
}

func (t *Tracker) capture(event string, props Properties) {
	payload := map[string]any{
		"api_key":     posthogAPIKey,
		"event":       event,
		"distinct_id": t.instanceID,
		"properties":  props,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return // fail silently
	}

	req, err := http.NewRequest("POST", posthogEndpoint, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return // fail silently — network issues are expected
	}
	resp.Body.Close()
}

// resolveInstanceID loads or generates a persistent anonymous instance ID.
func resolveInstanceID(ctx context.Context, store SettingsStore) string {
	if store != nil {
		id, err := store.GetSetting(ctx, "instance_id")
		if err == nil && id != "" {
			return id
		}
	}

	id := uuid.New().String()

	if store != nil {
		_ = store.SetSetting(ctx, "instance_id", id)
	}
	return id
}

// PrintNotice prints the first-run telemetry notice to stderr.
func PrintNotice() {
	fmt.Fprintln(os.Stderr,
		"Anonymous usage stats are enabled to help improve Keywarden.",
	)
	fmt.Fprintln(os.Stderr,
		"Disable with: KEYWARDEN_TELEMETRY=0  (or set telemetry.enabled false in settings)",
	)
	fmt.Fprintln(os.Stderr)
}
