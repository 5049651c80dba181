package cli

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/glueco/keywarden/internal/config"
	"github.com/glueco/keywarden/internal/counter"
	"github.com/glueco/keywarden/internal/gateway"
	"github.com/glueco/keywarden/internal/handler"
	"github.com/glueco/keywarden/internal/model"
	"github.com/glueco/keywarden/internal/pairing"
	"github.com/glueco/keywarden/internal/plugin"
	"github.com/glueco/keywarden/internal/plugin/email"
	"github.com/glueco/keywarden/internal/plugin/llm"
	"github.com/glueco/keywarden/internal/policy"
	"github.com/glueco/keywarden/internal/pop"
	"github.com/glueco/keywarden/internal/secret"
	"github.com/glueco/keywarden/internal/server"
	"github.com/glueco/keywarden/internal/service"
	"github.com/glueco/keywarden/internal/store"
	"github.com/glueco/keywarden/internal/telemetry"
)

const banner = `
 _  __                                _
| |/ /___ _  ___ __ ____ _ _ _ __| |___ _ _
| ' </ -_) || \ V  V / _' | '_/ _' / -_) ' \
|_|\_\___|\_, |\_/\_/\__,_|_| \__,_\___|_||_|
          |__/
`

func newServeCmd() *cobra.Command {
	var (
		port   int
		host   string
		dev    bool
		daemon bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Keywarden gateway server",
		Long:  "Start the HTTP server that fronts the proxy gateway, the connect handshake, and the admin API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if daemon {
				return daemonize()
			}
			return runServe(host, port, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP listen port (overrides config)")
	cmd.Flags().StringVar(&host, "host", "", "HTTP listen host (overrides config)")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging)")
	cmd.Flags().BoolVarP(&daemon, "daemon", "d", false, "Run detached in the background")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

// daemonize re-executes the current binary detached from the terminal,
// writing its output to the log file and its PID for status/stop.
func daemonize() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	args := make([]string, 0, len(os.Args)-1)
	for _, a := range os.Args[1:] {
		if a == "--daemon" || a == "-d" {
			continue
		}
		args = append(args, a)
	}

	if err := os.MkdirAll(resolveDataDir(), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	logFile, err := os.OpenFile(logFilePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(exe, args...)
	child.Stdout = logFile
	child.Stderr = logFile
	setSysProcAttr(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start background server: %w", err)
	}
	if err := writePID(child.Process.Pid); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}

	fmt.Printf("Keywarden started in the background (PID %d)\n", child.Process.Pid)
	fmt.Printf("  Logs: %s\n", logFilePath())
	fmt.Println("  Stop with: keywarden stop")
	return nil
}

func runServe(host string, port int, dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	logger := newLogger(cfg.Logging, dev)

	// 1. Open the persistent store
	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	logger.Info("store opened", "driver", storeDriverName(cfg))

	// 2. Counter backend
	counters, err := newCounters(cfg.Counter)
	if err != nil {
		return err
	}
	logger.Info("counter store initialized", "backend", counterBackendName(cfg.Counter))

	// 3. Key material: config wins, otherwise generate once and persist
	masterKey, err := secretMaterial(st, cfg.Auth.MasterKey, "master_key")
	if err != nil {
		return err
	}
	handleSecret, err := secretMaterial(st, cfg.Auth.HandleSecret, "handle_secret")
	if err != nil {
		return err
	}
	jwtSecret, err := secretMaterial(st, cfg.Auth.JWTSecret, "jwt_secret")
	if err != nil {
		return err
	}

	secrets := secret.NewBox(masterKey)
	issuer := pairing.NewIssuer(handleSecret)
	authSvc := service.NewAuthService(st, string(jwtSecret), parseDuration(cfg.Auth.JWTExpiry, time.Hour))

	// 4. Provider plugins
	plugins := plugin.NewRegistry()
	plugins.Register(llm.NewOpenAI())
	plugins.Register(llm.NewGroq())
	plugins.Register(llm.NewAnthropic())
	plugins.Register(email.NewResend())
	logger.Info("plugin registry initialized", "plugins", len(plugins.List()))

	// 5. Seed resources declared in the config file
	if err := seedResources(st, secrets, cfg.Resources, logger); err != nil {
		return err
	}

	// 6. Policy timezone
	loc := time.UTC
	if cfg.Policy.Timezone != "" {
		loc, err = time.LoadLocation(cfg.Policy.Timezone)
		if err != nil {
			return fmt.Errorf("policy.timezone %q: %w", cfg.Policy.Timezone, err)
		}
	}

	// 7. Assemble the gateway pipeline
	skew := time.Duration(cfg.Auth.ClockSkewSecs) * time.Second
	if skew <= 0 {
		skew = 5 * time.Minute
	}
	gw := gateway.New(gateway.Config{
		Verifier:        pop.NewVerifier(st, counters, skew),
		Resolver:        policy.NewResolver(st, loc),
		Enforcer:        policy.NewEnforcer(counters, loc),
		Plugins:         plugins,
		Resources:       st,
		Secrets:         secrets,
		Logs:            st,
		Logger:          logger,
		UpstreamTimeout: parseDuration(cfg.Policy.UpstreamTimeout, 60*time.Second),
		StreamOverrun:   cfg.Policy.StreamOverrun,
		MaxBodyBytes:    parseByteSize(cfg.Server.MaxBodySize, 10<<20),
	})

	// 8. Check for first-run (no admin exists)
	hasAdmin, err := st.HasAnyAdmin(cmdCtx())
	if err != nil {
		logger.Warn("failed to check for admin", "error", err)
	}
	if !hasAdmin {
		logger.Warn("no admin account found - run: keywarden admin create")
	}

	// 9. Build and start the HTTP server
	gatewayURL := cfg.Server.GatewayURL
	if gatewayURL == "" {
		gatewayURL = fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	}

	srvCfg := server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: parseDuration(cfg.Server.ShutdownTimeout, 30*time.Second),
		CORSOrigins:     cfg.Server.CORS.Origins,
	}
	if cfg.Server.TLS.Enabled {
		srvCfg.TLSCertFile = cfg.Server.TLS.CertFile
		srvCfg.TLSKeyFile = cfg.Server.TLS.KeyFile
	}
	deps := server.Deps{
		Store:      st,
		Counters:   counters,
		Auth:       authSvc,
		Gateway:    gw,
		Plugins:    plugins,
		System:     handler.NewSystemHandler(st, authSvc, secrets, gatewayURL),
		Connect:    handler.NewConnectHandler(st, issuer, gatewayURL),
		Discovery:  handler.NewDiscoveryHandler(st, plugins),
		GatewayURL: gatewayURL,
	}
	srv := server.New(srvCfg, deps, logger)

	// 10. Anonymous usage telemetry (nil when disabled or built without a key)
	tracker := telemetry.New(cmdCtx(), st, func() telemetry.Properties {
		props := telemetry.Properties{
			Version:   versionString(),
			GoVersion: runtime.Version(),
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
		}
		for _, p := range plugins.List() {
			props.Providers = append(props.Providers, p.ID())
		}
		if resources, err := st.ListResources(cmdCtx()); err == nil {
			props.Resources = len(resources)
		}
		if apps, err := st.ListApps(cmdCtx()); err == nil {
			props.Apps = len(apps)
		}
		return props
	})
	if tracker != nil {
		telemetry.PrintNotice()
	}
	tracker.Start()
	defer tracker.Shutdown()

	fmt.Printf("→ Keywarden %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Gateway:    %s/r/\n", gatewayURL)
	fmt.Printf("→ Discovery:  %s/discovery\n", gatewayURL)
	fmt.Printf("→ OpenAPI:    %s/openapi.json\n", gatewayURL)
	fmt.Printf("→ Health:     %s/healthz\n", gatewayURL)
	fmt.Println()

	if err := writePID(os.Getpid()); err != nil {
		logger.Warn("failed to write PID file", "error", err)
	}
	defer removePID()

	return srv.ListenAndServe()
}

func newLogger(cfg config.LoggingConfig, dev bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if dev {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func newCounters(cfg config.CounterConfig) (counter.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return counter.NewMemory(), nil
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("counter.redis_url: %w", err)
		}
		return counter.NewRedis(cmdCtx(), counter.RedisOptions{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		})
	default:
		return nil, fmt.Errorf("unsupported counter backend %q; use 'memory' or 'redis'", cfg.Backend)
	}
}

func counterBackendName(cfg config.CounterConfig) string {
	if cfg.Backend == "" {
		return "memory"
	}
	return cfg.Backend
}

func storeDriverName(cfg *config.YAMLConfig) string {
	if cfg.Store.DSN != "" {
		return cfg.Store.Driver
	}
	return "sqlite"
}

// secretMaterial returns configured key material, or generates 32 random
// bytes on first run and persists them in the settings table so sealed
// secrets and issued handles survive restarts.
func secretMaterial(st *store.Store, configured, settingKey string) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}
	existing, err := st.GetSetting(cmdCtx(), settingKey)
	if err == nil && existing != "" {
		return []byte(existing), nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("read setting %s: %w", settingKey, err)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate %s: %w", settingKey, err)
	}
	generated := hex.EncodeToString(raw)
	if err := st.SetSetting(cmdCtx(), settingKey, generated); err != nil {
		return nil, fmt.Errorf("persist %s: %w", settingKey, err)
	}
	return []byte(generated), nil
}

// seedResources inserts resources declared in the config file, sealing their
// plaintext secrets. Existing resources are left untouched so admin-side
// edits are not clobbered on restart.
func seedResources(st *store.Store, secrets *secret.Box, resources []config.ResourceYAML, logger *slog.Logger) error {
	for _, r := range resources {
		resourceID := r.Type + ":" + r.Provider
		if _, err := st.GetResource(cmdCtx(), resourceID); err == nil {
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("check resource %s: %w", resourceID, err)
		}

		sealed, err := secrets.Seal(r.Secret)
		if err != nil {
			return fmt.Errorf("seal secret for %s: %w", resourceID, err)
		}
		res := &model.Resource{
			Name:         r.Name,
			ResourceType: r.Type,
			Provider:     r.Provider,
			SecretEnc:    sealed,
			Config:       r.Config,
			IsActive:     true,
		}
		if err := st.CreateResource(cmdCtx(), res); err != nil {
			return fmt.Errorf("seed resource %s: %w", resourceID, err)
		}
		logger.Info("seeded resource from config", "resource", resourceID)
	}
	return nil
}
