// ABOUTME: Gateway orchestrator that wires the notifier components behind an HTTP server
// ABOUTME: Manages store, transport, listeners (TCP or tailscale), and shutdown lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/coven-notifier/internal/auth"
	"github.com/2389/coven-notifier/internal/bot"
	"github.com/2389/coven-notifier/internal/config"
	"github.com/2389/coven-notifier/internal/conversation"
	"github.com/2389/coven-notifier/internal/dedupe"
	"github.com/2389/coven-notifier/internal/directory"
	"github.com/2389/coven-notifier/internal/identity"
	"github.com/2389/coven-notifier/internal/metrics"
	"github.com/2389/coven-notifier/internal/notify"
	"github.com/2389/coven-notifier/internal/signin"
	"github.com/2389/coven-notifier/internal/store"
	"github.com/2389/coven-notifier/internal/transport"
)

// maxActivityBytes bounds inbound request bodies.
const maxActivityBytes = 1 << 20

// Gateway owns the notifier's components and the HTTP server that exposes them.
type Gateway struct {
	config      *config.Config
	store       store.Store
	bot         *bot.Handler
	matrix      *transport.MatrixTransport
	notifier    *notify.Notifier
	seen        *dedupe.Cache
	limiter     *rateLimiter
	registry    *prometheus.Registry
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// initStore opens the SQLite store, or the in-memory store when no database
// path is configured. COVEN_NOTIFIER_DB_PATH overrides the config.
func initStore(cfg *config.Config) (store.Store, error) {
	if envPath := os.Getenv("COVEN_NOTIFIER_DB_PATH"); envPath != "" {
		cfg.Database.Path = envPath
	}
	if cfg.MemoryDatabase() {
		return store.NewMemoryStore(), nil
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// newTransport builds the configured transport and returns it with the
// account id the bot uses on it.
func newTransport(cfg *config.Config, logger *slog.Logger) (transport.Transport, string, error) {
	switch cfg.Transport.Kind {
	case config.TransportMatrix:
		m, err := transport.NewMatrixTransport(transport.MatrixConfig{
			Homeserver:  cfg.Transport.Matrix.Homeserver,
			UserID:      cfg.Transport.Matrix.UserID,
			AccessToken: cfg.Transport.Matrix.AccessToken,
		}, logger)
		if err != nil {
			return nil, "", err
		}
		return m, cfg.Transport.Matrix.UserID, nil
	default:
		c := transport.NewBotFrameworkClient(transport.BotFrameworkConfig{
			AppID:       cfg.App.ClientID,
			AppPassword: cfg.App.ClientSecret,
			TokenURL:    cfg.Transport.TokenURL,
			Scope:       cfg.Transport.Scope,
			ServiceURL:  cfg.Transport.ServiceURL,
		}, logger)
		return c, transport.BotAccountID(cfg.App.ClientID), nil
	}
}

// New creates a Gateway from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	t, botID, err := newTransport(cfg, logger)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("creating transport: %w", err)
	}
	matrix, _ := t.(*transport.MatrixTransport)
	t = transport.WithLogging(t, logger)

	var tokenHTTP *http.Client
	if cfg.Identity.TokenTimeout > 0 {
		tokenHTTP = &http.Client{Timeout: cfg.Identity.TokenTimeout}
	}
	tokens := identity.NewClient(identity.Config{
		ClientID:     cfg.App.ClientID,
		ClientSecret: cfg.App.ClientSecret,
		TenantID:     cfg.App.TenantID,
		AuthorityURL: cfg.Identity.AuthorityURL,
		AppScope:     cfg.Identity.DirectoryScope,
		CacheTokens:  cfg.Identity.CacheAppTokens,
		HTTPClient:   tokenHTTP,
		Recorder:     collector,
	}, logger)
	dir := directory.NewClient(cfg.Directory.BaseURL, nil, collector, logger)
	var resolver notify.Resolver = conversation.NewResolver(tokens, dir, cfg.App.TeamsAppID, logger)
	if matrix != nil {
		resolver = conversation.NewMatrixResolver(matrix, logger)
	}

	notifier := notify.New(notify.Config{
		BotID:          botID,
		BotName:        cfg.App.BotName,
		DefaultMessage: cfg.Notify.DefaultMessage,
		RenderMarkdown: cfg.Notify.RenderMarkdown,
	}, resolver, t, s, collector, logger)

	machine := signin.NewMachine(s, cfg.SignIn.ConnectionName, collector, logger)
	router := bot.NewRouter(notifier, tokens, dir, cfg.Identity.DelegatedScopes, logger)
	seen := dedupe.New(cfg.Dedupe.TTL, cfg.Dedupe.MaxEntries)

	gw := &Gateway{
		config:   cfg,
		store:    s,
		bot:      bot.NewHandler(machine, router, t, seen, collector, logger),
		matrix:   matrix,
		notifier: notifier,
		seen:     seen,
		limiter:  newRateLimiter(cfg.API.RateLimitPerMinute, cfg.API.RateLimitBurst),
		registry: registry,
		logger:   logger.With("component", "gateway"),
	}

	handler, err := gw.routes()
	if err != nil {
		gw.closeComponents()
		return nil, err
	}
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// routes builds the HTTP router.
func (g *Gateway) routes() (http.Handler, error) {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(g.logger))
	r.Use(chimiddleware.Recoverer)

	// Health endpoints - no auth required
	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)

	if g.config.Metrics.Enabled {
		r.Handle(g.config.Metrics.Path, metrics.Handler(g.registry))
		g.logger.Info("metrics enabled", "path", g.config.Metrics.Path)
	}

	// Messaging endpoint - called by the bot service
	r.Post("/api/messages", g.handleMessages)

	// API endpoints - auth required if JWT secret is configured
	var authMiddleware func(http.Handler) http.Handler
	if g.config.API.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(g.config.API.JWTSecret))
		if err != nil {
			return nil, fmt.Errorf("creating HTTP JWT verifier: %w", err)
		}
		authMiddleware = auth.HTTPAuthMiddleware(verifier, g.logger)
		g.logger.Info("HTTP auth middleware enabled")
	} else {
		g.logger.Warn("HTTP auth disabled - no api.jwt_secret configured")
	}

	r.Group(func(r chi.Router) {
		if authMiddleware != nil {
			r.Use(authMiddleware)
		}
		r.With(g.limiter.Middleware(g.logger)).Post("/api/postmessage", g.handlePostMessage)
		r.Post("/api/install", g.handleInstall)
		r.Get("/api/notifications", g.handleListNotifications)
	})

	return r, nil
}

// Handler returns the HTTP handler serving all routes.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Notifier returns the proactive notifier.
func (g *Gateway) Notifier() *notify.Notifier {
	return g.notifier
}

// setupTCPListener creates a standard TCP listener.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		g.closeComponents()
		return err
	}
	return g.serve(ctx, ln)
}

func (g *Gateway) serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 2)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	// Matrix has no push endpoint; inbound turns come from the sync loop
	if g.matrix != nil {
		go func() {
			if err := g.matrix.Listen(ctx, g.handleMatrixActivity); err != nil {
				errCh <- err
			}
		}()
	}

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// handleMatrixActivity runs one synced activity through the bot. Invoke
// answers have no caller to go back to and are only logged.
func (g *Gateway) handleMatrixActivity(ctx context.Context, a *transport.Activity) {
	resp := g.bot.HandleActivity(ctx, a)
	if resp != nil && resp.Status != http.StatusOK {
		g.logger.Debug("matrix invoke not accepted", "name", a.Name, "status", resp.Status, "conversation_id", a.Conversation.ID)
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout, since
// the run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "coven-notifier", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener joins the tailnet and listens on :443 through
// Funnel (public HTTPS, which the bot service needs) or on :80 tailnet-only.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	var ln net.Listener
	if tsCfg.Funnel {
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err = g.tsnetServer.ListenFunnel("tcp", ":443")
	} else {
		g.logger.Warn("tailscale funnel disabled - the bot service cannot reach /api/messages from outside the tailnet")
		ln, err = g.tsnetServer.Listen("tcp", ":80")
	}
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale: %w", err)
	}
	return ln, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

func (g *Gateway) closeComponents() []error {
	var errs []error
	if g.seen != nil {
		g.seen.Close()
	}
	if g.limiter != nil {
		g.limiter.Stop()
	}
	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	return appendCloseError(errs, "store close", g.store.Close())
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = append(errs, g.closeComponents()...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
