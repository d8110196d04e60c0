// ABOUTME: Gateway orchestrator that wires the chat core to its servers
// ABOUTME: Manages store, presence, router, HTTP/WebSocket and gRPC health lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/2389/mulchat-gateway/internal/ai"
	"github.com/2389/mulchat-gateway/internal/auth"
	"github.com/2389/mulchat-gateway/internal/chat"
	"github.com/2389/mulchat-gateway/internal/config"
	"github.com/2389/mulchat-gateway/internal/dedupe"
	"github.com/2389/mulchat-gateway/internal/presence"
	"github.com/2389/mulchat-gateway/internal/store"
	"github.com/2389/mulchat-gateway/internal/ws"
)

// dedupeCapacity bounds the clientMsgId cache
const dedupeCapacity = 10000

// Gateway orchestrates the mulchat-gateway server components.
type Gateway struct {
	config    *config.Config
	store     *store.SQLiteStore
	registry  *presence.Registry
	router    *chat.Router
	lifecycle *chat.Lifecycle
	sent      *dedupe.Cache[*store.Message]
	verifier  *auth.JWTVerifier // nil in anonymous mode
	ws        *ws.Handler

	httpServer *http.Server
	grpcServer *grpc.Server
	health     *health.Server
	logger     *slog.Logger
}

// Option customizes New.
type Option func(*options)

type options struct {
	responder    chat.Responder
	hasResponder bool
}

// WithResponder replaces the configured AI backend. A nil responder leaves
// the bot silent.
func WithResponder(r chat.Responder) Option {
	return func(o *options) {
		o.responder = r
		o.hasResponder = true
	}
}

// New builds a Gateway from cfg. The store is opened and prepared; servers
// start in Run.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	gw := &Gateway{
		config: cfg,
		store:  st,
		logger: logger,
	}
	if err := gw.prepareStore(ctx); err != nil {
		st.Close()
		return nil, err
	}

	if cfg.Auth.JWTSecret != "" {
		gw.verifier, err = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
	} else {
		logger.Warn("auth disabled - no jwt_secret configured, identify is trusted")
	}

	responder := o.responder
	if !o.hasResponder {
		responder, err = newResponder(ctx, cfg, logger)
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	gw.registry = presence.NewRegistry(logger, cfg.Bot.ID)
	if cfg.Router.DedupeTTL > 0 {
		gw.sent = dedupe.New[*store.Message](cfg.Router.DedupeTTL, dedupeCapacity)
	}

	deps := chat.Deps{
		Store:     st,
		Registry:  gw.registry,
		Rooms:     chat.NewRoomGroups(),
		Responder: responder,
		Sent:      gw.sent,
		Logger:    logger,
	}
	chatCfg := chat.Config{
		BotID:                 cfg.Bot.ID,
		BotName:               cfg.Bot.Name,
		BotUsername:           cfg.Bot.Username,
		AITimeout:             cfg.AI.Timeout,
		SingleFlight:          cfg.AI.SingleFlight,
		EnforceRoomMembership: cfg.Router.EnforceRoomMembership,
	}
	gw.router = chat.NewRouter(deps, chatCfg)
	gw.lifecycle = chat.NewLifecycle(deps, chatCfg)

	wsOpts := ws.Options{
		Users:     st,
		Lifecycle: gw.lifecycle,
		Router:    gw.router,
		SendQueue: cfg.Router.SendQueue,
		Logger:    logger,
	}
	if gw.verifier != nil {
		wsOpts.Verifier = gw.verifier
	}
	gw.ws = ws.NewHandler(wsOpts)

	mux := http.NewServeMux()
	mux.Handle("/ws", gw.ws)
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)
	gw.registerAPIRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	gw.grpcServer, gw.health = newGRPCServer(logger)

	return gw, nil
}

// newResponder builds the configured AI backend. Returns nil when the
// provider is "none".
func newResponder(ctx context.Context, cfg *config.Config, logger *slog.Logger) (chat.Responder, error) {
	r, err := ai.New(ctx, ai.Options{
		Provider:      cfg.AI.Provider,
		APIKey:        cfg.AI.APIKey,
		Model:         cfg.AI.Model,
		FallbackModel: cfg.AI.FallbackModel,
		BaseURL:       cfg.AI.BaseURL,
		SystemPrompt:  cfg.AI.SystemPrompt,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating AI responder: %w", err)
	}
	if r == nil {
		logger.Warn("AI provider disabled - messages to the bot will not be answered")
		return nil, nil
	}
	return r, nil
}

// prepareStore resets the presence mirror and seeds the bot user.
func (g *Gateway) prepareStore(ctx context.Context) error {
	n, err := g.store.ResetPresence(ctx)
	if err != nil {
		return fmt.Errorf("resetting presence: %w", err)
	}
	if n > 0 {
		g.logger.Info("reset stale presence", "users", n)
	}

	if _, err := SeedBot(ctx, g.store, g.config.Bot); err != nil {
		return err
	}
	return nil
}

// SeedBot makes sure the bot's user row exists. It reports whether a row
// was created. The bot has no password and cannot log in.
func SeedBot(ctx context.Context, st *store.SQLiteStore, bot config.BotConfig) (bool, error) {
	created, err := st.EnsureUser(ctx, &store.User{
		ID:       bot.ID,
		Name:     bot.Name,
		Username: bot.Username,
		Email:    bot.Username + "@bot.mulchat.local",
		Bio:      "AI assistant",
	})
	if err != nil {
		return false, fmt.Errorf("seeding bot user: %w", err)
	}
	return created, nil
}

// Run starts the servers and blocks until ctx is canceled or a server fails.
func (g *Gateway) Run(ctx context.Context) error {
	httpLn, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	var grpcLn net.Listener
	if g.config.Server.GRPCAddr != "" {
		grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
		if err != nil {
			_ = httpLn.Close()
			return fmt.Errorf("listening on gRPC address: %w", err)
		}
	}

	errCh := g.startServers(grpcLn, httpLn)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// startServers starts gRPC and HTTP servers in goroutines, returning error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	if grpcLn != nil {
		go func() {
			g.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// The caller's context is already canceled when this runs.
func (g *Gateway) gracefulShutdown() error {
	timeout := g.config.AI.Timeout + 5*time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	g.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// Shutdown gracefully stops all gateway servers and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "websocket shutdown", g.ws.Shutdown(ctx))
	errs = appendCloseError(errs, "bot turns", g.router.Wait(ctx))

	g.shutdownGRPCServer(ctx)

	if g.sent != nil {
		g.sent.Close()
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

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

// handleReady reports readiness with the current presence counts.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	users, conns := g.registry.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"online_users": users,
		"connections":  conns,
	})
}
