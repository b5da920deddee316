package cmd

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"

	"github.com/terraconstructs/gridauth/internal/auth"
	"github.com/terraconstructs/gridauth/internal/config"
	"github.com/terraconstructs/gridauth/internal/db/bunx"
	gridmiddleware "github.com/terraconstructs/gridauth/internal/middleware"
	"github.com/terraconstructs/gridauth/internal/migrations"
	"github.com/terraconstructs/gridauth/internal/repository"
	"github.com/terraconstructs/gridauth/internal/server"
	"github.com/terraconstructs/gridauth/internal/session"
	"github.com/terraconstructs/gridauth/internal/telemetry"
)

const sweepInterval = time.Minute

var migrateOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the authentication server",
	Long:  `Starts the HTTP server with the authentication dispatcher in front of the application pages.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		shutdownTelemetry, err := telemetry.Init(ctx, cfg.Observability)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(sctx); err != nil {
				log.Printf("telemetry shutdown: %v", err)
			}
		}()

		serverMetrics, err := telemetry.NewServerMetrics()
		if err != nil {
			return fmt.Errorf("failed to create server metrics: %w", err)
		}
		authMetrics, err := telemetry.NewAuthMetrics()
		if err != nil {
			return fmt.Errorf("failed to create auth metrics: %w", err)
		}

		var db *bun.DB
		if cfg.DatabaseURL != "" {
			db, err = bunx.NewDB(ctx, cfg.DatabaseURL, bunx.Options{MaxOpenConns: cfg.MaxDBConnections})
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer bunx.Close(db)
			log.Printf("Connected to database")

			if migrateOnStart {
				group, err := migrations.Apply(ctx, db)
				if err != nil {
					return err
				}
				if group.ID != 0 {
					log.Printf("Applied migration group %d", group.ID)
				}
			}
		}

		sessions, err := newSessionManager(cfg, db)
		if err != nil {
			return err
		}
		cookies, err := newCookieTransport(cfg)
		if err != nil {
			return err
		}

		deps := auth.Dependencies{Metrics: authMetrics}
		if db != nil {
			deps.Users = repository.NewBunUserRepository(db)
		}
		dispatcher, err := auth.NewDispatcherFromConfig(ctx, cfg, deps)
		if err != nil {
			return fmt.Errorf("failed to configure authentication: %w", err)
		}

		routerOpts := server.RouterOptions{
			AuthnDeps: gridmiddleware.AuthnDependencies{
				Dispatcher: dispatcher,
				Sessions:   sessions,
				Cookies:    cookies,
			},
			Cfg:     cfg,
			Metrics: serverMetrics,
		}

		srv := &http.Server{
			Addr:         cfg.ServerAddr,
			Handler:      server.NewH2CHandler(routerOpts),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		sweepCtx, cancelSweep := context.WithCancel(ctx)
		defer cancelSweep()
		go sweepSessions(sweepCtx, sessions)

		// Start server in goroutine
		serverErrors := make(chan error, 1)
		go func() {
			log.Printf("Starting server on %s", cfg.ServerAddr)
			log.Printf("Server URL: %s", cfg.ServerURL)
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("server error: %w", err)

		case sig := <-shutdown:
			log.Printf("Received signal %v, shutting down gracefully", sig)

			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := srv.Shutdown(sctx); err != nil {
				srv.Close()
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}

			log.Printf("Server stopped")
			return nil
		}
	},
}

func newSessionManager(cfg *config.Config, db *bun.DB) (*session.Manager, error) {
	var store session.Store
	switch cfg.Session.Store {
	case config.SessionStoreDatabase:
		if db == nil {
			return nil, fmt.Errorf("session store %q requires a database", cfg.Session.Store)
		}
		store = repository.NewBunSessionRepository(db)
	default:
		store = session.NewMemoryStore(cfg.Session.MaxEntries, cfg.Session.TTL)
	}
	log.Printf("Session store: %s (ttl=%s)", cfg.Session.Store, cfg.Session.TTL)
	return session.NewManager(store, cfg.Session.TTL), nil
}

func newCookieTransport(cfg *config.Config) (*session.CookieTransport, error) {
	keys, err := cfg.Session.Keys()
	if err != nil {
		return nil, err
	}
	if keys.Hash == nil {
		log.Printf("WARNING: session.hash_key and session.block_key not set; generated keys do not survive a restart")
		keys.Hash = make([]byte, 32)
		keys.Block = make([]byte, 32)
		if _, err := rand.Read(keys.Hash); err != nil {
			return nil, fmt.Errorf("generate cookie hash key: %w", err)
		}
		if _, err := rand.Read(keys.Block); err != nil {
			return nil, fmt.Errorf("generate cookie block key: %w", err)
		}
	}
	return session.NewCookieTransport(session.CookieConfig{
		Name:     cfg.Session.CookieName,
		HashKey:  keys.Hash,
		BlockKey: keys.Block,
		Secure:   cfg.Session.Secure,
	}), nil
}

func sweepSessions(ctx context.Context, m *session.Manager) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n, err := m.Sweep(ctx)
			if err != nil {
				log.Printf("ERROR: session sweep failed: %v", err)
				continue
			}
			if n > 0 && cfg.Debug {
				log.Printf("Swept %d expired sessions", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

func init() {
	serveCmd.Flags().BoolVar(&migrateOnStart, "migrate", false, "Apply pending database migrations before serving")
	rootCmd.AddCommand(serveCmd)
}
