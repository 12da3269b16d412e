package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"dataplane-signaling/backend/internal/api"
	"dataplane-signaling/backend/internal/auth"
	"dataplane-signaling/backend/internal/config"
	"dataplane-signaling/backend/internal/controlplane"
	"dataplane-signaling/backend/internal/events"
	"dataplane-signaling/backend/internal/logging"
	"dataplane-signaling/backend/internal/mcp"
	"dataplane-signaling/backend/internal/repository"
	"dataplane-signaling/backend/internal/services"
	"dataplane-signaling/backend/internal/tls"
)

const serviceName = "dataplane-signaling"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:          "dataplane",
		Short:        "Data plane signaling service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml")
	root.AddCommand(
		newServeCmd(&configPath),
		newMigrateCmd(&configPath),
		newFlowsCmd(&configPath),
		newDataplanesCmd(&configPath),
	)
	return root
}

// loadRuntime loads the configuration and builds the logger it asks for.
func loadRuntime(configPath string) (*config.Config, *logging.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the signaling API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	logger.Info("Starting data plane signaling service",
		"runtime_id", cfg.Runtime.ID,
		"store", cfg.Store.Driver,
		"lease_duration", cfg.Lease.Duration.String(),
	)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if m, ok := store.(migrator); ok {
		if err := m.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate store: %w", err)
		}
	}

	observers, closeObservers, err := buildObservers(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeObservers()

	signaling, err := newSignalingService(store, cfg, logger, services.WithObservers(observers...))
	if err != nil {
		return err
	}
	logger.Info("Service layer initialized", "observers", len(observers))

	if cfg.Registration.Enabled {
		client := newControlPlaneClient(ctx, cfg)
		resp, err := client.RegisterDataPlane(ctx, dataPlaneInstance(cfg))
		if err != nil {
			return fmt.Errorf("failed to register data plane: %w", err)
		}
		logger.Info("Registered with control plane", "dataplane_id", resp.ID, "control_api", cfg.ControlPlane.ControlAPIURL)
		if cfg.Registration.UnregisterOnShutdown {
			defer func() {
				unregisterCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
				defer cancel()
				if err := client.UnregisterDataPlane(unregisterCtx, cfg.Runtime.DataplaneID); err != nil {
					logger.Error("Failed to unregister data plane", "error", err.Error())
				}
			}()
		}
	}

	authz, err := auth.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("auth initialization failed: %w", err)
	}
	if cfg.IsDev() && cfg.DevModeBypass {
		logger.Warn("Authentication bypass is enabled", "participant", cfg.Auth.DevParticipant)
	}

	e := api.NewEcho(logger)
	e.Use(otelecho.Middleware(serviceName))
	api.Mount(e,
		api.NewServer(signaling, cfg.Runtime.DataplaneID, logger),
		api.NewHandler(cfg.Runtime.ID, nil),
		cfg.Auth.Issuer,
		authz.RequireAuth,
	)

	mcpServer := mcp.NewServer(signaling)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp/*", echo.WrapHandler(authz.RequireAuth(auth.RequireScope(auth.ScopeAdmin)(mcpHandlers))))
	logger.Info("REST API and MCP handlers mounted")

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", cfg.Server.Addr, "tls", cfg.Server.TLS.Enable)
		if !cfg.Server.TLS.Enable {
			serverErrors <- server.ListenAndServe()
			return
		}
		created, err := tls.EnsureSelfSignedCert(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile, cfg.Server.TLS.Hostnames)
		if err != nil {
			serverErrors <- fmt.Errorf("failed to prepare certificate: %w", err)
			return
		}
		if created {
			logger.Warn("Generated self-signed certificate", "cert_file", cfg.Server.TLS.CertFile)
		}
		serverErrors <- server.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err.Error())
		if err := server.Close(); err != nil {
			logger.Error("Server close error", "error", err.Error())
		}
	}
	logger.Info("Server stopped gracefully")
	return nil
}

// buildObservers wires the control plane notifier and the NATS publisher when
// they are configured.
func buildObservers(ctx context.Context, cfg *config.Config, logger *logging.Logger) ([]services.TransitionObserver, func(), error) {
	var observers []services.TransitionObserver
	closeFn := func() {}

	if cfg.ControlPlane.BaseURL != "" {
		observers = append(observers, controlplane.NewObserver(newControlPlaneClient(ctx, cfg)))
		logger.Info("Control plane notifications enabled", "base_url", cfg.ControlPlane.BaseURL)
	}

	if cfg.NATS.URL != "" {
		conn, err := events.Connect(cfg.NATS.URL, serviceName+"/"+cfg.Runtime.ID)
		if err != nil {
			return nil, closeFn, err
		}
		publisher := events.NewNATSPublisher(conn, cfg.NATS.SubjectPrefix)
		observers = append(observers, publisher)
		closeFn = func() {
			if err := publisher.Close(); err != nil {
				logger.Error("failed to drain nats connection", "error", err.Error())
			}
		}
		logger.Info("Transition events enabled", "nats_url", cfg.NATS.URL)
	}
	return observers, closeFn, nil
}

func newSignalingService(store repository.FlowStore, cfg *config.Config, logger *logging.Logger, extra ...services.Option) (*services.SignalingService, error) {
	opts := []services.Option{
		services.WithRuntimeID(cfg.Runtime.ID),
		services.WithLogger(logger),
	}
	if cfg.Lease.Owner != "" {
		opts = append(opts, services.WithLeaseOwner(cfg.Lease.Owner))
	}
	return services.NewSignalingService(store, append(opts, extra...)...)
}
