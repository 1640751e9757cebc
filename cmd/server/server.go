package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/paularlott/cli"

	"github.com/martinsuchenak/podd/internal/api"
	"github.com/martinsuchenak/podd/internal/config"
	"github.com/martinsuchenak/podd/internal/log"
	"github.com/martinsuchenak/podd/internal/mcp"
	"github.com/martinsuchenak/podd/internal/storage"
	"github.com/martinsuchenak/podd/internal/worker"
)

// ServerConfig holds the assembled components for a running server.
type ServerConfig struct {
	Config     *config.Config
	Store      storage.Storage
	Runner     *worker.Runner
	Pool       *worker.Pool
	Scheduler  *worker.Scheduler
	MCPServer  *mcp.Server
	APIHandler *api.Handler
}

// RunServer starts the podd server with the given configuration.
func RunServer(cfg *ServerConfig) error {
	// Setup HTTP routes
	mux := http.NewServeMux()

	// API routes
	cfg.APIHandler.RegisterRoutes(mux)

	// MCP endpoint
	mux.HandleFunc("/mcp", cfg.MCPServer.GetHTTPHandler())

	// Apply middleware
	var handler http.Handler = mux
	if cfg.Config.IsAPIAuthEnabled() {
		handler = api.AuthMiddleware(cfg.Config.APIAuthToken, handler)
	}
	handler = api.SecurityHeadersMiddleware(handler)

	server := &http.Server{
		Addr:    cfg.Config.ListenAddr,
		Handler: handler,
	}

	// Handle shutdown gracefully
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Info("Shutting down server...")
		server.Close()
	}()

	// Log startup info
	log.Info("Starting podd server", "addr", cfg.Config.ListenAddr)
	log.Info("API available", "url", "http://localhost"+cfg.Config.ListenAddr+"/api/")
	log.Info("MCP available", "url", "http://localhost"+cfg.Config.ListenAddr+"/mcp")
	if cfg.Config.IsAPIAuthEnabled() {
		log.Info("API authentication enabled")
	}
	cfg.MCPServer.LogStartup()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("Server error", "error", err)
		return err
	}

	log.Info("Server stopped")
	return nil
}

func Command() *cli.Command {
	return &cli.Command{
		Name:        "server",
		Usage:       "Start the podd server",
		Description: "Start the HTTP server with REST API, MCP endpoint, and background health checks",
		Flags:       config.GetFlags(),
		Run: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.Load(cmd)

			log.Info("Configuration loaded", "data_dir", cfg.DataDir, "listen_addr", cfg.ListenAddr)

			store, err := storage.NewSQLiteStorage(cfg.DataDir)
			if err != nil {
				log.Error("Failed to initialize storage", "error", err)
				return err
			}
			defer store.Close()
			log.Info("Storage initialized", "path", store.GetDatabasePath())

			// Runner shared by API, MCP, and the health scheduler
			runner := worker.NewRunner(store)
			runner.Password = cfg.TargetPassword

			pool := worker.NewPool(cfg.MaxWorkers)
			pool.Start()
			defer pool.Stop()

			scheduler := worker.NewScheduler(store, runner, pool)
			if err := scheduler.Start(cfg.HealthSchedule); err != nil {
				log.Error("Failed to start health scheduler", "error", err)
				return err
			}
			defer scheduler.Stop()

			apiHandler := api.NewHandler(store, runner)
			mcpServer := mcp.NewServer(store, runner, cfg.MCPAuthToken)

			return RunServer(&ServerConfig{
				Config:     cfg,
				Store:      store,
				Runner:     runner,
				Pool:       pool,
				Scheduler:  scheduler,
				MCPServer:  mcpServer,
				APIHandler: apiHandler,
			})
		},
	}
}
