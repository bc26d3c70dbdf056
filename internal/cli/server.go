package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"assessment-sync/internal/config"
	"assessment-sync/internal/jobs"
	"assessment-sync/internal/logger"
	transport "assessment-sync/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath *string) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the progress server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, port)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "port to listen on (overrides config and PORT)")
	return cmd
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logr, err := logger.New(cfg.Env)
	if err != nil {
		return err
	}
	defer logr.Sync()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	b, err := buildBackend(ctx, cfg, logr)
	if err != nil {
		return err
	}
	defer b.Close()

	auth := transport.NewAuthenticator(cfg.Auth.Secret, config.Duration(cfg.Auth.TokenTTL, 12*time.Hour))
	opts := []transport.ServerOption{transport.WithServerLogger(logr)}
	if b.redis != nil {
		beacons := jobs.NewBeaconQueue(asynqOpt(cfg), logr)
		defer beacons.Close()
		opts = append(opts, transport.WithBeaconQueue(beacons))
	}

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      transport.NewServer(b.service, auth, opts...).Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logr.Info("starting progress server", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Error("failed to start server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
