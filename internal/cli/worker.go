package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"assessment-sync/internal/config"
	"assessment-sync/internal/jobs"
	"assessment-sync/internal/logger"
)

// NewWorkerCmd drains queued teardown beacons.
func NewWorkerCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Apply queued teardown beacons",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Redis.Addr == "" {
				return fmt.Errorf("redis addr not configured")
			}
			logr, err := logger.New(cfg.Env)
			if err != nil {
				return err
			}
			defer logr.Sync()

			b, err := buildBackend(cmd.Context(), cfg, logr)
			if err != nil {
				return err
			}
			defer b.Close()

			return jobs.NewWorker(asynqOpt(cfg), b.service, cfg.Worker.Concurrency, logr).Run()
		},
	}
}
