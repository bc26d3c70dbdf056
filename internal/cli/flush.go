package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"assessment-sync/internal/config"
	"assessment-sync/internal/logger"
	"assessment-sync/internal/progress"
)

// NewFlushCmd delivers every queue left in the local mirror by earlier sessions.
func NewFlushCmd(configPath *string) *cobra.Command {
	flags := &clientFlags{}
	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Deliver progress left pending by earlier sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logr, err := logger.New(cfg.Env)
			if err != nil {
				return err
			}
			defer logr.Sync()

			token, err := flags.resolveToken(cfg)
			if err != nil {
				return err
			}
			mirror, closeMirror, err := openMirror(cfg)
			if err != nil {
				return err
			}
			defer closeMirror()

			subjects, err := mirror.Subjects(ctx)
			if err != nil {
				return err
			}
			if len(subjects) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing pending")
				return nil
			}

			client := newHTTPClient(cfg, token, logr)
			scfg := syncConfig(cfg)
			for _, subjectID := range subjects {
				s := progress.NewScheduler(subjectID, client, mirror, scfg, progress.WithLogger(logr))
				n, outcome := s.Resume(ctx)
				s.Close()
				logr.Debug("flushed subject", zap.String("subject", subjectID), zap.Int("entries", n))
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d pending\t%s\n", subjectID, n, outcome)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.user, "user", "", "user id to sign a token for")
	cmd.Flags().StringVar(&flags.token, "token", "", "bearer token (or ASSESSMENT_TOKEN)")
	return cmd
}
