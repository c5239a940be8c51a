package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dvernon0786/Infin8Content-sub000/internal/logging"
	"github.com/dvernon0786/Infin8Content-sub000/internal/storage/postgres"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the workflow status API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return appInstance.Serve(ctx)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "migrate",
		Short:       "Apply database migrations",
		Annotations: map[string]string{skipAppAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.DB.DSN == "" {
				return fmt.Errorf("db.dsn is required to migrate")
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return postgres.Migrate(cfg.DB.DSN, logger)
		},
	}
}
