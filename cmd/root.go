// Package cmd defines the keywordintel CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dvernon0786/Infin8Content-sub000/internal/config"
	"github.com/dvernon0786/Infin8Content-sub000/internal/export"
	"github.com/dvernon0786/Infin8Content-sub000/internal/pipeline"
	"github.com/dvernon0786/Infin8Content-sub000/internal/server"
	"github.com/dvernon0786/Infin8Content-sub000/internal/workflow"
)

// App is the slice of the application the commands use. Tests swap in their
// own via newApp.
type App interface {
	Logger() *zap.Logger
	Runner() *pipeline.Runner
	Tracker() *workflow.Tracker
	Exporter() *export.Exporter
	Serve(ctx context.Context) error
	Close(ctx context.Context)
}

type ctxKey struct{}

// skipAppAnnotation marks commands that must not build the application.
const skipAppAnnotation = "skip-app"

var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return server.Build(ctx, cfg)
}

var loadConfig = config.Load

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "keywordintel",
		Short: "Keyword intelligence pipeline",
		Long: `keywordintel turns a set of competitor sites into a clustered keyword plan.
It extracts seed keywords, expands them into longtails, filters the result
and groups it into hub-and-spoke topic clusters, tracking each workflow so
an interrupted run resumes where it stopped.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), configKey{}, cfg)
			if cmd.Annotations[skipAppAnnotation] == "" {
				appInstance, err := newApp(ctx, cfg)
				if err != nil {
					return fmt.Errorf("failed to initialize application services: %w", err)
				}
				ctx = context.WithValue(ctx, ctxKey{}, appInstance)
			}
			cmd.SetContext(ctx)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(ctxKey{}).(App); ok && appInstance != nil {
				appInstance.Close(context.WithoutCancel(cmd.Context()))
			}
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); KEYWORDINTEL_* env vars override it")

	for _, step := range stepCommands() {
		cmd.AddCommand(step)
	}
	cmd.AddCommand(newRunCmd(), newStatusCmd(), newExportCmd(), newServeCmd(), newMigrateCmd())
	return cmd
}

type configKey struct{}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(ctxKey{}).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func resolveConfig(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(configKey{}).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}
