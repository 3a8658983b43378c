// Package cli holds the legalguardian command tree.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"legalguardian/internal/app"
	"legalguardian/internal/config"
	"legalguardian/internal/repository"
)

// env is the state shared by every command once PersistentPreRunE has run.
type env struct {
	v       *viper.Viper
	cfgFile string
	cloud   *app.AWS

	cfg    config.Config
	logger *slog.Logger

	build       func(ctx context.Context, cfg config.Config, logger *slog.Logger, cloud *app.AWS) (*app.App, error)
	transcripts func(ctx context.Context, cfg config.Config) (repository.Reader, error)
}

func newEnv() *env {
	e := &env{
		v:     config.NewViper(),
		cloud: app.NewAWS(),
		build: app.Build,
	}
	e.transcripts = func(ctx context.Context, cfg config.Config) (repository.Reader, error) {
		if cfg.StateTable == "" {
			return nil, app.ErrNoTranscripts
		}
		return e.cloud.Transcripts(ctx, cfg.StateTable, cfg.TranscriptRetention())
	}
	return e
}

// resolve loads the merged configuration (flags > env > file > defaults,
// then parameter store settings) and installs the process logger.
func (e *env) resolve(cmd *cobra.Command, _ []string) error {
	cfg, err := app.ResolveConfig(cmd.Context(), e.v, e.cfgFile, e.cloud)
	if err != nil {
		return err
	}
	logger, err := app.NewLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	e.cfg = cfg
	e.logger = logger
	return nil
}

func (e *env) app(ctx context.Context) (*app.App, error) {
	return e.build(ctx, e.cfg, e.logger, e.cloud)
}

// NewRootCmd returns the command tree. Invoked without a subcommand inside
// the Lambda runtime it serves Lambda events.
func NewRootCmd() *cobra.Command {
	return newRootCmd(newEnv())
}

func newRootCmd(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:               "legalguardian",
		Short:             "legalguardian answers Russian legal questions from an indexed corpus",
		SilenceUsage:      true,
		PersistentPreRunE: e.resolve,
		RunE: func(cmd *cobra.Command, args []string) error {
			if inLambda() {
				return runLambda(cmd.Context(), e)
			}
			return cmd.Help()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&e.cfgFile, "config", "c", "", "config file (yaml, json or toml)")
	pf.String("log-level", "info", "log level: debug, info, warn or error")
	pf.String("log-format", "text", "log format: text or json")
	_ = e.v.BindPFlag("log_level", pf.Lookup("log-level"))
	_ = e.v.BindPFlag("log_format", pf.Lookup("log-format"))

	root.AddCommand(
		newServeCmd(e),
		newBotCmd(e),
		newLambdaCmd(e),
		newAskCmd(e),
		newPreviewCmd(e),
		newShowCmd(e),
		newTablesCmd(e),
		newTranscriptCmd(e),
	)
	return root
}

func inLambda() bool {
	return os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" || os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
}

// Execute runs the root command until it finishes or the process is signalled.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
