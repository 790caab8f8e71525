package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/maltedev/browserenv/internal/browser"
	"github.com/maltedev/browserenv/internal/envconfig"
	"github.com/maltedev/browserenv/pkg/logger"
)

type app struct {
	logLevel  string
	logFormat string
	envFiles  []string

	// baseEnv replaces the process environment when set.
	baseEnv envconfig.Snapshot
	env     envconfig.Snapshot
	logger  *slog.Logger

	driver  browser.Driver
	install func(names ...envconfig.BrowserName) error
}

func newRootCmd(env envconfig.Snapshot) *cobra.Command {
	return newApp(env).rootCmd()
}

func newApp(env envconfig.Snapshot) *app {
	return &app{
		baseEnv: env,
		install: browser.Install,
	}
}

func (a *app) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "browserenv",
		Short:         "Resolve, install and smoke-test e2e browser configuration",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.StringVar(&a.logFormat, "log-format", "auto", "log format (json, text, auto)")
	flags.StringSliceVar(&a.envFiles, "env-file", nil, "dotenv file to read; process variables win (repeatable)")

	cmd.AddCommand(
		newResolveCmd(a),
		newInstallCmd(a),
		newSmokeCmd(a),
		newServeCmd(a),
		newEventsCmd(a),
	)

	return cmd
}

func (a *app) init(cmd *cobra.Command) error {
	a.logger = logger.NewWithWriter(cmd.ErrOrStderr(), a.logLevel, a.logFormat, logger.IsTerminal(os.Stderr))

	base := a.baseEnv
	if base == nil {
		base = envconfig.Environ()
	}

	env, err := base.WithDotEnv(a.envFiles...)
	if err != nil {
		return err
	}
	a.env = env
	return nil
}
