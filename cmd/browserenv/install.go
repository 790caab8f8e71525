package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/maltedev/browserenv/internal/browser"
	"github.com/maltedev/browserenv/internal/envconfig"
)

func newInstallCmd(a *app) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "install [chromium|firefox|webkit]...",
		Short: "Download the playwright driver and browsers",
		Long: `Download the playwright driver and browsers.

Without arguments the browser selected by BROWSER is installed. Chromium is
always installed because it is the launch fallback.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := installNames(a.env, args, all)
			if err != nil {
				return err
			}

			a.logger.Info("installing browsers", "browsers", browser.InstallSet(names...))
			if err := a.install(names...); err != nil {
				return err
			}
			a.logger.Info("browsers installed")
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "install every supported browser")
	return cmd
}

func installNames(env envconfig.Snapshot, args []string, all bool) ([]envconfig.BrowserName, error) {
	if all {
		return []envconfig.BrowserName{envconfig.Chromium, envconfig.Firefox, envconfig.WebKit}, nil
	}
	if len(args) == 0 {
		return []envconfig.BrowserName{envconfig.ParseBrowserName(env[envconfig.EnvBrowser])}, nil
	}

	names := make([]envconfig.BrowserName, 0, len(args))
	for _, arg := range args {
		switch name := envconfig.BrowserName(arg); name {
		case envconfig.Chromium, envconfig.Firefox, envconfig.WebKit:
			names = append(names, name)
		default:
			return nil, fmt.Errorf("unknown browser %q", arg)
		}
	}
	return names, nil
}
