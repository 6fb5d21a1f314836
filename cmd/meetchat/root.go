package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/Meet/internal/client"
	"github.com/dkeye/Meet/internal/config"
)

var version = "dev"

type options struct {
	configFile string
	baseURL    string
	meeting    string
	user       string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:          "meetchat",
		Short:        "Join a meeting group and chat from the terminal",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(opts.logLevel)

			cfg, err := loadConfig(opts.configFile)
			if err != nil {
				return err
			}
			if opts.baseURL != "" {
				cfg.Client.BaseURL = opts.baseURL
			}
			sess, err := client.New(cfg.Client)
			if err != nil {
				return err
			}
			sh := &shell{sess: sess, in: cmd.InOrStdin(), out: cmd.OutOrStdout()}
			return sh.run(cmd.Context(), opts.meeting, opts.user)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configFile, "config", "", "config file (default config/config.<CONFIG_ENV>.yaml)")
	f.StringVar(&opts.baseURL, "base-url", "", "hub API base url, overrides client.base_url")
	f.StringVarP(&opts.meeting, "meeting", "m", "", "meeting id to join")
	f.StringVarP(&opts.user, "user", "u", "", "user id to join as")
	f.StringVar(&opts.logLevel, "log-level", "warn", "log level")
	_ = cmd.MarkFlagRequired("meeting")
	_ = cmd.MarkFlagRequired("user")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})
	return cmd
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func loadConfig(file string) (*config.Config, error) {
	if file != "" {
		return config.LoadFile(file)
	}
	return config.Load()
}
