package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/davecgh/go-spew/spew"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/protofire/proteus-shield/go-dev-proxy/logging"
	"github.com/protofire/proteus-shield/go-dev-proxy/models"
	"github.com/protofire/proteus-shield/go-dev-proxy/server"
)

func newRootCommand() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "go-dev-proxy",
		Short: "Development gateway that forwards path prefixes to upstream APIs",
		Long: `go-dev-proxy forwards requests whose path starts with a configured prefix
to an upstream origin, rewriting the path on the way. Everything else is served
from a static directory, or answered with 404.

Flags can also be set through DEVPROXY_* environment variables, for example
DEVPROXY_LISTEN=:8080 or DEVPROXY_STATIC_DIR=./dist.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, v)
		},
	}

	flags := cmd.Flags()
	flags.StringP("config", "c", "./config.yaml", "Path to the router config")
	flags.String("listen", "", "Listen address, overrides the config file")
	flags.String("static-dir", "", "Directory served for requests no rule matches")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "Output logs in JSON format")
	flags.Bool("dump-config", false, "Print the decoded config and exit")

	v.SetEnvPrefix("devproxy")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	cobra.CheckErr(v.BindPFlags(flags))

	return cmd
}

func run(cmd *cobra.Command, v *viper.Viper) error {
	logger, err := logging.New(v.GetString("log-level"), v.GetBool("log-json"), cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	routerConfig, err := models.LoadRouterConfig(v.GetString("config"))
	if err != nil {
		return err
	}
	if listen := v.GetString("listen"); listen != "" {
		routerConfig.Listen = listen
	}
	if staticDir := v.GetString("static-dir"); staticDir != "" {
		routerConfig.StaticDir = staticDir
	}

	if v.GetBool("dump-config") {
		spew.Fdump(cmd.OutOrStdout(), routerConfig)
		return nil
	}

	if logger.GetLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	srv, err := server.New(routerConfig, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return srv.Run(ctx)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
