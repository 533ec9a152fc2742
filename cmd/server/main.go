package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"clobsim/internal/config"
	"clobsim/internal/matcher"
	"clobsim/internal/registry"
	"clobsim/internal/transport"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		envPath  string
		address  string
		port     int
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "exchange-server",
		Short: "Run the central limit order book exchange",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(envPath)
			if cmd.Flags().Changed("address") {
				cfg.Address = address
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			return serve(cfg)
		},
	}

	cmd.Flags().StringVar(&envPath, "env", "", "path to a .env file (default: .env in the working directory)")
	cmd.Flags().StringVar(&address, "address", "", "address to listen on")
	cmd.Flags().IntVar(&port, "port", 0, "port to listen on")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "zerolog level: debug, info, warn, error")

	return cmd
}

func serve(cfg config.Config) error {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	reg := registry.New()
	engine := matcher.New(reg)
	srv := transport.New(cfg.Address, cfg.Port, engine, reg)

	return srv.Run(ctx)
}
