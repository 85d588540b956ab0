package main

import (
	"context"
	"os"
	"os/signal"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vrischmann/envconfig"

	"github.com/Sh00ty/rapidring/pkg/rapidring"
)

type Config struct {
	LoggerLevel string `envconfig:"LOGGER_LEVEL,default=info"`
	ListenAddr  string `envconfig:"LISTEN_ADDR"`
	SeedAddr    string `envconfig:"SEED_ADDR,optional"`
}

func loggerLevelFromString(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "error":
		return zerolog.ErrorLevel
	case "warn":
		return zerolog.WarnLevel
	case "debug":
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg := Config{}
	if err := envconfig.Init(&cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to read app config")
	}
	zerolog.SetGlobalLevel(loggerLevelFromString(cfg.LoggerLevel))

	builder, err := rapidring.New(cfg.ListenAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure cluster builder")
	}

	var cluster *rapidring.Cluster
	if cfg.SeedAddr == "" {
		cluster, err = builder.Start()
	} else {
		cluster, err = builder.Join(cfg.SeedAddr)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start cluster node")
	}

	if err := cluster.RegisterSubscription(rapidring.EventViewChange, func(ev rapidring.ViewChangeEvent) {
		log.Info().Msgf("view change: config=%d members=%d", ev.ConfigurationID, len(ev.Members))
	}); err != nil {
		log.Error().Err(err).Msg("failed to register view change subscription")
	}

	log.Info().Msgf("rapidring node listening on %s", cfg.ListenAddr)
	<-ctx.Done()

	if err := cluster.Shutdown(); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
}
