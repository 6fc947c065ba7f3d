// Package main implements the PGL event manager daemon. It subscribes to
// the PGL/request/# topics on the MQTT broker, persists device telemetry
// (journeys, emergencies, registrations) and user records in SQLite, and
// publishes query and validation replies on per-requester response topics.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Version is set at build time
var Version = "dev"

func main() {
	configPath := flag.String("config", "/etc/pgl/manager.yaml", "Path to configuration file")
	brokerURL := flag.String("broker", "", "MQTT broker URL (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Configure logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Str("version", Version).
		Str("config", *configPath).
		Msg("PGL event manager starting")

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Override with command line flags
	if *brokerURL != "" {
		cfg.MQTT.BrokerURL = *brokerURL
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}

	controller := NewController(cfg)
	if err := controller.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start event manager")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	controller.Stop()
}
