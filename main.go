package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/telegrab/telegrab/internal"
	"github.com/telegrab/telegrab/pkg/logger"
)

var log = logger.Get("Main")

// main loads the users Telegrab configuration (from the path provided on the
// command line, falling back to the default location and the environment) and
// runs Telegrab until an interrupt is received.
func main() {
	configPath := flag.String("config", internal.DefaultConfigPath(), "path to the configuration file")
	verbose := flag.Bool("verbose", false, "enable verbose logging")
	flag.Parse()

	if *verbose {
		logger.SetMinLoggingLevel(logger.VERBOSE.Level())
	}

	config := internal.TelegrabConfig{}
	if err := config.LoadFromFile(*configPath); err != nil {
		log.Emit(logger.FATAL, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := internal.New(config).Run(ctx); err != nil {
		log.Emit(logger.FATAL, "Telegrab stopped with error: %v\n", err)
		os.Exit(1)
	}

	log.Emit(logger.STOP, "Telegrab shutdown complete\n")
}
