package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/OrchardMediaLabs/orchard/broker"
	"github.com/OrchardMediaLabs/orchard/config"
	"github.com/OrchardMediaLabs/orchard/gateway"
	"github.com/OrchardMediaLabs/orchard/remote"
	"gopkg.in/yaml.v3"
)

func main() {
	var (
		configFile    string
		genConfigFile string
		logLevelName  string
	)

	fs := flag.NewFlagSet("orchardd", flag.ContinueOnError)
	fs.StringVar(&configFile, "config", "orchard.yaml", "Path to the proxy configuration file.")
	fs.StringVar(&genConfigFile, "new-cfg", "", "Generate a new configuration file to a given path.")
	fs.StringVar(&logLevelName, "log-level", "info", "Logging level: debug, info, warn, error.")

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	if genConfigFile != "" {
		if err := writeGeneratedConfig(genConfigFile); err != nil {
			slog.Error("Failed to generate configuration", "error", err)
			os.Exit(1)
		}
		slog.Info("Successfully generated new configuration file", "path", genConfigFile)
		return
	}

	logLevel := slog.LevelInfo
	switch logLevelName {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		fmt.Fprintf(os.Stderr, "Unknown logging level: %s, defaulting to info\n", logLevelName)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "orchardd")

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		logger.Error("Failed to load configuration", "path", configFile, "error", err)
		os.Exit(1)
	}

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received signal, initiating shutdown...", "signal", sig)
		appCancel()
	}()

	sessions := broker.New(logger.WithGroup("broker"), cfg.Sessions.TTL, cfg.Sessions.MaxEntries)
	defer sessions.Stop()

	rg, err := remote.NewHTTPGateway(remote.Config{
		APIBase: cfg.Remote.APIBase,
		Timeout: cfg.Remote.Timeout,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("Failed to create remote gateway", "error", err)
		os.Exit(1)
	}

	core := gateway.New(appCtx, logger.WithGroup("gateway"), cfg, sessions, rg)

	core.Run()

	logger.Info("Application exiting.")
}

func writeGeneratedConfig(path string) error {
	yamlData, err := yaml.Marshal(config.GenerateConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal generated config to YAML: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory for config file %s: %w", path, err)
		}
	}

	if err := os.WriteFile(path, yamlData, 0644); err != nil {
		return fmt.Errorf("failed to write generated configuration to %s: %w", path, err)
	}
	return nil
}
