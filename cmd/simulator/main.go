package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/powerdash/backend/internal/config"
	"github.com/powerdash/backend/internal/mqtt"
	"github.com/powerdash/backend/internal/simulator"
	"github.com/powerdash/backend/internal/utils"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to the configuration directory")
	interval := flag.Duration("interval", time.Second, "Interval between readings")
	load := flag.Float64("load", 1200, "Average load in watts while the relay is closed")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(&cfg.Log)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mqttCfg := cfg.MQTT
	mqttCfg.ClientID = mqttCfg.ClientID + "-meter"
	client := mqtt.NewClient(&mqttCfg, logger)
	if err := client.Connect(ctx); err != nil {
		logger.Fatal("Failed to connect to MQTT broker", zap.Error(err))
	}
	defer client.Disconnect()

	sim := simulator.New(
		simulator.NewMeter(*load, *seed),
		client,
		cfg.MQTT.TopicPrefix,
		cfg.Relay.Topic,
		*interval,
		logger,
	)

	logger.Info("Meter simulator started",
		zap.String("broker", cfg.MQTT.BrokerURL),
		zap.Duration("interval", *interval),
		zap.Float64("load_watts", *load))

	if err := sim.Run(ctx); err != nil {
		logger.Error("Simulator stopped with error", zap.Error(err))
	}
}
