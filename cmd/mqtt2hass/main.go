package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/jkaflik/mqtt2hass/hass"
	"github.com/jkaflik/mqtt2hass/internal/config"
	"github.com/jkaflik/mqtt2hass/internal/ingestion"
	"github.com/jkaflik/mqtt2hass/internal/metrics"
	"github.com/jkaflik/mqtt2hass/internal/recorder"
	"github.com/jkaflik/mqtt2hass/mqtt"
)

func main() {
	configPath := pflag.StringP("config", "c", "/data/options.yaml", "path to the configuration file")
	debug := pflag.Bool("debug", false, "enable debug logging")
	pflag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := recorder.Open(cfg.HADatabasePath)
	if err != nil {
		var mismatch *recorder.SchemaMismatchError
		if errors.As(err, &mismatch) {
			log.Fatal().Err(err).Msg("Recorder schema is not supported, refusing to write")
		}
		log.Fatal().Err(err).Msg("Failed to open recorder database")
	}
	defer store.Close()

	var api ingestion.EntityAPI
	if cfg.CreateMissingEntities {
		client, err := hass.NewClient(cfg.HAAPIURL, cfg.HAToken,
			hass.WithRequestTimeout(cfg.APITimeout.Duration()))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Home Assistant API client")
		}
		api = client
	}

	pipeline := &ingestion.Pipeline{
		Decoder: &ingestion.Decoder{
			TopicPrefix:    cfg.TopicPrefix(),
			EntityIDPrefix: cfg.DefaultEntityIDPrefix,
		},
		Validator: &ingestion.Validator{
			MaxAge:        cfg.MaxTimestampOffset(),
			SkewTolerance: cfg.ClockSkewTolerance.Duration(),
		},
		Resolver:     ingestion.NewResolver(store, api, cfg.CreateMissingEntities),
		Writer:       store,
		Workers:      cfg.Workers,
		WriteTimeout: cfg.WriteTimeout.Duration(),
	}

	metricsServer := metrics.NewServer(cfg.MetricsAddr)
	go func() {
		if err := metricsServer.Start(); err != nil {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	// messages is never closed: the pipeline stops through its own context,
	// so a delivery arriving after Disconnect returns parks on pipelineCtx
	// instead of hitting a closed channel.
	pipelineCtx, stopPipeline := context.WithCancel(context.Background())
	defer stopPipeline()

	messages := make(chan ingestion.Message)
	broker := mqtt.NewClient(mqtt.Config{
		BrokerURL: cfg.BrokerURL(),
		Username:  cfg.MQTTUsername,
		Password:  cfg.MQTTPassword,
		Topic:     cfg.MQTTTopic,
	}, func(topic string, payload []byte) {
		select {
		case messages <- ingestion.Message{Topic: topic, Payload: payload}:
		case <-pipelineCtx.Done():
		}
	})

	if err := broker.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MQTT broker")
	}

	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		pipeline.Run(pipelineCtx, messages)
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	// stop inbound flow first, then stop the workers
	broker.Close()
	stopPipeline()
	<-pipelineDone

	if err := metricsServer.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Failed to shut down metrics server")
	}
}
