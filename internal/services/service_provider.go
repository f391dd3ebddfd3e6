package services

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/powerdash/backend/internal/actuation"
	"github.com/powerdash/backend/internal/billing"
	"github.com/powerdash/backend/internal/clock"
	"github.com/powerdash/backend/internal/config"
	"github.com/powerdash/backend/internal/db"
	"github.com/powerdash/backend/internal/db/repository"
	"github.com/powerdash/backend/internal/efficiency"
	"github.com/powerdash/backend/internal/forecast"
	"github.com/powerdash/backend/internal/history"
	"github.com/powerdash/backend/internal/kafka"
	"github.com/powerdash/backend/internal/loadstate"
	"github.com/powerdash/backend/internal/metrics"
	"github.com/powerdash/backend/internal/mqtt"
	"github.com/powerdash/backend/internal/telemetry"
	"github.com/powerdash/backend/internal/utils"
)

// Broker is the message transport shared by telemetry ingestion and relay
// actuation.
type Broker interface {
	telemetry.Source
	actuation.Transport
	Connect(ctx context.Context) error
	Disconnect()
}

// Option overrides a collaborator, mostly for tests
type Option func(*ServiceProvider)

// WithBroker replaces the MQTT client
func WithBroker(b Broker) Option {
	return func(sp *ServiceProvider) { sp.broker = b }
}

// WithClock replaces the wall clock
func WithClock(c clock.Clock) Option {
	return func(sp *ServiceProvider) { sp.clock = c }
}

// WithPredictor replaces the configured forecast predictor
func WithPredictor(p forecast.Predictor) Option {
	return func(sp *ServiceProvider) { sp.predictor = p }
}

// WithProducer replaces the Kafka producer and enables the export
func WithProducer(p kafka.MessageProducer) Option {
	return func(sp *ServiceProvider) { sp.producer = p }
}

// WithMetrics shares an existing metrics registry
func WithMetrics(m *metrics.Metrics) Option {
	return func(sp *ServiceProvider) { sp.metrics = m }
}

// ServiceProvider manages all services for the application
type ServiceProvider struct {
	logger   *utils.Logger
	config   *config.Config
	database *db.Database
	clock    clock.Clock
	metrics  *metrics.Metrics

	broker    Broker
	predictor forecast.Predictor
	producer  kafka.MessageProducer

	store               *telemetry.Store
	history             *history.Recorder
	billing             *billing.Evaluator
	efficiency          *efficiency.Evaluator
	loadState           *loadstate.Evaluator
	output              *actuation.Output
	controller          *actuation.Controller
	threshold           *actuation.ThresholdPolicy
	forecast            *forecast.Adapter
	journal             *JournalService
	exporter            *kafka.Exporter
	notificationService *NotificationService
}

// NewServiceProvider creates a new service provider
func NewServiceProvider(
	logger *utils.Logger,
	config *config.Config,
	database *db.Database,
	opts ...Option,
) *ServiceProvider {
	sp := &ServiceProvider{
		logger:   logger.Named("services"),
		config:   config,
		database: database,
		clock:    clock.Real(),
	}
	for _, opt := range opts {
		opt(sp)
	}
	return sp
}

// Initialize builds the pipeline, connects the broker and starts ingestion
func (sp *ServiceProvider) Initialize(ctx context.Context) error {
	if err := sp.build(); err != nil {
		return err
	}

	if err := sp.broker.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	if err := sp.store.Start(ctx); err != nil {
		return fmt.Errorf("failed to start telemetry store: %w", err)
	}

	sp.logger.Info("All services initialized successfully")
	return nil
}

func (sp *ServiceProvider) build() error {
	cfg := sp.config

	if sp.metrics == nil {
		sp.metrics = metrics.New()
	}
	if sp.broker == nil {
		sp.broker = mqtt.NewClient(&cfg.MQTT, sp.logger)
	}

	sp.store = telemetry.NewStore(sp.broker, sp.logger, sp.metrics,
		telemetry.WithClock(sp.clock),
		telemetry.WithTopicPrefix(cfg.MQTT.TopicPrefix),
	)

	// Derived state
	sp.history = history.NewRecorder()
	sp.billing = billing.NewEvaluator(billing.TariffFromConfig(&cfg.Tariff), billing.Options{
		EnergyDivisor: cfg.Tariff.EnergyDivisor,
		Growth:        cfg.Tariff.Growth,
	}, sp.logger)
	sp.efficiency = efficiency.NewEvaluator(cfg.Efficiency.TargetKWh, cfg.Efficiency.EnergyDivisor)

	idleChannel, err := telemetry.ParseChannel(cfg.Idle.Channel)
	if err != nil {
		return fmt.Errorf("invalid idle channel: %w", err)
	}
	sp.loadState = loadstate.NewEvaluator(loadstate.Settings{
		Channel:         idleChannel,
		IdleThreshold:   cfg.Idle.IdleThreshold,
		ActiveThreshold: cfg.Idle.ActiveThreshold,
		Dwell:           cfg.Idle.Dwell,
		Tick:            cfg.Idle.Tick,
	}, sp.clock, sp.logger)

	// Actuation
	sp.output = actuation.NewOutput(sp.broker, cfg.Relay.Topic, sp.clock, sp.logger, sp.metrics)
	sp.controller = actuation.NewController(sp.output, sp.clock, sp.logger)
	sp.threshold = actuation.NewThresholdPolicy(sp.output, cfg.Relay.Hysteresis, sp.logger,
		actuation.WithRestoreOnly(cfg.Relay.RestoreOnly))

	// Journal
	repoFactory := repository.NewRepositoryFactory(sp.database.DB, sp.database.MaxEvents())
	sp.journal = NewJournalService(repoFactory.RelayEvents(), sp.logger)
	sp.output.AddRecorder(sp.journal)

	// Live feed
	sp.notificationService = NewNotificationService(sp.logger, sp.metrics)
	sp.output.AddRecorder(actuation.RecorderFunc(func(ev actuation.Event) {
		sp.notificationService.Notify(NotificationTypeRelay, ev)
	}))
	sp.loadState.OnChange(func(status loadstate.Status) {
		sp.notificationService.Notify(NotificationTypeLoadState, status)
	})

	// Forecast
	if cfg.Forecast.Enabled {
		if err := sp.buildForecast(); err != nil {
			return err
		}
	}

	// Kafka export
	if sp.producer == nil && cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(&cfg.Kafka, sp.logger)
		if err != nil {
			return fmt.Errorf("failed to create Kafka producer: %w", err)
		}
		sp.producer = producer
	}
	if sp.producer != nil {
		sp.exporter = kafka.NewExporter(sp.producer, &cfg.Kafka, sp.logger)
		sp.output.AddRecorder(sp.exporter)
	}

	// Observers run in registration order
	sp.store.Subscribe(sp.history.Observe)
	sp.store.Subscribe(sp.billing.Observe)
	sp.store.Subscribe(sp.efficiency.Observe)
	sp.store.Subscribe(sp.loadState.Observe)
	sp.store.Subscribe(sp.threshold.Observe)
	if sp.forecast != nil {
		sp.store.Subscribe(sp.forecast.Observe)
	}
	sp.store.Subscribe(sp.publishDashboard)

	return nil
}

func (sp *ServiceProvider) buildForecast() error {
	cfg := sp.config.Forecast

	channel, err := telemetry.ParseChannel(cfg.Channel)
	if err != nil {
		return fmt.Errorf("invalid forecast channel: %w", err)
	}

	if sp.predictor == nil {
		if cfg.ModelURL != "" {
			sp.predictor = forecast.NewHTTPPredictor(cfg.ModelURL, cfg.ModelName, cfg.Timeout, sp.logger)
		} else {
			sp.predictor = forecast.NewTrendPredictor(cfg.ChunkSize)
		}
	}

	sp.forecast = forecast.NewAdapter(sp.predictor, forecast.Settings{
		Channel:     channel,
		InputLength: cfg.InputLength,
		Horizon:     cfg.Horizon,
		Step:        cfg.Step,
		Timeout:     cfg.Timeout,
	}, sp.clock, sp.logger, sp.metrics)

	sp.forecast.OnForecast(func(result forecast.Result) {
		if channel == telemetry.Power {
			sp.billing.SetPowerForecast(result.Values(), result.Step)
			sp.notificationService.Notify(NotificationTypeBill, sp.billing.State())
		}
		sp.notificationService.Notify(NotificationTypeForecast, result)
	})
	return nil
}

// publishDashboard pushes the snapshot and the views derived from it
func (sp *ServiceProvider) publishDashboard(snap telemetry.Snapshot) {
	if _, ok := snap.Updated(); !ok {
		return
	}
	sp.notificationService.Notify(NotificationTypeSnapshot, snap)
	if snap.Fresh(telemetry.Energy) {
		sp.notificationService.Notify(NotificationTypeBill, sp.billing.State())
		sp.notificationService.Notify(NotificationTypeEfficiency, sp.efficiency.State())
	}
}

// Run drives the background loops until ctx is done
func (sp *ServiceProvider) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return sp.loadState.Run(gctx) })
	g.Go(func() error { return sp.journal.Run(gctx) })
	if sp.forecast != nil {
		g.Go(func() error { return sp.forecast.Run(gctx) })
	}
	if sp.exporter != nil {
		snapshots := sp.store.Watch(gctx, 64)
		g.Go(func() error { return sp.exporter.Run(gctx, snapshots) })
	}

	return g.Wait()
}

// Shutdown performs a graceful shutdown of all services
func (sp *ServiceProvider) Shutdown() error {
	sp.logger.Info("Shutting down services")

	var errs []error
	if sp.controller != nil {
		sp.controller.Close()
	}
	if sp.store != nil {
		if err := sp.store.Shutdown(); err != nil {
			sp.logger.Error("Failed to shut down telemetry store", utils.Error(err))
			errs = append(errs, err)
		}
	}
	if sp.notificationService != nil {
		sp.notificationService.Close()
	}
	if sp.broker != nil {
		sp.broker.Disconnect()
	}

	sp.logger.Info("Services shut down successfully")
	return errors.Join(errs...)
}

// GetStore returns the telemetry store
func (sp *ServiceProvider) GetStore() *telemetry.Store {
	return sp.store
}

// GetHistory returns the per-channel chart history
func (sp *ServiceProvider) GetHistory() *history.Recorder {
	return sp.history
}

// GetBilling returns the billing evaluator
func (sp *ServiceProvider) GetBilling() *billing.Evaluator {
	return sp.billing
}

// GetEfficiency returns the efficiency evaluator
func (sp *ServiceProvider) GetEfficiency() *efficiency.Evaluator {
	return sp.efficiency
}

// GetLoadState returns the load-state evaluator
func (sp *ServiceProvider) GetLoadState() *loadstate.Evaluator {
	return sp.loadState
}

// GetOutput returns the shared relay output
func (sp *ServiceProvider) GetOutput() *actuation.Output {
	return sp.output
}

// GetController returns the relay controller
func (sp *ServiceProvider) GetController() *actuation.Controller {
	return sp.controller
}

// GetThreshold returns the power cutoff policy
func (sp *ServiceProvider) GetThreshold() *actuation.ThresholdPolicy {
	return sp.threshold
}

// GetForecast returns the forecast adapter, nil when forecasting is disabled
func (sp *ServiceProvider) GetForecast() *forecast.Adapter {
	return sp.forecast
}

// GetJournal returns the relay journal service
func (sp *ServiceProvider) GetJournal() *JournalService {
	return sp.journal
}

// GetNotificationService returns the notification service
func (sp *ServiceProvider) GetNotificationService() *NotificationService {
	return sp.notificationService
}

// GetMetrics returns the metrics registry
func (sp *ServiceProvider) GetMetrics() *metrics.Metrics {
	return sp.metrics
}
