package kafka

import (
	"context"
	"time"

	"github.com/powerdash/backend/internal/actuation"
	"github.com/powerdash/backend/internal/config"
	"github.com/powerdash/backend/internal/telemetry"
	"github.com/powerdash/backend/internal/utils"
)

// MessageProducer is the part of Producer the exporter needs
type MessageProducer interface {
	Produce(topic string, message *Message) error
	Close()
}

// TelemetryRecord is the exported form of one applied sample
type TelemetryRecord struct {
	Seq     uint64             `json:"seq"`
	Channel string             `json:"channel"`
	Value   float64            `json:"value"`
	Time    time.Time          `json:"time"`
	Values  map[string]float64 `json:"values"`
}

// Exporter mirrors telemetry snapshots and relay events to Kafka. Relay events
// are queued without blocking; when the queue is full they are dropped with a
// warning.
type Exporter struct {
	producer       MessageProducer
	telemetryTopic string
	relayTopic     string
	logger         *utils.Logger

	relayEvents chan actuation.Event
}

// NewExporter creates an exporter over producer
func NewExporter(producer MessageProducer, cfg *config.KafkaConfig, logger *utils.Logger) *Exporter {
	return &Exporter{
		producer:       producer,
		telemetryTopic: cfg.TelemetryTopic,
		relayTopic:     cfg.RelayTopic,
		logger:         logger.Named("kafka_exporter"),
		relayEvents:    make(chan actuation.Event, 256),
	}
}

// Record implements actuation.Recorder
func (e *Exporter) Record(ev actuation.Event) {
	select {
	case e.relayEvents <- ev:
	default:
		e.logger.Warn("Relay export queue full, dropping event", utils.String("id", ev.ID.String()))
	}
}

// Run exports until ctx is done or snapshots is closed, then closes the
// producer.
func (e *Exporter) Run(ctx context.Context, snapshots <-chan telemetry.Snapshot) error {
	defer e.producer.Close()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	count := 0
	for {
		select {
		case <-ctx.Done():
			e.drainRelay()
			return nil

		case snap, ok := <-snapshots:
			if !ok {
				e.drainRelay()
				return nil
			}
			if e.exportSnapshot(snap) {
				count++
			}

		case ev := <-e.relayEvents:
			if e.exportRelay(ev) {
				count++
			}

		case <-ticker.C:
			if count > 0 {
				e.logger.Info("Kafka export statistics",
					utils.Int("exported_messages", count),
					utils.String("interval", "1m"))
				count = 0
			}
		}
	}
}

func (e *Exporter) drainRelay() {
	for {
		select {
		case ev := <-e.relayEvents:
			e.exportRelay(ev)
		default:
			return
		}
	}
}

func (e *Exporter) exportSnapshot(snap telemetry.Snapshot) bool {
	ch, ok := snap.Updated()
	if !ok {
		return false
	}

	record := TelemetryRecord{
		Seq:     snap.Seq(),
		Channel: ch.String(),
		Value:   snap.Value(ch),
		Time:    snap.UpdatedAt(),
		Values:  snap.Values(),
	}
	err := e.producer.Produce(e.telemetryTopic, &Message{
		Key:       ch.String(),
		Value:     record,
		Timestamp: record.Time,
		Headers:   map[string]string{"type": "telemetry"},
	})
	if err != nil {
		e.logger.Warn("Failed to export snapshot", utils.Error(err))
		return false
	}
	return true
}

func (e *Exporter) exportRelay(ev actuation.Event) bool {
	err := e.producer.Produce(e.relayTopic, &Message{
		Key:       string(ev.Intent),
		Value:     ev,
		Timestamp: ev.At,
		Headers:   map[string]string{"type": "relay"},
	})
	if err != nil {
		e.logger.Warn("Failed to export relay event", utils.Error(err))
		return false
	}
	return true
}
