package simulator

import (
	"context"
	"strconv"
	"time"

	"github.com/powerdash/backend/internal/telemetry"
	"github.com/powerdash/backend/internal/utils"
)

// Broker is the transport the simulator publishes through.
type Broker interface {
	Publish(topic string, payload []byte) error
	Subscribe(topics []string, handler func(topic string, payload []byte)) error
}

// Simulator publishes meter readings on a fixed interval.
type Simulator struct {
	meter      *Meter
	broker     Broker
	prefix     string
	relayTopic string
	interval   time.Duration
	logger     *utils.Logger
}

func New(meter *Meter, broker Broker, prefix, relayTopic string, interval time.Duration, logger *utils.Logger) *Simulator {
	if interval <= 0 {
		interval = time.Second
	}
	return &Simulator{
		meter:      meter,
		broker:     broker,
		prefix:     prefix,
		relayTopic: relayTopic,
		interval:   interval,
		logger:     logger.Named("simulator"),
	}
}

// Run listens for relay commands and publishes until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	err := s.broker.Subscribe([]string{s.relayTopic}, func(_ string, payload []byte) {
		s.meter.HandleRelay(payload)
		s.logger.Info("Relay command received",
			utils.String("payload", string(payload)),
			utils.Bool("on", s.meter.On()))
	})
	if err != nil {
		return err
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.Publish(now)
		}
	}
}

// Publish sends one reading of every channel.
func (s *Simulator) Publish(now time.Time) {
	reading := s.meter.Read(now)
	for _, ch := range telemetry.Channels() {
		payload := strconv.FormatFloat(reading[ch], 'f', 2, 64)
		if err := s.broker.Publish(ch.Topic(s.prefix), []byte(payload)); err != nil {
			s.logger.Warn("Failed to publish reading",
				utils.String("channel", ch.String()),
				utils.Error(err))
			return
		}
	}
}
