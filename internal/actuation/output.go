// Package actuation drives the remote relay: a shared Output publishes ON/OFF
// commands, a Controller owns the manual and timer policies and a
// ThresholdPolicy performs the automatic power cutoff.
package actuation

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/powerdash/backend/internal/clock"
	"github.com/powerdash/backend/internal/metrics"
	"github.com/powerdash/backend/internal/utils"
)

var (
	ErrTransportUnavailable = fmt.Errorf("relay transport unavailable: %w", utils.ErrServiceUnavailable)
	ErrInvalidInput         = fmt.Errorf("invalid actuation input: %w", utils.ErrValidation)
	ErrSchedulingConflict   = fmt.Errorf("scheduling conflict: %w", utils.ErrConflict)
	ErrTimerRunning         = fmt.Errorf("timer already running: %w", utils.ErrConflict)
	ErrControllerClosed     = fmt.Errorf("controller closed: %w", utils.ErrServiceUnavailable)
)

// Command is the payload understood by the relay firmware.
type Command string

const (
	On  Command = "ON"
	Off Command = "OFF"
)

func commandFor(on bool) Command {
	if on {
		return On
	}
	return Off
}

// Intent names the policy that issued a command.
type Intent string

const (
	IntentManual     Intent = "manual"
	IntentFixedTimer Intent = "fixed_timer"
	IntentInterval   Intent = "interval"
	IntentSchedule   Intent = "schedule"
	IntentThreshold  Intent = "threshold"
	IntentStop       Intent = "stop"
)

// Transport carries relay commands to the device.
type Transport interface {
	Publish(topic string, payload []byte) error
	IsConnected() bool
}

// Event describes one publish attempt.
type Event struct {
	ID       uuid.UUID `json:"id"`
	At       time.Time `json:"at"`
	Intent   Intent    `json:"intent"`
	Command  Command   `json:"command"`
	Topic    string    `json:"topic"`
	Accepted bool      `json:"accepted"`
	Error    string    `json:"error,omitempty"`
}

// Recorder is notified of every publish attempt. Record runs on the caller's
// goroutine and must not block.
type Recorder interface {
	Record(Event)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(Event)

func (f RecorderFunc) Record(e Event) { f(e) }

// Output is the single relay endpoint shared by every policy owner. It does
// not arbitrate between owners: the last accepted command wins.
type Output struct {
	transport Transport
	topic     string
	clock     clock.Clock
	logger    *utils.Logger
	metrics   *metrics.Metrics

	mu        sync.Mutex
	last      Command
	lastAt    time.Time
	recorders []Recorder
}

func NewOutput(transport Transport, topic string, clk clock.Clock, logger *utils.Logger, m *metrics.Metrics) *Output {
	if clk == nil {
		clk = clock.Real()
	}
	return &Output{
		transport: transport,
		topic:     topic,
		clock:     clk,
		logger:    logger.Named("relay"),
		metrics:   m,
	}
}

// AddRecorder registers r for every subsequent publish attempt.
func (o *Output) AddRecorder(r Recorder) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recorders = append(o.recorders, r)
}

// Connected reports whether the transport can accept commands right now.
func (o *Output) Connected() bool {
	return o.transport != nil && o.transport.IsConnected()
}

// Topic returns the relay topic.
func (o *Output) Topic() string {
	return o.topic
}

// Publish sends cmd on behalf of intent. Commands are never queued while the
// transport is down.
func (o *Output) Publish(intent Intent, cmd Command) error {
	o.mu.Lock()

	ev := Event{
		ID:      uuid.New(),
		At:      o.clock.Now(),
		Intent:  intent,
		Command: cmd,
		Topic:   o.topic,
	}

	var err error
	switch {
	case !o.Connected():
		err = ErrTransportUnavailable
	default:
		if perr := o.transport.Publish(o.topic, []byte(cmd)); perr != nil {
			err = fmt.Errorf("%w: %v", ErrTransportUnavailable, perr)
		}
	}

	if err == nil {
		o.last = cmd
		o.lastAt = ev.At
		ev.Accepted = true
	} else {
		ev.Error = err.Error()
	}

	recorders := make([]Recorder, len(o.recorders))
	copy(recorders, o.recorders)
	o.mu.Unlock()

	o.metrics.RelayPublished(string(intent), string(cmd), err)
	if err != nil {
		o.logger.Warn("Relay command rejected",
			utils.String("intent", string(intent)),
			utils.String("command", string(cmd)),
			utils.Error(err),
		)
	} else {
		o.logger.Info("Relay command published",
			utils.String("intent", string(intent)),
			utils.String("command", string(cmd)),
			utils.String("topic", o.topic),
		)
	}

	for _, r := range recorders {
		r.Record(ev)
	}
	return err
}

// Last returns the most recent accepted command.
func (o *Output) Last() (Command, time.Time, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last, o.lastAt, o.last != ""
}
