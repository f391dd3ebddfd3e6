package telemetry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/powerdash/backend/internal/clock"
	"github.com/powerdash/backend/internal/metrics"
	"github.com/powerdash/backend/internal/utils"
)

// Observer receives a copy of the full snapshot after every applied sample.
// Observers run on the publishing goroutine and must not call Publish.
type Observer func(Snapshot)

// Source is the transport feeding the store.
type Source interface {
	Subscribe(topics []string, handler func(topic string, payload []byte)) error
	Unsubscribe(topics ...string) error
}

type subscription struct {
	id       uint64
	observer Observer
	active   atomic.Bool
}

// Store holds the latest value of every channel and broadcasts each update to
// the registered observers, in registration order.
type Store struct {
	prefix  string
	source  Source
	clock   clock.Clock
	logger  *utils.Logger
	metrics *metrics.Metrics

	lifecycleMu sync.Mutex
	started     bool

	// broadcastMu serializes broadcasts, mu guards the fields below it
	broadcastMu sync.Mutex
	mu          sync.Mutex
	snapshot    Snapshot
	observers   []*subscription
	nextID      uint64
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock sets the clock used to stamp samples.
func WithClock(c clock.Clock) StoreOption {
	return func(s *Store) { s.clock = c }
}

// WithTopicPrefix sets the inbound topic prefix, "power" by default.
func WithTopicPrefix(prefix string) StoreOption {
	return func(s *Store) { s.prefix = prefix }
}

// NewStore creates a store. source may be nil when samples are only fed
// through Publish.
func NewStore(source Source, logger *utils.Logger, m *metrics.Metrics, opts ...StoreOption) *Store {
	s := &Store{
		prefix:  "power",
		source:  source,
		clock:   clock.Real(),
		logger:  logger.Named("telemetry"),
		metrics: m,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start subscribes the source to every channel topic.
func (s *Store) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.started {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.source != nil {
		topics := Topics(s.prefix)
		if err := s.source.Subscribe(topics, s.HandleMessage); err != nil {
			return fmt.Errorf("failed to subscribe telemetry topics: %w", err)
		}
		s.logger.Info("Subscribed to telemetry topics", utils.Any("topics", topics))
	}
	s.started = true
	return nil
}

// Shutdown unsubscribes from the source and drops every observer.
func (s *Store) Shutdown() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	var err error
	if s.started && s.source != nil {
		if uerr := s.source.Unsubscribe(Topics(s.prefix)...); uerr != nil {
			err = fmt.Errorf("failed to unsubscribe telemetry topics: %w", uerr)
		}
	}
	s.started = false

	s.mu.Lock()
	for _, sub := range s.observers {
		sub.active.Store(false)
	}
	s.observers = nil
	s.mu.Unlock()

	return err
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Subscribe registers observer and immediately invokes it with the current
// snapshot. The returned function unregisters it and may be called any number
// of times.
func (s *Store) Subscribe(observer Observer) func() {
	s.broadcastMu.Lock()
	defer s.broadcastMu.Unlock()

	s.mu.Lock()
	s.nextID++
	sub := &subscription{id: s.nextID, observer: observer}
	sub.active.Store(true)
	s.observers = append(s.observers, sub)
	snap := s.snapshot
	s.mu.Unlock()

	s.notify(sub, snap)

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(sub) })
	}
}

func (s *Store) remove(sub *subscription) {
	sub.active.Store(false)

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, o := range s.observers {
		if o.id == sub.id {
			s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
			return
		}
	}
}

// Publish applies one sample and broadcasts the resulting snapshot.
func (s *Store) Publish(ch Channel, value float64) error {
	if !ch.Valid() {
		s.metrics.SampleDropped("unknown_channel")
		s.logger.Warn("Dropping sample for unknown channel", utils.Int("channel", int(ch)))
		return ErrUnknownChannel
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		s.metrics.SampleDropped("malformed")
		s.logger.Debug("Dropping non-finite sample", utils.String("channel", ch.String()))
		return ErrMalformedSample
	}

	s.broadcastMu.Lock()
	defer s.broadcastMu.Unlock()

	s.mu.Lock()
	s.snapshot.values[ch] = value
	s.snapshot.seq++
	s.snapshot.updated = ch
	s.snapshot.hasUpdate = true
	s.snapshot.updatedAt = s.clock.Now()
	snap := s.snapshot
	observers := make([]*subscription, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	s.metrics.SampleApplied(ch.String(), value)

	for _, sub := range observers {
		if sub.active.Load() {
			s.notify(sub, snap)
		}
	}
	return nil
}

// HandleMessage is the transport callback for inbound telemetry.
func (s *Store) HandleMessage(topic string, payload []byte) {
	ch, err := ChannelFromTopic(s.prefix, topic)
	if err != nil {
		s.metrics.SampleDropped("unknown_topic")
		s.logger.Debug("Ignoring message on unknown topic", utils.String("topic", topic))
		return
	}

	value, err := ParsePayload(payload)
	if err != nil {
		s.metrics.SampleDropped("malformed")
		s.logger.Debug("Ignoring malformed payload",
			utils.String("topic", topic),
			utils.String("payload", string(payload)),
		)
		return
	}

	if err := s.Publish(ch, value); err != nil && !errors.Is(err, ErrMalformedSample) {
		s.logger.Warn("Failed to apply sample", utils.String("topic", topic), utils.Error(err))
	}
}

func (s *Store) notify(sub *subscription, snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.ObserverPanicked()
			s.logger.Error("Snapshot observer panicked",
				utils.Int("observer", int(sub.id)),
				utils.Any("panic", r),
			)
		}
	}()
	sub.observer(snap)
}

// Watch delivers snapshots on a buffered channel until ctx is done. When the
// reader falls behind the oldest pending snapshot is discarded, so the reader
// always catches up to the latest state.
func (s *Store) Watch(ctx context.Context, buffer int) <-chan Snapshot {
	if buffer < 1 {
		buffer = 1
	}
	out := make(chan Snapshot, buffer)
	var mu sync.Mutex
	closed := false

	unsubscribe := s.Subscribe(func(snap Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		for {
			select {
			case out <- snap:
				return
			default:
			}
			select {
			case <-out:
			default:
			}
		}
	})

	go func() {
		<-ctx.Done()
		unsubscribe()
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()

	return out
}
