package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/powerdash/backend/internal/clock"
	"github.com/powerdash/backend/internal/metrics"
	"github.com/powerdash/backend/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu           sync.Mutex
	topics       []string
	handler      func(string, []byte)
	unsubscribed []string
	subscribeErr error
}

func (f *fakeSource) Subscribe(topics []string, handler func(string, []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.topics = topics
	f.handler = handler
	return nil
}

func (f *fakeSource) Unsubscribe(topics ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, topics...)
	return nil
}

func (f *fakeSource) deliver(topic, payload string) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(topic, []byte(payload))
}

func newTestStore(src Source) *Store {
	return NewStore(src, utils.NewNopLogger(), metrics.New(),
		WithClock(clock.NewFake(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))))
}

func TestParseChannel(t *testing.T) {
	for _, c := range Channels() {
		parsed, err := ParseChannel(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, parsed)
	}

	_, err := ParseChannel("Power Factor")
	assert.ErrorIs(t, err, ErrUnknownChannel)
	assert.True(t, utils.IsNotFoundError(err))

	_, err = ChannelFromTopic("power", "power/relay")
	assert.ErrorIs(t, err, ErrUnknownChannel)

	c, err := ChannelFromTopic("power", "power/powerfactor")
	require.NoError(t, err)
	assert.Equal(t, PowerFactor, c)
}

func TestChannelUnits(t *testing.T) {
	assert.Equal(t, "W", Power.Unit())
	assert.Equal(t, "Wh", Energy.Unit())
	assert.Equal(t, "", PowerFactor.Unit())
}

func TestParsePayload(t *testing.T) {
	v, err := ParsePayload([]byte(" 230.5\n"))
	require.NoError(t, err)
	assert.Equal(t, 230.5, v)

	for _, bad := range []string{"", "abc", "nan", "NaN", "inf", "1.2.3"} {
		_, err := ParsePayload([]byte(bad))
		assert.ErrorIs(t, err, ErrMalformedSample, bad)
	}
}

func TestBroadcastReachesEveryObserverInOrder(t *testing.T) {
	store := newTestStore(nil)

	var order []int
	var got [3]Snapshot
	for i := 0; i < 3; i++ {
		i := i
		store.Subscribe(func(s Snapshot) {
			order = append(order, i)
			got[i] = s
		})
	}
	order = nil

	require.NoError(t, store.Publish(Power, 1200))

	assert.Equal(t, []int{0, 1, 2}, order)
	for _, s := range got {
		assert.Equal(t, 1200.0, s.Value(Power))
		assert.Equal(t, uint64(1), s.Seq())
		assert.True(t, s.Fresh(Power))
	}
}

func TestLateSubscriberSeesCurrentSnapshot(t *testing.T) {
	store := newTestStore(nil)
	require.NoError(t, store.Publish(Voltage, 231))
	require.NoError(t, store.Publish(Current, 0.4))

	var first Snapshot
	calls := 0
	store.Subscribe(func(s Snapshot) {
		calls++
		if calls == 1 {
			first = s
		}
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 231.0, first.Value(Voltage))
	assert.Equal(t, 0.4, first.Value(Current))
	assert.Equal(t, 0.0, first.Value(Energy))
}

func TestInitialSnapshotHasNoUpdate(t *testing.T) {
	store := newTestStore(nil)

	var snap Snapshot
	store.Subscribe(func(s Snapshot) { snap = s })

	_, ok := snap.Updated()
	assert.False(t, ok)
	assert.True(t, snap.UpdatedAt().IsZero())
}

func TestPanickingObserverDoesNotStopBroadcast(t *testing.T) {
	store := newTestStore(nil)

	var seen []float64
	store.Subscribe(func(Snapshot) {})
	store.Subscribe(func(s Snapshot) {
		if s.Seq() > 0 {
			panic("boom")
		}
	})
	store.Subscribe(func(s Snapshot) { seen = append(seen, s.Value(Power)) })

	assert.NotPanics(t, func() {
		require.NoError(t, store.Publish(Power, 10))
	})
	assert.Equal(t, []float64{0, 10}, seen)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	store := newTestStore(nil)

	calls := 0
	unsubscribe := store.Subscribe(func(Snapshot) { calls++ })
	other := 0
	store.Subscribe(func(Snapshot) { other++ })

	unsubscribe()
	unsubscribe()
	require.NoError(t, store.Publish(Energy, 3))

	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, other)
}

func TestUnsubscribeDuringBroadcast(t *testing.T) {
	store := newTestStore(nil)

	var unsubscribeSecond func()
	secondCalls := 0
	store.Subscribe(func(s Snapshot) {
		if s.Seq() == 1 {
			unsubscribeSecond()
		}
	})
	unsubscribeSecond = store.Subscribe(func(Snapshot) { secondCalls++ })

	require.NoError(t, store.Publish(Power, 5))
	assert.Equal(t, 1, secondCalls)
}

func TestPublishRejectsBadInput(t *testing.T) {
	store := newTestStore(nil)
	require.NoError(t, store.Publish(Power, 50))

	assert.ErrorIs(t, store.Publish(Channel(42), 1), ErrUnknownChannel)
	assert.ErrorIs(t, store.Publish(Power, math.NaN()), ErrMalformedSample)
	assert.ErrorIs(t, store.Publish(Power, math.Inf(1)), ErrMalformedSample)

	snap := store.Snapshot()
	assert.Equal(t, 50.0, snap.Value(Power))
	assert.Equal(t, uint64(1), snap.Seq())
}

func TestStartRoutesSourceMessages(t *testing.T) {
	src := &fakeSource{}
	store := newTestStore(src)
	require.NoError(t, store.Start(context.Background()))
	assert.Len(t, src.topics, len(Channels()))
	assert.Contains(t, src.topics, "power/reactivepower")

	var snaps []Snapshot
	store.Subscribe(func(s Snapshot) { snaps = append(snaps, s) })

	src.deliver("power/voltage", "229.8")
	src.deliver("power/voltage", "nan")
	src.deliver("power/voltage", "garbage")
	src.deliver("power/unknown", "1")

	require.Len(t, snaps, 2)
	assert.Equal(t, 229.8, snaps[1].Value(Voltage))
	assert.Equal(t, 229.8, store.Snapshot().Value(Voltage))

	require.NoError(t, store.Shutdown())
	assert.ElementsMatch(t, src.topics, src.unsubscribed)

	src.deliver("power/voltage", "240")
	assert.Len(t, snaps, 2)
}

func TestStartPropagatesSourceError(t *testing.T) {
	src := &fakeSource{subscribeErr: errors.New("not connected")}
	store := newTestStore(src)
	assert.Error(t, store.Start(context.Background()))
}

func TestWatchDeliversLatest(t *testing.T) {
	store := newTestStore(nil)
	ctx, cancel := context.WithCancel(context.Background())

	ch := store.Watch(ctx, 1)
	for i := 1; i <= 5; i++ {
		require.NoError(t, store.Publish(Power, float64(i)))
	}

	snap := <-ch
	assert.Equal(t, 5.0, snap.Value(Power))

	cancel()
	for range ch {
	}
}

func TestSnapshotJSON(t *testing.T) {
	store := newTestStore(nil)
	require.NoError(t, store.Publish(Frequency, 50))

	raw, err := json.Marshal(store.Snapshot())
	require.NoError(t, err)

	var decoded struct {
		Values  map[string]float64 `json:"values"`
		Seq     uint64             `json:"seq"`
		Updated string             `json:"updated"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, 50.0, decoded.Values["frequency"])
	assert.Len(t, decoded.Values, 8)
	assert.Equal(t, "frequency", decoded.Updated)
}
