package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powerdash/backend/internal/clock"
	"github.com/powerdash/backend/internal/metrics"
	"github.com/powerdash/backend/internal/telemetry"
	"github.com/powerdash/backend/internal/utils"
)

func TestRecorderKeepsPerChannelWindows(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	store := telemetry.NewStore(nil, utils.NewNopLogger(), metrics.New(), telemetry.WithClock(clk))
	rec := NewRecorder()
	store.Subscribe(rec.Observe)

	for i := 0; i < 12; i++ {
		clk.Advance(time.Second)
		require.NoError(t, store.Publish(telemetry.Voltage, 220+float64(i)))
	}
	require.NoError(t, store.Publish(telemetry.Current, 1.5))

	voltage, err := rec.Series(telemetry.Voltage)
	require.NoError(t, err)
	assert.Equal(t, Capacity, voltage.Len())
	assert.Equal(t, 222.0, voltage.Values()[0])

	current, err := rec.Series(telemetry.Current)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5}, current.Values())

	power, err := rec.Series(telemetry.Power)
	require.NoError(t, err)
	assert.Equal(t, 0, power.Len())

	assert.Len(t, rec.All(), 8)

	_, err = rec.Series(telemetry.Channel(99))
	assert.ErrorIs(t, err, telemetry.ErrUnknownChannel)
}
