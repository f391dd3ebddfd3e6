// Package telemetry holds the live meter state: the closed set of sensor
// channels, the snapshot of their latest values and the store that fans the
// snapshot out to every observer.
package telemetry

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/powerdash/backend/internal/utils"
)

// Channel identifies one sensor quantity reported by the meter.
type Channel int

const (
	Current Channel = iota
	Voltage
	Power
	Energy
	Frequency
	PowerFactor
	ApparentPower
	ReactivePower

	channelCount
)

var (
	// ErrUnknownChannel is returned for channel names or topics outside the closed set
	ErrUnknownChannel = fmt.Errorf("unknown channel: %w", utils.ErrNotFound)
	// ErrMalformedSample is returned for payloads that do not encode a finite number
	ErrMalformedSample = fmt.Errorf("malformed sample: %w", utils.ErrValidation)
)

var channelNames = [channelCount]string{
	Current:       "current",
	Voltage:       "voltage",
	Power:         "power",
	Energy:        "energy",
	Frequency:     "frequency",
	PowerFactor:   "powerfactor",
	ApparentPower: "apparentpower",
	ReactivePower: "reactivepower",
}

// Energy is the meter's cumulative register in watt-hours. Consumers convert
// it with their own divisor.
var channelUnits = [channelCount]string{
	Current:       "A",
	Voltage:       "V",
	Power:         "W",
	Energy:        "Wh",
	Frequency:     "Hz",
	PowerFactor:   "",
	ApparentPower: "VA",
	ReactivePower: "VAR",
}

// Channels returns every channel in declaration order.
func Channels() []Channel {
	out := make([]Channel, 0, channelCount)
	for c := Channel(0); c < channelCount; c++ {
		out = append(out, c)
	}
	return out
}

// ParseChannel looks up a channel by its wire name.
func ParseChannel(name string) (Channel, error) {
	for c, n := range channelNames {
		if n == name {
			return Channel(c), nil
		}
	}
	return 0, fmt.Errorf("%q: %w", name, ErrUnknownChannel)
}

// Valid reports whether c belongs to the closed channel set.
func (c Channel) Valid() bool {
	return c >= 0 && c < channelCount
}

func (c Channel) String() string {
	if !c.Valid() {
		return "channel(" + strconv.Itoa(int(c)) + ")"
	}
	return channelNames[c]
}

// Unit returns the display unit of the channel.
func (c Channel) Unit() string {
	if !c.Valid() {
		return ""
	}
	return channelUnits[c]
}

// Topic returns the MQTT topic the meter publishes the channel on.
func (c Channel) Topic(prefix string) string {
	return prefix + "/" + c.String()
}

// Topics returns the inbound topic of every channel.
func Topics(prefix string) []string {
	out := make([]string, 0, channelCount)
	for _, c := range Channels() {
		out = append(out, c.Topic(prefix))
	}
	return out
}

// ChannelFromTopic maps an inbound topic back to its channel.
func ChannelFromTopic(prefix, topic string) (Channel, error) {
	name, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return 0, fmt.Errorf("topic %q: %w", topic, ErrUnknownChannel)
	}
	return ParseChannel(name)
}

// ParsePayload decodes the meter's text payload. Anything that is not a
// finite float, including "nan", is rejected.
func ParsePayload(payload []byte) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedSample, payload)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", ErrMalformedSample, payload)
	}
	return v, nil
}

// Sample is one reading of one channel.
type Sample struct {
	Channel Channel   `json:"-"`
	Value   float64   `json:"value"`
	At      time.Time `json:"at"`
}
