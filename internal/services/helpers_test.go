package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/powerdash/backend/internal/config"
	"github.com/powerdash/backend/internal/db"
	"github.com/powerdash/backend/internal/utils"
)

type fakeBroker struct {
	mu        sync.Mutex
	handler   func(string, []byte)
	topics    []string
	published []string
	connected bool
}

func (f *fakeBroker) Subscribe(topics []string, handler func(string, []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = topics
	f.handler = handler
	return nil
}

func (f *fakeBroker) Unsubscribe(topics ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = nil
	return nil
}

func (f *fakeBroker) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, string(payload))
	return nil
}

func (f *fakeBroker) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeBroker) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeBroker) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeBroker) deliver(topic, payload string) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(topic, []byte(payload))
	}
}

func (f *fakeBroker) payloads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.published...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadConfig(t.TempDir())
	require.NoError(t, err)
	cfg.Server.Environment = "test"
	return cfg
}

func testDatabase(t *testing.T, cfg *config.Config) *db.Database {
	t.Helper()
	database, err := db.NewDatabase(&cfg.Journal, utils.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return database
}
