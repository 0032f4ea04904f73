package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJSON = `{
  "logging": {"level": "debug", "console": true},
  "storage": {"driver": "sqlite", "path": "./var/notifyd.db", "busy_timeout": "2s"},
  "dispatch": {"enabled": true, "workers": 4, "queue_size": 64, "dedup_window": "30s"},
  "handlers": {"log": {"priority": "2.5", "level": 1, "kinds": ["user.created"]}},
  "schedules": [{"name": "beat", "spec": "every:1m", "kind": "heartbeat"}]
}`

const sampleYAML = `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./var/notifyd.db
  busy_timeout: 2s
dispatch:
  enabled: true
  workers: 4
  queue_size: 64
  dedup_window: 30s
handlers:
  log:
    priority: "2.5"
    level: 1
    kinds: [user.created]
schedules:
  - name: beat
    spec: every:1m
    kind: heartbeat
`

func TestDecodeJSONAndYAMLAgree(t *testing.T) {
	j, err := Decode("notifyd.json", []byte(sampleJSON))
	require.NoError(t, err)
	y, err := Decode("notifyd.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, j, y)

	assert.Equal(t, 4, j.Dispatch.Workers)
	assert.Equal(t, "2.5", j.Handlers["log"].Priority)
	assert.True(t, j.Handlers["log"].IsEnabled())
	assert.Equal(t, []string{"user.created"}, j.Handlers["log"].Kinds)
}

func TestDecodeRejects(t *testing.T) {
	cases := map[string]string{
		"unknown top-level":  `{"nope": 1}`,
		"unknown in handler": `{"handlers": {"log": {"prio": "1"}}}`,
		"trailing data":      `{} {}`,
		"bad priority":       `{"handlers": {"log": {"priority": "high"}}}`,
		"bad timeout":        `{"handlers": {"log": {"timeout": "soon"}}}`,
		"bad driver":         `{"storage": {"driver": "mongo"}}`,
		"negative workers":   `{"dispatch": {"workers": -1}}`,
		"schedule no kind":   `{"schedules": [{"name": "a", "spec": "1m"}]}`,
		"schedule dup":       `{"schedules": [{"name": "a", "spec": "1m", "kind": "k"}, {"name": "a", "spec": "2m", "kind": "k"}]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode("c.json", []byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestParsePriority(t *testing.T) {
	d, err := ParsePriority(" ")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	d, err = ParsePriority("-1.25")
	require.NoError(t, err)
	assert.Equal(t, "-1.25", d.String())
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	d, err = ParseDurationOrDefault("x", "250ms", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	d, err = ParseDurationField("x", "90")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	for _, raw := range []string{"-1s", "-5", "soon"} {
		_, err = ParseDurationField("x", raw)
		assert.Error(t, err, raw)
	}
}

func TestDecodeFormats(t *testing.T) {
	_, err := Decode("c.yaml", []byte("logging: {level: info}\n---\nlogging: {level: debug}\n"))
	assert.ErrorContains(t, err, "single document")

	cfg, err := Decode("c.yaml", []byte("   \n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Schedules)

	// No extension: sniffed from content.
	cfg, err = Decode("notifyd.conf", []byte(`{"logging": {"level": "warn"}}`))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)

	cfg, err = Decode("notifyd.conf", []byte("logging:\n  level: error\n"))
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Logging.Level)
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg, err := Decode("c.json", []byte(sampleJSON))
	require.NoError(t, err)
	newCfg, err := Decode("c.json", []byte(sampleJSON))
	require.NoError(t, err)

	changed, _, handlers := SummarizeConfigChange(oldCfg, newCfg)
	assert.Empty(t, changed)
	assert.Empty(t, handlers)

	h := newCfg.Handlers["log"]
	h.Level = 3
	newCfg.Handlers["log"] = h
	newCfg.Handlers["bus"] = HandlerConfig{Priority: "1"}
	newCfg.Logging.Level = "info"

	changed, attrs, handlers := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"handlers", "logging"}, changed)
	assert.NotEmpty(t, attrs)
	assert.Equal(t, []string{"bus", "log"}, handlers)

	// Omitted dispatch equals explicit defaults.
	d := DefaultDispatch()
	changed, _, _ = SummarizeConfigChange(&Config{}, &Config{Dispatch: &d})
	assert.Empty(t, changed)
}

func TestManagerLoadSubscribeAndWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notifyd.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"logging": {"level": "info"}}`), 0o600))

	m := NewConfigManager(path)
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Same(t, cfg, m.Get())

	var rejected atomic.Bool
	m.SetValidator(func(_ context.Context, c *Config) error {
		if c.Logging.Level == "trace" {
			rejected.Store(true)
			return assert.AnError
		}
		return nil
	})

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"logging": {"level": "debug"}}`), 0o600))

	select {
	case got := <-ch:
		assert.Equal(t, "debug", got.Logging.Level)
		assert.Equal(t, "debug", m.Get().Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}

	// A rejected config is never committed.
	assert.False(t, m.reload(ctx))
	require.NoError(t, os.WriteFile(path, []byte(`{"logging": {"level": "trace"}}`), 0o600))
	require.Eventually(t, func() bool { return !m.reload(ctx) && rejected.Load() }, 2*time.Second, 50*time.Millisecond)
	assert.Equal(t, "debug", m.Get().Logging.Level)

	cancel()
	<-done
}

func TestPublishKeepsNewest(t *testing.T) {
	m := NewConfigManager("unused.json")
	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	assert.Same(t, b, <-ch)

	m.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestExampleConfigDecodes(t *testing.T) {
	b, err := os.ReadFile("../../notifyd.example.yaml")
	require.NoError(t, err)
	cfg, err := Decode("notifyd.example.yaml", b)
	require.NoError(t, err)
	assert.Len(t, cfg.Schedules, 2)
	assert.Equal(t, "1.5", cfg.Handlers["log"].Priority)
}
