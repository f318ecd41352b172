package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoad_DaemonConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", `
db:
  host: localhost
  port: 5432
event:
  name: MAGFest
  epoch: 2027-01-07T08:00:00Z
  eschaton: 2027-01-10T18:00:00Z
email:
  interval: 15m
  staff_email: stops@magfest.org
  regdesk_email: regdesk@magfest.org
dates:
  room_deadline: 2026-12-15T00:00:00Z
checklist:
  - name: Treasury Requests
    slug: treasury
    deadline: 2026-12-20T00:00:00Z
circuit_breaker:
  failure_threshold: 3
`)
	writeConfig(t, dir, "test.yaml", `
email:
  dev_box: true
`)
	t.Setenv("CONFIG_DIR", dir)
	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("DB_HOST", "db.internal")

	cfg := Load()

	assert.Equal(t, "db.internal", cfg.DB.Host)
	assert.Equal(t, "8086", cfg.Server.Port)
	assert.Equal(t, "outbox", cfg.Email.Transport)
	assert.True(t, cfg.Email.DevBox)
	assert.Equal(t, 15*time.Minute, cfg.Email.Interval)
	assert.Equal(t, 3, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 2, cfg.CircuitBreaker.SuccessThreshold, "unset fields keep defaults")
	require.Len(t, cfg.Checklist, 1)
	assert.Equal(t, "treasury", cfg.Checklist[0].Slug)
	assert.Equal(t, 2026, cfg.Dates.RoomDeadline.Year())

	b := cfg.Builder()
	assert.Equal(t, "MAGFest", b.Event.Name)
	assert.Equal(t, "stops@magfest.org", b.Senders.Staff)

	clock := cfg.Clock()
	assert.True(t, clock.Phase(time.Date(2027, 1, 8, 0, 0, 0, 0, time.UTC)).AtTheCon)
	assert.True(t, clock.Phase(time.Date(2027, 1, 11, 0, 0, 0, 0, time.UTC)).PostCon)
}

func TestLoadRelay_Defaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", `
mq:
  url: amqp://localhost
relay:
  max_retries: 3
`)
	t.Setenv("CONFIG_DIR", dir)
	t.Setenv("CONFIG_ENV", "base")
	t.Setenv("RELAY_PORT", "9000")
	t.Setenv("OTEL_ENABLED", "true")

	cfg := LoadRelay()

	assert.Equal(t, "amqp://localhost", cfg.MQ.URL)
	assert.Equal(t, "9000", cfg.Relay.Port)
	assert.Equal(t, int64(3), cfg.Relay.MaxRetries)
	assert.Equal(t, 10, cfg.Relay.Prefetch)
	assert.Equal(t, 24*time.Hour, cfg.Relay.DedupeTTL)
	assert.True(t, cfg.Otel.Enabled)
	assert.Equal(t, 5, cfg.CircuitBreaker.FailureThreshold)
}
