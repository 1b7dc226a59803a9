package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.yaml", `
telegram:
  token: "123:abc"
  poll_timeout: "10s"
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
storage:
  driver: sqlite
  path: ./bot.db
scheduler:
  poll_interval: "5s"
  lock_ttl: "30s"
  batch_size: 10
`)
	cfg, err := NewManager(p).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Scheduler.BatchSize != 10 {
		t.Fatalf("batch_size = %d", cfg.Scheduler.BatchSize)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", `{"telegram":{"token":"t","pull_timeout":"10s"}}`)
	if _, err := NewManager(p).Parse(); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", `{"telegram":{"token":"t"}}{"extra":1}`)
	if _, err := NewManager(p).Parse(); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()
	if d, err := ParseDuration("x", " 10s ", 0); err != nil || d != 10*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDuration("x", "", 0); err != nil || d != 0 {
		t.Fatalf("empty: got %v, %v", d, err)
	}
	if _, err := ParseDuration("x", "-5s", 0); err == nil {
		t.Fatal("negative duration accepted")
	}
	if _, err := ParseDuration("x", "soon", 0); err == nil {
		t.Fatal("garbage duration accepted")
	}
	if d, err := ParseDuration("x", "", 7*time.Second); err != nil || d != 7*time.Second {
		t.Fatalf("empty default: got %v, %v", d, err)
	}
	if d, err := ParseDuration("x", "0s", 7*time.Second); err != nil || d != 7*time.Second {
		t.Fatalf("zero default: got %v, %v", d, err)
	}
}

func TestSubscribePublishDrop(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	a, b := &Config{}, &Config{Scheduler: SchedulerConfig{BatchSize: 1}}
	m.publish(a)
	m.publish(b) // buffer full: oldest dropped, newest kept
	got := <-ch
	if got != b {
		t.Fatal("expected newest config after overflow")
	}
}
