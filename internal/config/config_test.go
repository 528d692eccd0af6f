package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "echoapp.yaml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
device:
  reject_busy: true
log:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Device.TimerPeriod != 2*time.Second {
		t.Fatalf("expected TimerPeriod default 2s, got %s", cfg.Device.TimerPeriod)
	}
	if cfg.Device.MaxWriteLength != 40960 {
		t.Fatalf("expected MaxWriteLength default 40960, got %d", cfg.Device.MaxWriteLength)
	}
	if !cfg.Device.RejectBusy {
		t.Fatal("expected reject_busy from file")
	}
	if cfg.Device.Dispatch != "sequential" || cfg.Device.Allocator != "heap" {
		t.Fatalf("expected sequential/heap defaults, got %s/%s", cfg.Device.Dispatch, cfg.Device.Allocator)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Fatalf("unexpected log config %+v", cfg.Log)
	}
	if cfg.Exercise.Outstanding != 100 || cfg.Exercise.BufferSize != 40960 {
		t.Fatalf("unexpected exercise defaults %+v", cfg.Exercise)
	}
	if cfg.Metrics.Addr != "" {
		t.Fatalf("expected metrics server disabled by default, got %q", cfg.Metrics.Addr)
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
device:
  timer_period: 250ms
  dispatch: parallel
  backlog: 16
  allocator: locked
log:
  format: json
metrics:
  addr: ":9100"
exercise:
  async: true
  count: 50
  outstanding: 10
  buffer_size: 4096
  request_timeout: 1s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Device.TimerPeriod != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %s", cfg.Device.TimerPeriod)
	}
	if cfg.Device.Dispatch != "parallel" || cfg.Device.Backlog != 16 || cfg.Device.Allocator != "locked" {
		t.Fatalf("unexpected device config %+v", cfg.Device)
	}
	if !cfg.Exercise.Async || cfg.Exercise.Count != 50 || cfg.Exercise.RequestTimeout != time.Second {
		t.Fatalf("unexpected exercise config %+v", cfg.Exercise)
	}
	if cfg.Metrics.Addr != ":9100" {
		t.Fatalf("expected metrics addr, got %q", cfg.Metrics.Addr)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"dispatch", "device:\n  dispatch: random\n", "device.dispatch"},
		{"allocator", "device:\n  allocator: gpu\n", "device.allocator"},
		{"timer", "device:\n  timer_period: -1s\n", "device.timer_period"},
		{"format", "log:\n  format: xml\n", "log.format"},
		{"count", "exercise:\n  count: -3\n", "exercise.count"},
		{"yaml", "device: [", "parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.data))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}
