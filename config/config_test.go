package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Messaging.Backend != "mqtt" {
		t.Errorf("backend = %q, want mqtt", cfg.Messaging.Backend)
	}
	if cfg.Messaging.MQTT.Port != 8883 {
		t.Errorf("mqtt port = %d, want 8883", cfg.Messaging.MQTT.Port)
	}
	if cfg.FTP.PathTemplate != "/cache/%s.3mf" {
		t.Errorf("path template = %q", cfg.FTP.PathTemplate)
	}
	if cfg.Messaging.ReportTopic != "" {
		t.Errorf("report topic = %q, want empty without serial", cfg.Messaging.ReportTopic)
	}
}

func TestLoad_PrinterDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	data := `
printer:
  host: 192.168.1.50
  serial: 01S00A000000000
  access_code: "12345678"
obs:
  url: ws://obs.local:4455
  reconnect_interval: 2s
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Messaging.MQTT.Broker != "192.168.1.50" {
		t.Errorf("broker = %q", cfg.Messaging.MQTT.Broker)
	}
	if cfg.Messaging.MQTT.Password != "12345678" {
		t.Errorf("mqtt password = %q", cfg.Messaging.MQTT.Password)
	}
	if cfg.Messaging.ReportTopic != "device/01S00A000000000/report" {
		t.Errorf("report topic = %q", cfg.Messaging.ReportTopic)
	}
	if cfg.Messaging.RequestTopic != "device/01S00A000000000/request" {
		t.Errorf("request topic = %q", cfg.Messaging.RequestTopic)
	}
	if cfg.FTP.Host != "192.168.1.50" || cfg.FTP.Password != "12345678" {
		t.Errorf("ftp = %s/%s", cfg.FTP.Host, cfg.FTP.Password)
	}
	if cfg.OBS.URL != "ws://obs.local:4455" {
		t.Errorf("obs url = %q", cfg.OBS.URL)
	}
	if cfg.OBS.ReconnectInterval != 2*time.Second {
		t.Errorf("reconnect = %v", cfg.OBS.ReconnectInterval)
	}
	// Untouched defaults survive a partial file.
	if cfg.Overlay.FanScale != 15 {
		t.Errorf("fan scale = %d", cfg.Overlay.FanScale)
	}
	if cfg.StationID() != "01S00A000000000" {
		t.Errorf("station id = %q", cfg.StationID())
	}
}

func TestLoad_ExplicitBrokerNotOverridden(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	data := `
printer:
  host: 10.0.0.2
messaging:
  mqtt:
    broker: mqtt.example
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Messaging.MQTT.Broker != "mqtt.example" {
		t.Errorf("broker = %q, want mqtt.example", cfg.Messaging.MQTT.Broker)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("printer: [unterminated"), 0644)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid yaml")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.yaml")
	cfg := Defaults()
	cfg.Printer.Serial = "ABC"
	cfg.Overlay.FanScale = 255
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Printer.Serial != "ABC" || got.Overlay.FanScale != 255 {
		t.Errorf("got serial=%q fan_scale=%d", got.Printer.Serial, got.Overlay.FanScale)
	}
}
