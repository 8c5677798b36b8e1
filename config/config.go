package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	mu sync.Mutex `yaml:"-"`

	Printer   PrinterConfig   `yaml:"printer"`
	Messaging MessagingConfig `yaml:"messaging"`
	OBS       OBSConfig       `yaml:"obs"`
	Overlay   OverlayConfig   `yaml:"overlay"`
	FTP       FTPConfig       `yaml:"ftp"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Web       WebConfig       `yaml:"web"`
}

// PrinterConfig identifies the printer. Broker and FTP settings left empty
// are derived from it.
type PrinterConfig struct {
	Host       string `yaml:"host"`
	Serial     string `yaml:"serial"`
	AccessCode string `yaml:"access_code"`
}

// MessagingConfig defines the telemetry intake backend.
type MessagingConfig struct {
	Backend      string      `yaml:"backend"` // "mqtt" or "kafka"
	MQTT         MQTTConfig  `yaml:"mqtt"`
	Kafka        KafkaConfig `yaml:"kafka"`
	ReportTopic  string      `yaml:"report_topic"`
	RequestTopic string      `yaml:"request_topic"`
	PushAll      bool        `yaml:"push_all"`
}

// MQTTConfig defines MQTT broker settings.
type MQTTConfig struct {
	Broker             string        `yaml:"broker"`
	Port               int           `yaml:"port"`
	ClientID           string        `yaml:"client_id"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	TLS                bool          `yaml:"tls"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
}

// KafkaConfig defines Kafka broker settings.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
}

// OBSConfig defines the obs-websocket connection and the overlay scene.
type OBSConfig struct {
	URL               string        `yaml:"url"`
	Password          string        `yaml:"password"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	SceneName         string        `yaml:"scene_name"`
	TextInputKind     string        `yaml:"text_input_kind"`
	ImageInputKind    string        `yaml:"image_input_kind"`
	CreateInputs      bool          `yaml:"create_inputs"`
}

// OverlayConfig defines how telemetry is rendered onto the overlay.
type OverlayConfig struct {
	ThumbnailPath string            `yaml:"thumbnail_path"`
	FanScale      int               `yaml:"fan_scale"`
	Icons         IconConfig        `yaml:"icons"`
	InputNames    map[string]string `yaml:"input_names"`
	Layout        []LayoutItem      `yaml:"layout"`
}

// IconConfig lists the image files selected by icon fields.
type IconConfig struct {
	BedHeating    string `yaml:"bed_heating"`
	BedIdle       string `yaml:"bed_idle"`
	NozzleHeating string `yaml:"nozzle_heating"`
	NozzleIdle    string `yaml:"nozzle_idle"`
	FanOn         string `yaml:"fan_on"`
	FanOff        string `yaml:"fan_off"`
}

// LayoutItem places one overlay input when inputs are created at setup.
type LayoutItem struct {
	Field string  `yaml:"field"`
	X     float64 `yaml:"x"`
	Y     float64 `yaml:"y"`
}

// FTPConfig defines the printer file retrieval client.
type FTPConfig struct {
	Enabled            bool          `yaml:"enabled"`
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	Timeout            time.Duration `yaml:"timeout"`
	PathTemplate       string        `yaml:"path_template"`
	Async              bool          `yaml:"async"`
}

// DatabaseConfig defines the job ledger. An empty driver disables it.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig defines the optional overlay state mirror.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// WebConfig defines the status web server settings.
type WebConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	SessionSecret string `yaml:"session_secret"`
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		Messaging: MessagingConfig{
			Backend: "mqtt",
			PushAll: true,
			MQTT: MQTTConfig{
				Port:               8883,
				Username:           "bblp",
				TLS:                true,
				InsecureSkipVerify: true,
				ConnectTimeout:     10 * time.Second,
			},
			Kafka: KafkaConfig{
				Brokers: []string{"localhost:9092"},
				GroupID: "bambuoverlay",
			},
		},
		OBS: OBSConfig{
			URL:               "ws://localhost:4455",
			ReconnectInterval: 5 * time.Second,
			RequestTimeout:    5 * time.Second,
			SceneName:         "Scene",
			TextInputKind:     "text_gdiplus_v2",
			ImageInputKind:    "image_source",
		},
		Overlay: OverlayConfig{
			ThumbnailPath: "preview.png",
			FanScale:      15,
			Icons: IconConfig{
				BedHeating:    "assets/bed_heating.png",
				BedIdle:       "assets/bed_idle.png",
				NozzleHeating: "assets/nozzle_heating.png",
				NozzleIdle:    "assets/nozzle_idle.png",
				FanOn:         "assets/fan_on.png",
				FanOff:        "assets/fan_off.png",
			},
		},
		FTP: FTPConfig{
			Enabled:            true,
			Port:               990,
			Username:           "bblp",
			InsecureSkipVerify: true,
			Timeout:            30 * time.Second,
			PathTemplate:       "/cache/%s.3mf",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: "bambuoverlay.db"},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "bambuoverlay",
				User:     "bambuoverlay",
				SSLMode:  "disable",
			},
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
			Prefix:  "bambuoverlay",
		},
		Web: WebConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
		},
	}
}

// Load reads a YAML config file. If the file doesn't exist, defaults are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyPrinterDefaults()
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.applyPrinterDefaults()
	return cfg, nil
}

// applyPrinterDefaults fills broker, topic and FTP settings from the printer block.
func (c *Config) applyPrinterDefaults() {
	p := c.Printer
	if c.Messaging.MQTT.Broker == "" {
		c.Messaging.MQTT.Broker = p.Host
	}
	if c.Messaging.MQTT.Password == "" {
		c.Messaging.MQTT.Password = p.AccessCode
	}
	if c.Messaging.ReportTopic == "" && p.Serial != "" {
		c.Messaging.ReportTopic = fmt.Sprintf("device/%s/report", p.Serial)
	}
	if c.Messaging.RequestTopic == "" && p.Serial != "" {
		c.Messaging.RequestTopic = fmt.Sprintf("device/%s/request", p.Serial)
	}
	if c.FTP.Host == "" {
		c.FTP.Host = p.Host
	}
	if c.FTP.Password == "" {
		c.FTP.Password = p.AccessCode
	}
}

// Save writes the config to a YAML file.
func (c *Config) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// StationID names this instance in logs and cache keys.
func (c *Config) StationID() string {
	if c.Printer.Serial != "" {
		return c.Printer.Serial
	}
	return "printer"
}
