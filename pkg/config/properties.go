package config

import (
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/downfa11-org/bufferserver/util"
	"gopkg.in/yaml.v3"
)

// SyntheticWindowConfig drives a window generator that publishes boundaries
// to an upstream which does not produce its own.
type SyntheticWindowConfig struct {
	Upstream      string `yaml:"upstream" json:"upstream"`
	IntervalMS    int    `yaml:"interval_ms" json:"interval.ms"`
	StartOffsetMS int64  `yaml:"start_offset_ms" json:"start.offset.ms"`
}

// Config represents the buffer server configuration.
type Config struct {
	// Server settings
	Port           int           `yaml:"port" json:"port"`
	EnableExporter bool          `yaml:"enable_exporter" json:"enable.exporter"`
	ExporterPort   int           `yaml:"exporter_port" json:"exporter.port"`
	LogLevel       util.LogLevel `yaml:"log_level" json:"log_level"`
	MaxConnections int           `yaml:"max_connections" json:"max.connections"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read.timeout"`

	// Buffered stream
	BlockSize         int `yaml:"block_size" json:"block.size"`
	RetainWindows     int `yaml:"retain_windows" json:"retain.windows"`
	CleanupIntervalMS int `yaml:"cleanup_interval_ms" json:"cleanup.interval.ms"`

	// Delivery
	ConsumerQueueSize  int    `yaml:"consumer_queue_size" json:"consumer.queue.size"`
	ConsumerDropPolicy string `yaml:"consumer_drop_policy" json:"consumer.drop.policy"`
	DefaultPolicy      string `yaml:"default_policy" json:"default.policy"`

	SyntheticWindows []SyntheticWindowConfig `yaml:"synthetic_windows" json:"synthetic_windows"`

	// Security & compression
	UseTLS      bool            `yaml:"use_tls" json:"tls.enable"`
	TLSCertPath string          `yaml:"tls_cert_path" json:"tls.cert_path"`
	TLSKeyPath  string          `yaml:"tls_key_path" json:"tls.key_path"`
	EnableGzip  bool            `yaml:"enable_gzip" json:"gzip.enable"`
	TLSCert     tls.Certificate `yaml:"-" json:"-"`
}

// LoadConfig reads the process flags, config file and environment.
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:])
}

// Load builds a Config from defaults, the config file, BUFFERSERVER_*
// environment variables and explicitly set flags, in increasing precedence.
func Load(args []string) (*Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("bufferserver", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to YAML/JSON config file")
	port := fs.Int("port", cfg.Port, "Server port")
	exporter := fs.Bool("exporter", cfg.EnableExporter, "Enable Prometheus exporter")
	exporterPort := fs.Int("exporter-port", cfg.ExporterPort, "Exporter port")
	logLevel := fs.String("log-level", cfg.LogLevel.String(), "Log Level (debug, info, warn, error)")
	maxConns := fs.Int("max-connections", cfg.MaxConnections, "Maximum concurrent connections")
	readTimeout := fs.Duration("read-timeout", cfg.ReadTimeout, "Idle timeout for publishing connections")
	blockSize := fs.Int("block-size", cfg.BlockSize, "Records per buffer block")
	retain := fs.Int("retain-windows", cfg.RetainWindows, "Windows kept per upstream (0=keep everything)")
	cleanup := fs.Int("cleanup-interval-ms", cfg.CleanupIntervalMS, "Retention check interval in milliseconds")
	queueSize := fs.Int("consumer-queue", cfg.ConsumerQueueSize, "Outbound queue per consumer (0=synchronous)")
	dropPolicy := fs.String("consumer-drop-policy", cfg.ConsumerDropPolicy, "Full queue behaviour (block, drop_oldest, drop_new)")
	defaultPolicy := fs.String("default-policy", cfg.DefaultPolicy, "Distribution policy for new groups (broadcast, roundrobin, sticky)")
	useTLS := fs.Bool("tls", cfg.UseTLS, "Enable TLS")
	tlsCert := fs.String("tls-cert", "", "TLS certificate path")
	tlsKey := fs.String("tls-key", "", "TLS key path")
	gzip := fs.Bool("gzip", cfg.EnableGzip, "Enable gzip compression")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *configPath == "" {
		*configPath = os.Getenv("BUFFERSERVER_CONFIG")
	}
	if *configPath != "" {
		if err := loadFile(cfg, *configPath); err != nil {
			return nil, err
		}
	}

	ApplyEnv(cfg)

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "exporter":
			cfg.EnableExporter = *exporter
		case "exporter-port":
			cfg.ExporterPort = *exporterPort
		case "log-level":
			cfg.LogLevel = util.ParseLogLevel(*logLevel)
		case "max-connections":
			cfg.MaxConnections = *maxConns
		case "read-timeout":
			cfg.ReadTimeout = *readTimeout
		case "block-size":
			cfg.BlockSize = *blockSize
		case "retain-windows":
			cfg.RetainWindows = *retain
		case "cleanup-interval-ms":
			cfg.CleanupIntervalMS = *cleanup
		case "consumer-queue":
			cfg.ConsumerQueueSize = *queueSize
		case "consumer-drop-policy":
			cfg.ConsumerDropPolicy = *dropPolicy
		case "default-policy":
			cfg.DefaultPolicy = *defaultPolicy
		case "tls":
			cfg.UseTLS = *useTLS
		case "tls-cert":
			cfg.TLSCertPath = *tlsCert
		case "tls-key":
			cfg.TLSKeyPath = *tlsKey
		case "gzip":
			cfg.EnableGzip = *gzip
		}
	})

	cfg.Normalize()

	if cfg.UseTLS {
		if cfg.TLSCertPath == "" || cfg.TLSKeyPath == "" {
			return nil, fmt.Errorf("TLS enabled but certificate or key path is empty")
		}
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertPath, cfg.TLSKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		cfg.TLSCert = cert
	}

	return cfg, nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Port:               9000,
		EnableExporter:     true,
		ExporterPort:       9100,
		LogLevel:           util.LogLevelInfo,
		MaxConnections:     1000,
		ReadTimeout:        5 * time.Minute,
		BlockSize:          4096,
		CleanupIntervalMS:  60000,
		ConsumerQueueSize:  1024,
		ConsumerDropPolicy: "block",
		DefaultPolicy:      "broadcast",
	}
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if strings.HasSuffix(path, ".json") {
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}
