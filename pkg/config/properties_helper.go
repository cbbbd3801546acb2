package config

import (
	"os"
	"strings"
	"time"

	"github.com/downfa11-org/bufferserver/util"
)

const envPrefix = "BUFFERSERVER_"

func (cfg *Config) Normalize() {
	if cfg.Port <= 0 {
		cfg.Port = 9000
	}
	if cfg.ExporterPort <= 0 {
		cfg.ExporterPort = 9100
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 1000
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Minute
	}

	// buffered stream
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = 4096
	}
	if cfg.RetainWindows < 0 {
		cfg.RetainWindows = 0
	}
	if cfg.CleanupIntervalMS <= 0 {
		cfg.CleanupIntervalMS = 60000
	}

	// delivery
	if cfg.ConsumerQueueSize < 0 {
		cfg.ConsumerQueueSize = 0
	}
	cfg.ConsumerDropPolicy = strings.ToLower(strings.TrimSpace(cfg.ConsumerDropPolicy))
	switch cfg.ConsumerDropPolicy {
	case "block", "drop_oldest", "drop_new":
	default:
		util.Warn("Invalid consumer_drop_policy '%s', defaulting to 'block'", cfg.ConsumerDropPolicy)
		cfg.ConsumerDropPolicy = "block"
	}
	cfg.DefaultPolicy = strings.ToLower(strings.TrimSpace(cfg.DefaultPolicy))
	switch cfg.DefaultPolicy {
	case "broadcast", "roundrobin", "sticky":
	case "", "giveall":
		cfg.DefaultPolicy = "broadcast"
	case "round_robin":
		cfg.DefaultPolicy = "roundrobin"
	case "hash":
		cfg.DefaultPolicy = "sticky"
	default:
		util.Warn("Invalid default_policy '%s', defaulting to 'broadcast'", cfg.DefaultPolicy)
		cfg.DefaultPolicy = "broadcast"
	}

	// synthetic windows
	kept := cfg.SyntheticWindows[:0]
	for _, w := range cfg.SyntheticWindows {
		if strings.TrimSpace(w.Upstream) == "" {
			util.Warn("Ignoring synthetic window without upstream")
			continue
		}
		if w.IntervalMS <= 0 {
			w.IntervalMS = 1000
		}
		if w.StartOffsetMS < 0 {
			w.StartOffsetMS = 0
		}
		kept = append(kept, w)
	}
	cfg.SyntheticWindows = kept
}

// ApplyEnv overrides cfg with BUFFERSERVER_* environment variables.
func ApplyEnv(cfg *Config) {
	overrideEnvInt(&cfg.Port, envPrefix+"PORT")
	overrideEnvBool(&cfg.EnableExporter, envPrefix+"EXPORTER")
	overrideEnvInt(&cfg.ExporterPort, envPrefix+"EXPORTER_PORT")
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		cfg.LogLevel = util.ParseLogLevel(v)
	}
	overrideEnvInt(&cfg.MaxConnections, envPrefix+"MAX_CONNECTIONS")
	overrideEnvDuration(&cfg.ReadTimeout, envPrefix+"READ_TIMEOUT")
	overrideEnvInt(&cfg.BlockSize, envPrefix+"BLOCK_SIZE")
	overrideEnvInt(&cfg.RetainWindows, envPrefix+"RETAIN_WINDOWS")
	overrideEnvInt(&cfg.CleanupIntervalMS, envPrefix+"CLEANUP_INTERVAL_MS")
	overrideEnvInt(&cfg.ConsumerQueueSize, envPrefix+"CONSUMER_QUEUE_SIZE")
	overrideEnvString(&cfg.ConsumerDropPolicy, envPrefix+"CONSUMER_DROP_POLICY")
	overrideEnvString(&cfg.DefaultPolicy, envPrefix+"DEFAULT_POLICY")
	overrideEnvBool(&cfg.UseTLS, envPrefix+"TLS")
	overrideEnvString(&cfg.TLSCertPath, envPrefix+"TLS_CERT")
	overrideEnvString(&cfg.TLSKeyPath, envPrefix+"TLS_KEY")
	overrideEnvBool(&cfg.EnableGzip, envPrefix+"GZIP")
}

func overrideEnvInt(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseInt(v, *target)
	}
}

func overrideEnvBool(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseBool(v, *target)
	}
}

func overrideEnvString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func overrideEnvDuration(target *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*target = d
		}
	}
}
