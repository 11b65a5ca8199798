package telemetry

import (
	"fmt"
	"time"
)

// Config wires the four telemetry pillars for one terradash process.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// Environment tags exported traces (development, staging, production).
	Environment string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	// Level is the minimum emitted level (trace..fatal).
	Level string
	// Format is "console" or "json".
	Format string
	// Output is "stdout", "stderr", or a file path.
	Output string
	// EnableCaller adds file:line to each entry.
	EnableCaller bool
	// EnableSampling applies burst sampling; SamplingInitial entries pass per
	// second, then every SamplingThereafter-th.
	EnableSampling     bool
	SamplingInitial    int
	SamplingThereafter int
	// TimeFormat is rfc3339 (default), unix, unixms, or unixmicro.
	TimeFormat string
}

// TracingConfig configures the OpenTelemetry pipeline.
type TracingConfig struct {
	Enabled bool
	// Exporter is "otlp", "stdout", or "none".
	Exporter string
	// Endpoint is the OTLP collector address, host:port.
	Endpoint string
	// SamplingRate in [0,1]; parent-based.
	SamplingRate       float64
	MaxExportBatchSize int
	ExportTimeout      time.Duration
	// Headers are attached to OTLP export requests.
	Headers map[string]string
	// Insecure disables TLS on the OTLP connection.
	Insecure bool
}

// MetricsConfig configures the Prometheus registry. The registry is exposed
// through Handler; serve mode mounts it on its own router.
type MetricsConfig struct {
	Enabled   bool
	Namespace string
	// DefaultHistogramBuckets are latency buckets in seconds.
	DefaultHistogramBuckets []float64
}

// EventsConfig configures the pipeline event publisher.
type EventsConfig struct {
	Enabled bool
	// BufferSize bounds the async delivery queue.
	BufferSize int
	// EnableAsync moves delivery onto a background goroutine.
	EnableAsync bool
}

// DefaultConfig is the development-friendly setup: console logs on stderr,
// tracing off, metrics and events on.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "terradash",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "console",
			Output:             "stderr",
			SamplingInitial:    100,
			SamplingThereafter: 100,
			TimeFormat:         "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:           "stdout",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            map[string]string{},
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "terradash",
			DefaultHistogramBuckets: []float64{
				0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0,
			},
		},
		Events: EventsConfig{
			Enabled:    true,
			BufferSize: 256,
		},
	}
}

// ProductionConfig turns on JSON logs with sampling and sampled OTLP tracing.
func ProductionConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "production"
	cfg.Logging.Format = "json"
	cfg.Logging.EnableSampling = true
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.SamplingRate = 0.1
	cfg.Tracing.Insecure = false
	return cfg
}

var (
	validLogLevels  = map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true}
	validExporters  = map[string]bool{"otlp": true, "stdout": true, "none": true}
	validLogFormats = map[string]bool{"console": true, "json": true}
)

// Validate rejects configurations NewTelemetry cannot honour.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}
	if c.ServiceVersion == "" {
		return fmt.Errorf("service version is required")
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}
	if c.Tracing.Enabled && !validExporters[c.Tracing.Exporter] {
		return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
	}
	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got: %d", c.Events.BufferSize)
	}
	return nil
}
