package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config carries every tunable of the platform. It is built once at startup
// and passed by value into each component; nothing reads ambient state after
// construction.
type Config struct {
	Bus        BusConfig        `mapstructure:"bus"`
	Processor  ProcessorConfig  `mapstructure:"processor"`
	Collectors CollectorsConfig `mapstructure:"collectors"`
	Tracer     TracerConfig     `mapstructure:"tracer"`
	Anomaly    AnomalyConfig    `mapstructure:"anomaly"`
	Trend      TrendConfig      `mapstructure:"trend"`
	Model      ModelConfig      `mapstructure:"model"`
	API        APIConfig        `mapstructure:"api"`
}

type BusConfig struct {
	// BufferSize bounds each subscriber queue.
	BufferSize int `mapstructure:"buffer_size"`
}

type ProcessorConfig struct {
	// HistorySize bounds the raw-event history.
	HistorySize int `mapstructure:"history_size"`
	// MetricBufferSize bounds each per-metric time-series ring.
	MetricBufferSize int `mapstructure:"metric_buffer_size"`
}

type CollectorsConfig struct {
	CPUInterval     time.Duration `mapstructure:"cpu_interval"`
	MemoryInterval  time.Duration `mapstructure:"memory_interval"`
	DiskInterval    time.Duration `mapstructure:"disk_interval"`
	NetworkInterval time.Duration `mapstructure:"network_interval"`
	ProcessInterval time.Duration `mapstructure:"process_interval"`
	// TopProcesses is how many processes (by CPU) each process cycle reports.
	TopProcesses int `mapstructure:"top_processes"`
}

type TracerConfig struct {
	// ObjectPath points at the compiled BPF object. Empty or missing means
	// the kernel tracer stays disabled.
	ObjectPath string `mapstructure:"object_path"`
}

type AnomalyConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Window   time.Duration `mapstructure:"window"`
	// MinSamples is the per-cycle floor below which a metric is skipped.
	MinSamples int `mapstructure:"min_samples"`
	// FitMinSamples is the lazy-fit eligibility floor for trained detectors.
	FitMinSamples int `mapstructure:"fit_min_samples"`
}

type TrendConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	Window        time.Duration `mapstructure:"window"`
	ForecastSteps int           `mapstructure:"forecast_steps"`
	MinSamples    int           `mapstructure:"min_samples"`
	FitMinSamples int           `mapstructure:"fit_min_samples"`
	// MaxMetrics bounds how many metrics each cycle forecasts.
	MaxMetrics int `mapstructure:"max_metrics"`
}

type ModelConfig struct {
	// Path locates the pre-trained detector artifact. Empty disables it.
	Path string `mapstructure:"path"`
}

type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	return Config{
		Bus:       BusConfig{BufferSize: 10000},
		Processor: ProcessorConfig{HistorySize: 5000, MetricBufferSize: 1000},
		Collectors: CollectorsConfig{
			CPUInterval:     1 * time.Second,
			MemoryInterval:  1 * time.Second,
			DiskInterval:    2 * time.Second,
			NetworkInterval: 2 * time.Second,
			ProcessInterval: 3 * time.Second,
			TopProcesses:    10,
		},
		Anomaly: AnomalyConfig{
			Interval:      3 * time.Second,
			Window:        5 * time.Minute,
			MinSamples:    10,
			FitMinSamples: 20,
		},
		Trend: TrendConfig{
			Interval:      30 * time.Second,
			Window:        10 * time.Minute,
			ForecastSteps: 5,
			MinSamples:    20,
			FitMinSamples: 15,
			MaxMetrics:    5,
		},
		API: APIConfig{Enabled: true, Addr: ":8000"},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// HOSTMON_* environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("HOSTMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
