package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config represents the top-level configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Database DatabaseConfig `yaml:"database"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Reports  ReportsConfig  `yaml:"reports"`
	API      APIConfig      `yaml:"api"`
}

// ServerConfig describes the inbound transfer listener that receives
// instances from modalities and archives.
type ServerConfig struct {
	// AETitle identifies this node to calling peers.
	AETitle string `yaml:"ae_title" validate:"required,max=16"`
	Host    string `yaml:"host" validate:"required"`
	Port    int    `yaml:"port" validate:"min=1,max=65535"`

	// StorageDir is where received instance payloads are written.
	StorageDir string `yaml:"storage_dir" validate:"required"`

	// MaxBodyBytes caps a single instance upload. Zero means no cap.
	MaxBodyBytes int64 `yaml:"max_body_bytes" validate:"min=0"`

	// RateLimit is the sustained number of instance uploads per second;
	// RateBurst is the tolerated burst above it. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit" validate:"min=0"`
	RateBurst int     `yaml:"rate_burst" validate:"min=0"`
}

// ArchiveConfig describes the archive that reports are delivered back to.
type ArchiveConfig struct {
	AETitle     string        `yaml:"ae_title" validate:"required,max=16"`
	Host        string        `yaml:"host" validate:"required"`
	Port        int           `yaml:"port" validate:"min=1,max=65535"`
	SendTimeout time.Duration `yaml:"send_timeout" validate:"min=1ms"`
}

// DatabaseConfig describes the PostgreSQL connection.
type DatabaseConfig struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"min=1,max=65535"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password"`
	Name     string `yaml:"name" validate:"required"`
}

// PipelineConfig tunes study assembly and job execution.
type PipelineConfig struct {
	// IdleTimeout is how long a study must receive no instances before it is
	// considered complete.
	IdleTimeout time.Duration `yaml:"idle_timeout" validate:"min=1s"`

	// SweepInterval is how often the assembler scans for idle studies.
	SweepInterval time.Duration `yaml:"sweep_interval" validate:"min=100ms"`

	Workers   int `yaml:"workers" validate:"min=1"`
	QueueSize int `yaml:"queue_size" validate:"min=1"`

	// LeaseDuration is how long a worker's claim on a job lasts;
	// ReclaimInterval is how often expired claims are swept up.
	LeaseDuration   time.Duration `yaml:"lease_duration" validate:"min=1s"`
	ReclaimInterval time.Duration `yaml:"reclaim_interval" validate:"min=1s"`

	// EngineTimeout bounds one scoring call to the analysis engine.
	EngineTimeout time.Duration `yaml:"engine_timeout" validate:"min=1s"`

	// ConfidenceThreshold drops engine findings scored below it.
	ConfidenceThreshold float64 `yaml:"confidence_threshold" validate:"min=0,max=1"`
}

// ReportsConfig describes where report artifacts are written.
type ReportsConfig struct {
	Dir string `yaml:"dir" validate:"required"`
}

// APIConfig describes the observability HTTP listener.
type APIConfig struct {
	Host string `yaml:"host" validate:"required"`
	Port string `yaml:"port" validate:"required"`
}

// Validate checks the configuration's field constraints. Loaders run it after
// applying file overrides so a bad value fails at startup, not mid-pipeline.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Default returns a configuration with the standard deployment values.
// Loaded files override only the fields they set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			AETitle:      "IA_SERVER",
			Host:         "0.0.0.0",
			Port:         11112,
			StorageDir:   "/var/lib/pacsight/instances",
			MaxBodyBytes: 512 << 20,
			RateLimit:    100,
			RateBurst:    200,
		},
		Archive: ArchiveConfig{
			AETitle:     "PACS_INTERNE",
			Host:        "127.0.0.1",
			Port:        11111,
			SendTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host: "127.0.0.1",
			Port: 5432,
			User: "postgres",
			Name: "pacsight",
		},
		Pipeline: PipelineConfig{
			IdleTimeout:         30 * time.Second,
			SweepInterval:       5 * time.Second,
			Workers:             4,
			QueueSize:           256,
			LeaseDuration:       5 * time.Minute,
			ReclaimInterval:     time.Minute,
			EngineTimeout:       60 * time.Second,
			ConfidenceThreshold: 0.8,
		},
		Reports: ReportsConfig{Dir: "/var/lib/pacsight/reports"},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: "8080",
		},
	}
}
