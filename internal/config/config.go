package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// GateServer holds all configuration for the gate server.
type GateServer struct {
	// Network
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	// Database
	Database DatabaseConfig `yaml:"database"`

	// Connection limits
	MaxClients         int64 `yaml:"max_clients"`
	MaxConnectionPerIP int   `yaml:"max_connection_per_ip"`

	// Timeouts
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Queues
	SendQueueSize     int `yaml:"send_queue_size"`
	DispatchQueueSize int `yaml:"dispatch_queue_size"`
	PacketPoolSize    int `yaml:"packet_pool_size"`

	// Rate limiting
	TokenBucketCapacity int64         `yaml:"token_bucket_capacity"`
	TokenBucketRefill   time.Duration `yaml:"token_bucket_refill"`
	MaxInflight         int64         `yaml:"max_inflight"`

	// Replies larger than this are snappy-compressed on the way out.
	// 0 disables outbound compression.
	CompressThreshold int `yaml:"compress_threshold"`

	// Metrics
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// DefaultGateServer returns GateServer config with sensible defaults.
func DefaultGateServer() GateServer {
	return GateServer{
		BindAddress:         "0.0.0.0",
		Port:                7740,
		MaxClients:          5000,
		MaxConnectionPerIP:  50,
		ReadTimeout:         120 * time.Second,
		WriteTimeout:        5 * time.Second,
		HandlerTimeout:      4 * time.Second,
		ShutdownTimeout:     5 * time.Second,
		SendQueueSize:       256,
		DispatchQueueSize:   64,
		PacketPoolSize:      1024,
		TokenBucketCapacity: 32,
		TokenBucketRefill:   50 * time.Millisecond,
		MaxInflight:         512,
		CompressThreshold:   0,
		Metrics: MetricsConfig{
			Enabled: false,
			Address: "127.0.0.1:9090",
		},
		Database: DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "orion",
			Password: "orion",
			DBName:   "orion",
			SSLMode:  "disable",
		},
	}
}

// LoadGateServer loads gate server config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadGateServer(path string) (GateServer, error) {
	cfg := DefaultGateServer()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}
