package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	NATS        NATSConfig        `yaml:"nats"`
	MinIO       MinIOConfig       `yaml:"minio"`
	Vision      VisionConfig      `yaml:"vision"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Port        int      `yaml:"port"`
	APIKey      string   `yaml:"api_key"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DriverSQLite is the default backend: a single local file, no server.
// DriverPostgres suits multi-process deployments and stores encodings
// as pgvector columns.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

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
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		p.User, p.Password, p.Host, p.Port, p.Name)
}

// NATSConfig enables the async recognition pipeline when URL is set.
type NATSConfig struct {
	URL string `yaml:"url"`
}

// MinIOConfig enables the photo archive when Endpoint is set. Archived
// recognition frames older than FrameRetention are swept.
type MinIOConfig struct {
	Endpoint       string        `yaml:"endpoint"`
	AccessKey      string        `yaml:"access_key"`
	SecretKey      string        `yaml:"secret_key"`
	Bucket         string        `yaml:"bucket"`
	UseSSL         bool          `yaml:"use_ssl"`
	FrameRetention time.Duration `yaml:"frame_retention"`
}

func (m MinIOConfig) Enabled() bool { return m.Endpoint != "" }

// Detector profiles trade accuracy for speed; the profile is explicit
// configuration, never ambient state.
const (
	ProfileAccurate = "accurate"
	ProfileFast     = "fast"
)

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	DetectorProfile    string  `yaml:"detector_profile"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	FrameWidth         int     `yaml:"frame_width"`
	WorkerCount        int     `yaml:"worker_count"`
}

const (
	IndexLinear = "linear"
	IndexHNSW   = "hnsw"
)

type RecognitionConfig struct {
	Threshold       float64       `yaml:"threshold"`
	Index           string        `yaml:"index"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	switch c.Vision.DetectorProfile {
	case ProfileAccurate, ProfileFast:
	default:
		return fmt.Errorf("unknown detector profile %q", c.Vision.DetectorProfile)
	}
	switch c.Recognition.Index {
	case IndexLinear, IndexHNSW:
	default:
		return fmt.Errorf("unknown recognition index %q", c.Recognition.Index)
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverSQLite
	}
	if cfg.Database.SQLite.Path == "" {
		cfg.Database.SQLite.Path = "facewatch.db"
	}
	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConns == 0 {
		cfg.Database.Postgres.MaxConns = 20
	}
	if cfg.MinIO.FrameRetention == 0 {
		cfg.MinIO.FrameRetention = 24 * time.Hour
	}
	if cfg.Vision.DetectorProfile == "" {
		cfg.Vision.DetectorProfile = ProfileAccurate
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.FrameWidth == 0 {
		cfg.Vision.FrameWidth = 640
	}
	if cfg.Vision.WorkerCount == 0 {
		cfg.Vision.WorkerCount = 4
	}
	if cfg.Recognition.Threshold == 0 {
		cfg.Recognition.Threshold = 0.6
	}
	if cfg.Recognition.Index == "" {
		cfg.Recognition.Index = IndexLinear
	}
	if cfg.Recognition.RefreshInterval == 0 {
		cfg.Recognition.RefreshInterval = 30 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FW_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FW_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("FW_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("FW_SQLITE_PATH"); v != "" {
		cfg.Database.SQLite.Path = v
	}
	if v := os.Getenv("FW_DB_HOST"); v != "" {
		cfg.Database.Postgres.Host = v
	}
	if v := os.Getenv("FW_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Postgres.Port = port
		}
	}
	if v := os.Getenv("FW_DB_NAME"); v != "" {
		cfg.Database.Postgres.Name = v
	}
	if v := os.Getenv("FW_DB_USER"); v != "" {
		cfg.Database.Postgres.User = v
	}
	if v := os.Getenv("FW_DB_PASSWORD"); v != "" {
		cfg.Database.Postgres.Password = v
	}
	if v := os.Getenv("FW_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FW_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("FW_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("FW_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("FW_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("FW_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("FW_DETECTOR_PROFILE"); v != "" {
		cfg.Vision.DetectorProfile = v
	}
	if v := os.Getenv("FW_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vision.WorkerCount = n
		}
	}
	if v := os.Getenv("FW_RECOGNITION_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Recognition.Threshold = f
		}
	}
}
