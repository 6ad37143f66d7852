package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Vectors   VectorsConfig   `mapstructure:"vectors"`
	Qdrant    QdrantConfig    `mapstructure:"qdrant"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Sampler   SamplerConfig   `mapstructure:"sampler"`
	Index     IndexConfig     `mapstructure:"index"`
	Search    SearchConfig    `mapstructure:"search"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite or postgres
	Path            string        `mapstructure:"path"`   // sqlite file path
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN builds the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		sslMode := c.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, sslMode)
	}
	return c.Path
}

// VectorsConfig selects and configures the vector store backend.
// The two collection names are fixed for the lifetime of a store instance
// and must be distinct from each other.
type VectorsConfig struct {
	Backend            string `mapstructure:"backend"` // local or qdrant
	Path               string `mapstructure:"path"`    // local backend: persistent directory
	FrameCollection    string `mapstructure:"frame_collection"`
	MetadataCollection string `mapstructure:"metadata_collection"`
	Dimension          int    `mapstructure:"dimension"`
}

// Validate rejects configurations the stores would refuse at runtime anyway.
func (c *VectorsConfig) Validate() error {
	if c.FrameCollection == c.MetadataCollection {
		return fmt.Errorf("vectors: frame_collection and metadata_collection must differ (both %q)", c.FrameCollection)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("vectors: dimension must be positive, got %d", c.Dimension)
	}
	return nil
}

type QdrantConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
	UseTLS bool   `mapstructure:"use_tls"`
}

type StorageConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
}

type EmbeddingConfig struct {
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Dimensions int    `mapstructure:"dimensions"`
}

type SamplerConfig struct {
	Rate        float64 `mapstructure:"rate"`  // samples per second
	Width       int     `mapstructure:"width"` // output width, aspect preserved
	FallbackFPS float64 `mapstructure:"fallback_fps"`
	FFmpegPath  string  `mapstructure:"ffmpeg_path"`
	FFprobePath string  `mapstructure:"ffprobe_path"`
}

type IndexConfig struct {
	CooldownSeconds int    `mapstructure:"cooldown_seconds"`
	ScratchDir      string `mapstructure:"scratch_dir"`
}

// SearchConfig carries the fusion tuning constants. The numeric defaults
// are load-bearing for ranking parity; changing them changes result order.
type SearchConfig struct {
	TitleK      int     `mapstructure:"title_k"`
	VisualK     int     `mapstructure:"visual_k"`
	ScopedK     int     `mapstructure:"scoped_k"`
	TitleFloor  float64 `mapstructure:"title_floor"`
	VisualFloor float64 `mapstructure:"visual_floor"`
	TitleBoost  float64 `mapstructure:"title_boost"`
	BothBonus   float64 `mapstructure:"both_bonus"`
	DisplayCap  float64 `mapstructure:"display_cap"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/chronosearch.db")
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("vectors.backend", "local")
	v.SetDefault("vectors.path", "./data/vectors")
	v.SetDefault("vectors.frame_collection", "video_frames")
	v.SetDefault("vectors.metadata_collection", "video_metadata")
	v.SetDefault("vectors.dimension", 1024)
	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.bucket", "videos")
	v.SetDefault("embedding.model", "jina-clip-v2")
	v.SetDefault("embedding.base_url", "https://api.jina.ai/v1")
	v.SetDefault("embedding.dimensions", 1024)
	v.SetDefault("sampler.rate", 1.0)
	v.SetDefault("sampler.width", 640)
	v.SetDefault("sampler.fallback_fps", 24.0)
	v.SetDefault("sampler.ffmpeg_path", "ffmpeg")
	v.SetDefault("sampler.ffprobe_path", "ffprobe")
	v.SetDefault("index.cooldown_seconds", 300)
	v.SetDefault("index.scratch_dir", "")
	v.SetDefault("search.title_k", 20)
	v.SetDefault("search.visual_k", 50)
	v.SetDefault("search.scoped_k", 10)
	v.SetDefault("search.title_floor", 0.10)
	v.SetDefault("search.visual_floor", 0.15)
	v.SetDefault("search.title_boost", 1.2)
	v.SetDefault("search.both_bonus", 0.05)
	v.SetDefault("search.display_cap", 100.0)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("qdrant.host", "QDRANT_HOST")
	v.BindEnv("qdrant.port", "QDRANT_PORT")
	v.BindEnv("qdrant.api_key", "QDRANT_API_KEY")
	v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	v.BindEnv("storage.public_url", "STORAGE_PUBLIC_URL")
	v.BindEnv("embedding.api_key", "JINA_API_KEY")
	v.BindEnv("embedding.base_url", "JINA_BASE_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Vectors.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
